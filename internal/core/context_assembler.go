package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/findai/edu-chat/internal/store"
)

// ContextWindow is the number of trailing messages sent with each turn.
const ContextWindow = 6

type HistoryMessage struct {
	Role    string
	Content string
}

// PromptContext is everything the provider sees besides the user's text.
type PromptContext struct {
	Curriculum       string
	Language         string
	FileContext      string // empty when no file has extracted text
	PreviousMessages []HistoryMessage
}

type ContextAssembler struct {
	dbStore store.Store
	window  int
}

func NewContextAssembler(db store.Store) *ContextAssembler {
	return &ContextAssembler{dbStore: db, window: ContextWindow}
}

// Assemble builds the prompt context for a chat. File text is included in
// full for every file, with no size cap.
func (a *ContextAssembler) Assemble(ctx context.Context, chatID string) (*PromptContext, error) {
	chat, err := a.dbStore.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	messages, err := a.dbStore.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) > a.window {
		messages = messages[len(messages)-a.window:]
	}
	history := make([]HistoryMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, HistoryMessage{Role: m.Role, Content: m.Content})
	}

	files, err := a.dbStore.ListFilesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}

	return &PromptContext{
		Curriculum:       chat.Curriculum,
		Language:         chat.Language,
		FileContext:      buildFileContext(files),
		PreviousMessages: history,
	}, nil
}

// buildFileContext joins files in upload order; the store lists newest first.
func buildFileContext(files []store.UploadedFile) string {
	var parts []string
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.ExtractedText == nil {
			continue
		}
		parts = append(parts, f.OriginalName+": "+*f.ExtractedText)
	}
	return strings.Join(parts, "\n\n")
}
