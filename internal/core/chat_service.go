package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/findai/edu-chat/internal/store"
)

const defaultChatTitle = "New Chat"

// TurnState tracks an orchestrated turn.
type TurnState int

const (
	TurnReceived TurnState = iota
	TurnUserPersisted
	TurnContextAssembled
	TurnAwaitingModel
	TurnNormalized
	TurnAssistantPersisted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnReceived:
		return "received"
	case TurnUserPersisted:
		return "user_persisted"
	case TurnContextAssembled:
		return "context_assembled"
	case TurnAwaitingModel:
		return "awaiting_model"
	case TurnNormalized:
		return "normalized"
	case TurnAssistantPersisted:
		return "assistant_persisted"
	case TurnFailed:
		return "failed"
	}
	return fmt.Sprintf("TurnState(%d)", int(s))
}

// TurnResult is what a posted message produced. AssistantMessage is nil for
// non-user posts.
type TurnResult struct {
	UserMessage      *store.Message
	AssistantMessage *store.Message
}

type ChatService struct {
	dbStore   store.Store
	assembler *ContextAssembler
	llm       Completer
	timeout   time.Duration
}

// NewChatService wires the orchestrator. A zero timeout leaves provider calls
// bounded only by the caller's context.
func NewChatService(db store.Store, llm Completer, timeout time.Duration) *ChatService {
	return &ChatService{
		dbStore:   db,
		assembler: NewContextAssembler(db),
		llm:       llm,
		timeout:   timeout,
	}
}

func (s *ChatService) CreateChat(ctx context.Context, title, curriculum, language string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultChatTitle
	}
	if strings.TrimSpace(curriculum) == "" {
		curriculum = store.DefaultCurriculum
	}
	if strings.TrimSpace(language) == "" {
		language = store.DefaultLanguage
	}

	chat, err := s.dbStore.CreateChat(ctx, title, curriculum, language)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	slog.Info("Chat created", "chat_id", chat.ID, "curriculum", chat.Curriculum, "language", chat.Language)
	return chat, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	return s.dbStore.GetChat(ctx, chatID)
}

func (s *ChatService) ListChats(ctx context.Context) ([]store.Chat, error) {
	return s.dbStore.ListChats(ctx)
}

func (s *ChatService) UpdateChat(ctx context.Context, chatID string, patch store.ChatPatch) (*store.Chat, error) {
	fields := map[string]*string{"title": patch.Title, "curriculum": patch.Curriculum, "language": patch.Language}
	for name, v := range fields {
		if v != nil && strings.TrimSpace(*v) == "" {
			return nil, &ValidationError{Field: name, Message: "must not be empty"}
		}
	}
	return s.dbStore.UpdateChat(ctx, chatID, patch)
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.dbStore.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	slog.Info("Chat deleted", "chat_id", chatID)
	return nil
}

func (s *ChatService) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	return s.dbStore.ListMessagesByChat(ctx, chatID)
}

// PostMessage stores a message and, for user messages, runs a full turn
// against the provider. The user message is kept even when the turn fails;
// in that case the error is a *TurnError carrying it.
func (s *ChatService) PostMessage(ctx context.Context, chatID, content, role string) (*TurnResult, error) {
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleAssistant {
		return nil, &ValidationError{Field: "role", Message: "must be user or assistant"}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Message: "must not be empty"}
	}

	log := slog.With("chat_id", chatID)
	state := TurnReceived
	log.Debug("turn state", "state", state)

	if _, err := s.dbStore.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	userMsg := &store.Message{ChatID: chatID, Role: role, Content: content}
	if err := s.dbStore.CreateMessage(ctx, userMsg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	state = TurnUserPersisted
	log.Debug("turn state", "state", state, "message_id", userMsg.ID)

	result := &TurnResult{UserMessage: userMsg}
	if role != store.RoleUser {
		return result, nil
	}

	fail := func(err error) (*TurnResult, error) {
		log.Warn("turn failed", "state", state, "message_id", userMsg.ID, "error", err)
		return nil, &TurnError{State: state, UserMessage: userMsg, Err: err}
	}

	pc, err := s.assembler.Assemble(ctx, chatID)
	if err != nil {
		return fail(fmt.Errorf("failed to assemble context: %w", err))
	}
	state = TurnContextAssembled
	log.Debug("turn state", "state", state, "history", len(pc.PreviousMessages), "file_context_bytes", len(pc.FileContext))

	state = TurnAwaitingModel
	log.Debug("turn state", "state", state)
	raw, err := s.complete(ctx, chatSystemInstruction(pc), chatPrompt(pc, content))
	if err != nil {
		return fail(err)
	}

	resp, err := NormalizeResponse(raw)
	if err != nil {
		return fail(err)
	}
	state = TurnNormalized
	log.Debug("turn state", "state", state)

	assistantMsg := &store.Message{
		ChatID:   chatID,
		Role:     store.RoleAssistant,
		Content:  resp.Content,
		Metadata: resp.Metadata(),
	}
	if err := s.dbStore.CreateMessage(ctx, assistantMsg); err != nil {
		return fail(fmt.Errorf("failed to store assistant message: %w", err))
	}
	state = TurnAssistantPersisted
	log.Debug("turn state", "state", state, "message_id", assistantMsg.ID)

	result.AssistantMessage = assistantMsg
	return result, nil
}

// complete calls the provider under the configured timeout. Every failure is
// reported as ErrProviderError.
func (s *ChatService) complete(ctx context.Context, system, prompt string) (string, error) {
	return callProvider(ctx, s.llm, s.timeout, system, prompt)
}

func callProvider(ctx context.Context, llm Completer, timeout time.Duration, system, prompt string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, err := llm.Complete(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderError, err)
	}
	return raw, nil
}
