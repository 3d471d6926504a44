package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/findai/edu-chat/internal/store"
)

func newChatFixture(t *testing.T, llm Completer) (*ChatService, *store.MemoryStore, *store.Chat) {
	t.Helper()
	db := store.NewMemoryStore()
	svc := NewChatService(db, llm, time.Second)
	chat, err := svc.CreateChat(context.Background(), "Biology", "CBSE", "English")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	return svc, db, chat
}

func TestPostMessage_EndToEnd(t *testing.T) {
	llm := &stubCompleter{response: `{"content":"Plants use sunlight to make food.","has_notes":true,"notes":["Needs light","Makes glucose"]}`}
	svc, _, chat := newChatFixture(t, llm)
	ctx := context.Background()

	res, err := svc.PostMessage(ctx, chat.ID, "Explain photosynthesis", store.RoleUser)
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if res.AssistantMessage == nil {
		t.Fatal("expected assistant message")
	}

	msgs, _ := svc.ListMessages(ctx, chat.ID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "Explain photosynthesis" || msgs[0].Metadata != nil {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	md := msgs[1].Metadata
	if msgs[1].Role != store.RoleAssistant || md == nil || !md.HasNotes || len(md.Notes) != 2 || md.Notes[0] != "Needs light" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if md.HasQuestions || md.Questions != nil || md.FollowUpActions != nil {
		t.Errorf("metadata should only carry notes: %+v", md)
	}

	got, _ := svc.GetChat(ctx, chat.ID)
	if got.UpdatedAt.Before(msgs[1].CreatedAt) {
		t.Errorf("chat updated_at %v before assistant message %v", got.UpdatedAt, msgs[1].CreatedAt)
	}
}

func TestPostMessage_PromptCarriesContext(t *testing.T) {
	llm := &stubCompleter{response: `{"content":"ok"}`}
	svc, db, chat := newChatFixture(t, llm)
	ctx := context.Background()

	text := "Chapter 1: The cell."
	db.CreateFile(ctx, &store.UploadedFile{ChatID: chat.ID, OriginalName: "book.txt", MimeType: "text/plain", ExtractedText: &text})

	if _, err := svc.PostMessage(ctx, chat.ID, "What is a cell?", ""); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if !strings.Contains(llm.lastSystem, "Align answers with CBSE curriculum") || !strings.Contains(llm.lastSystem, "Support English language") {
		t.Errorf("system instruction missing settings:\n%s", llm.lastSystem)
	}
	if !strings.Contains(llm.lastSystem, "File context available: book.txt: Chapter 1: The cell.") {
		t.Errorf("system instruction missing file context:\n%s", llm.lastSystem)
	}
	if !strings.Contains(llm.lastPrompt, "user: What is a cell?") {
		t.Errorf("history should include the current message:\n%s", llm.lastPrompt)
	}
	if !strings.Contains(llm.lastPrompt, "User: What is a cell?") || !strings.Contains(llm.lastPrompt, "ONLY based on the above file content") {
		t.Errorf("prompt missing user line or file instruction:\n%s", llm.lastPrompt)
	}
}

func TestPostMessage_ProviderFailureKeepsUserMessage(t *testing.T) {
	llm := &stubCompleter{err: errors.New("503 overloaded")}
	svc, _, chat := newChatFixture(t, llm)
	ctx := context.Background()

	_, err := svc.PostMessage(ctx, chat.ID, "Hello", store.RoleUser)
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var turnErr *TurnError
	if !errors.As(err, &turnErr) {
		t.Fatalf("expected *TurnError, got %T", err)
	}
	if turnErr.State != TurnAwaitingModel || turnErr.UserMessage == nil {
		t.Errorf("unexpected turn error: %+v", turnErr)
	}

	msgs, _ := svc.ListMessages(ctx, chat.ID)
	if len(msgs) != 1 || msgs[0].ID != turnErr.UserMessage.ID {
		t.Errorf("expected only the user message to be stored, got %+v", msgs)
	}
}

func TestPostMessage_MalformedOutput(t *testing.T) {
	svc, _, chat := newChatFixture(t, &stubCompleter{response: "I cannot answer in JSON today."})
	ctx := context.Background()

	_, err := svc.PostMessage(ctx, chat.ID, "Hello", store.RoleUser)
	if !errors.Is(err, ErrMalformedProviderOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
	if msgs, _ := svc.ListMessages(ctx, chat.ID); len(msgs) != 1 {
		t.Errorf("assistant message must not be stored, got %d messages", len(msgs))
	}
}

func TestPostMessage_SchemaViolation(t *testing.T) {
	svc, _, chat := newChatFixture(t, &stubCompleter{response: `{"content":"x","has_notes":true}`})
	_, err := svc.PostMessage(context.Background(), chat.ID, "Notes please", store.RoleUser)
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestPostMessage_Timeout(t *testing.T) {
	llm := &stubCompleter{completeFn: func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	db := store.NewMemoryStore()
	svc := NewChatService(db, llm, 20*time.Millisecond)
	chat, _ := svc.CreateChat(context.Background(), "c", "", "")

	_, err := svc.PostMessage(context.Background(), chat.ID, "Hello", store.RoleUser)
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected provider error on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause should stay visible, got %v", err)
	}
}

func TestPostMessage_MissingChat(t *testing.T) {
	llm := &stubCompleter{response: `{"content":"x"}`}
	svc, db, _ := newChatFixture(t, llm)
	ctx := context.Background()

	_, err := svc.PostMessage(ctx, "nope", "x", store.RoleUser)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if msgs, _ := db.ListMessagesByChat(ctx, "nope"); len(msgs) != 0 {
		t.Errorf("nothing should be stored, got %+v", msgs)
	}
	if llm.callCount() != 0 {
		t.Errorf("provider should not be called")
	}
}

func TestPostMessage_AssistantRoleSkipsGeneration(t *testing.T) {
	llm := &stubCompleter{response: `{"content":"x"}`}
	svc, _, chat := newChatFixture(t, llm)

	res, err := svc.PostMessage(context.Background(), chat.ID, "Welcome back!", store.RoleAssistant)
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if res.UserMessage.Role != store.RoleAssistant || res.AssistantMessage != nil {
		t.Errorf("unexpected result: %+v", res)
	}
	if llm.callCount() != 0 {
		t.Errorf("provider should not be called for injected messages")
	}
}

func TestPostMessage_Validation(t *testing.T) {
	svc, _, chat := newChatFixture(t, &stubCompleter{})
	ctx := context.Background()

	tests := []struct {
		content, role, field string
	}{
		{"", store.RoleUser, "content"},
		{"   ", store.RoleUser, "content"},
		{"hi", "system", "role"},
	}
	for _, tt := range tests {
		_, err := svc.PostMessage(ctx, chat.ID, tt.content, tt.role)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tt.field {
			t.Errorf("PostMessage(%q, %q): got %v, want validation error on %s", tt.content, tt.role, err, tt.field)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("validation error should match ErrValidation")
		}
	}
}

func TestCreateChat_Defaults(t *testing.T) {
	svc := NewChatService(store.NewMemoryStore(), &stubCompleter{}, 0)
	chat, err := svc.CreateChat(context.Background(), "  ", "", "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.Title != defaultChatTitle || chat.Curriculum != "CBSE" || chat.Language != "English" {
		t.Errorf("unexpected defaults: %+v", chat)
	}
}

func TestUpdateChat_RejectsBlank(t *testing.T) {
	svc, _, chat := newChatFixture(t, &stubCompleter{})
	blank := " "
	_, err := svc.UpdateChat(context.Background(), chat.ID, store.ChatPatch{Language: &blank})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTurnStateString(t *testing.T) {
	if TurnAwaitingModel.String() != "awaiting_model" || TurnFailed.String() != "failed" {
		t.Error("unexpected state names")
	}
}
