package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// stepClock returns a new instant on every call, advancing by step.
func stepClock(start time.Time, step time.Duration) Clock {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newMemory(t *testing.T) Store {
	return NewMemoryStore().WithClock(stepClock(epoch, time.Millisecond))
}

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.WithClock(stepClock(epoch, time.Millisecond))
}

func TestMemoryStoreContract(t *testing.T) { runContract(t, newMemory) }

func TestSQLiteStoreContract(t *testing.T) { runContract(t, newSQLite) }

func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get chat", func(t *testing.T) {
		s := newStore(t)
		chat, err := s.CreateChat(ctx, "Biology", DefaultCurriculum, DefaultLanguage)
		if err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		if chat.ID == "" {
			t.Fatal("expected generated id")
		}
		if !chat.UpdatedAt.Equal(chat.CreatedAt) {
			t.Errorf("updated_at %v != created_at %v on a new chat", chat.UpdatedAt, chat.CreatedAt)
		}

		got, err := s.GetChat(ctx, chat.ID)
		if err != nil {
			t.Fatalf("GetChat: %v", err)
		}
		if got.Title != "Biology" || got.Curriculum != "CBSE" || got.Language != "English" {
			t.Errorf("unexpected chat: %+v", got)
		}
		if !got.CreatedAt.Equal(chat.CreatedAt) {
			t.Errorf("created_at round trip: got %v, want %v", got.CreatedAt, chat.CreatedAt)
		}
	})

	t.Run("missing chat is not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetChat(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetChat: got %v, want ErrNotFound", err)
		}
		if _, err := s.UpdateChat(ctx, "nope", ChatPatch{Title: strPtr("x")}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateChat: got %v, want ErrNotFound", err)
		}
		if err := s.DeleteChat(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteChat: got %v, want ErrNotFound", err)
		}
		if err := s.CreateMessage(ctx, &Message{ChatID: "nope", Role: RoleUser, Content: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("CreateMessage: got %v, want ErrNotFound", err)
		}
		if err := s.CreateFile(ctx, &UploadedFile{ChatID: "nope", Filename: "a", OriginalName: "a", MimeType: "text/plain"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("CreateFile: got %v, want ErrNotFound", err)
		}
		if _, err := s.GetFile(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetFile: got %v, want ErrNotFound", err)
		}
		if err := s.DeleteFile(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteFile: got %v, want ErrNotFound", err)
		}
	})

	t.Run("message append touches chat", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")

		msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "hello"}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if msg.ID == "" {
			t.Fatal("expected message id")
		}
		got, _ := s.GetChat(ctx, chat.ID)
		if got.UpdatedAt.Before(msg.CreatedAt) {
			t.Errorf("chat updated_at %v before message created_at %v", got.UpdatedAt, msg.CreatedAt)
		}
		if !got.UpdatedAt.After(chat.UpdatedAt) {
			t.Errorf("updated_at did not advance: %v -> %v", chat.UpdatedAt, got.UpdatedAt)
		}
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
		want := []string{"one", "two", "three", "four"}
		for i, content := range want {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			if err := s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: role, Content: content}); err != nil {
				t.Fatalf("CreateMessage: %v", err)
			}
		}
		msgs, err := s.ListMessagesByChat(ctx, chat.ID)
		if err != nil {
			t.Fatalf("ListMessagesByChat: %v", err)
		}
		if len(msgs) != len(want) {
			t.Fatalf("got %d messages, want %d", len(msgs), len(want))
		}
		for i := range want {
			if msgs[i].Content != want[i] {
				t.Errorf("message %d: got %q, want %q", i, msgs[i].Content, want[i])
			}
			if i > 0 && msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
				t.Errorf("message %d created before message %d", i, i-1)
			}
		}
	})

	t.Run("metadata round trip", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
		md := &Metadata{
			HasNotes:     true,
			Notes:        []string{"a", "b"},
			HasQuestions: true,
			Questions: []Question{
				{Type: QuestionMCQ, Question: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
			},
			FollowUpActions: []string{"Quiz me"},
		}
		s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Content: "q"})
		s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleAssistant, Content: "a", Metadata: md})

		msgs, _ := s.ListMessagesByChat(ctx, chat.ID)
		if len(msgs) != 2 {
			t.Fatalf("got %d messages", len(msgs))
		}
		if msgs[0].Metadata != nil {
			t.Errorf("user message has metadata: %+v", msgs[0].Metadata)
		}
		got := msgs[1].Metadata
		if got == nil || !got.HasNotes || len(got.Notes) != 2 || got.Notes[1] != "b" {
			t.Fatalf("unexpected metadata: %+v", got)
		}
		if len(got.Questions) != 1 || got.Questions[0].Options[1] != "4" {
			t.Errorf("unexpected questions: %+v", got.Questions)
		}
		if len(got.FollowUpActions) != 1 {
			t.Errorf("unexpected follow ups: %+v", got.FollowUpActions)
		}
	})

	t.Run("stored metadata is not shared with callers", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
		md := &Metadata{
			HasNotes:     true,
			Notes:        []string{"a"},
			HasQuestions: true,
			Questions:    []Question{{Type: QuestionMCQ, Question: "q", Options: []string{"x", "y"}, Answer: "x"}},
		}
		if err := s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleAssistant, Content: "a", Metadata: md}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		md.Notes[0] = "changed by writer"

		msgs, _ := s.ListMessagesByChat(ctx, chat.ID)
		msgs[0].Metadata.Notes[0] = "changed by reader"
		msgs[0].Metadata.Questions[0].Options[1] = "z"
		msgs[0].Metadata.HasNotes = false

		again, _ := s.ListMessagesByChat(ctx, chat.ID)
		got := again[0].Metadata
		if !got.HasNotes || got.Notes[0] != "a" || got.Questions[0].Options[1] != "y" {
			t.Errorf("stored metadata was modified through a caller's copy: %+v", got)
		}
	})

	t.Run("list chats by recent activity", func(t *testing.T) {
		s := newStore(t)
		first, _ := s.CreateChat(ctx, "first", "CBSE", "English")
		second, _ := s.CreateChat(ctx, "second", "CBSE", "English")

		chats, _ := s.ListChats(ctx)
		if len(chats) != 2 || chats[0].ID != second.ID {
			t.Fatalf("expected newest chat first, got %+v", chats)
		}

		s.CreateMessage(ctx, &Message{ChatID: first.ID, Role: RoleUser, Content: "bump"})
		chats, _ = s.ListChats(ctx)
		if chats[0].ID != first.ID {
			t.Errorf("expected chat with latest message first, got %q", chats[0].Title)
		}
	})

	t.Run("update chat", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "old", "CBSE", "English")
		updated, err := s.UpdateChat(ctx, chat.ID, ChatPatch{Title: strPtr("new"), Language: strPtr("Hindi")})
		if err != nil {
			t.Fatalf("UpdateChat: %v", err)
		}
		if updated.Title != "new" || updated.Language != "Hindi" || updated.Curriculum != "CBSE" {
			t.Errorf("unexpected chat after patch: %+v", updated)
		}
		if !updated.UpdatedAt.After(chat.UpdatedAt) {
			t.Errorf("updated_at not refreshed")
		}
		got, _ := s.GetChat(ctx, chat.ID)
		if got.Title != "new" {
			t.Errorf("patch not persisted: %+v", got)
		}
	})

	t.Run("files newest first", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
		text := "hello"
		a := &UploadedFile{ChatID: chat.ID, Filename: "a.txt", OriginalName: "a.txt", MimeType: "text/plain", Size: 5, ExtractedText: &text, Questions: []string{"1. What?"}}
		b := &UploadedFile{ChatID: chat.ID, Filename: "b.pdf", OriginalName: "b.pdf", MimeType: "application/pdf", Size: 9}
		if err := s.CreateFile(ctx, a); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
		if err := s.CreateFile(ctx, b); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}

		files, _ := s.ListFilesByChat(ctx, chat.ID)
		if len(files) != 2 || files[0].ID != b.ID || files[1].ID != a.ID {
			t.Fatalf("unexpected file order: %+v", files)
		}
		if files[0].ExtractedText != nil {
			t.Errorf("expected nil extracted text, got %q", *files[0].ExtractedText)
		}

		got, err := s.GetFile(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetFile: %v", err)
		}
		if got.ExtractedText == nil || *got.ExtractedText != "hello" {
			t.Errorf("unexpected extracted text: %v", got.ExtractedText)
		}
		if len(got.Questions) != 1 || got.Questions[0] != "1. What?" {
			t.Errorf("unexpected questions: %v", got.Questions)
		}

		if err := s.DeleteFile(ctx, a.ID); err != nil {
			t.Fatalf("DeleteFile: %v", err)
		}
		if _, err := s.GetFile(ctx, a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted file still found: %v", err)
		}
		files, _ = s.ListFilesByChat(ctx, chat.ID)
		if len(files) != 1 {
			t.Errorf("expected 1 file after delete, got %d", len(files))
		}
	})

	t.Run("delete chat cascades", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "doomed", "CBSE", "English")
		other, _ := s.CreateChat(ctx, "kept", "CBSE", "English")
		s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Content: "x"})
		s.CreateMessage(ctx, &Message{ChatID: other.ID, Role: RoleUser, Content: "y"})
		f := &UploadedFile{ChatID: chat.ID, Filename: "a", OriginalName: "a", MimeType: "text/plain"}
		s.CreateFile(ctx, f)

		if err := s.DeleteChat(ctx, chat.ID); err != nil {
			t.Fatalf("DeleteChat: %v", err)
		}
		if _, err := s.GetChat(ctx, chat.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetChat after delete: %v", err)
		}
		if msgs, _ := s.ListMessagesByChat(ctx, chat.ID); len(msgs) != 0 {
			t.Errorf("messages survived delete: %+v", msgs)
		}
		if files, _ := s.ListFilesByChat(ctx, chat.ID); len(files) != 0 {
			t.Errorf("files survived delete: %+v", files)
		}
		if _, err := s.GetFile(ctx, f.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetFile after cascade: %v", err)
		}
		if msgs, _ := s.ListMessagesByChat(ctx, other.ID); len(msgs) != 1 {
			t.Errorf("other chat lost messages: %+v", msgs)
		}
	})

	t.Run("delete messages by chat", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
		s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Content: "x"})
		if err := s.DeleteMessagesByChat(ctx, chat.ID); err != nil {
			t.Fatalf("DeleteMessagesByChat: %v", err)
		}
		if msgs, _ := s.ListMessagesByChat(ctx, chat.ID); len(msgs) != 0 {
			t.Errorf("expected no messages, got %d", len(msgs))
		}
		if _, err := s.GetChat(ctx, chat.ID); err != nil {
			t.Errorf("chat should remain: %v", err)
		}
	})

	t.Run("concurrent appends all apply", func(t *testing.T) {
		s := newStore(t)
		chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.CreateMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Content: "m"}); err != nil {
					t.Errorf("CreateMessage: %v", err)
				}
			}()
		}
		wg.Wait()

		msgs, _ := s.ListMessagesByChat(ctx, chat.ID)
		if len(msgs) != 10 {
			t.Fatalf("got %d messages, want 10", len(msgs))
		}
		got, _ := s.GetChat(ctx, chat.ID)
		for _, m := range msgs {
			if got.UpdatedAt.Before(m.CreatedAt) {
				t.Errorf("chat updated_at %v before message %v", got.UpdatedAt, m.CreatedAt)
			}
		}
	})
}

func TestUpdatedAtNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	// The clock jumps backwards after the chat is created.
	times := []time.Time{epoch, epoch.Add(-time.Hour)}
	i := 0
	s := NewMemoryStore().WithClock(func() time.Time {
		now := times[i]
		if i < len(times)-1 {
			i++
		}
		return now
	})

	chat, _ := s.CreateChat(ctx, "c", "CBSE", "English")
	msg := &Message{ChatID: chat.ID, Role: RoleUser, Content: "x"}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if !msg.CreatedAt.Equal(epoch) {
		t.Errorf("created_at %v, want clamped to %v", msg.CreatedAt, epoch)
	}
	got, _ := s.GetChat(ctx, chat.ID)
	if !got.UpdatedAt.Equal(epoch) {
		t.Errorf("updated_at moved back to %v", got.UpdatedAt)
	}
}
