package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by every lookup or mutation that targets an id
// the store does not hold.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for chats, messages and uploaded files.
//
// Implementations must keep these guarantees:
//   - CreateMessage refreshes the parent chat's UpdatedAt in the same atomic
//     operation, and never moves it backwards.
//   - ListMessagesByChat returns messages in insertion order.
//   - DeleteChat removes the chat with all of its messages and files, or
//     nothing at all.
type Store interface {
	CreateChat(ctx context.Context, title, curriculum, language string) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)
	UpdateChat(ctx context.Context, id string, patch ChatPatch) (*Chat, error)
	DeleteChat(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, msg *Message) error
	ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error)
	DeleteMessagesByChat(ctx context.Context, chatID string) error

	CreateFile(ctx context.Context, file *UploadedFile) error
	ListFilesByChat(ctx context.Context, chatID string) ([]UploadedFile, error)
	GetFile(ctx context.Context, id string) (*UploadedFile, error)
	DeleteFile(ctx context.Context, id string) error

	Close() error
}

// Clock returns the current time. Stores use UTC wall time by default.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// laterOf keeps chat timestamps monotonic when the wall clock steps back.
func laterOf(now, prev time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

func applyPatch(chat *Chat, patch ChatPatch) {
	if patch.Title != nil {
		chat.Title = *patch.Title
	}
	if patch.Curriculum != nil {
		chat.Curriculum = *patch.Curriculum
	}
	if patch.Language != nil {
		chat.Language = *patch.Language
	}
}
