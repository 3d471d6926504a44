package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. A single mutex serializes
// mutations, so each operation applies atomically.
type MemoryStore struct {
	mu sync.RWMutex

	chats     map[string]*Chat
	chatOrder []string
	messages  map[string][]Message      // chat id -> messages in insertion order
	files     map[string][]UploadedFile // chat id -> files in insertion order
	fileChat  map[string]string         // file id -> chat id
	seq       int64

	now Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]Message),
		files:    make(map[string][]UploadedFile),
		fileChat: make(map[string]string),
		now:      utcNow,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(now Clock) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateChat(_ context.Context, title, curriculum, language string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	chat := &Chat{
		ID:         uuid.NewString(),
		Title:      title,
		Curriculum: curriculum,
		Language:   language,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.chats[chat.ID] = chat
	s.chatOrder = append(s.chatOrder, chat.ID)

	out := *chat
	return &out, nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *chat
	return &out, nil
}

func (s *MemoryStore) ListChats(_ context.Context) ([]Chat, error) {
	s.mu.RLock()
	chats := make([]Chat, 0, len(s.chatOrder))
	for _, id := range s.chatOrder {
		chats = append(chats, *s.chats[id])
	}
	s.mu.RUnlock()

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, id string, patch ChatPatch) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyPatch(chat, patch)
	chat.UpdatedAt = laterOf(s.now(), chat.UpdatedAt)

	out := *chat
	return &out, nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	for _, f := range s.files[id] {
		delete(s.fileChat, f.ID)
	}
	delete(s.files, id)
	delete(s.messages, id)
	delete(s.chats, id)
	for i, cid := range s.chatOrder {
		if cid == id {
			s.chatOrder = append(s.chatOrder[:i], s.chatOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return ErrNotFound
	}

	s.seq++
	msg.ID = uuid.NewString()
	msg.Seq = s.seq
	msg.CreatedAt = laterOf(s.now(), chat.UpdatedAt)
	chat.UpdatedAt = msg.CreatedAt

	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], cloneMessage(*msg))
	return nil
}

func (s *MemoryStore) ListMessagesByChat(_ context.Context, chatID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, 0, len(s.messages[chatID]))
	for _, m := range s.messages[chatID] {
		msgs = append(msgs, cloneMessage(m))
	}
	return msgs, nil
}

// cloneMessage copies the metadata so stored messages share nothing with callers.
func cloneMessage(m Message) Message {
	if m.Metadata == nil {
		return m
	}
	md := *m.Metadata
	md.Notes = slices.Clone(md.Notes)
	md.FollowUpActions = slices.Clone(md.FollowUpActions)
	if md.Questions != nil {
		md.Questions = make([]Question, len(m.Metadata.Questions))
		for i, q := range m.Metadata.Questions {
			q.Options = slices.Clone(q.Options)
			md.Questions[i] = q
		}
	}
	m.Metadata = &md
	return m
}

func (s *MemoryStore) DeleteMessagesByChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, chatID)
	return nil
}

func (s *MemoryStore) CreateFile(_ context.Context, file *UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[file.ChatID]; !ok {
		return ErrNotFound
	}
	file.ID = uuid.NewString()
	file.UploadedAt = s.now()

	s.files[file.ChatID] = append(s.files[file.ChatID], *file)
	s.fileChat[file.ID] = file.ChatID
	return nil
}

func (s *MemoryStore) ListFilesByChat(_ context.Context, chatID string) ([]UploadedFile, error) {
	s.mu.RLock()
	stored := s.files[chatID]
	files := make([]UploadedFile, 0, len(stored))
	// Newest first; reversing insertion order keeps same-instant uploads stable.
	for i := len(stored) - 1; i >= 0; i-- {
		files = append(files, stored[i])
	}
	s.mu.RUnlock()

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].UploadedAt.After(files[j].UploadedAt)
	})
	return files, nil
}

func (s *MemoryStore) GetFile(_ context.Context, id string) (*UploadedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chatID, ok := s.fileChat[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, f := range s.files[chatID] {
		if f.ID == id {
			out := f
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatID, ok := s.fileChat[id]
	if !ok {
		return ErrNotFound
	}
	files := s.files[chatID]
	for i, f := range files {
		if f.ID == id {
			s.files[chatID] = append(files[:i:i], files[i+1:]...)
			break
		}
	}
	delete(s.fileChat, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
