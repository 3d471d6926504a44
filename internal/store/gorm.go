package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type chatRow struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Title      string    `gorm:"not null"`
	Curriculum string    `gorm:"not null"`
	Language   string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"not null;index;autoUpdateTime:false"`
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	Seq       int64          `gorm:"primaryKey;autoIncrement"`
	ID        string         `gorm:"type:uuid;uniqueIndex;not null"`
	ChatID    string         `gorm:"type:uuid;not null;index"`
	Chat      *chatRow       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID"`
	Role      string         `gorm:"not null"`
	Content   string         `gorm:"type:text;not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

type fileRow struct {
	Seq           int64          `gorm:"primaryKey;autoIncrement"`
	ID            string         `gorm:"type:uuid;uniqueIndex;not null"`
	ChatID        string         `gorm:"type:uuid;not null;index"`
	Chat          *chatRow       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID"`
	Filename      string         `gorm:"not null"`
	OriginalName  string         `gorm:"not null"`
	MimeType      string         `gorm:"not null"`
	Size          int64          `gorm:"not null"`
	ExtractedText *string        `gorm:"type:text"`
	Questions     datatypes.JSON `gorm:"type:jsonb"`
	UploadedAt    time.Time      `gorm:"not null"`
}

func (fileRow) TableName() string { return "uploaded_files" }

// GormStore persists entities in PostgreSQL through GORM.
type GormStore struct {
	db  *gorm.DB
	now Clock
}

func NewGormStore(dsn string) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn))
}

// OpenGormStore connects through any GORM dialector and migrates the schema.
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&chatRow{}, &messageRow{}, &fileRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Database connected", "driver", dialector.Name())
	return &GormStore{db: db, now: utcNow}, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *GormStore) WithClock(now Clock) *GormStore {
	s.now = now
	return s
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// validID reports whether id can be a key. Ids are uuid columns, and
// PostgreSQL rejects anything else with a syntax error instead of no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateChat(ctx context.Context, title, curriculum, language string) (*Chat, error) {
	now := s.now()
	row := chatRow{ID: uuid.NewString(), Title: title, Curriculum: curriculum, Language: language, CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return row.toChat(), nil
}

func (s *GormStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var row chatRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toChat(), nil
}

func (s *GormStore) ListChats(ctx context.Context) ([]Chat, error) {
	var rows []chatRow
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	chats := make([]Chat, 0, len(rows))
	for _, r := range rows {
		chats = append(chats, *r.toChat())
	}
	return chats, nil
}

func (s *GormStore) UpdateChat(ctx context.Context, id string, patch ChatPatch) (*Chat, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var chat *Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row chatRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		chat = row.toChat()
		applyPatch(chat, patch)
		chat.UpdatedAt = laterOf(s.now(), chat.UpdatedAt)
		return tx.Model(&chatRow{}).Where("id = ?", id).Updates(map[string]any{
			"title":      chat.Title,
			"curriculum": chat.Curriculum,
			"language":   chat.Language,
			"updated_at": chat.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *GormStore) DeleteChat(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		if err := tx.Where("chat_id = ?", id).Delete(&fileRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat files: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&chatRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *Message) error {
	if !validID(msg.ChatID) {
		return ErrNotFound
	}
	row, err := messageToRow(msg)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat chatRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, "id = ?", msg.ChatID).Error; err != nil {
			return notFound(err)
		}
		row.ID = uuid.NewString()
		row.CreatedAt = laterOf(s.now(), chat.UpdatedAt)
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return tx.Model(&chatRow{}).Where("id = ?", chat.ID).Update("updated_at", row.CreatedAt).Error
	})
	if err != nil {
		return err
	}
	msg.ID, msg.Seq, msg.CreatedAt = row.ID, row.Seq, row.CreatedAt
	return nil
}

func (s *GormStore) ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	if !validID(chatID) {
		return []Message{}, nil
	}
	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toMessage())
	}
	return msgs, nil
}

func (s *GormStore) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	if !validID(chatID) {
		return nil
	}
	return s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&messageRow{}).Error
}

func (s *GormStore) CreateFile(ctx context.Context, file *UploadedFile) error {
	if !validID(file.ChatID) {
		return ErrNotFound
	}
	row, err := fileToRow(file)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat chatRow
		if err := tx.Select("id").First(&chat, "id = ?", file.ChatID).Error; err != nil {
			return notFound(err)
		}
		row.ID = uuid.NewString()
		row.UploadedAt = s.now()
		return tx.Create(row).Error
	})
	if err != nil {
		return err
	}
	file.ID, file.UploadedAt = row.ID, row.UploadedAt
	return nil
}

func (s *GormStore) ListFilesByChat(ctx context.Context, chatID string) ([]UploadedFile, error) {
	if !validID(chatID) {
		return []UploadedFile{}, nil
	}
	var rows []fileRow
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("uploaded_at DESC").Order("seq DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	files := make([]UploadedFile, 0, len(rows))
	for _, r := range rows {
		files = append(files, r.toFile())
	}
	return files, nil
}

func (s *GormStore) GetFile(ctx context.Context, id string) (*UploadedFile, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var row fileRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	f := row.toFile()
	return &f, nil
}

func (s *GormStore) DeleteFile(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&fileRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete file: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r chatRow) toChat() *Chat {
	return &Chat{ID: r.ID, Title: r.Title, Curriculum: r.Curriculum, Language: r.Language, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func messageToRow(msg *Message) (*messageRow, error) {
	row := &messageRow{ChatID: msg.ChatID, Role: msg.Role, Content: msg.Content}
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(b)
	}
	return row, nil
}

func (r messageRow) toMessage() Message {
	msg := Message{ID: r.ID, ChatID: r.ChatID, Role: r.Role, Content: r.Content, CreatedAt: r.CreatedAt, Seq: r.Seq}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		var md Metadata
		if err := json.Unmarshal(r.Metadata, &md); err != nil {
			slog.Warn("discarding unreadable message metadata", "message_id", r.ID, "error", err)
		} else {
			msg.Metadata = &md
		}
	}
	return msg
}

func fileToRow(f *UploadedFile) (*fileRow, error) {
	row := &fileRow{
		ChatID:        f.ChatID,
		Filename:      f.Filename,
		OriginalName:  f.OriginalName,
		MimeType:      f.MimeType,
		Size:          f.Size,
		ExtractedText: f.ExtractedText,
	}
	if len(f.Questions) > 0 {
		b, err := json.Marshal(f.Questions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal file questions: %w", err)
		}
		row.Questions = datatypes.JSON(b)
	}
	return row, nil
}

func (r fileRow) toFile() UploadedFile {
	f := UploadedFile{
		ID:            r.ID,
		ChatID:        r.ChatID,
		Filename:      r.Filename,
		OriginalName:  r.OriginalName,
		MimeType:      r.MimeType,
		Size:          r.Size,
		ExtractedText: r.ExtractedText,
		UploadedAt:    r.UploadedAt,
	}
	if len(r.Questions) > 0 {
		if err := json.Unmarshal(r.Questions, &f.Questions); err != nil {
			slog.Warn("discarding unreadable file questions", "file_id", r.ID, "error", err)
			f.Questions = nil
		}
	}
	return f
}

var _ Store = (*GormStore)(nil)
