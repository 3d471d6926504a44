package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps writes serialized and the foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: utcNow}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// WithClock replaces the time source. Intended for tests.
func (s *SQLiteStore) WithClock(now Clock) *SQLiteStore {
	s.now = now
	return s
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        title TEXT NOT NULL,
        curriculum TEXT NOT NULL,
        language TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        chat_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        metadata_json TEXT, -- NULL when the message has no metadata
        created_at DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, seq);

    CREATE TABLE IF NOT EXISTS uploaded_files (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        chat_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        original_name TEXT NOT NULL,
        mime_type TEXT NOT NULL,
        size INTEGER NOT NULL,
        extracted_text TEXT,
        questions_json TEXT,
        uploaded_at DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_files_chat ON uploaded_files (chat_id, seq);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, title, curriculum, language string) (*Chat, error) {
	chat := &Chat{
		ID:         uuid.NewString(),
		Title:      title,
		Curriculum: curriculum,
		Language:   language,
	}
	chat.CreatedAt = s.now()
	chat.UpdatedAt = chat.CreatedAt

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO chats (id, title, curriculum, language, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chat insert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, chat.ID, chat.Title, chat.Curriculum, chat.Language, chat.CreatedAt, chat.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return chat, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	if err := row.Scan(&chat.ID, &chat.Title, &chat.Curriculum, &chat.Language, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	return s.getChat(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getChat(ctx context.Context, q queryer, id string) (*Chat, error) {
	chat, err := scanChat(q.QueryRowContext(ctx, "SELECT id, title, curriculum, language, created_at, updated_at FROM chats WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, curriculum, language, created_at, updated_at FROM chats ORDER BY updated_at DESC, created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) UpdateChat(ctx context.Context, id string, patch ChatPatch) (*Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin chat update: %w", err)
	}
	defer tx.Rollback()

	chat, err := s.getChat(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(chat, patch)
	chat.UpdatedAt = laterOf(s.now(), chat.UpdatedAt)

	_, err = tx.ExecContext(ctx, "UPDATE chats SET title = ?, curriculum = ?, language = ?, updated_at = ? WHERE id = ?",
		chat.Title, chat.Curriculum, chat.Language, chat.UpdatedAt, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat update: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chat update: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chat delete: %w", err)
	}
	defer tx.Rollback()

	// Children are removed explicitly so the cascade does not depend on the pragma.
	if _, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM uploaded_files WHERE chat_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chat files: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound // rollback leaves nothing deleted
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat delete: %w", err)
	}
	return nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message insert: %w", err)
	}
	defer tx.Rollback()

	chat, err := s.getChat(ctx, tx, msg.ChatID)
	if err != nil {
		return err
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = laterOf(s.now(), chat.UpdatedAt)

	res, err := tx.ExecContext(ctx, "INSERT INTO messages (id, chat_id, role, content, metadata_json, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.Role, msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	msg.Seq, _ = res.LastInsertId()

	if _, err = tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ChatID); err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	query := "SELECT seq, id, chat_id, role, content, metadata_json, created_at FROM messages WHERE chat_id = ? ORDER BY seq ASC"
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var metadata sql.NullString
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			msg.Metadata = &Metadata{}
			if err := json.Unmarshal([]byte(metadata.String), msg.Metadata); err != nil {
				slog.Warn("discarding unreadable message metadata", "message_id", msg.ID, "error", err)
				msg.Metadata = nil
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// File methods
func (s *SQLiteStore) CreateFile(ctx context.Context, file *UploadedFile) error {
	questions, err := marshalNullable(file.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal file questions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin file insert: %w", err)
	}
	defer tx.Rollback()

	if _, err = s.getChat(ctx, tx, file.ChatID); err != nil {
		return err
	}

	file.ID = uuid.NewString()
	file.UploadedAt = s.now()

	_, err = tx.ExecContext(ctx, `INSERT INTO uploaded_files
        (id, chat_id, filename, original_name, mime_type, size, extracted_text, questions_json, uploaded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.ChatID, file.Filename, file.OriginalName, file.MimeType, file.Size, file.ExtractedText, questions, file.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to execute file insert: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file insert: %w", err)
	}
	return nil
}

const fileColumns = "id, chat_id, filename, original_name, mime_type, size, extracted_text, questions_json, uploaded_at"

func scanFile(row rowScanner) (*UploadedFile, error) {
	var f UploadedFile
	var text, questions sql.NullString
	if err := row.Scan(&f.ID, &f.ChatID, &f.Filename, &f.OriginalName, &f.MimeType, &f.Size, &text, &questions, &f.UploadedAt); err != nil {
		return nil, err
	}
	if text.Valid {
		f.ExtractedText = &text.String
	}
	if questions.Valid && questions.String != "" {
		if err := json.Unmarshal([]byte(questions.String), &f.Questions); err != nil {
			slog.Warn("discarding unreadable file questions", "file_id", f.ID, "error", err)
			f.Questions = nil
		}
	}
	return &f, nil
}

func (s *SQLiteStore) ListFilesByChat(ctx context.Context, chatID string) ([]UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileColumns+" FROM uploaded_files WHERE chat_id = ? ORDER BY uploaded_at DESC, seq DESC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []UploadedFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*UploadedFile, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM uploaded_files WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM uploaded_files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// marshalNullable encodes v as JSON text, or returns nil for nil pointers
// and empty slices so the column stays NULL.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *Metadata:
		if t == nil {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*SQLiteStore)(nil)
