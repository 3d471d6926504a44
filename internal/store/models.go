package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultCurriculum = "CBSE"
	DefaultLanguage   = "English"
)

type Chat struct {
	ID         string    `json:"id"` // UUID
	Title      string    `json:"title"`
	Curriculum string    `json:"curriculum"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChatPatch carries the mutable chat fields; nil fields are left untouched.
type ChatPatch struct {
	Title      *string `json:"title,omitempty"`
	Curriculum *string `json:"curriculum,omitempty"`
	Language   *string `json:"language,omitempty"`
}

type Message struct {
	ID        string    `json:"id"` // UUID
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Metadata  *Metadata `json:"metadata"` // Only on assistant messages with notes/questions/follow-ups
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"-"` // Insertion sequence, breaks created_at ties
}

// Metadata is the structured augmentation attached to an assistant message.
// Fields are only set when present in the generated response.
type Metadata struct {
	HasNotes        bool       `json:"has_notes,omitempty"`
	Notes           []string   `json:"notes,omitempty"`
	HasQuestions    bool       `json:"has_questions,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
	FollowUpActions []string   `json:"follow_up_actions,omitempty"`
}

const (
	QuestionMCQ       = "mcq"
	QuestionShort     = "short"
	QuestionTrueFalse = "true_false"
)

type Question struct {
	Type     string   `json:"type"` // mcq, short or true_false
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"` // mcq only
	Answer   string   `json:"answer"`
}

type UploadedFile struct {
	ID            string    `json:"id"` // UUID
	ChatID        string    `json:"chat_id"`
	Filename      string    `json:"filename"`      // Storage-assigned
	OriginalName  string    `json:"original_name"` // As supplied by the client
	MimeType      string    `json:"mime_type"`
	Size          int64     `json:"size"`
	ExtractedText *string   `json:"extracted_text"`
	Questions     []string  `json:"questions,omitempty"` // Numbered questions found in the text
	UploadedAt    time.Time `json:"uploaded_at"`
}
