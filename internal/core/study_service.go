package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/findai/edu-chat/internal/cache"
	"github.com/findai/edu-chat/internal/store"
	"github.com/findai/edu-chat/internal/utils"
)

const (
	DefaultQuizQuestions = 5
	MaxQuizQuestions     = 20
)

type StudyNotes struct {
	Title string   `json:"title"`
	Notes []string `json:"notes"`
}

type Quiz struct {
	Title     string           `json:"title"`
	Questions []store.Question `json:"questions"`
}

// StudyService generates chat-independent notes and quizzes.
type StudyService struct {
	llm     Completer
	cache   cache.Cache
	ttl     time.Duration
	timeout time.Duration
}

// NewStudyService builds the helper service. A nil cache disables caching.
func NewStudyService(llm Completer, c cache.Cache, ttl, timeout time.Duration) *StudyService {
	return &StudyService{llm: llm, cache: c, ttl: ttl, timeout: timeout}
}

func studyDefaults(curriculum, language string) (string, string) {
	if strings.TrimSpace(curriculum) == "" {
		curriculum = store.DefaultCurriculum
	}
	if strings.TrimSpace(language) == "" {
		language = store.DefaultLanguage
	}
	return curriculum, language
}

func cacheKey(kind, topic, curriculum, language string, count int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d",
		kind, strings.ToLower(strings.TrimSpace(topic)), curriculum, language, count)))
	return kind + ":" + hex.EncodeToString(sum[:])
}

func (s *StudyService) GenerateNotes(ctx context.Context, topic, curriculum, language string) (*StudyNotes, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	curriculum, language = studyDefaults(curriculum, language)
	key := cacheKey("notes", topic, curriculum, language, 0)

	var notes StudyNotes
	if s.cached(ctx, key, &notes) {
		return &notes, nil
	}

	raw, err := callProvider(ctx, s.llm, s.timeout, fmt.Sprintf(notesSystemTemplate, curriculum, language), notesPrompt(topic))
	if err != nil {
		return nil, err
	}
	if err := decodeStrict(raw, &notes); err != nil {
		return nil, err
	}
	if strings.TrimSpace(notes.Title) == "" {
		notes.Title = topic
	}
	if len(notes.Notes) == 0 {
		return nil, violation("notes are missing")
	}

	s.store(ctx, key, notes)
	return &notes, nil
}

func (s *StudyService) GenerateQuiz(ctx context.Context, topic string, count int, curriculum, language string) (*Quiz, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	if count == 0 {
		count = DefaultQuizQuestions
	}
	if count < 1 || count > MaxQuizQuestions {
		return nil, &ValidationError{Field: "question_count", Message: fmt.Sprintf("must be between 1 and %d", MaxQuizQuestions)}
	}
	curriculum, language = studyDefaults(curriculum, language)
	key := cacheKey("quiz", topic, curriculum, language, count)

	var quiz Quiz
	if s.cached(ctx, key, &quiz) {
		return &quiz, nil
	}

	raw, err := callProvider(ctx, s.llm, s.timeout, fmt.Sprintf(quizSystemTemplate, curriculum, language), quizPrompt(topic, count))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Title     string          `json:"title"`
		Questions json.RawMessage `json:"questions"`
	}
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	questions, err := decodeQuestions(payload.Questions)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, violation("questions are missing")
	}
	quiz = Quiz{Title: payload.Title, Questions: questions}
	if strings.TrimSpace(quiz.Title) == "" {
		quiz.Title = topic + " Quiz"
	}

	s.store(ctx, key, quiz)
	return &quiz, nil
}

// decodeStrict parses fenced or bare JSON into v, rejecting unknown keys.
func decodeStrict(raw string, v any) error {
	text := utils.StripCodeFence(raw)
	if text == "" {
		return malformed("empty output")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return violation("%v", err)
		}
		return malformed("%v", err)
	}
	if err := dec.Decode(&json.RawMessage{}); err != io.EOF {
		return malformed("unexpected data after JSON object")
	}
	return nil
}

func (s *StudyService) cached(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("study cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("study cache entry unreadable", "key", key, "error", err)
		return false
	}
	slog.Debug("study cache hit", "key", key)
	return true
}

func (s *StudyService) store(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("study cache write failed", "key", key, "error", err)
	}
}
