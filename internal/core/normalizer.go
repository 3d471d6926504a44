package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/findai/edu-chat/internal/store"
	"github.com/findai/edu-chat/internal/utils"
)

// AIResponse is a validated provider reply.
type AIResponse struct {
	Content         string
	HasNotes        bool
	Notes           []string
	HasQuestions    bool
	Questions       []store.Question
	FollowUpActions []string
}

// Metadata projects the optional fields onto message metadata. It returns nil
// when the response carries none of them.
func (r *AIResponse) Metadata() *store.Metadata {
	if !r.HasNotes && !r.HasQuestions && len(r.FollowUpActions) == 0 {
		return nil
	}
	md := &store.Metadata{FollowUpActions: r.FollowUpActions}
	if r.HasNotes {
		md.HasNotes = true
		md.Notes = r.Notes
	}
	if r.HasQuestions {
		md.HasQuestions = true
		md.Questions = r.Questions
	}
	return md
}

// Accepted response keys, with the camelCase spellings some models emit.
var responseKeys = map[string]string{
	"content":           "content",
	"has_notes":         "has_notes",
	"hasNotes":          "has_notes",
	"notes":             "notes",
	"has_questions":     "has_questions",
	"hasQuestions":      "has_questions",
	"questions":         "questions",
	"follow_up_actions": "follow_up_actions",
	"followUpActions":   "follow_up_actions",
}

var questionTypes = map[string]bool{
	store.QuestionMCQ:       true,
	store.QuestionShort:     true,
	store.QuestionTrueFalse: true,
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedProviderOutput, fmt.Sprintf(format, args...))
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaViolation, fmt.Sprintf(format, args...))
}

// NormalizeResponse parses and validates raw provider output. It accepts the
// whole response or nothing.
func NormalizeResponse(raw string) (*AIResponse, error) {
	text := utils.StripCodeFence(raw)
	if text == "" {
		return nil, malformed("empty output")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, malformed("not a JSON object: %v", err)
	}
	if obj == nil {
		return nil, malformed("not a JSON object")
	}

	fields := make(map[string]json.RawMessage, len(obj))
	for key, val := range obj {
		canonical, ok := responseKeys[key]
		if !ok {
			return nil, violation("unknown field %q", key)
		}
		if _, dup := fields[canonical]; dup {
			return nil, violation("field %q given twice", canonical)
		}
		fields[canonical] = val
	}

	resp := &AIResponse{}

	content, present, err := decodeString(fields["content"])
	if err != nil {
		return nil, violation("content: %v", err)
	}
	if !present || strings.TrimSpace(content) == "" {
		return nil, violation("content is required")
	}
	resp.Content = content

	if resp.HasNotes, err = decodeFlag(fields["has_notes"]); err != nil {
		return nil, violation("has_notes: %v", err)
	}
	if resp.Notes, err = decodeStrings(fields["notes"]); err != nil {
		return nil, violation("notes: %v", err)
	}
	if err := checkPaired("notes", resp.HasNotes, len(resp.Notes)); err != nil {
		return nil, err
	}

	if resp.HasQuestions, err = decodeFlag(fields["has_questions"]); err != nil {
		return nil, violation("has_questions: %v", err)
	}
	if resp.Questions, err = decodeQuestions(fields["questions"]); err != nil {
		return nil, err
	}
	if err := checkPaired("questions", resp.HasQuestions, len(resp.Questions)); err != nil {
		return nil, err
	}

	if resp.FollowUpActions, err = decodeStrings(fields["follow_up_actions"]); err != nil {
		return nil, violation("follow_up_actions: %v", err)
	}

	return resp, nil
}

func checkPaired(name string, flag bool, n int) error {
	switch {
	case flag && n == 0:
		return violation("has_%s is true but %s is missing", name, name)
	case !flag && n > 0:
		return violation("%s given without has_%s", name, name)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool, error) {
	if isAbsent(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, fmt.Errorf("expected a string")
	}
	return s, true, nil
}

func decodeFlag(raw json.RawMessage) (bool, error) {
	if isAbsent(raw) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("expected a boolean")
	}
	return b, nil
}

// decodeStrings returns nil for absent, null or empty lists.
func decodeStrings(raw json.RawMessage) ([]string, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected a list of strings")
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

type rawQuestion struct {
	Type     string          `json:"type"`
	Question string          `json:"question"`
	Options  []string        `json:"options"`
	Answer   json.RawMessage `json:"answer"`
}

func decodeQuestions(raw json.RawMessage) ([]store.Question, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, violation("questions: expected a list")
	}
	if len(items) == 0 {
		return nil, nil
	}

	questions := make([]store.Question, 0, len(items))
	for i, item := range items {
		var rq rawQuestion
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rq); err != nil {
			return nil, violation("questions[%d]: %v", i, err)
		}
		q, err := validateQuestion(rq)
		if err != nil {
			return nil, violation("questions[%d]: %v", i, err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func validateQuestion(rq rawQuestion) (store.Question, error) {
	q := store.Question{
		Type:     strings.ToLower(strings.TrimSpace(rq.Type)),
		Question: rq.Question,
		Options:  rq.Options,
	}
	if !questionTypes[q.Type] {
		return q, fmt.Errorf("unknown type %q", rq.Type)
	}
	if strings.TrimSpace(q.Question) == "" {
		return q, fmt.Errorf("question text is required")
	}

	answer, err := answerText(rq.Answer)
	if err != nil {
		return q, err
	}
	q.Answer = answer

	if len(q.Options) == 0 {
		q.Options = nil
	}
	if q.Type == store.QuestionMCQ && q.Options == nil {
		return q, fmt.Errorf("mcq question needs options")
	}
	if q.Type != store.QuestionMCQ && q.Options != nil {
		return q, fmt.Errorf("options are only allowed on mcq questions")
	}
	return q, nil
}

// answerText accepts a string, or a boolean or number which some models emit
// for true_false and numeric answers.
func answerText(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", fmt.Errorf("answer is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("answer is required")
		}
		return s, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("answer must be a string")
}
