package core

import (
	"context"
	"errors"
	"sync"
)

// stubCompleter implements Completer for testing.
type stubCompleter struct {
	mu         sync.Mutex
	response   string
	err        error
	completeFn func(ctx context.Context, system, prompt string) (string, error)

	calls      int
	lastSystem string
	lastPrompt string
}

func (s *stubCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.lastSystem = system
	s.lastPrompt = prompt
	s.mu.Unlock()

	if s.completeFn != nil {
		return s.completeFn(ctx, system, prompt)
	}
	return s.response, s.err
}

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// countingExtractor implements Extractor for testing.
type countingExtractor struct {
	mu    sync.Mutex
	calls int
	paths []string
	text  string
	err   error
	errOn map[string]bool // mime types that fail
}

func (e *countingExtractor) ExtractText(ctx context.Context, path, mimeType string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.paths = append(e.paths, path)
	if e.errOn[mimeType] {
		return "", errors.New("disk read error")
	}
	return e.text, e.err
}
