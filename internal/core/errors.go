package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/findai/edu-chat/internal/store"
)

var (
	// ErrNotFound is the store's not-found signal, so errors.Is works across layers.
	ErrNotFound = store.ErrNotFound

	ErrValidation              = errors.New("validation error")
	ErrUnsupportedType         = errors.New("unsupported file type")
	ErrTooLarge                = errors.New("file too large")
	ErrNoFilesProvided         = errors.New("no files provided")
	ErrExtractionFailed        = errors.New("text extraction failed")
	ErrProviderError           = errors.New("provider error")
	ErrMalformedProviderOutput = errors.New("malformed provider output")
	ErrSchemaViolation         = errors.New("provider output violates response schema")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FileError ties an ingestion failure to the file that caused it.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// BatchError collects the per-file failures of an upload.
type BatchError struct {
	Failures []*FileError
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d file(s) rejected: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// TurnError is returned when an orchestrated turn fails after the user
// message was stored. UserMessage is nil if the failure happened earlier.
type TurnError struct {
	State       TurnState
	UserMessage *store.Message
	Err         error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
