package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/findai/edu-chat/internal/core"
)

type fileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

type errorBody struct {
	Error         string        `json:"error"`
	Message       string        `json:"message"`
	Field         string        `json:"field,omitempty"`
	Filename      string        `json:"filename,omitempty"`
	UserMessageID string        `json:"user_message_id,omitempty"`
	Failures      []fileFailure `json:"failures,omitempty"`
}

// classify maps an error onto a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, core.ErrNoFilesProvided):
		return http.StatusBadRequest, "no_files_provided"
	case errors.Is(err, core.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "unsupported_type"
	case errors.Is(err, core.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, core.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, "extraction_failed"
	case errors.Is(err, core.ErrProviderError):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, core.ErrMalformedProviderOutput):
		return http.StatusBadGateway, "malformed_provider_output"
	case errors.Is(err, core.ErrSchemaViolation):
		return http.StatusBadGateway, "schema_violation"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Message: err.Error()}
	var status int

	var batchErr *core.BatchError
	if errors.As(err, &batchErr) && len(batchErr.Failures) > 0 {
		// The first failure decides the status; every file is listed.
		status, body.Error = classify(batchErr.Failures[0].Err)
		for _, f := range batchErr.Failures {
			_, code := classify(f.Err)
			body.Failures = append(body.Failures, fileFailure{Filename: f.Filename, Error: code, Message: f.Err.Error()})
		}
	} else {
		status, body.Error = classify(err)
	}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Message = ve.Message
	}
	var fe *core.FileError
	if batchErr == nil && errors.As(err, &fe) {
		body.Filename = fe.Filename
	}
	var te *core.TurnError
	if errors.As(err, &te) && te.UserMessage != nil {
		body.UserMessageID = te.UserMessage.ID
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "Internal server error"
	} else if status >= http.StatusBadGateway {
		slog.Warn("Generation failed", "path", r.URL.Path, "error", err, "user_message_id", body.UserMessageID)
	}
	writeErrorBody(w, status, body)
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
