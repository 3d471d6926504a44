package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/findai/edu-chat/internal/core"
	"github.com/findai/edu-chat/internal/store"
)

// maxUploadBody bounds a whole multipart request; per-file limits are
// enforced by the ingester.
const maxUploadBody = core.MaxFilesPerBatch*core.MaxFileSize + 1<<20

type APIHandler struct {
	chatService  *core.ChatService
	fileIngester *core.FileIngester
	studyService *core.StudyService
	dbStore      store.Store
}

func NewAPIHandler(cs *core.ChatService, fi *core.FileIngester, ss *core.StudyService, db store.Store) *APIHandler {
	return &APIHandler{
		chatService:  cs,
		fileIngester: fi,
		studyService: ss,
		dbStore:      db,
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return &core.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CreateChatRequest struct {
	Title      string `json:"title"`
	Curriculum string `json:"curriculum"`
	Language   string `json:"language"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatService.CreateChat(r.Context(), req.Title, req.Curriculum, req.Language)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to create chat: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.ListChats(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to list chats: %w", err))
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatService.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *APIHandler) UpdateChatHandler(w http.ResponseWriter, r *http.Request) {
	var patch store.ChatPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatService.UpdateChat(r.Context(), chi.URLParam(r, "chatID"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	messages, err := h.chatService.ListMessages(r.Context(), chatID)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to list messages: %w", err))
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type PostMessageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type PostMessageResponse struct {
	UserMessage      *store.Message `json:"user_message"`
	AssistantMessage *store.Message `json:"assistant_message,omitempty"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.chatService.PostMessage(r.Context(), chi.URLParam(r, "chatID"), req.Content, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostMessageResponse{
		UserMessage:      res.UserMessage,
		AssistantMessage: res.AssistantMessage,
	})
}

type UploadResponse struct {
	Files    []store.UploadedFile `json:"files"`
	Failures []fileFailure        `json:"failures,omitempty"`
}

func (h *APIHandler) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", core.ErrTooLarge, maxUploadBody))
			return
		}
		writeError(w, r, &core.ValidationError{Field: "files", Message: "expected multipart/form-data: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	incoming := make([]core.IncomingFile, 0, len(headers))
	for _, fh := range headers {
		incoming = append(incoming, core.IncomingFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	result, err := h.fileIngester.IngestBatch(r.Context(), chatID, incoming)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := UploadResponse{Files: result.Files}
	for _, f := range result.Failures {
		_, code := classify(f.Err)
		resp.Failures = append(resp.Failures, fileFailure{Filename: f.Filename, Error: code, Message: f.Err.Error()})
	}
	if len(resp.Failures) > 0 {
		slog.Warn("Upload partially failed", "chat_id", chatID, "stored", len(resp.Files), "failed", len(resp.Failures))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	files, err := h.dbStore.ListFilesByChat(r.Context(), chatID)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to list files: %w", err))
		return
	}
	if files == nil {
		files = []store.UploadedFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *APIHandler) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	file, err := h.dbStore.GetFile(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.dbStore.DeleteFile(r.Context(), chi.URLParam(r, "fileID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type NotesRequest struct {
	Topic      string `json:"topic"`
	Curriculum string `json:"curriculum"`
	Language   string `json:"language"`
}

func (h *APIHandler) GenerateNotesHandler(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	notes, err := h.studyService.GenerateNotes(r.Context(), req.Topic, req.Curriculum, req.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

type QuizRequest struct {
	Topic         string `json:"topic"`
	QuestionCount int    `json:"question_count"`
	Curriculum    string `json:"curriculum"`
	Language      string `json:"language"`
}

func (h *APIHandler) GenerateQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req QuizRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	quiz, err := h.studyService.GenerateQuiz(r.Context(), req.Topic, req.QuestionCount, req.Curriculum, req.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}
