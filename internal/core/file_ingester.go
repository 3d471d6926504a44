package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/findai/edu-chat/internal/extract"
	"github.com/findai/edu-chat/internal/store"
	"github.com/findai/edu-chat/internal/utils"
)

const (
	MaxFileSize      = 10 << 20 // 10 MiB
	MaxFilesPerBatch = 5
)

var allowedTypes = map[string]bool{
	extract.MimeText: true,
	extract.MimePDF:  true,
	extract.MimeDOC:  true,
	extract.MimeDOCX: true,
}

var typesByExt = map[string]string{
	".txt":  extract.MimeText,
	".pdf":  extract.MimePDF,
	".doc":  extract.MimeDOC,
	".docx": extract.MimeDOCX,
}

// Extractor is the text extraction capability.
type Extractor interface {
	ExtractText(ctx context.Context, path, mimeType string) (string, error)
}

// IncomingFile is one uploaded file before ingestion.
type IncomingFile struct {
	Name     string
	MimeType string
	Size     int64 // as declared by the client
	Open     func() (io.ReadCloser, error)
}

// BatchResult lists the stored files and the files that failed extraction.
type BatchResult struct {
	Files    []store.UploadedFile
	Failures []*FileError
}

type FileIngester struct {
	dbStore   store.Store
	extractor Extractor
	tempDir   string
	maxBytes  int64
}

func NewFileIngester(db store.Store, extractor Extractor, tempDir string) *FileIngester {
	return &FileIngester{
		dbStore:   db,
		extractor: extractor,
		tempDir:   tempDir,
		maxBytes:  MaxFileSize,
	}
}

// ResolveMimeType drops parameters from the declared type and falls back to
// the file extension when the client sent nothing useful.
func ResolveMimeType(declared, filename string) string {
	mt := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "" || mt == "application/octet-stream" {
		if byExt, ok := typesByExt[strings.ToLower(filepath.Ext(filename))]; ok {
			return byExt
		}
	}
	return mt
}

// Validate checks type and declared size without reading the file.
func (fi *FileIngester) Validate(f IncomingFile) error {
	mt := ResolveMimeType(f.MimeType, f.Name)
	if !allowedTypes[mt] {
		return &FileError{Filename: f.Name, Err: fmt.Errorf("%w: %q", ErrUnsupportedType, mt)}
	}
	if f.Size > fi.maxBytes {
		return &FileError{Filename: f.Name, Err: fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, f.Size, fi.maxBytes)}
	}
	return nil
}

// IngestBatch validates every file first; one invalid file rejects the whole
// batch. Extraction failures after that are reported per file, and the call
// only fails if no file could be stored.
func (fi *FileIngester) IngestBatch(ctx context.Context, chatID string, files []IncomingFile) (*BatchResult, error) {
	if _, err := fi.dbStore.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoFilesProvided
	}
	if len(files) > MaxFilesPerBatch {
		return nil, &ValidationError{Field: "files", Message: fmt.Sprintf("at most %d files per upload", MaxFilesPerBatch)}
	}

	var rejected []*FileError
	for _, f := range files {
		if err := fi.Validate(f); err != nil {
			var fe *FileError
			errors.As(err, &fe)
			rejected = append(rejected, fe)
		}
	}
	if len(rejected) > 0 {
		return nil, &BatchError{Failures: rejected}
	}

	result := &BatchResult{}
	for _, f := range files {
		uploaded, err := fi.Ingest(ctx, chatID, f)
		if err != nil {
			var fe *FileError
			if !errors.As(err, &fe) {
				return nil, err
			}
			result.Failures = append(result.Failures, fe)
			continue
		}
		result.Files = append(result.Files, *uploaded)
	}
	if len(result.Files) == 0 {
		return nil, &BatchError{Failures: result.Failures}
	}
	return result, nil
}

// Ingest stores one file. The temporary copy is removed on every path.
func (fi *FileIngester) Ingest(ctx context.Context, chatID string, f IncomingFile) (*store.UploadedFile, error) {
	if err := fi.Validate(f); err != nil {
		return nil, err
	}
	mimeType := ResolveMimeType(f.MimeType, f.Name)
	ext := strings.ToLower(filepath.Ext(f.Name))

	path, size, err := fi.spool(f, ext)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				slog.Warn("failed to remove temp upload", "path", path, "error", rmErr)
			}
		}()
	}
	if err != nil {
		return nil, err
	}

	text, err := fi.extractor.ExtractText(ctx, path, mimeType)
	if err != nil {
		slog.Warn("extraction failed", "chat_id", chatID, "file", f.Name, "error", err)
		return nil, &FileError{Filename: f.Name, Err: fmt.Errorf("%w: %w", ErrExtractionFailed, err)}
	}

	uploaded := &store.UploadedFile{
		ChatID:        chatID,
		Filename:      uuid.NewString() + ext,
		OriginalName:  f.Name,
		MimeType:      mimeType,
		Size:          size,
		ExtractedText: &text,
		Questions:     utils.ExtractNumberedQuestions(text),
	}
	if err := fi.dbStore.CreateFile(ctx, uploaded); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store file record: %w", err)
	}
	slog.Info("File ingested", "chat_id", chatID, "file_id", uploaded.ID, "mime_type", mimeType, "size", size)
	return uploaded, nil
}

// spool copies the upload to a temp file, enforcing the size limit on the
// bytes actually read. It returns the temp path whenever one was created.
func (fi *FileIngester) spool(f IncomingFile, ext string) (string, int64, error) {
	src, err := f.Open()
	if err != nil {
		return "", 0, &FileError{Filename: f.Name, Err: fmt.Errorf("%w: %w", ErrExtractionFailed, err)}
	}
	defer src.Close()

	tmp, err := os.CreateTemp(fi.tempDir, "upload-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()

	n, copyErr := io.Copy(tmp, io.LimitReader(src, fi.maxBytes+1))
	closeErr := tmp.Close()
	if copyErr != nil {
		return path, n, &FileError{Filename: f.Name, Err: fmt.Errorf("%w: %w", ErrExtractionFailed, copyErr)}
	}
	if closeErr != nil {
		return path, n, fmt.Errorf("failed to write temp file: %w", closeErr)
	}
	if n > fi.maxBytes {
		return path, n, &FileError{Filename: f.Name, Err: fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, fi.maxBytes)}
	}
	return path, n, nil
}
