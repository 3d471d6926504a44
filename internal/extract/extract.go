// Package extract turns uploaded files into plain text.
//
// Only an unreadable file is an error. Formats that cannot be converted yield
// a human-readable placeholder, so the upload is still recorded.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"
)

const (
	MimeText = "text/plain"
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

const (
	UndecodableText      = "Unable to decode file content"
	PDFNotConfiguredText = "PDF uploaded but text extraction is not configured. Please describe the content."
	UnsupportedText      = "File uploaded but text extraction not available for this type. Please describe the content."
)

type pdfParser interface {
	Parse(ctx context.Context, data []byte, filename string) (string, error)
}

type Extractor struct {
	pdf pdfParser
}

// New returns an Extractor. A nil client leaves PDFs with a placeholder.
func New(pdf *PDFServiceClient) *Extractor {
	e := &Extractor{}
	if pdf != nil {
		e.pdf = pdf
	}
	return e
}

func (e *Extractor) ExtractText(ctx context.Context, path, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	switch mimeType {
	case MimeText:
		if !utf8.Valid(data) {
			return UndecodableText, nil
		}
		return string(data), nil

	case MimePDF:
		if e.pdf == nil {
			return PDFNotConfiguredText, nil
		}
		text, err := e.pdf.Parse(ctx, data, filepath.Base(path))
		if err != nil {
			slog.Warn("PDF extraction degraded to placeholder", "file", filepath.Base(path), "error", err)
			return fmt.Sprintf("Error extracting PDF text: %v", err), nil
		}
		return text, nil

	default:
		return UnsupportedText, nil
	}
}
