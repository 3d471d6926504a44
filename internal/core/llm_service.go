package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Completer is the text generation capability. Implementations return the
// provider's raw text; callers validate it.
type Completer interface {
	Complete(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// LLMService talks to Gemini.
type LLMService struct {
	client    *genai.Client
	modelName string
}

func NewLLMService(ctx context.Context, apiKey, modelName string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &LLMService{client: client, modelName: modelName}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			slog.Error("Error closing GenAI client", "error", err)
		} else {
			slog.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) Complete(ctx context.Context, systemInstruction, prompt string) (string, error) {
	model := s.client.GenerativeModel(s.modelName)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			slog.Debug("Gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	return text.String(), nil
}
