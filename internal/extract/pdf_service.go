package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PDFServiceClient calls an external PDF text service. The service accepts the
// raw PDF bytes on POST /parse and answers {"text", "pages", "error"}.
type PDFServiceClient struct {
	serviceURL string
	client     *http.Client
}

func NewPDFServiceClient(serviceURL string, timeout time.Duration) *PDFServiceClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PDFServiceClient{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type parseResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
	Error string `json:"error,omitempty"`
}

// Parse extracts text from PDF bytes.
func (p *PDFServiceClient) Parse(ctx context.Context, data []byte, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serviceURL+"/parse", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Filename", filename)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling PDF service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var result parseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("PDF service returned status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("PDF parse error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("PDF service returned status %d", resp.StatusCode)
	}
	return result.Text, nil
}

// IsServiceHealthy reports whether GET /health answers 200.
func (p *PDFServiceClient) IsServiceHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serviceURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
