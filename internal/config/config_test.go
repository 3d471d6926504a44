package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("HTTP_PORT", "5002")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("LLM_PROVIDER", "gemini")
	// Unparseable numbers and levels fall back to defaults.
	t.Setenv("LLM_TIMEOUT_SECONDS", "")
	t.Setenv("CACHE_TTL_MINUTES", "soon")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPPort != "5002" || cfg.StoreDriver != StoreSQLite || cfg.LLMProvider != ProviderGemini {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.LLMTimeout != 60*time.Second || cfg.CacheTTL != time.Hour {
		t.Errorf("unexpected durations: %v %v", cfg.LLMTimeout, cfg.CacheTTL)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("unexpected level: %v", cfg.SlogLevel())
	}
}

func TestFromEnv_OpenAI(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LLM_TIMEOUT_SECONDS", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.LLMProvider != ProviderOpenAI || cfg.LLMTimeout != 5*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("unexpected level: %v", cfg.SlogLevel())
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing gemini key", map[string]string{"LLM_PROVIDER": "gemini", "GEMINI_API_KEY": "", "STORE_DRIVER": "sqlite"}, "GEMINI_API_KEY"},
		{"missing openai key", map[string]string{"LLM_PROVIDER": "openai", "OPENAI_API_KEY": "", "STORE_DRIVER": "sqlite"}, "OPENAI_API_KEY"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "llama", "STORE_DRIVER": "sqlite"}, "LLM_PROVIDER"},
		{"unknown store", map[string]string{"LLM_PROVIDER": "gemini", "GEMINI_API_KEY": "k", "STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}
