package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string

	LLMProvider   string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	LLMTimeout    time.Duration

	PDFServiceURL string
	UploadTempDir string

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	JWTSecret string
}

var AppConfig Config

// LoadConfig reads .env (if present) and the environment into AppConfig.
// AppConfig is populated even when validation fails.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := readEnv()
	AppConfig = *cfg
	return cfg.Validate()
}

// FromEnv builds and validates a Config from environment variables.
func FromEnv() (*Config, error) {
	cfg := readEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnv() *Config {
	return &Config{
		HTTPPort:  getEnv("HTTP_PORT", "5002"),
		LogLevel:  strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DatabaseURL: getEnv("DATABASE_URL", "edu_chat.db"),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		LLMTimeout:    time.Duration(getEnvAsInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,

		PDFServiceURL: getEnv("PDF_SERVICE_URL", ""),
		UploadTempDir: getEnv("UPLOAD_TEMP_DIR", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CacheTTL:      time.Duration(getEnvAsInt("CACHE_TTL_MINUTES", 60)) * time.Minute,

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

// Validate checks that the selected provider has a key and the store driver
// is known.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
