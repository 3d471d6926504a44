package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/findai/edu-chat/internal/api"
	"github.com/findai/edu-chat/internal/auth"
	"github.com/findai/edu-chat/internal/cache"
	"github.com/findai/edu-chat/internal/config"
	"github.com/findai/edu-chat/internal/core"
	"github.com/findai/edu-chat/internal/extract"
	"github.com/findai/edu-chat/internal/store"
)

func main() {
	issueToken := flag.String("issue-token", "", "Print a signed API token for the given subject and exit")
	flag.Parse()

	// Load configuration
	cfgErr := config.LoadConfig()
	cfg := &config.AppConfig
	setupLogger(cfg)

	if *issueToken != "" {
		token, err := auth.GenerateJWT(*issueToken, cfg.JWTSecret, auth.DefaultTokenTTL)
		if err != nil {
			fatal("Failed to issue token (is JWT_SECRET set?)", err)
		}
		fmt.Println(token)
		return
	}
	if cfgErr != nil {
		fatal("Invalid configuration", cfgErr)
	}

	ctx := context.Background()

	// Initialize database store
	dbStore, err := openStore(cfg)
	if err != nil {
		fatal("Failed to initialize database", err)
	}
	defer dbStore.Close()

	// Initialize LLM provider
	llm, closeLLM, err := newCompleter(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize LLM provider", err)
	}
	defer closeLLM()

	var pdfClient *extract.PDFServiceClient
	if cfg.PDFServiceURL != "" {
		pdfClient = extract.NewPDFServiceClient(cfg.PDFServiceURL, cfg.LLMTimeout)
		if !pdfClient.IsServiceHealthy(ctx) {
			slog.Warn("PDF service is not reachable, PDF uploads will fail until it is", "url", cfg.PDFServiceURL)
		}
	}

	helperCache, closeCache := newCache(ctx, cfg)
	defer closeCache()

	chatService := core.NewChatService(dbStore, llm, cfg.LLMTimeout)
	fileIngester := core.NewFileIngester(dbStore, extract.New(pdfClient), cfg.UploadTempDir)
	studyService := core.NewStudyService(llm, helperCache, cfg.CacheTTL, cfg.LLMTimeout)

	apiHandler := api.NewAPIHandler(chatService, fileIngester, studyService, dbStore)
	router := api.NewRouter(apiHandler, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second, // a turn can wait the full provider timeout
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "addr", serverAddr, "store", cfg.StoreDriver, "provider", cfg.LLMProvider, "auth", cfg.JWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("Could not listen", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Server exiting gracefully")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		slog.Warn("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case config.StorePostgres:
		db, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		db, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

func newCompleter(ctx context.Context, cfg *config.Config) (core.Completer, func(), error) {
	if cfg.LLMProvider == config.ProviderOpenAI {
		return core.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), func() {}, nil
	}
	svc, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	return svc, svc.Close, nil
}

func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(), func() {}
	}
	rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Warn("Redis unavailable, falling back to in-memory cache", "addr", cfg.RedisAddr, "error", err)
		return cache.NewMemoryCache(), func() {}
	}
	return rc, func() { rc.Close() }
}
