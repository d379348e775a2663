// Conversational RAG API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/okulov/ragserver/internal/api"
	"github.com/okulov/ragserver/internal/config"
	"github.com/okulov/ragserver/internal/index"
	"github.com/okulov/ragserver/internal/llm"
	"github.com/okulov/ragserver/internal/middleware"
	"github.com/okulov/ragserver/internal/rag"
	"github.com/okulov/ragserver/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.ModelName,
		"session_ttl", cfg.SessionTTL, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.SessionTTL, cfg.DBPoolSize)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if cfg.GroqAPIKey == "" {
		slog.Warn("GROQ_API_KEY not set, generation requests will fail authentication")
	}
	generator := llm.New(cfg.GroqAPIKey, cfg.GroqBaseURL, func(o *llm.Options) {
		o.Model = cfg.ModelName
	})

	docIndex := index.New()
	svc := rag.NewService(repo, generator, docIndex, cfg.MaxCachedPipelines)
	defer svc.Close()

	sweeper := rag.NewSweeper(repo, svc, cfg.SweepInterval)

	// Initialize handlers.
	chatHandler := api.NewChatHandler(svc)
	sessionHandler := api.NewSessionHandler(svc, sweeper)
	ingestHandler := api.NewIngestHandler(docIndex)
	healthHandler := api.NewHealthHandler(repo, cfg.ModelName, cfg.DBPath)
	wsHandler := api.NewWSChatHandler(svc, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	ingestHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start expiry sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper.Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
