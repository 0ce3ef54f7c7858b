// GyaanGuru - Personal AI Tutor Server
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

	"github.com/gyaanguru/tutor/internal/api"
	"github.com/gyaanguru/tutor/internal/attachment"
	"github.com/gyaanguru/tutor/internal/catalog"
	"github.com/gyaanguru/tutor/internal/config"
	"github.com/gyaanguru/tutor/internal/identity"
	"github.com/gyaanguru/tutor/internal/middleware"
	"github.com/gyaanguru/tutor/internal/profile"
	"github.com/gyaanguru/tutor/internal/reasoning"
	"github.com/gyaanguru/tutor/internal/store"
	"github.com/gyaanguru/tutor/internal/tutor"
	"github.com/gyaanguru/tutor/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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
	slog.Info("Database connected")

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			slog.Error("Failed to load catalog", "path", cfg.CatalogPath, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Catalog loaded", "subjects", len(cat.Subjects), "languages", len(cat.Languages))

	files, err := attachment.NewFileStore(cfg.Upload.Dir, cfg.Upload.PublicPrefix)
	if err != nil {
		slog.Error("Failed to initialize upload store", "error", err)
		os.Exit(1)
	}
	uploads := attachment.NewAdapter(files, cfg.Upload.MaxBytes, cfg.Upload.Concurrency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer, err := reasoning.New(ctx, cfg.Reasoning, logger)
	if err != nil {
		slog.Error("Failed to initialize reasoning service", "provider", cfg.Reasoning.Provider, "error", err)
		os.Exit(1)
	}
	if cfg.AIEnabled() {
		slog.Info("Reasoning service configured", "provider", cfg.Reasoning.Provider)
	} else {
		slog.Info("AI features disabled (REASONING_PROVIDER not set), tutors will reply with the fallback message")
	}

	conversationLogger, err := tutor.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	profiles := profile.NewLoader(repo, cat, logger)
	recorder := tutor.NewRecorder(repo, logger)
	sessions := tutor.NewManager(tutor.ManagerConfig{
		Profiles:  profiles,
		Completer: completer,
		IdleTTL:   cfg.SessionIdleTTL,
		Logger:    logger,
		OnCreate: []func(*tutor.Session){
			recorder.Track,
			tutor.ConversationTap(conversationLogger, "tutor_http"),
		},
	})
	limiter := tutor.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, profiles, cat, cfg)
	healthHandler := api.NewHealthHandler(baseHandler)
	accountHandler := api.NewAccountHandler(baseHandler)
	sessionHandler := tutor.NewHandler(sessions, uploads, limiter, cfg.Upload.MaxBytes)
	streamHub := tutor.NewStreamHub(sessions, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	corsOrigins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		corsOrigins = []string{"*"}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle(cfg.Upload.PublicPrefix+"*", http.StripPrefix(cfg.Upload.PublicPrefix, files.Handler()))

	// All other API routes use identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		accountHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r)
		streamHub.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// WebSocket streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	sessions.StartSweeper(ctx, 0)
	recorder.StartRetention(ctx, cfg.HistoryRetention, 0)

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

	sessions.CloseAll()
	streamHub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
