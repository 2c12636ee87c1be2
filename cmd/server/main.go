// CareBridge - social aid assistance server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/carebridge/internal/aid"
	"github.com/ashureev/carebridge/internal/api"
	"github.com/ashureev/carebridge/internal/assistant"
	"github.com/ashureev/carebridge/internal/config"
	"github.com/ashureev/carebridge/internal/document"
	"github.com/ashureev/carebridge/internal/form"
	"github.com/ashureev/carebridge/internal/identity"
	"github.com/ashureev/carebridge/internal/metrics"
	"github.com/ashureev/carebridge/internal/middleware"
	"github.com/ashureev/carebridge/internal/notify"
	"github.com/ashureev/carebridge/internal/retention"
	"github.com/ashureev/carebridge/internal/store"
	"github.com/ashureev/carebridge/internal/verify"
	"github.com/ashureev/carebridge/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const (
	chatHistoryTTL = 7 * 24 * time.Hour

	verifyRatePerMin = 5
	verifyRateBurst  = 3
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := seedCatalog(ctx, repo, cfg.SeedDir, logger); err != nil {
		slog.Error("Failed to seed catalog", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	aidService := aid.NewService(repo, repo, logger)

	notifier := notify.New(notify.Config{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		From:      cfg.SMTP.From,
		QueueSize: 100,
	}, repo, logger)
	defer notifier.Close()

	formOpts := []form.Option{
		form.WithLogger(logger),
		form.WithObserver(metrics.FormObserver{}),
	}
	if notifier.Enabled() {
		formOpts = append(formOpts, form.WithNotifier(notifier))
		slog.Info("Completion emails enabled", "smtp_host", cfg.SMTP.Host)
	}
	formService := form.NewService(repo, repo, repo, formOpts...)
	verifier := verify.NewService(repo, repo, notifier.Sender(), logger)

	documentService, err := document.NewService(formService, repo, repo, cfg.DocumentDir, cfg.MaxUploadBytes, logger)
	if err != nil {
		slog.Error("Failed to initialize document service", "error", err)
		os.Exit(1)
	}

	history, closeHistory := chatHistory(ctx, cfg.RedisURL)
	defer closeHistory()

	conversationLogger, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	llm := assistant.NewOpenAIClient(assistant.LLMConfig{
		APIBase: cfg.LLM.APIBase,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	chatService := assistant.NewService(llm, aidService,
		assistant.WithHistory(history, cfg.ChatHistory),
		assistant.WithConversationLogger(conversationLogger),
		assistant.WithRecorder(metrics.RecordChat),
		assistant.WithLogger(logger),
	)
	if cfg.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY not set, chat requests may be rejected by the provider", "api_base", cfg.LLM.APIBase)
	}

	limiter := middleware.NewRateLimiter(cfg.ChatRatePerMin, cfg.ChatRateBurst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())
	codeLimiter := middleware.NewRateLimiter(verifyRatePerMin, verifyRateBurst)
	codeLimiter.StartCleanup(5*time.Minute, ctx.Done())

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg.IsDevelopment())
	meHandler := api.NewMeHandler(baseHandler, api.Features{
		ChatEnabled:    cfg.LLM.APIKey != "",
		EmailEnabled:   notifier.Enabled(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	aidHandler := api.NewAidHandler(baseHandler, aidService)
	formHandler := api.NewFormHandler(baseHandler, formService)
	profileHandler := api.NewProfileHandler(baseHandler)
	documentHandler := api.NewDocumentHandler(baseHandler, documentService, cfg.MaxUploadBytes)
	verificationHandler := api.NewVerificationHandler(baseHandler, verifier, codeLimiter.Handler)
	chatHandler := assistant.NewHandler(chatService, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))
	r.Use(metrics.InstrumentHandler)

	// Public routes.
	r.Handle("/metrics", metrics.Handler())

	// All API routes use identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		meHandler.RegisterRoutes(r)
		aidHandler.RegisterRoutes(r)
		formHandler.RegisterRoutes(r)
		profileHandler.RegisterRoutes(r)
		documentHandler.RegisterRoutes(r)
		verificationHandler.RegisterRoutes(r)
		chatHandler.Routes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// WebSocket chat connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start retention worker.
	worker, err := retention.NewWorker(repo, cfg.SessionRetention, cfg.RetentionSchedule,
		retention.WithRecorder(metrics.RecordRetention),
		retention.WithLogger(logger),
	)
	if err != nil {
		slog.Error("Failed to initialize retention worker", "error", err)
		os.Exit(1)
	}
	worker.Start(ctx)

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

	chatHandler.Connections().CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	worker.Stop()

	slog.Info("Server stopped successfully")
}

// openStore connects to the configured database. SQLite paths get the
// pragmas and directory setup of NewSQLite.
func openStore(cfg *config.Config) (*store.SQLStore, error) {
	if cfg.DatabaseDriver == store.DriverSQLite {
		return store.NewSQLite(cfg.DBPath)
	}
	return store.Open(cfg.DatabaseDriver, cfg.DSN())
}

// seedCatalog applies the embedded seed plus any files under seedDir.
func seedCatalog(ctx context.Context, repo store.SeedTarget, seedDir string, logger *slog.Logger) error {
	seed, err := store.DefaultSeed()
	if err != nil {
		return err
	}
	if err := store.ApplySeed(ctx, repo, seed, logger); err != nil {
		return err
	}
	if seedDir == "" {
		return nil
	}
	extra, err := store.LoadSeed(os.DirFS(seedDir))
	if err != nil {
		return err
	}
	slog.Info("Applying seed directory", "dir", seedDir)
	return store.ApplySeed(ctx, repo, extra, logger)
}

// chatHistory uses Redis when configured and falls back to process memory.
func chatHistory(ctx context.Context, redisURL string) (assistant.History, func()) {
	if redisURL == "" {
		slog.Info("Chat history kept in memory")
		return assistant.NewMemoryHistory(), func() {}
	}
	h, err := assistant.NewRedisHistory(ctx, redisURL, chatHistoryTTL)
	if err != nil {
		slog.Warn("Redis unavailable, chat history kept in memory", "error", err)
		return assistant.NewMemoryHistory(), func() {}
	}
	slog.Info("Chat history stored in Redis")
	return h, func() {
		if err := h.Close(); err != nil {
			slog.Error("Failed to close chat history", "error", err)
		}
	}
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	origins := []string{}
	for _, o := range strings.Split(frontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
