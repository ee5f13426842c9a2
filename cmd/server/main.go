package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/config"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/db"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/handler"
	authmw "github.com/jharjadi/pro-rag/answer-api-go/internal/middleware"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Database is optional: without it there are no sessions and no token exchange.
	var (
		pool     *pgxpool.Pool
		sessions handler.SessionStore
		clients  handler.ClientLookup
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := db.StartupChecks(ctx, pool); err != nil {
			slog.Error("startup checks failed", "error", err)
			os.Exit(1)
		}

		// Mark sessions left streaming by a previous crash as failed
		if err := db.RunCrashGuard(ctx, pool, cfg.CrashGuardStreamStaleMin); err != nil {
			slog.Error("crash guard failed", "error", err)
			// Non-fatal, continue startup
		}

		sessions = db.NewSessionStore(pool)
		clients = db.NewClientStore(pool)
	} else {
		slog.Info("DATABASE_URL not set, sessions and token exchange disabled")
	}

	// Initialize services
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiryHours)
	llmSvc, err := service.NewLLMService(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	answerSvc := service.NewAnswerService(llmSvc, service.AnswerOptions{
		DisableRetrieval:         cfg.DisableVAS,
		StreamRetrieval:          cfg.EnableVASStream,
		DefaultSystemInstruction: cfg.DefaultSystemIns,
		RetryAttempts:            cfg.LLMRetryAttempts,
		RetryBaseDelay:           cfg.RetryBaseDelay(),
	})

	// Initialize handlers
	authHandler := handler.NewAuthHandler(clients, authSvc)
	answerHandler := handler.NewAnswerHandler(answerSvc, sessions)

	// Build router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"unhealthy","error":%q}`, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","llm_provider":%q,"llm_model":%q}`, llmSvc.Provider(), llmSvc.Model())
	})

	r.Handle("/metrics", promhttp.Handler())

	// Auth endpoints (no auth required, these issue tokens)
	r.Post("/v1/auth/token", authHandler.Token)

	// Protected endpoints: JWT when AUTH_ENABLED=true, X-Client-ID when false
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(authSvc, cfg.AuthEnabled))

		r.Post("/v1/answer", answerHandler.Answer)
		r.Post("/v1/answer/stream", answerHandler.Stream)
		r.Post("/v1/answer/citations", answerHandler.Citations)
		r.Post("/v1/align", answerHandler.Align)

		// Admin-only endpoints (require admin role)
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole("admin"))
			r.Get("/v1/sessions/{id}", answerHandler.GetSession)
		})
	})

	slog.Info("llm configuration",
		"provider", llmSvc.Provider(),
		"model", llmSvc.Model(),
		"retrieval_available", llmSvc.RetrievalAvailable(),
		"retrieval_disabled", cfg.DisableVAS,
		"stream_retrieval", cfg.EnableVASStream,
		"rate_limit_rps", cfg.LLMRateLimitRPS,
	)
	slog.Info("auth configuration",
		"auth_enabled", cfg.AuthEnabled,
		"jwt_expiry_hours", cfg.JWTExpiryHours,
	)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Graceful shutdown
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutting down server...")

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(cancelCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
