package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/budget"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/logger"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/redis"
)

const shutdownTimeout = 30 * time.Second

var serveMigrate bool

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, log)
		},
	}
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the database schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting gateway", "port", cfg.Port, "env", cfg.Env)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	if serveMigrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema applied")
	}

	checks := map[string]handlers.Pinger{"database": db}

	// Redis is optional; without it the rate limiter is off.
	var limiter handlers.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		defer redisClient.Close()
		limiter = redisClient
		checks["redis"] = redisClient
		log.Info("connected to Redis", "rate_limit_per_minute", cfg.DefaultRateLimit)
	} else {
		log.Warn("REDIS_URL not set, rate limiting disabled")
	}

	client := providers.NewAnthropicClient(providers.AnthropicConfig{
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Version: cfg.AnthropicVersion,
		Timeout: cfg.UpstreamTimeout,
	})
	if !client.Configured() {
		log.Warn("ANTHROPIC_API_KEY not set, chat requests will fail")
	}
	adapter := providers.NewAdapter(providers.AdapterConfig{
		Client:             client,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   cfg.DefaultMaxTokens,
		Passthrough:        cfg.PassthroughStreaming,
	})

	authenticator := auth.New(auth.Config{
		Store:            db,
		Logger:           log,
		Salt:             cfg.KeySalt,
		ExternalPrefixes: cfg.ExternalKeyPrefixes,
	})
	enforcer := budget.New(budget.Config{
		Ledger:            db,
		Logger:            log,
		Enabled:           cfg.EnforceBudgets,
		DefaultLimitUSD:   cfg.DefaultMonthlyLimitUSD,
		DefaultTokenLimit: cfg.DefaultMonthlyTokenLimit,
	})
	recorder := usage.NewRecorder(db, log)

	chat := handlers.NewChatHandler(handlers.ChatHandlerConfig{
		Normalizer: normalize.New(normalize.Config{
			DefaultModel: cfg.DefaultModel,
			Resolver:     normalize.NewModelResolver(cfg.ModelAliases),
		}),
		Provider:     adapter,
		Recorder:     recorder,
		Logger:       log,
		StorePrompts: cfg.StorePrompts,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Chat:             chat,
		Middleware:       handlers.NewMiddleware(authenticator, enforcer, limiter, cfg.DefaultRateLimit, log),
		Logger:           log,
		AnthropicVersion: adapter.APIVersion(),
		MetricsEnabled:   cfg.MetricsEnabled,
		Checks:           checks,
	})

	// No write timeout: streamed responses may run for minutes.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			"addr", "http://localhost:"+cfg.Port,
			"routes", []string{"POST /v1/chat/completions", "POST /v1/messages", "POST /messages", "GET /health"},
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := recorder.Wait(shutdownCtx); err != nil {
		log.Warn("pending usage writes abandoned", "error", err)
	}

	log.Info("server stopped")
	return nil
}
