package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig contains everything the HTTP surface needs.
type RouterConfig struct {
	Chat             *ChatHandler
	Middleware       *Middleware
	Logger           *slog.Logger
	AnthropicVersion string
	MetricsEnabled   bool
	// Checks are pinged by /ready, keyed by name.
	Checks map[string]Pinger
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

type descriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Endpoints   []endpoint `json:"endpoints"`
}

var serviceDescriptor = descriptor{
	Name:        "LLM0 Claude Gateway",
	Description: "Unified API gateway for Claude with OpenAI and Anthropic compatible endpoints.",
	Endpoints: []endpoint{
		{Method: http.MethodGet, Path: "/health", Description: "Health check"},
		{Method: http.MethodGet, Path: "/ready", Description: "Readiness check"},
		{Method: http.MethodPost, Path: "/v1/chat/completions", Description: "Chat completions (OpenAI-compatible)"},
		{Method: http.MethodPost, Path: "/v1/messages", Description: "Messages (Anthropic-compatible)"},
		{Method: http.MethodPost, Path: "/messages", Description: "Messages alias for Anthropic clients"},
	},
}

// NewRouter builds the gateway's HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(SecureHeaders)
	r.Use(CORSMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, serviceDescriptor)
	})

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ready", readyHandler(cfg.Checks, cfg.Logger))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	m := cfg.Middleware

	// OpenAI-compatible routes
	r.Group(func(r chi.Router) {
		r.Use(WithDialect(models.DialectOpenAI))
		r.Use(BodyLimit(MaxBodyBytes))
		r.Use(m.AuthMiddleware)
		r.Use(m.RateLimitMiddleware)
		r.Use(m.BudgetMiddleware)

		r.Post("/v1/chat/completions", cfg.Chat.HandleChatCompletion)
	})

	// Anthropic-compatible routes
	r.Group(func(r chi.Router) {
		r.Use(WithDialect(models.DialectAnthropic))
		r.Use(AnthropicVersionMiddleware(cfg.AnthropicVersion))
		r.Use(BodyLimit(MaxBodyBytes))
		r.Use(m.AuthMiddleware)
		r.Use(m.RateLimitMiddleware)
		r.Use(m.BudgetMiddleware)

		r.Post("/v1/messages", cfg.Chat.HandleMessages)
		r.Post("/messages", cfg.Chat.HandleMessages)
	})

	return r
}

func readyHandler(checks map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		code := http.StatusOK
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", "check", name, "error", err)
				status[name] = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	}
}
