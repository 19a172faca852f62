package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// MaxBodyBytes caps inbound request bodies.
const MaxBodyBytes int64 = 2 << 20

// Authenticator resolves request headers to a caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, h http.Header) (*auth.Identity, *apierr.Error)
}

// BudgetChecker decides whether a principal may spend more this month.
type BudgetChecker interface {
	Check(ctx context.Context, p *models.Principal) *apierr.Error
}

// RateLimiter counts requests per principal per minute.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, principalID string, limit int) (bool, int, error)
}

type dialectKey struct{}

// WithDialect tags requests so middleware errors use the route's envelope.
func WithDialect(d models.Dialect) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), dialectKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DialectFrom returns the dialect set by WithDialect, defaulting to OpenAI.
func DialectFrom(ctx context.Context) models.Dialect {
	if d, ok := ctx.Value(dialectKey{}).(models.Dialect); ok {
		return d
	}
	return models.DialectOpenAI
}

// Middleware holds the collaborators of the per-request checks.
type Middleware struct {
	auth      Authenticator
	budget    BudgetChecker
	limiter   RateLimiter
	rateLimit int
	logger    *slog.Logger
}

// NewMiddleware creates the middleware set. limiter may be nil, which
// disables rate limiting.
func NewMiddleware(a Authenticator, b BudgetChecker, limiter RateLimiter, rateLimit int, logger *slog.Logger) *Middleware {
	return &Middleware{
		auth:      a,
		budget:    b,
		limiter:   limiter,
		rateLimit: rateLimit,
		logger:    logger,
	}
}

// AuthMiddleware resolves the caller and stores its identity in the context.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.auth.Authenticate(r.Context(), r.Header)
		if err != nil {
			apierr.Write(w, DialectFrom(r.Context()), err)
			return
		}
		m.logger.Debug("request authenticated", "key_id", id.Principal.ID, "kind", id.Kind, "mapped", id.Mapped)
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// RateLimitMiddleware enforces the per-minute request limit. Redis errors
// let the request through.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if m.limiter == nil || m.rateLimit <= 0 || id == nil {
			next.ServeHTTP(w, r)
			return
		}

		exceeded, remaining, err := m.limiter.CheckRateLimit(r.Context(), id.Principal.ID, m.rateLimit)
		if err != nil {
			m.logger.Warn("rate limit check failed", "error", err, "key_id", id.Principal.ID)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.rateLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if exceeded {
			metrics.RateLimitRejectedTotal.Inc()
			w.Header().Set("Retry-After", "60")
			apierr.Write(w, DialectFrom(r.Context()), apierr.RateLimited(m.rateLimit))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BudgetMiddleware rejects principals over their monthly limits.
func (m *Middleware) BudgetMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := m.budget.Check(r.Context(), id.Principal); err != nil {
			apierr.Write(w, DialectFrom(r.Context()), err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps the request body at limit bytes.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// AnthropicVersionMiddleware echoes the upstream API version.
func AnthropicVersionMiddleware(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("anthropic-version", version)
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-version, anthropic-beta")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SecureHeaders sets conservative browser security headers.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// RequestLogger writes one structured line per request and records the
// request metrics.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)

				endpoint := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						endpoint = pattern
					}
				}
				metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
				metrics.RequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", elapsed.Milliseconds(),
					"request_id", chimiddleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
