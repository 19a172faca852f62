// Package budget enforces monthly cost and token limits per principal.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// Ledger is the aggregate query the enforcer runs against recorded usage.
type Ledger interface {
	Sum(ctx context.Context, principalID string, w models.Window, f models.UsageField) (float64, error)
}

// Config contains configuration for the enforcer.
type Config struct {
	Ledger Ledger
	Logger *slog.Logger
	// Enabled turns enforcement on; when false Check always permits.
	Enabled bool
	// DefaultLimitUSD applies when a principal has no override.
	DefaultLimitUSD float64
	// DefaultTokenLimit applies when a principal has no override. 0 = unlimited.
	DefaultTokenLimit int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Enforcer decides whether a principal may spend more this month.
// Limits are soft: nothing is reserved, so concurrent requests near the
// limit may all pass.
type Enforcer struct {
	ledger            Ledger
	logger            *slog.Logger
	enabled           bool
	defaultLimitUSD   float64
	defaultTokenLimit int64
	now               func() time.Time
}

// New creates an enforcer.
func New(cfg Config) *Enforcer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Enforcer{
		ledger:            cfg.Ledger,
		logger:            cfg.Logger,
		enabled:           cfg.Enabled,
		defaultLimitUSD:   cfg.DefaultLimitUSD,
		defaultTokenLimit: cfg.DefaultTokenLimit,
		now:               now,
	}
}

// MonthWindow returns the UTC calendar month containing t as [start, nextStart).
func MonthWindow(t time.Time) models.Window {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return models.Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// Exceeded reports whether spent has reached a positive limit.
func Exceeded(spent, limit float64) bool {
	return limit > 0 && spent >= limit
}

// Limits returns the effective cost and token limits for p.
func (e *Enforcer) Limits(p *models.Principal) (costUSD float64, tokens int64) {
	costUSD = e.defaultLimitUSD
	if p.MonthlyLimitUSD > 0 {
		costUSD = p.MonthlyLimitUSD
	}
	tokens = e.defaultTokenLimit
	if p.MonthlyTokenLimit > 0 {
		tokens = p.MonthlyTokenLimit
	}
	return costUSD, tokens
}

// Check returns nil when p may proceed.
func (e *Enforcer) Check(ctx context.Context, p *models.Principal) *apierr.Error {
	if !e.enabled {
		return nil
	}

	costLimit, tokenLimit := e.Limits(p)
	window := MonthWindow(e.now())

	if costLimit > 0 {
		spent, err := e.ledger.Sum(ctx, p.ID, window, models.FieldCostUSD)
		if err != nil {
			e.logger.Error("failed to sum monthly cost", "error", err, "key_id", p.ID)
			return apierr.Internal("budget lookup failed")
		}
		if Exceeded(spent, costLimit) {
			metrics.BudgetRejectionsTotal.WithLabelValues("cost").Inc()
			msg := fmt.Sprintf("Monthly budget exceeded (%.2f / %.2f USD)", spent, costLimit)
			return apierr.QuotaExceeded(msg, spent, costLimit)
		}
	}

	if tokenLimit > 0 {
		used, err := e.ledger.Sum(ctx, p.ID, window, models.FieldTotalTokens)
		if err != nil {
			e.logger.Error("failed to sum monthly tokens", "error", err, "key_id", p.ID)
			return apierr.Internal("budget lookup failed")
		}
		if Exceeded(used, float64(tokenLimit)) {
			metrics.BudgetRejectionsTotal.WithLabelValues("tokens").Inc()
			msg := fmt.Sprintf("Monthly token limit exceeded (%d / %d tokens)", int64(used), tokenLimit)
			return apierr.QuotaExceeded(msg, used, float64(tokenLimit))
		}
	}

	return nil
}
