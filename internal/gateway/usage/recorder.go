// Package usage persists accounting records off the response path.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

const writeTimeout = 5 * time.Second

// Ledger is the write side of the usage ledger.
type Ledger interface {
	Insert(ctx context.Context, rec *models.UsageRecord) error
	InsertEndUserRequest(ctx context.Context, req *models.EndUserRequest) error
}

// Recorder writes usage in detached goroutines. Failures are logged and
// counted, never returned to the caller.
type Recorder struct {
	ledger Ledger
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder.
func NewRecorder(ledger Ledger, logger *slog.Logger) *Recorder {
	return &Recorder{ledger: ledger, logger: logger}
}

// Record schedules rec for insertion. endUser, when non-nil, is written to
// the end-user request log afterwards and only for end-user principals.
func (r *Recorder) Record(rec *models.UsageRecord, endUser *models.EndUserRequest) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.ledger.Insert(ctx, rec); err != nil {
			metrics.UsageWriteFailuresTotal.WithLabelValues("requests").Inc()
			r.logger.Warn("failed to record usage",
				"error", err,
				"key_id", rec.PrincipalID,
				"model", rec.ProviderModel,
				"total_tokens", rec.TotalTokens,
			)
		}

		if endUser == nil || rec.PrincipalKind != models.KindEndUser {
			return
		}
		if err := r.ledger.InsertEndUserRequest(ctx, endUser); err != nil {
			metrics.UsageWriteFailuresTotal.WithLabelValues("user_requests").Inc()
			r.logger.Warn("failed to record end-user request", "error", err, "key_id", endUser.PrincipalID)
		}
	}()
}

// Wait blocks until pending writes finish or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
