package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/logger"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

type fakeLedger struct {
	mu        sync.Mutex
	records   []*models.UsageRecord
	endUsers  []*models.EndUserRequest
	insertErr error
	block     chan struct{}
}

func (l *fakeLedger) Insert(ctx context.Context, rec *models.UsageRecord) error {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeLedger) InsertEndUserRequest(_ context.Context, req *models.EndUserRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endUsers = append(l.endUsers, req)
	return nil
}

func TestRecorder_SystemPrincipalSkipsEndUserLog(t *testing.T) {
	l := &fakeLedger{}
	r := NewRecorder(l, logger.Discard())

	r.Record(
		&models.UsageRecord{ID: "1", PrincipalID: "sys", PrincipalKind: models.KindSystem},
		&models.EndUserRequest{PrincipalID: "sys", Status: "success"},
	)
	require.NoError(t, r.Wait(context.Background()))

	assert.Len(t, l.records, 1)
	assert.Empty(t, l.endUsers)
}

func TestRecorder_EndUserPrincipal(t *testing.T) {
	l := &fakeLedger{}
	r := NewRecorder(l, logger.Discard())

	r.Record(
		&models.UsageRecord{ID: "1", PrincipalID: "usr", PrincipalKind: models.KindEndUser},
		&models.EndUserRequest{PrincipalID: "usr", Status: "success", CostUSD: 0.01},
	)
	require.NoError(t, r.Wait(context.Background()))

	require.Len(t, l.records, 1)
	require.Len(t, l.endUsers, 1)
	assert.Equal(t, "success", l.endUsers[0].Status)
}

func TestRecorder_InsertFailureIsSwallowed(t *testing.T) {
	l := &fakeLedger{insertErr: errors.New("disk full")}
	r := NewRecorder(l, logger.Discard())

	r.Record(&models.UsageRecord{ID: "1", PrincipalKind: models.KindEndUser}, &models.EndUserRequest{})
	require.NoError(t, r.Wait(context.Background()))

	assert.Empty(t, l.records)
	// the end-user log is independent of the primary insert
	assert.Len(t, l.endUsers, 1)
}

func TestRecorder_RecordDoesNotBlock(t *testing.T) {
	l := &fakeLedger{block: make(chan struct{})}
	r := NewRecorder(l, logger.Discard())

	start := time.Now()
	r.Record(&models.UsageRecord{ID: "1", PrincipalKind: models.KindSystem}, nil)
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(l.block)
	require.NoError(t, r.Wait(context.Background()))
	assert.Len(t, l.records, 1)
}
