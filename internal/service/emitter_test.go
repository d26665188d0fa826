package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/observability"
	"github.com/workhistory/history-migrator/internal/repository"
)

func testChain(itemID string) domain.Chain {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Chain{
		ItemID: itemID,
		Seed:   domain.Attributes{"status": "Open"},
		Snapshots: []domain.Snapshot{{
			ItemID:         itemID,
			SequenceNumber: 1,
			State:          domain.Attributes{"status": "Open"},
			Validity:       domain.Interval{Start: start},
			Author:         "alice",
			EventKind:      domain.EventKindComment,
		}},
	}
}

func newTestEmitter(store repository.SnapshotRepository, retries uint64, metrics *observability.Metrics) *Emitter {
	return NewEmitter(store, EmitterConfig{
		BackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries) },
	}, zap.NewNop(), metrics)
}

func TestEmitSucceedsFirstTry(t *testing.T) {
	store := newFakeSnapshotStore()
	res, err := newTestEmitter(store, 3, nil).Emit(context.Background(), "WP-1", testChain("WP-1"))
	require.NoError(t, err)
	assert.Equal(t, repository.SaveInserted, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Fingerprint)
	assert.Len(t, store.chains["WP-1"].Snapshots, 1)
}

func TestEmitRetriesWholeChainOnTransientError(t *testing.T) {
	metrics := observability.NewMetrics()
	store := newFakeSnapshotStore(&pgconn.PgError{Code: "40001"}, &pgconn.PgError{Code: "40P01"})
	res, err := newTestEmitter(store, 3, metrics).Emit(context.Background(), "WP-1", testChain("WP-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, int64(3), metrics.Snapshot().EmitAttempts)
}

func TestEmitStopsOnPermanentError(t *testing.T) {
	store := newFakeSnapshotStore(&pgconn.PgError{Code: "23P01", ConstraintName: "work_item_snapshots_validity_excl"})
	_, err := newTestEmitter(store, 3, nil).Emit(context.Background(), "WP-1", testChain("WP-1"))

	var emitErr *EmissionError
	require.ErrorAs(t, err, &emitErr)
	assert.False(t, emitErr.Transient)
	assert.Equal(t, 1, emitErr.Attempts)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, store.chains)

	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
}

func TestEmitReportsExhaustedTransientError(t *testing.T) {
	transient := &pgconn.PgError{Code: "40001"}
	store := newFakeSnapshotStore(transient, transient, transient)
	_, err := newTestEmitter(store, 2, nil).Emit(context.Background(), "WP-1", testChain("WP-1"))

	var emitErr *EmissionError
	require.ErrorAs(t, err, &emitErr)
	assert.True(t, emitErr.Transient)
	assert.Equal(t, 3, emitErr.Attempts)
}

func TestEmitChainConflictIsPermanent(t *testing.T) {
	store := newFakeSnapshotStore(repository.ErrChainConflict)
	_, err := newTestEmitter(store, 3, nil).Emit(context.Background(), "WP-1", testChain("WP-1"))
	assert.ErrorIs(t, err, repository.ErrChainConflict)
	assert.Equal(t, 1, store.calls)
}

func TestEmitRejectsForeignOrEmptyChain(t *testing.T) {
	store := newFakeSnapshotStore()
	emitter := newTestEmitter(store, 3, nil)

	_, err := emitter.Emit(context.Background(), "WP-2", testChain("WP-1"))
	assert.Error(t, err)
	_, err = emitter.Emit(context.Background(), "WP-1", domain.Chain{ItemID: "WP-1"})
	assert.Error(t, err)
	assert.Zero(t, store.calls)
}

func TestEmitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newFakeSnapshotStore(&pgconn.PgError{Code: "40001"})
	_, err := newTestEmitter(store, 5, nil).Emit(ctx, "WP-1", testChain("WP-1"))
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
	assert.False(t, errors.Is(err, repository.ErrChainConflict))
}

func TestDefaultBackOffIsAlwaysBounded(t *testing.T) {
	bo, ok := defaultBackOff(0, 0)().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultRetryMaxElapsed, bo.MaxElapsedTime)

	bo, ok = defaultBackOff(-5*time.Second, -1)().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultRetryMaxElapsed, bo.MaxElapsedTime)

	bo, ok = defaultBackOff(30*time.Second, 0)().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, bo.MaxElapsedTime)

	_, ok = defaultBackOff(0, 3)().(*backoff.ExponentialBackOff)
	assert.False(t, ok, "attempt limit wraps the exponential policy")
}
