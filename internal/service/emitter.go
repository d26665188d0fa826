package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/history"
	"github.com/workhistory/history-migrator/internal/observability"
	"github.com/workhistory/history-migrator/internal/repository"
)

// EmissionError is a target store rejection of a whole chain.
type EmissionError struct {
	ItemID    string
	Transient bool
	Attempts  int
	Err       error
}

func (e *EmissionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("emit item=%s (%s, %d attempts): %v", e.ItemID, kind, e.Attempts, e.Err)
}

func (e *EmissionError) Unwrap() error {
	return e.Err
}

// EmitterConfig tunes whole-batch retries.
type EmitterConfig struct {
	ReplaceExisting bool
	MaxElapsed      time.Duration
	MaxAttempts     int
	// BackOff overrides the retry schedule; mainly for tests.
	BackOff func() backoff.BackOff
}

// EmitResult reports a successful emission.
type EmitResult struct {
	Outcome     repository.SaveOutcome
	Attempts    int
	Fingerprint string
}

// Emitter submits validated chains to the target store, one transaction per item.
type Emitter struct {
	store   repository.SnapshotRepository
	cfg     EmitterConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEmitter constructs the emitter.
func NewEmitter(store repository.SnapshotRepository, cfg EmitterConfig, logger *zap.Logger, metrics *observability.Metrics) *Emitter {
	if cfg.BackOff == nil {
		cfg.BackOff = defaultBackOff(cfg.MaxElapsed, cfg.MaxAttempts)
	}
	return &Emitter{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// DefaultRetryMaxElapsed bounds retries when neither an elapsed limit nor an
// attempt limit is configured.
const DefaultRetryMaxElapsed = time.Minute

func defaultBackOff(maxElapsed time.Duration, maxAttempts int) func() backoff.BackOff {
	if maxElapsed <= 0 && maxAttempts <= 0 {
		maxElapsed = DefaultRetryMaxElapsed
	}
	return func() backoff.BackOff {
		// BackOff implementations are stateful; always return a fresh instance.
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		bo.MaxElapsedTime = maxElapsed
		if maxAttempts > 0 {
			return backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
		}
		return bo
	}
}

// Emit writes the chain atomically. Transient store failures retry the
// whole chain; nothing is ever written snapshot by snapshot.
func (e *Emitter) Emit(ctx context.Context, itemID string, chain domain.Chain) (EmitResult, error) {
	if chain.ItemID != itemID {
		return EmitResult{}, &EmissionError{ItemID: itemID, Err: fmt.Errorf("chain belongs to item %q", chain.ItemID)}
	}
	if len(chain.Snapshots) == 0 {
		return EmitResult{}, &EmissionError{ItemID: itemID, Err: errors.New("empty chain")}
	}
	fingerprint, err := history.Fingerprint(chain)
	if err != nil {
		return EmitResult{}, &EmissionError{ItemID: itemID, Err: fmt.Errorf("fingerprint: %w", err)}
	}

	logger := observability.ItemLogger(e.logger, itemID)
	start := time.Now()
	var (
		attempts int
		outcome  repository.SaveOutcome
		lastErr  error
	)
	op := func() error {
		attempts++
		out, err := e.store.SaveChain(ctx, chain, fingerprint, e.cfg.ReplaceExisting)
		if err == nil {
			outcome = out
			return nil
		}
		lastErr = err
		if repository.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("transient emission failure, retrying chain",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err = backoff.RetryNotify(op, backoff.WithContext(e.cfg.BackOff(), ctx), notify)
	e.metrics.RecordEmit(attempts, time.Since(start))
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		emitErr := &EmissionError{
			ItemID:    itemID,
			Transient: repository.IsTransient(lastErr),
			Attempts:  attempts,
			Err:       lastErr,
		}
		logger.Error("chain rejected by target store",
			zap.Bool("transient", emitErr.Transient),
			zap.Int("attempts", attempts),
			zap.String("constraint", repository.ConstraintName(lastErr)),
			zap.Error(lastErr))
		return EmitResult{Attempts: attempts}, emitErr
	}

	logger.Info("chain emitted",
		zap.String("outcome", string(outcome)),
		zap.Int("snapshots", len(chain.Snapshots)),
		zap.Int("attempts", attempts))
	return EmitResult{Outcome: outcome, Attempts: attempts, Fingerprint: fingerprint}, nil
}
