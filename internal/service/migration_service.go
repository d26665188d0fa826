package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/events"
	"github.com/workhistory/history-migrator/internal/history"
	"github.com/workhistory/history-migrator/internal/observability"
	"github.com/workhistory/history-migrator/internal/repository"
)

// Error kinds recorded on runs for failures outside reconstruction.
const (
	ErrorKindEmission  = "EMISSION_ERROR"
	ErrorKindItemLease = "ITEM_LEASED"
	ErrorKindTimeout   = "TIMEOUT"
	ErrorKindInternal  = "INTERNAL_ERROR"
)

const releaseTimeout = 5 * time.Second

// MigrationService coordinates reconstruction and emission for single items.
type MigrationService struct {
	engine     *history.Engine
	emitter    *Emitter
	runs       repository.MigrationRunRepository
	snapshots  repository.SnapshotRepository
	locker     repository.ItemLocker
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	leaseTTL   time.Duration
	now        func() time.Time
}

// MigrationDependencies bundles collaborators for the migration service.
type MigrationDependencies struct {
	Engine     *history.Engine
	Emitter    *Emitter
	RunRepo    repository.MigrationRunRepository
	Snapshots  repository.SnapshotRepository
	Locker     repository.ItemLocker
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	LeaseTTL   time.Duration
}

// NewMigrationService constructs the service.
func NewMigrationService(deps MigrationDependencies) *MigrationService {
	locker := deps.Locker
	if locker == nil {
		locker = repository.NewItemLocker(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationService{
		engine:     deps.Engine,
		emitter:    deps.Emitter,
		runs:       deps.RunRepo,
		snapshots:  deps.Snapshots,
		locker:     locker,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		leaseTTL:   deps.LeaseTTL,
		now:        time.Now,
	}
}

// Preview reconstructs and validates the chain without writing anything.
// The returned chain carries normalization and reconstruction warnings.
func (s *MigrationService) Preview(raw domain.RawHistory) (domain.Chain, error) {
	h, warnings, err := s.engine.Normalize(raw)
	if err != nil {
		return domain.Chain{Warnings: warnings}, err
	}
	chain, err := s.engine.Reconstruct(h)
	if err != nil {
		return domain.Chain{ItemID: h.ItemID, Warnings: warnings}, err
	}
	chain.Warnings = append(warnings, chain.Warnings...)
	return chain, nil
}

// PreviewItem is the dry-run counterpart of MigrateItem.
func (s *MigrationService) PreviewItem(_ context.Context, raw domain.RawHistory) (*domain.MigrationRun, error) {
	run := s.newRun(raw.ItemID)
	chain, err := s.Preview(raw)
	run.Warnings = chain.Warnings
	if err != nil {
		s.markFailed(run, err)
		return run, err
	}
	run.Status = domain.RunStatusSucceeded
	run.SnapshotCount = len(chain.Snapshots)
	run.Fingerprint, _ = history.Fingerprint(chain)
	finished := s.now()
	run.FinishedAt = &finished
	return run, nil
}

// MigrateItem runs the whole pipeline for one item. All failures are scoped
// to this item and recorded on its run.
func (s *MigrationService) MigrateItem(ctx context.Context, raw domain.RawHistory) (*domain.MigrationRun, error) {
	run := s.newRun(raw.ItemID)
	logger := observability.RunLogger(s.logger, run.ItemID, run.RunID)

	chain, err := s.Preview(raw)
	run.Warnings = chain.Warnings
	s.reportWarnings(ctx, logger, run, chain.Warnings)
	if err != nil {
		return s.fail(ctx, logger, run, err)
	}

	release, err := s.locker.Acquire(ctx, run.ItemID, s.leaseTTL)
	if err != nil {
		return s.fail(ctx, logger, run, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Warn("failed to release item lease", zap.Error(err))
		}
	}()

	result, err := s.emitter.Emit(ctx, run.ItemID, chain)
	run.Attempts = result.Attempts
	if err != nil {
		return s.fail(ctx, logger, run, err)
	}

	run.Status = domain.RunStatusSucceeded
	if result.Outcome == repository.SaveUnchanged {
		run.Status = domain.RunStatusUnchanged
	}
	run.SnapshotCount = len(chain.Snapshots)
	run.Fingerprint = result.Fingerprint
	finished := s.now()
	run.FinishedAt = &finished

	s.metrics.RecordItem(string(run.Status), run.SnapshotCount, len(run.Warnings))
	if err := s.record(ctx, run); err != nil {
		logger.Error("chain emitted but run record failed", zap.Error(err))
		return run, err
	}
	s.publish(ctx, logger, events.Event{
		Type:   events.EventItemMigrated,
		ItemID: run.ItemID,
		RunID:  run.RunID,
		Payload: events.ItemMigratedPayload{
			Status:        run.Status,
			SnapshotCount: run.SnapshotCount,
			Attempts:      run.Attempts,
			Warnings:      len(run.Warnings),
		},
	})
	logger.Info("item migrated",
		zap.String("status", string(run.Status)),
		zap.Int("snapshots", run.SnapshotCount),
		zap.Int("warnings", len(run.Warnings)))
	return run, nil
}

// GetRun returns the recorded outcome for an item.
func (s *MigrationService) GetRun(ctx context.Context, itemID string) (*domain.MigrationRun, error) {
	if s.runs == nil {
		return nil, errors.New("run store not configured")
	}
	return s.runs.GetByItem(ctx, itemID)
}

// ListRuns returns recorded outcomes.
func (s *MigrationService) ListRuns(ctx context.Context, filter repository.RunFilter) ([]domain.MigrationRun, error) {
	if s.runs == nil {
		return nil, errors.New("run store not configured")
	}
	return s.runs.List(ctx, filter)
}

// ListSnapshots returns the stored chain of an item.
func (s *MigrationService) ListSnapshots(ctx context.Context, itemID string) ([]domain.Snapshot, error) {
	if s.snapshots == nil {
		return nil, errors.New("snapshot store not configured")
	}
	return s.snapshots.ListByItem(ctx, itemID)
}

func (s *MigrationService) newRun(itemID string) *domain.MigrationRun {
	return &domain.MigrationRun{
		ItemID:    strings.TrimSpace(itemID),
		RunID:     uuid.NewString(),
		Status:    domain.RunStatusRunning,
		StartedAt: s.now(),
	}
}

func (s *MigrationService) fail(ctx context.Context, logger *zap.Logger, run *domain.MigrationRun, cause error) (*domain.MigrationRun, error) {
	s.markFailed(run, cause)
	logger.Error("item migration failed",
		zap.String("error_kind", run.ErrorKind),
		zap.Intp("sequence_number", run.SequenceNumber),
		zap.Error(cause))
	s.metrics.RecordItem(string(run.Status), 0, len(run.Warnings))

	if run.ItemID != "" {
		if err := s.record(ctx, run); err != nil {
			logger.Error("failed to record failed run", zap.Error(err))
		}
	}
	s.publish(ctx, logger, events.Event{
		Type:   events.EventItemFailed,
		ItemID: run.ItemID,
		RunID:  run.RunID,
		Payload: events.ItemFailedPayload{
			ErrorKind:      run.ErrorKind,
			Message:        run.ErrorMessage,
			SequenceNumber: run.SequenceNumber,
		},
	})
	return run, cause
}

func (s *MigrationService) markFailed(run *domain.MigrationRun, cause error) {
	run.Status = domain.RunStatusFailed
	run.ErrorKind = ErrorKindOf(cause)
	run.ErrorMessage = cause.Error()
	var rerr *history.ReconstructionError
	if errors.As(cause, &rerr) && rerr.SequenceNumber > 0 {
		seq := rerr.SequenceNumber
		run.SequenceNumber = &seq
	}
	finished := s.now()
	run.FinishedAt = &finished
}

// ErrorKindOf classifies an item failure for run records and API responses.
func ErrorKindOf(err error) string {
	var rerr *history.ReconstructionError
	var emitErr *EmissionError
	switch {
	case errors.As(err, &rerr):
		return string(rerr.Kind)
	case errors.Is(err, repository.ErrItemLeased):
		return ErrorKindItemLease
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.As(err, &emitErr):
		return ErrorKindEmission
	default:
		return ErrorKindInternal
	}
}

func (s *MigrationService) reportWarnings(ctx context.Context, logger *zap.Logger, run *domain.MigrationRun, warnings []domain.Warning) {
	for _, w := range warnings {
		logger.Warn("migration warning",
			zap.String("code", string(w.Code)),
			zap.String("event_id", w.EventID),
			zap.String("timestamp", w.Timestamp),
			zap.String("attribute", w.Attribute),
			zap.Strings("diff_keys", w.DiffKeys),
			zap.String("detail", w.Message))
		if w.Code != domain.WarningEventDiscarded {
			continue
		}
		s.publish(ctx, logger, events.Event{
			Type:    events.EventEventDiscarded,
			ItemID:  run.ItemID,
			RunID:   run.RunID,
			Payload: events.EventDiscardedPayload{Warning: w},
		})
	}
}

func (s *MigrationService) record(ctx context.Context, run *domain.MigrationRun) error {
	if s.runs == nil {
		return nil
	}
	// Outcome must be recorded even when the item's own context was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return s.runs.Upsert(recordCtx, run)
}

func (s *MigrationService) publish(ctx context.Context, logger *zap.Logger, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = s.now()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
