package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Error kinds recorded by the pool itself.
const (
	ErrorKindSource  = "SOURCE_ERROR"
	ErrorKindTimeout = "TIMEOUT"
)

// ItemMigrator migrates or previews a single item.
type ItemMigrator interface {
	MigrateItem(ctx context.Context, raw domain.RawHistory) (*domain.MigrationRun, error)
	PreviewItem(ctx context.Context, raw domain.RawHistory) (*domain.MigrationRun, error)
}

// Source enumerates and loads item exports.
type Source interface {
	Paths(ctx context.Context) ([]string, error)
	Load(ctx context.Context, path string) (domain.RawHistory, error)
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Workers     int
	ItemTimeout time.Duration
	DryRun      bool
}

// Failure describes one item that did not migrate.
type Failure struct {
	Path           string `json:"path"`
	ItemID         string `json:"item_id,omitempty"`
	ErrorKind      string `json:"error_kind"`
	SequenceNumber *int   `json:"sequence_number,omitempty"`
	Message        string `json:"message"`
}

// Summary aggregates a batch.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Total is the number of items processed.
func (s Summary) Total() int {
	return s.Succeeded + s.Unchanged + s.Failed
}

// Pool migrates items concurrently. Items are independent: a failing item
// never cancels its siblings.
type Pool struct {
	migrator ItemMigrator
	cfg      PoolConfig
	logger   *zap.Logger
}

// NewPool constructs a pool.
func NewPool(migrator ItemMigrator, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{migrator: migrator, cfg: cfg, logger: logger}
}

type itemResult struct {
	run     *domain.MigrationRun
	failure *Failure
}

// Run processes every export the source lists. The returned error is
// non-nil only when the batch itself could not run (listing failed or ctx
// was cancelled); per-item failures are reported in the summary.
func (p *Pool) Run(ctx context.Context, src Source) (Summary, error) {
	paths, err := src.Paths(ctx)
	if err != nil {
		return Summary{}, err
	}
	p.logger.Info("migration batch started",
		zap.Int("items", len(paths)),
		zap.Int("workers", p.cfg.Workers),
		zap.Bool("dry_run", p.cfg.DryRun))

	results := make([]itemResult, len(paths))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			results[i] = p.processItem(ctx, src, path)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(results)
	p.logger.Info("migration batch finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Failed))
	return summary, ctx.Err()
}

func (p *Pool) processItem(ctx context.Context, src Source, path string) itemResult {
	itemCtx := ctx
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	raw, err := src.Load(itemCtx, path)
	if err != nil {
		p.logger.Error("failed to load export", zap.String("path", path), zap.Error(err))
		return itemResult{failure: &Failure{
			Path:      path,
			ItemID:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			ErrorKind: ErrorKindSource,
			Message:   err.Error(),
		}}
	}

	migrate := p.migrator.MigrateItem
	if p.cfg.DryRun {
		migrate = p.migrator.PreviewItem
	}
	run, err := migrate(itemCtx, raw)
	if err == nil {
		return itemResult{run: run}
	}

	failure := &Failure{Path: path, ItemID: raw.ItemID, Message: err.Error()}
	if run != nil {
		failure.ItemID = run.ItemID
		failure.ErrorKind = run.ErrorKind
		failure.SequenceNumber = run.SequenceNumber
	}
	if errors.Is(err, context.DeadlineExceeded) && failure.ErrorKind == "" {
		failure.ErrorKind = ErrorKindTimeout
	}
	return itemResult{run: run, failure: failure}
}

func summarize(results []itemResult) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case r.failure != nil:
			s.Failed++
			s.Failures = append(s.Failures, *r.failure)
		case r.run == nil:
			// never scheduled
		case r.run.Status == domain.RunStatusUnchanged:
			s.Unchanged++
		default:
			s.Succeeded++
		}
	}
	return s
}
