package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/workhistory/history-migrator/internal/domain"
)

// RunFilter captures run listing parameters.
type RunFilter struct {
	Statuses []domain.RunStatus
	Limit    int
	Offset   int
}

// MigrationRunRepository stores per-item migration outcomes.
type MigrationRunRepository interface {
	Upsert(ctx context.Context, run *domain.MigrationRun) error
	GetByItem(ctx context.Context, itemID string) (*domain.MigrationRun, error)
	List(ctx context.Context, filter RunFilter) ([]domain.MigrationRun, error)
}

type migrationRunRepository struct {
	pool DB
}

// NewMigrationRunRepository builds repository.
func NewMigrationRunRepository(pool DB) MigrationRunRepository {
	return &migrationRunRepository{pool: pool}
}

const runColumns = `item_id, run_id, status, snapshot_count, COALESCE(fingerprint, ''), warnings,
               COALESCE(error_kind, ''), COALESCE(error_message, ''), sequence_number, attempts, started_at, finished_at`

func (r *migrationRunRepository) Upsert(ctx context.Context, run *domain.MigrationRun) error {
	const query = `
        INSERT INTO migration_runs (item_id, run_id, status, snapshot_count, fingerprint, warnings,
            error_kind, error_message, sequence_number, attempts, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (item_id) DO UPDATE SET
            run_id=EXCLUDED.run_id, status=EXCLUDED.status, snapshot_count=EXCLUDED.snapshot_count,
            fingerprint=EXCLUDED.fingerprint, warnings=EXCLUDED.warnings, error_kind=EXCLUDED.error_kind,
            error_message=EXCLUDED.error_message, sequence_number=EXCLUDED.sequence_number,
            attempts=EXCLUDED.attempts, started_at=EXCLUDED.started_at, finished_at=EXCLUDED.finished_at,
            updated_at=NOW()`
	warnings := run.Warnings
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	_, err := r.pool.Exec(ctx, query,
		run.ItemID,
		run.RunID,
		run.Status,
		run.SnapshotCount,
		nullableString(run.Fingerprint),
		warnings,
		nullableString(run.ErrorKind),
		nullableString(run.ErrorMessage),
		run.SequenceNumber,
		run.Attempts,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

func (r *migrationRunRepository) GetByItem(ctx context.Context, itemID string) (*domain.MigrationRun, error) {
	query := `SELECT ` + runColumns + ` FROM migration_runs WHERE item_id=$1`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &runs[0], nil
}

func (r *migrationRunRepository) List(ctx context.Context, filter RunFilter) ([]domain.MigrationRun, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM migration_runs WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		runColumns, strings.Join(clauses, " AND "), limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows pgx.Rows) ([]domain.MigrationRun, error) {
	var result []domain.MigrationRun
	for rows.Next() {
		var run domain.MigrationRun
		if err := rows.Scan(
			&run.ItemID,
			&run.RunID,
			&run.Status,
			&run.SnapshotCount,
			&run.Fingerprint,
			&run.Warnings,
			&run.ErrorKind,
			&run.ErrorMessage,
			&run.SequenceNumber,
			&run.Attempts,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}
