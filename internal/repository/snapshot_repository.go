package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/workhistory/history-migrator/internal/domain"
)

// SaveOutcome describes what SaveChain did.
type SaveOutcome string

const (
	SaveInserted  SaveOutcome = "INSERTED"
	SaveReplaced  SaveOutcome = "REPLACED"
	SaveUnchanged SaveOutcome = "UNCHANGED"
)

// SnapshotRepository persists whole snapshot chains.
type SnapshotRepository interface {
	// SaveChain writes every snapshot of the chain in one transaction or none.
	SaveChain(ctx context.Context, chain domain.Chain, fingerprint string, replace bool) (SaveOutcome, error)
	ListByItem(ctx context.Context, itemID string) ([]domain.Snapshot, error)
}

type snapshotRepository struct {
	pool DB
}

// NewSnapshotRepository builds repository.
func NewSnapshotRepository(pool DB) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

func (r *snapshotRepository) SaveChain(ctx context.Context, chain domain.Chain, fingerprint string, replace bool) (outcome SaveOutcome, err error) {
	if len(chain.Snapshots) == 0 {
		return "", errors.New("refusing to save empty chain")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialises concurrent writers of the same item across processes.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, chain.ItemID); err != nil {
		return "", fmt.Errorf("lock item: %w", err)
	}

	var existing string
	err = tx.QueryRow(ctx, `SELECT fingerprint FROM work_item_chains WHERE item_id=$1`, chain.ItemID).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		outcome = SaveInserted
	case err != nil:
		return "", fmt.Errorf("load chain header: %w", err)
	case existing == fingerprint:
		if err = tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
		return SaveUnchanged, nil
	case !replace:
		err = ErrChainConflict
		return "", err
	default:
		if _, err = tx.Exec(ctx, `DELETE FROM work_item_chains WHERE item_id=$1`, chain.ItemID); err != nil {
			return "", fmt.Errorf("delete previous chain: %w", err)
		}
		outcome = SaveReplaced
	}

	const headerQuery = `
        INSERT INTO work_item_chains (item_id, fingerprint, snapshot_count, seed_state)
        VALUES ($1,$2,$3,$4)`
	if _, err = tx.Exec(ctx, headerQuery, chain.ItemID, fingerprint, len(chain.Snapshots), chain.Seed); err != nil {
		return "", fmt.Errorf("insert chain header: %w", err)
	}

	const snapshotQuery = `
        INSERT INTO work_item_snapshots (id, item_id, sequence_number, state, diff, validity, author, note, event_kind, event_id)
        VALUES ($1,$2,$3,$4,$5,tstzrange($6,$7,'[)'),$8,$9,$10,$11)`
	batch := &pgx.Batch{}
	for _, snap := range chain.Snapshots {
		batch.Queue(snapshotQuery,
			uuid.NewString(),
			chain.ItemID,
			snap.SequenceNumber,
			snap.State,
			snap.Diff,
			snap.Validity.Start,
			snap.Validity.End,
			snap.Author,
			snap.Note,
			string(snap.EventKind),
			nullableString(snap.EventID),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, snap := range chain.Snapshots {
		if _, err = results.Exec(); err != nil {
			_ = results.Close()
			return "", fmt.Errorf("insert snapshot %d: %w", snap.SequenceNumber, err)
		}
	}
	if err = results.Close(); err != nil {
		return "", fmt.Errorf("close batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return outcome, nil
}

func (r *snapshotRepository) ListByItem(ctx context.Context, itemID string) ([]domain.Snapshot, error) {
	const query = `
        SELECT id, item_id, sequence_number, state, diff, lower(validity), upper(validity),
               author, note, event_kind, COALESCE(event_id, '')
        FROM work_item_snapshots WHERE item_id=$1 ORDER BY sequence_number ASC`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Snapshot
	for rows.Next() {
		var snap domain.Snapshot
		if err := rows.Scan(
			&snap.ID,
			&snap.ItemID,
			&snap.SequenceNumber,
			&snap.State,
			&snap.Diff,
			&snap.Validity.Start,
			&snap.Validity.End,
			&snap.Author,
			&snap.Note,
			&snap.EventKind,
			&snap.EventID,
		); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
