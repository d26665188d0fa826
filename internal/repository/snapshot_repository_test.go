package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workhistory/history-migrator/internal/domain"
)

var (
	lockSQL     = regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)
	headerSQL   = regexp.QuoteMeta(`SELECT fingerprint FROM work_item_chains WHERE item_id=$1`)
	deleteSQL   = regexp.QuoteMeta(`DELETE FROM work_item_chains WHERE item_id=$1`)
	insertHead  = regexp.QuoteMeta(`INSERT INTO work_item_chains`)
	insertSnaps = regexp.QuoteMeta(`INSERT INTO work_item_snapshots`)
)

func twoSnapshotChain() domain.Chain {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	return domain.Chain{
		ItemID: "WP-1",
		Seed:   domain.Attributes{"status": "Open"},
		Snapshots: []domain.Snapshot{
			{ItemID: "WP-1", SequenceNumber: 1, State: domain.Attributes{"status": "Open"},
				Validity: domain.Interval{Start: start, End: &end}, Author: "alice", EventKind: domain.EventKindComment, EventID: "m1"},
			{ItemID: "WP-1", SequenceNumber: 2, State: domain.Attributes{"status": "Closed"},
				Diff:     map[string]domain.FieldDiff{"status": {Old: "Open", New: "Closed"}},
				Validity: domain.Interval{Start: end}, Author: "bob", EventKind: domain.EventKindFieldChange, EventID: "h1"},
		},
	}
}

func newMockRepository(t *testing.T) (pgxmock.PgxPoolIface, SnapshotRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewSnapshotRepository(mock)
}

func expectLockedHeader(mock pgxmock.PgxPoolIface, existing string) {
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(lockSQL).WithArgs("WP-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	q := mock.ExpectQuery(headerSQL).WithArgs("WP-1")
	if existing == "" {
		q.WillReturnError(pgx.ErrNoRows)
		return
	}
	q.WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}).AddRow(existing))
}

func expectChainInsert(mock pgxmock.PgxPoolIface, fingerprint string, failSecond error) {
	mock.ExpectExec(insertHead).
		WithArgs("WP-1", fingerprint, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch := mock.ExpectBatch()
	batch.ExpectExec(insertSnaps).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	second := batch.ExpectExec(insertSnaps)
	if failSecond != nil {
		second.WillReturnError(failSecond)
		return
	}
	second.WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestSaveChainInsertsNewChain(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "")
	expectChainInsert(mock, "fp-1", nil)
	mock.ExpectCommit()

	outcome, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-1", false)
	require.NoError(t, err)
	assert.Equal(t, SaveInserted, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChainIdenticalFingerprintWritesNothing(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "fp-1")
	mock.ExpectCommit()

	outcome, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-1", false)
	require.NoError(t, err)
	assert.Equal(t, SaveUnchanged, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChainRejectsDifferentChainWithoutReplace(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "fp-old")
	mock.ExpectRollback()

	outcome, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-new", false)
	assert.ErrorIs(t, err, ErrChainConflict)
	assert.Empty(t, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChainReplacesInOneTransaction(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "fp-old")
	mock.ExpectExec(deleteSQL).WithArgs("WP-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectChainInsert(mock, "fp-new", nil)
	mock.ExpectCommit()

	outcome, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-new", true)
	require.NoError(t, err)
	assert.Equal(t, SaveReplaced, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChainRollsBackWhenLaterSnapshotFails(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "")
	overlap := &pgconn.PgError{Code: "23P01", ConstraintName: "work_item_snapshots_validity_excl"}
	expectChainInsert(mock, "fp-1", overlap)
	mock.ExpectRollback()

	outcome, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-1", false)
	require.Error(t, err)
	assert.Empty(t, outcome)
	assert.Contains(t, err.Error(), "insert snapshot 2")

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "23P01", pgErr.Code)
	assert.False(t, IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "header insert must be rolled back, never committed")
}

func TestSaveChainRollsBackWhenHeaderInsertFails(t *testing.T) {
	mock, repo := newMockRepository(t)
	expectLockedHeader(mock, "")
	mock.ExpectExec(insertHead).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	_, err := repo.SaveChain(context.Background(), twoSnapshotChain(), "fp-1", false)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChainRefusesEmptyChain(t *testing.T) {
	mock, repo := newMockRepository(t)

	_, err := repo.SaveChain(context.Background(), domain.Chain{ItemID: "WP-1"}, "fp", false)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
