package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/history"
	"github.com/workhistory/history-migrator/internal/repository"
	"github.com/workhistory/history-migrator/internal/service"
	apperrors "github.com/workhistory/history-migrator/pkg/util"
)

type fakeMigrator struct {
	run       *domain.MigrationRun
	err       error
	chain     domain.Chain
	snapshots []domain.Snapshot
	filter    repository.RunFilter
	got       domain.RawHistory
	deadline  time.Time
	bounded   bool
}

func (f *fakeMigrator) MigrateItem(ctx context.Context, raw domain.RawHistory) (*domain.MigrationRun, error) {
	f.got = raw
	f.deadline, f.bounded = ctx.Deadline()
	return f.run, f.err
}

func (f *fakeMigrator) Preview(raw domain.RawHistory) (domain.Chain, error) {
	f.got = raw
	return f.chain, f.err
}

func (f *fakeMigrator) GetRun(_ context.Context, itemID string) (*domain.MigrationRun, error) {
	if f.run == nil || f.run.ItemID != itemID {
		return nil, pgx.ErrNoRows
	}
	return f.run, nil
}

func (f *fakeMigrator) ListRuns(_ context.Context, filter repository.RunFilter) ([]domain.MigrationRun, error) {
	f.filter = filter
	if f.run == nil {
		return nil, nil
	}
	return []domain.MigrationRun{*f.run}, nil
}

func (f *fakeMigrator) ListSnapshots(context.Context, string) ([]domain.Snapshot, error) {
	return f.snapshots, nil
}

type fakePinger struct {
	err     error
	enabled bool
}

func (p fakePinger) Ping(context.Context) error { return p.err }
func (p fakePinger) Enabled() bool              { return p.enabled }

func newTestApp(m Migrator) *fiber.App {
	return newTestAppWithTimeout(m, 0)
}

func newTestAppWithTimeout(m Migrator, itemTimeout time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"error": fiber.Map{"code": de.Code, "details": de.Details}})
	}})
	h := NewMigrationsHandler(m, itemTimeout)
	app.Post("/migrations", h.Create)
	app.Post("/migrations/preview", h.Preview)
	app.Get("/migrations", h.List)
	app.Get("/migrations/:itemID", h.Get)
	app.Get("/migrations/:itemID/snapshots", h.Snapshots)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

const exportBody = `{"item_id":"WP-7","final_state":{"status":"Open"},
"comments":[{"id":"c1","created":"2024-03-01T10:00:00Z","author":"alice","body":"hi"}]}`

func TestCreateMigration(t *testing.T) {
	m := &fakeMigrator{run: &domain.MigrationRun{ItemID: "WP-7", RunID: "r1", Status: domain.RunStatusSucceeded, SnapshotCount: 1}}
	status, body := doJSON(t, newTestApp(m), fiber.MethodPost, "/migrations", exportBody)

	assert.Equal(t, fiber.StatusCreated, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", data["status"])
	assert.Equal(t, "WP-7", m.got.ItemID)
	require.Len(t, m.got.Comments, 1)
	assert.Equal(t, "alice", m.got.Comments[0].Author)
}

func TestCreateMigrationBoundsItemTime(t *testing.T) {
	m := &fakeMigrator{run: &domain.MigrationRun{ItemID: "WP-7", Status: domain.RunStatusSucceeded}}
	before := time.Now()
	status, _ := doJSON(t, newTestAppWithTimeout(m, 2*time.Minute), fiber.MethodPost, "/migrations", exportBody)

	assert.Equal(t, fiber.StatusCreated, status)
	require.True(t, m.bounded)
	assert.WithinDuration(t, before.Add(2*time.Minute), m.deadline, 10*time.Second)
}

func TestCreateMigrationReportsTimeout(t *testing.T) {
	m := &fakeMigrator{
		run: &domain.MigrationRun{ItemID: "WP-7", RunID: "r1", Status: domain.RunStatusFailed, ErrorKind: service.ErrorKindTimeout},
		err: context.DeadlineExceeded,
	}
	status, body := doJSON(t, newTestAppWithTimeout(m, time.Second), fiber.MethodPost, "/migrations", exportBody)

	assert.Equal(t, fiber.StatusGatewayTimeout, status)
	assert.Equal(t, "TIMEOUT", body["error"].(map[string]any)["code"])
}

func TestCreateMigrationRequiresItemID(t *testing.T) {
	status, body := doJSON(t, newTestApp(&fakeMigrator{}), fiber.MethodPost, "/migrations", `{"final_state":{}}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["error"].(map[string]any)["code"])
}

func TestCreateMigrationMapsReconstructionError(t *testing.T) {
	m := &fakeMigrator{
		run: &domain.MigrationRun{ItemID: "WP-7", RunID: "r1", Status: domain.RunStatusFailed},
		err: &history.ReconstructionError{
			Kind:           history.KindChainInvariant,
			ItemID:         "WP-7",
			SequenceNumber: 4,
			Violation:      history.ViolationGap,
		},
	}
	status, body := doJSON(t, newTestApp(m), fiber.MethodPost, "/migrations", exportBody)

	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "CHAIN_INVARIANT_VIOLATION", errBody["code"])
	details := errBody["details"].(map[string]any)
	assert.Equal(t, float64(4), details["sequence_number"])
	assert.Equal(t, "gap", details["violation"])
	assert.Equal(t, "r1", details["run_id"])
}

func TestMigrationErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"leased", repository.ErrItemLeased, fiber.StatusConflict, "CONFLICT"},
		{"chain conflict", &service.EmissionError{Err: repository.ErrChainConflict}, fiber.StatusConflict, "CONFLICT"},
		{"transient", &service.EmissionError{Transient: true, Err: &pgconn.PgError{Code: "40001"}}, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"rejected", &service.EmissionError{Err: &pgconn.PgError{Code: "23P01", ConstraintName: "work_item_snapshots_validity_excl"}}, fiber.StatusBadGateway, service.ErrorKindEmission},
		{"timeout", &service.EmissionError{Err: fmt.Errorf("commit: %w", context.DeadlineExceeded)}, fiber.StatusGatewayTimeout, service.ErrorKindTimeout},
		{"internal", errors.New("boom"), fiber.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := apperrors.ToDomainError(migrationError(tc.err, nil))
			assert.Equal(t, tc.status, de.HTTPStatus)
			assert.Equal(t, tc.code, de.Code)
		})
	}
}

func TestPreviewReturnsChain(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &fakeMigrator{chain: domain.Chain{
		ItemID: "WP-7",
		Seed:   domain.Attributes{"status": "Open"},
		Snapshots: []domain.Snapshot{{
			ItemID: "WP-7", SequenceNumber: 1, State: domain.Attributes{"status": "Open"},
			Validity: domain.Interval{Start: start}, Author: "alice", EventKind: domain.EventKindComment,
		}},
	}}
	status, body := doJSON(t, newTestApp(m), fiber.MethodPost, "/migrations/preview", exportBody)

	assert.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	snaps := data["snapshots"].([]any)
	require.Len(t, snaps, 1)
	validity := snaps[0].(map[string]any)["validity"].(map[string]any)
	assert.Nil(t, validity["end"])
	assert.Empty(t, data["warnings"])
}

func TestGetRunAndSnapshotsNotFound(t *testing.T) {
	app := newTestApp(&fakeMigrator{})

	status, _ := doJSON(t, app, fiber.MethodGet, "/migrations/WP-404", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = doJSON(t, app, fiber.MethodGet, "/migrations/WP-404/snapshots", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestListRunsParsesFilter(t *testing.T) {
	m := &fakeMigrator{run: &domain.MigrationRun{ItemID: "WP-7", Status: domain.RunStatusFailed}}
	app := newTestApp(m)

	status, body := doJSON(t, app, fiber.MethodGet, "/migrations?status=failed,unchanged&limit=10", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, []domain.RunStatus{domain.RunStatusFailed, domain.RunStatusUnchanged}, m.filter.Statuses)
	assert.Equal(t, 10, m.filter.Limit)

	status, _ = doJSON(t, app, fiber.MethodGet, "/migrations?status=bogus", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doJSON(t, app, fiber.MethodGet, "/migrations?limit=-1", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestReadyReportsDisabledRedis(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler("history-migrator", "test", fakePinger{enabled: true}, fakePinger{enabled: false, err: errors.New("not configured")})
	app.Get("/ready", h.Ready)

	status, body := doJSON(t, app, fiber.MethodGet, "/ready", "")
	assert.Equal(t, fiber.StatusOK, status)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "disabled", deps["redis"])
	assert.Equal(t, "ok", deps["postgres"])
}

func TestReadyFailsWhenPostgresDown(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler("history-migrator", "test", fakePinger{err: errors.New("conn refused")}, fakePinger{enabled: true})
	app.Get("/ready", h.Ready)

	status, _ := doJSON(t, app, fiber.MethodGet, "/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}
