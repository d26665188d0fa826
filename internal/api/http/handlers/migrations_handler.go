package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/workhistory/history-migrator/internal/api/dto"
	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/history"
	"github.com/workhistory/history-migrator/internal/repository"
	"github.com/workhistory/history-migrator/internal/service"
	apperrors "github.com/workhistory/history-migrator/pkg/util"
)

// Migrator is the migration surface the API drives.
type Migrator interface {
	MigrateItem(ctx context.Context, raw domain.RawHistory) (*domain.MigrationRun, error)
	Preview(raw domain.RawHistory) (domain.Chain, error)
	GetRun(ctx context.Context, itemID string) (*domain.MigrationRun, error)
	ListRuns(ctx context.Context, filter repository.RunFilter) ([]domain.MigrationRun, error)
	ListSnapshots(ctx context.Context, itemID string) ([]domain.Snapshot, error)
}

// MigrationsHandler manages operator migration endpoints.
type MigrationsHandler struct {
	service     Migrator
	itemTimeout time.Duration
}

// NewMigrationsHandler constructs handler. A positive itemTimeout bounds each
// synchronous migration the same way batch runs bound each item.
func NewMigrationsHandler(migrator Migrator, itemTimeout time.Duration) *MigrationsHandler {
	return &MigrationsHandler{service: migrator, itemTimeout: itemTimeout}
}

// Create POST /api/v1/migrations.
func (h *MigrationsHandler) Create(c *fiber.Ctx) error {
	raw, err := parseExport(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	if h.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.itemTimeout)
		defer cancel()
	}
	run, err := h.service.MigrateItem(ctx, raw)
	if err != nil {
		return migrationError(err, run)
	}
	status := fiber.StatusCreated
	if run.Status == domain.RunStatusUnchanged {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// Preview POST /api/v1/migrations/preview.
func (h *MigrationsHandler) Preview(c *fiber.Ctx) error {
	raw, err := parseExport(c)
	if err != nil {
		return err
	}
	chain, err := h.service.Preview(raw)
	if err != nil {
		return migrationError(err, nil)
	}
	return c.JSON(fiber.Map{"data": dto.NewPreviewResponse(chain)})
}

// Get GET /api/v1/migrations/:itemID.
func (h *MigrationsHandler) Get(c *fiber.Ctx) error {
	itemID := c.Params("itemID")
	run, err := h.service.GetRun(c.UserContext(), itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("migration run", map[string]any{"item_id": itemID})
		}
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// List GET /api/v1/migrations.
func (h *MigrationsHandler) List(c *fiber.Ctx) error {
	filter, err := parseRunFilter(c)
	if err != nil {
		return err
	}
	runs, err := h.service.ListRuns(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.RunResponse, 0, len(runs))
	for i := range runs {
		items = append(items, dto.NewRunResponse(&runs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Snapshots GET /api/v1/migrations/:itemID/snapshots.
func (h *MigrationsHandler) Snapshots(c *fiber.Ctx) error {
	itemID := c.Params("itemID")
	snapshots, err := h.service.ListSnapshots(c.UserContext(), itemID)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return apperrors.NewNotFound("snapshot chain", map[string]any{"item_id": itemID})
	}
	return c.JSON(fiber.Map{"data": snapshots})
}

func parseExport(c *fiber.Ctx) (domain.RawHistory, error) {
	var req dto.MigrationRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.RawHistory{}, apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.ItemID) == "" {
		return domain.RawHistory{}, apperrors.NewValidationError("item_id required", nil)
	}
	return req.ToRaw(), nil
}

func parseRunFilter(c *fiber.Ctx) (repository.RunFilter, error) {
	var filter repository.RunFilter
	for _, s := range strings.Split(c.Query("status"), ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		switch domain.RunStatus(s) {
		case "":
		case domain.RunStatusRunning, domain.RunStatusSucceeded, domain.RunStatusUnchanged, domain.RunStatusFailed:
			filter.Statuses = append(filter.Statuses, domain.RunStatus(s))
		default:
			return filter, apperrors.NewValidationError("unknown status", map[string]any{"status": s})
		}
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit", 50); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError("invalid "+key, nil)
	}
	return v, nil
}

// migrationError maps item failures to API errors.
func migrationError(err error, run *domain.MigrationRun) error {
	details := map[string]any{}
	if run != nil {
		details["item_id"] = run.ItemID
		details["run_id"] = run.RunID
	}

	var rerr *history.ReconstructionError
	var emitErr *service.EmissionError
	switch {
	case errors.As(err, &rerr):
		details["item_id"] = rerr.ItemID
		if rerr.SequenceNumber > 0 {
			details["sequence_number"] = rerr.SequenceNumber
		}
		if rerr.Violation != "" {
			details["violation"] = string(rerr.Violation)
		}
		if rerr.EventID != "" {
			details["event_id"] = rerr.EventID
		}
		if rerr.Timestamp != "" {
			details["timestamp"] = rerr.Timestamp
		}
		if rerr.Attribute != "" {
			details["attribute"] = rerr.Attribute
		}
		if len(rerr.DiffKeys) > 0 {
			details["diff_keys"] = rerr.DiffKeys
		}
		return apperrors.NewUnprocessable(string(rerr.Kind), err.Error(), details)
	case errors.Is(err, repository.ErrItemLeased):
		return apperrors.NewConflict("item is being migrated by another worker", details)
	case errors.Is(err, repository.ErrChainConflict):
		return apperrors.NewConflict("a different chain is already stored for this item", details)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewDomainError(service.ErrorKindTimeout, "item migration timed out", fiber.StatusGatewayTimeout, details)
	case errors.As(err, &emitErr):
		if emitErr.Transient {
			return apperrors.NewServiceUnavailable("target store unavailable", err)
		}
		if constraint := repository.ConstraintName(emitErr.Err); constraint != "" {
			details["constraint"] = constraint
		}
		details["attempts"] = emitErr.Attempts
		return &apperrors.DomainError{
			Code:       service.ErrorKindEmission,
			Message:    "target store rejected the chain",
			HTTPStatus: fiber.StatusBadGateway,
			Details:    details,
			Err:        err,
		}
	default:
		return err
	}
}
