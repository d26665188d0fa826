package dto

import (
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
	"github.com/workhistory/history-migrator/internal/source"
)

// MigrationRequest is one item export, in the same shape as the batch files.
type MigrationRequest = source.Document

// RunResponse renders a migration run.
type RunResponse struct {
	ItemID         string           `json:"item_id"`
	RunID          string           `json:"run_id"`
	Status         string           `json:"status"`
	SnapshotCount  int              `json:"snapshot_count"`
	Fingerprint    string           `json:"fingerprint,omitempty"`
	Attempts       int              `json:"attempts"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	SequenceNumber *int             `json:"sequence_number,omitempty"`
	Warnings       []domain.Warning `json:"warnings"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// PreviewResponse renders a reconstructed chain that was not written.
type PreviewResponse struct {
	ItemID    string            `json:"item_id"`
	Seed      domain.Attributes `json:"seed"`
	Snapshots []domain.Snapshot `json:"snapshots"`
	Warnings  []domain.Warning  `json:"warnings"`
}

// NewRunResponse maps a run to its API form.
func NewRunResponse(run *domain.MigrationRun) RunResponse {
	warnings := run.Warnings
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	return RunResponse{
		ItemID:         run.ItemID,
		RunID:          run.RunID,
		Status:         string(run.Status),
		SnapshotCount:  run.SnapshotCount,
		Fingerprint:    run.Fingerprint,
		Attempts:       run.Attempts,
		ErrorKind:      run.ErrorKind,
		ErrorMessage:   run.ErrorMessage,
		SequenceNumber: run.SequenceNumber,
		Warnings:       warnings,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

// NewPreviewResponse maps a chain to its API form.
func NewPreviewResponse(chain domain.Chain) PreviewResponse {
	warnings := chain.Warnings
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	return PreviewResponse{
		ItemID:    chain.ItemID,
		Seed:      chain.Seed,
		Snapshots: chain.Snapshots,
		Warnings:  warnings,
	}
}
