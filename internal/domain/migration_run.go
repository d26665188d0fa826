package domain

import "time"

// RunStatus tracks the lifecycle of one item's migration.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusUnchanged RunStatus = "UNCHANGED"
	RunStatusFailed    RunStatus = "FAILED"
)

// WarningCode classifies non-fatal findings recorded during a migration.
type WarningCode string

const (
	WarningEventDiscarded       WarningCode = "EVENT_DISCARDED"
	WarningAuthorFallback       WarningCode = "AUTHOR_FALLBACK"
	WarningMissingOldValue      WarningCode = "MISSING_OLD_VALUE"
	WarningMissingNewValue      WarningCode = "MISSING_NEW_VALUE"
	WarningInconsistentNewValue WarningCode = "INCONSISTENT_NEW_VALUE"
)

// Warning is a diagnostic record; nothing is dropped without one.
type Warning struct {
	Code      WarningCode `json:"code"`
	EventID   string      `json:"event_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
	DiffKeys  []string    `json:"diff_keys,omitempty"`
	Message   string      `json:"message"`
}

// MigrationRun is the persisted outcome of migrating one work item.
type MigrationRun struct {
	ItemID         string
	RunID          string
	Status         RunStatus
	SnapshotCount  int
	Fingerprint    string
	Warnings       []Warning
	ErrorKind      string
	ErrorMessage   string
	SequenceNumber *int
	Attempts       int
	StartedAt      time.Time
	FinishedAt     *time.Time
}
