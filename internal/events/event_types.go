package events

import (
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventItemMigrated   EventType = "item_migrated"
	EventItemFailed     EventType = "item_failed"
	EventEventDiscarded EventType = "event_discarded"
)

// Event represents a migration event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	ItemID    string      `json:"item_id"`
	RunID     string      `json:"run_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ItemMigratedPayload payload.
type ItemMigratedPayload struct {
	Status        domain.RunStatus `json:"status"`
	SnapshotCount int              `json:"snapshot_count"`
	Attempts      int              `json:"attempts"`
	Warnings      int              `json:"warnings"`
}

// ItemFailedPayload payload.
type ItemFailedPayload struct {
	ErrorKind      string `json:"error_kind"`
	Message        string `json:"message"`
	SequenceNumber *int   `json:"sequence_number,omitempty"`
}

// EventDiscardedPayload payload.
type EventDiscardedPayload struct {
	Warning domain.Warning `json:"warning"`
}
