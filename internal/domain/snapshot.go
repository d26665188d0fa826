package domain

import "time"

// Interval is a half-open validity range [Start, End). A nil End is +infinity.
type Interval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end"`
}

// IsOpen reports whether the interval extends to +infinity.
func (i Interval) IsOpen() bool {
	return i.End == nil
}

// Snapshot is one immutable historical record of a work item.
type Snapshot struct {
	ID             string               `json:"id,omitempty"`
	ItemID         string               `json:"item_id"`
	SequenceNumber int                  `json:"sequence_number"`
	State          Attributes           `json:"state"`
	Diff           map[string]FieldDiff `json:"diff,omitempty"`
	Validity       Interval             `json:"validity"`
	Author         string               `json:"author"`
	Note           string               `json:"note"`
	EventKind      EventKind            `json:"event_kind"`
	EventID        string               `json:"event_id,omitempty"`
}

// Chain is the complete reconstructed history for one work item.
type Chain struct {
	ItemID    string
	Seed      Attributes
	Snapshots []Snapshot
	Warnings  []Warning
}

// Last returns the terminal snapshot, or nil for an empty chain.
func (c Chain) Last() *Snapshot {
	if len(c.Snapshots) == 0 {
		return nil
	}
	return &c.Snapshots[len(c.Snapshots)-1]
}
