package domain

import "time"

// EventKind differentiates comments from field edits.
type EventKind string

const (
	EventKindFieldChange EventKind = "FIELD_CHANGE"
	EventKindComment     EventKind = "COMMENT"
)

// FieldDiff is the before/after pair of one attribute in a field change.
// HasOld and HasNew mark an explicitly recorded side, so a recorded null can
// be told apart from an absent value. A non-nil side always counts as recorded.
type FieldDiff struct {
	Old    any  `json:"old"`
	New    any  `json:"new"`
	HasOld bool `json:"-"`
	HasNew bool `json:"-"`
}

// OldRecorded reports whether the source supplied the previous value.
func (d FieldDiff) OldRecorded() bool {
	return d.HasOld || d.Old != nil
}

// NewRecorded reports whether the source supplied the resulting value.
func (d FieldDiff) NewRecorded() bool {
	return d.HasNew || d.New != nil
}

// ChangeEvent is one normalized happening in a work item's history.
type ChangeEvent struct {
	ID       string
	Kind     EventKind
	Author   string
	Note     string
	Diffs    map[string]FieldDiff
	Sequence int
	Position int
	// OriginalTimestamp is the source timestamp at target precision.
	OriginalTimestamp time.Time
	// Timestamp is the collision-resolved instant; equal to OriginalTimestamp
	// until the merger separates colliding events.
	Timestamp time.Time
	// RawTimestamp is kept verbatim for diagnostics.
	RawTimestamp string
}

// DiffKeys returns the attribute names touched by the event in sorted order.
func (e ChangeEvent) DiffKeys() []string {
	return SortedKeys(e.Diffs)
}
