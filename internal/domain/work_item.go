package domain

import (
	"reflect"
	"sort"
	"time"
)

// Attributes is a complete attribute set of a work item keyed by attribute name.
type Attributes map[string]any

// Clone returns a shallow copy; attribute values are treated as immutable.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets hold the same values, treating an absent
// attribute and a null attribute as equal.
func (a Attributes) Equal(other Attributes) bool {
	for k, v := range a {
		if !ValuesEqual(v, other[k]) {
			return false
		}
	}
	for k, v := range other {
		if _, ok := a[k]; !ok && v != nil {
			return false
		}
	}
	return true
}

// ValuesEqual compares two attribute values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// SortedKeys returns the keys of a string-keyed map in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WorkItemHistory is the normalized aggregate for one item.
type WorkItemHistory struct {
	ItemID     string
	CreatedAt  *time.Time
	FinalState Attributes
	Events     []ChangeEvent
	// Excluded lists field changes dropped as malformed.
	Excluded []ExcludedChange
}

// ExcludedChange is a malformed field change left out of the timeline.
type ExcludedChange struct {
	EventID      string
	RawTimestamp string
	DiffKeys     []string
}

// RawComment is a comment record as exported by the source system.
type RawComment struct {
	ID       string
	Sequence *int
	Created  string
	Author   string
	Body     string
}

// RawFieldChange is one attribute edit inside a source change record.
// HasFrom and HasTo are set when the export carried the key, even as null.
type RawFieldChange struct {
	Field   string
	From    any
	To      any
	HasFrom bool
	HasTo   bool
}

// RawChange is a field-change record as exported by the source system.
type RawChange struct {
	ID       string
	Sequence *int
	Created  string
	Author   string
	Items    []RawFieldChange
}

// RawHistory is the source export for one work item prior to normalization.
type RawHistory struct {
	ItemID     string
	CreatedAt  string
	FinalState Attributes
	Comments   []RawComment
	Changes    []RawChange
}
