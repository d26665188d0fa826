package history

import (
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func comment(id string, ts time.Time, seq int) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:                id,
		Kind:              domain.EventKindComment,
		Author:            "alice",
		Note:              "note " + id,
		Sequence:          seq,
		Position:          seq,
		OriginalTimestamp: ts,
		Timestamp:         ts,
		RawTimestamp:      ts.Format(time.RFC3339Nano),
	}
}

func change(id string, ts time.Time, seq int, diffs map[string]domain.FieldDiff) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:                id,
		Kind:              domain.EventKindFieldChange,
		Author:            "bob",
		Diffs:             diffs,
		Sequence:          seq,
		Position:          seq,
		OriginalTimestamp: ts,
		Timestamp:         ts,
		RawTimestamp:      ts.Format(time.RFC3339Nano),
	}
}

func diff(attr string, old, new any) map[string]domain.FieldDiff {
	return map[string]domain.FieldDiff{attr: {Old: old, New: new}}
}

func mandatorySet(attrs ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		m[a] = struct{}{}
	}
	return m
}

func ids(events []domain.ChangeEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
