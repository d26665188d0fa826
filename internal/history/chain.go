package history

import (
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

// BuildChain folds the ordered events forward from the seed state, producing
// one snapshot per event. Snapshot i holds the state in effect from event i
// until the next event; the last snapshot is open-ended.
func BuildChain(itemID string, seed domain.Attributes, events []domain.ChangeEvent, diffs []map[string]domain.FieldDiff) []domain.Snapshot {
	snapshots := make([]domain.Snapshot, 0, len(events))
	state := seed.Clone()

	for i, ev := range events {
		state = state.Clone()
		var diff map[string]domain.FieldDiff
		if ev.Kind == domain.EventKindFieldChange && i < len(diffs) {
			diff = diffs[i]
			applyNew(state, diff)
		}
		if i > 0 {
			end := ev.Timestamp
			snapshots[i-1].Validity.End = &end
		}
		snapshots = append(snapshots, domain.Snapshot{
			ItemID:         itemID,
			SequenceNumber: i + 1,
			State:          state,
			Diff:           diff,
			Validity:       domain.Interval{Start: ev.Timestamp},
			Author:         ev.Author,
			Note:           ev.Note,
			EventKind:      ev.Kind,
			EventID:        ev.ID,
		})
	}
	return snapshots
}

// initialSnapshot is used for items without any event: the final state is
// valid from creation on.
func initialSnapshot(itemID string, final domain.Attributes, createdAt time.Time, author string) domain.Snapshot {
	return domain.Snapshot{
		ItemID:         itemID,
		SequenceNumber: 1,
		State:          final.Clone(),
		Validity:       domain.Interval{Start: createdAt},
		Author:         author,
		EventKind:      domain.EventKindFieldChange,
	}
}

func applyNew(state domain.Attributes, diff map[string]domain.FieldDiff) {
	for attr, d := range diff {
		state[attr] = d.New
	}
}
