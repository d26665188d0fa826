package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

// kindRank orders field changes ahead of comments at an identical instant.
func kindRank(kind domain.EventKind) int {
	if kind == domain.EventKindFieldChange {
		return 0
	}
	return 1
}

func eventLess(a, b domain.ChangeEvent) bool {
	if !a.OriginalTimestamp.Equal(b.OriginalTimestamp) {
		return a.OriginalTimestamp.Before(b.OriginalTimestamp)
	}
	if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
		return ra < rb
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.Position < b.Position
}

// Order sorts events into a strict total order and separates events sharing
// an instant. The k-th follower in a colliding group (1-based) is moved to
// head + k*epsilon; the group must still end before the next distinct
// original timestamp or the item fails with collision exhaustion.
// The input slice is not modified.
func Order(events []domain.ChangeEvent, epsilon time.Duration) ([]domain.ChangeEvent, error) {
	if epsilon <= 0 {
		epsilon = Epsilon
	}
	sorted := make([]domain.ChangeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return eventLess(sorted[i], sorted[j]) })

	for i := range sorted {
		sorted[i].Timestamp = sorted[i].OriginalTimestamp
	}

	for head := 0; head < len(sorted); {
		base := sorted[head].OriginalTimestamp
		end := head + 1
		for end < len(sorted) && sorted[end].OriginalTimestamp.Equal(base) {
			end++
		}
		size := end - head
		if size > 1 {
			last := base.Add(time.Duration(size-1) * epsilon)
			if end < len(sorted) && !last.Before(sorted[end].OriginalTimestamp) {
				return nil, &ReconstructionError{
					Kind:      KindCollisionExhaustion,
					EventID:   sorted[head].ID,
					Timestamp: sorted[head].RawTimestamp,
					Message: fmt.Sprintf("%d events at %s cannot be separated before next event at %s",
						size, base.Format(time.RFC3339Nano), sorted[end].OriginalTimestamp.Format(time.RFC3339Nano)),
				}
			}
			for k := 1; k < size; k++ {
				sorted[head+k].Timestamp = base.Add(time.Duration(k) * epsilon)
			}
		}
		head = end
	}
	return sorted, nil
}
