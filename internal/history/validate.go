package history

import (
	"fmt"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Validate re-checks the structural invariants of a completed chain. A
// failure here means the engine itself is wrong; callers abort the item.
func Validate(chain domain.Chain, final domain.Attributes, mandatory map[string]struct{}) error {
	snaps := chain.Snapshots
	if len(snaps) == 0 {
		return violation(chain.ItemID, 0, ViolationEmptyChain, "", "chain has no snapshots")
	}

	state := chain.Seed.Clone()
	for i, snap := range snaps {
		seq := i + 1
		if snap.SequenceNumber != seq {
			return violation(chain.ItemID, snap.SequenceNumber, ViolationSequence, "",
				fmt.Sprintf("expected sequence number %d", seq))
		}

		last := i == len(snaps)-1
		switch {
		case last && snap.Validity.End != nil:
			return violation(chain.ItemID, seq, ViolationGap, "", "terminal snapshot is not open-ended")
		case !last && snap.Validity.End == nil:
			return violation(chain.ItemID, seq, ViolationOverlap, "", "non-terminal snapshot is open-ended")
		case !last && !snap.Validity.Start.Before(*snap.Validity.End):
			return violation(chain.ItemID, seq, ViolationEmptyInterval, "",
				fmt.Sprintf("interval [%s, %s) is empty", snap.Validity.Start, *snap.Validity.End))
		}
		if !last {
			next := snaps[i+1].Validity.Start
			switch {
			case snap.Validity.End.After(next):
				return violation(chain.ItemID, seq, ViolationOverlap, "",
					fmt.Sprintf("interval ends at %s after next start %s", *snap.Validity.End, next))
			case snap.Validity.End.Before(next):
				return violation(chain.ItemID, seq, ViolationGap, "",
					fmt.Sprintf("interval ends at %s before next start %s", *snap.Validity.End, next))
			}
		}

		for _, attr := range domain.SortedKeys(mandatory) {
			if snap.State[attr] == nil {
				return violation(chain.ItemID, seq, ViolationMissingMandatory, attr, "mandatory attribute is null")
			}
		}

		state = state.Clone()
		applyNew(state, snap.Diff)
		if !state.Equal(snap.State) {
			return violation(chain.ItemID, seq, ViolationStateMismatch, "", "state differs from seed with diffs applied")
		}
	}

	if !state.Equal(final) {
		return violation(chain.ItemID, len(snaps), ViolationStateMismatchEnd, "", "replayed state differs from final state")
	}
	return nil
}

func violation(itemID string, seq int, v Violation, attr, msg string) error {
	return &ReconstructionError{
		Kind:           KindChainInvariant,
		ItemID:         itemID,
		SequenceNumber: seq,
		Violation:      v,
		Attribute:      attr,
		Message:        msg,
	}
}
