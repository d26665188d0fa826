package history

import (
	"fmt"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Backward is the result of undoing every field change from the final state.
type Backward struct {
	// Seed is the state before the first event.
	Seed domain.Attributes
	// Diffs holds the effective diff of each event, aligned with the ordered
	// events; comments have a nil entry.
	Diffs []map[string]domain.FieldDiff
}

// ReconstructBackward walks the ordered events in reverse starting from the
// final state, overwriting each changed attribute with its old value.
//
// The recorded new value of a diff is reconciled to the value the final state
// implies at that point. An absent old value inherits the current value for
// any attribute; a recorded null is kept unless the attribute is mandatory.
// Each adjustment produces a warning. Attributes never touched by any diff
// keep their final value throughout. Effective diffs carry resolved values
// and leave the presence flags unset.
func ReconstructBackward(events []domain.ChangeEvent, final domain.Attributes, mandatory map[string]struct{}) (Backward, []domain.Warning) {
	working := final.Clone()
	diffs := make([]map[string]domain.FieldDiff, len(events))
	var warnings []domain.Warning

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Kind != domain.EventKindFieldChange {
			continue
		}
		effective := make(map[string]domain.FieldDiff, len(ev.Diffs))
		for _, attr := range ev.DiffKeys() {
			recorded := ev.Diffs[attr]
			current := working[attr]
			_, required := mandatory[attr]

			switch {
			case !recorded.NewRecorded() && current != nil:
				warnings = append(warnings, diffWarning(domain.WarningMissingNewValue, ev, attr,
					fmt.Sprintf("new value absent, using %v implied by later state", current)))
			case recorded.NewRecorded() && !domain.ValuesEqual(recorded.New, current):
				warnings = append(warnings, diffWarning(domain.WarningInconsistentNewValue, ev, attr,
					fmt.Sprintf("recorded new value %v disagrees with %v implied by later state", recorded.New, current)))
			}

			old := recorded.Old
			switch {
			case !recorded.OldRecorded():
				old = current
				warnings = append(warnings, diffWarning(domain.WarningMissingOldValue, ev, attr,
					"old value absent, inheriting later value"))
			case old == nil && required:
				old = current
				warnings = append(warnings, diffWarning(domain.WarningMissingOldValue, ev, attr,
					"old value null for mandatory attribute, inheriting later value"))
			}

			effective[attr] = domain.FieldDiff{Old: old, New: current}
			working[attr] = old
		}
		diffs[i] = effective
	}
	return Backward{Seed: working, Diffs: diffs}, warnings
}

func diffWarning(code domain.WarningCode, ev domain.ChangeEvent, attr, msg string) domain.Warning {
	return domain.Warning{
		Code:      code,
		EventID:   ev.ID,
		Timestamp: ev.RawTimestamp,
		Attribute: attr,
		Message:   msg,
	}
}
