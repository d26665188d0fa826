package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Epsilon is the smallest instant the target store distinguishes
// (timestamptz has microsecond resolution).
const Epsilon = time.Microsecond

// offsetLayouts are the offset-aware timestamp forms accepted from the source.
// Fractional seconds are accepted by time.Parse even when the layout omits them.
var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
}

const localLayout = "2006-01-02 15:04:05"

// ParseTimestamp resolves a source timestamp to UTC at target precision.
// Local (space separated) values are interpreted in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if strings.Contains(value, "T") {
		for _, layout := range offsetLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts.UTC().Truncate(Epsilon), nil
			}
		}
		return time.Time{}, fmt.Errorf("unsupported timestamp format %q", raw)
	}
	ts, err := time.ParseInLocation(localLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp format %q", raw)
	}
	return ts.UTC().Truncate(Epsilon), nil
}

// Normalizer turns raw source records into ChangeEvents.
type Normalizer struct {
	location     *time.Location
	systemAuthor string
}

// NewNormalizer builds a normalizer. Unresolved authors map to systemAuthor.
func NewNormalizer(location *time.Location, systemAuthor string) *Normalizer {
	if location == nil {
		location = time.UTC
	}
	return &Normalizer{location: location, systemAuthor: systemAuthor}
}

// NormalizeComment converts a raw comment.
func (n *Normalizer) NormalizeComment(raw domain.RawComment, position int) (domain.ChangeEvent, error) {
	ts, err := ParseTimestamp(raw.Created, n.location)
	if err != nil {
		return domain.ChangeEvent{}, &ReconstructionError{
			Kind:      KindMalformedEvent,
			EventID:   raw.ID,
			Timestamp: raw.Created,
			Message:   "comment timestamp",
			Err:       err,
		}
	}
	return domain.ChangeEvent{
		ID:                raw.ID,
		Kind:              domain.EventKindComment,
		Author:            n.resolveAuthor(raw.Author),
		Note:              raw.Body,
		Sequence:          sequenceOrPosition(raw.Sequence, position),
		Position:          position,
		OriginalTimestamp: ts,
		Timestamp:         ts,
		RawTimestamp:      raw.Created,
	}, nil
}

// NormalizeChange converts a raw field-change record.
func (n *Normalizer) NormalizeChange(raw domain.RawChange, position int) (domain.ChangeEvent, error) {
	diffs := make(map[string]domain.FieldDiff, len(raw.Items))
	for _, item := range raw.Items {
		field := strings.TrimSpace(item.Field)
		if field == "" {
			return domain.ChangeEvent{}, &ReconstructionError{
				Kind:      KindMalformedEvent,
				EventID:   raw.ID,
				Timestamp: raw.Created,
				Message:   "change item without field name",
			}
		}
		if _, dup := diffs[field]; dup {
			return domain.ChangeEvent{}, &ReconstructionError{
				Kind:      KindMalformedEvent,
				EventID:   raw.ID,
				Timestamp: raw.Created,
				Attribute: field,
				Message:   "field changed twice in one record",
			}
		}
		diffs[field] = domain.FieldDiff{
			Old:    item.From,
			New:    item.To,
			HasOld: item.HasFrom,
			HasNew: item.HasTo,
		}
	}

	ts, err := ParseTimestamp(raw.Created, n.location)
	if err != nil {
		return domain.ChangeEvent{}, &ReconstructionError{
			Kind:      KindMalformedEvent,
			EventID:   raw.ID,
			Timestamp: raw.Created,
			DiffKeys:  domain.SortedKeys(diffs),
			Message:   "change timestamp",
			Err:       err,
		}
	}
	return domain.ChangeEvent{
		ID:                raw.ID,
		Kind:              domain.EventKindFieldChange,
		Author:            n.resolveAuthor(raw.Author),
		Diffs:             diffs,
		Sequence:          sequenceOrPosition(raw.Sequence, position),
		Position:          position,
		OriginalTimestamp: ts,
		Timestamp:         ts,
		RawTimestamp:      raw.Created,
	}, nil
}

// NormalizeHistory converts a whole export. Malformed events are excluded
// with a warning. Excluded field changes that carried diffs are listed in
// Excluded so reconstruction can check the surviving log still agrees on
// the attributes they touched.
func (n *Normalizer) NormalizeHistory(raw domain.RawHistory) (domain.WorkItemHistory, []domain.Warning, error) {
	itemID := strings.TrimSpace(raw.ItemID)
	if itemID == "" {
		return domain.WorkItemHistory{}, nil, &ReconstructionError{Kind: KindInvalidHistory, Message: "missing item id"}
	}

	var warnings []domain.Warning
	h := domain.WorkItemHistory{
		ItemID:     itemID,
		FinalState: raw.FinalState.Clone(),
		Events:     make([]domain.ChangeEvent, 0, len(raw.Changes)+len(raw.Comments)),
	}

	if strings.TrimSpace(raw.CreatedAt) != "" {
		created, err := ParseTimestamp(raw.CreatedAt, n.location)
		if err != nil {
			warnings = append(warnings, domain.Warning{
				Code:      domain.WarningEventDiscarded,
				Timestamp: raw.CreatedAt,
				Message:   "item creation time ignored: " + err.Error(),
			})
		} else {
			h.CreatedAt = &created
		}
	}

	position := 0
	for _, change := range raw.Changes {
		ev, err := n.NormalizeChange(change, position)
		position++
		if err != nil {
			w := discardWarning(err)
			if keys := rawDiffKeys(change); len(keys) > 0 {
				w.DiffKeys = keys
				h.Excluded = append(h.Excluded, domain.ExcludedChange{
					EventID:      change.ID,
					RawTimestamp: change.Created,
					DiffKeys:     keys,
				})
			}
			warnings = append(warnings, w)
			continue
		}
		warnings = n.appendAuthorWarning(warnings, change.Author, ev)
		h.Events = append(h.Events, ev)
	}
	for _, comment := range raw.Comments {
		ev, err := n.NormalizeComment(comment, position)
		position++
		if err != nil {
			warnings = append(warnings, discardWarning(err))
			continue
		}
		warnings = n.appendAuthorWarning(warnings, comment.Author, ev)
		h.Events = append(h.Events, ev)
	}
	return h, warnings, nil
}

func (n *Normalizer) resolveAuthor(author string) string {
	if trimmed := strings.TrimSpace(author); trimmed != "" {
		return trimmed
	}
	return n.systemAuthor
}

func (n *Normalizer) appendAuthorWarning(warnings []domain.Warning, rawAuthor string, ev domain.ChangeEvent) []domain.Warning {
	if strings.TrimSpace(rawAuthor) != "" {
		return warnings
	}
	return append(warnings, domain.Warning{
		Code:      domain.WarningAuthorFallback,
		EventID:   ev.ID,
		Timestamp: ev.RawTimestamp,
		Message:   "author unresolved, attributed to " + n.systemAuthor,
	})
}

func discardWarning(err error) domain.Warning {
	w := domain.Warning{Code: domain.WarningEventDiscarded, Message: err.Error()}
	if rerr, ok := err.(*ReconstructionError); ok {
		w.EventID = rerr.EventID
		w.Timestamp = rerr.Timestamp
		w.DiffKeys = rerr.DiffKeys
	}
	return w
}

// rawDiffKeys lists the distinct non-blank fields of a change record.
func rawDiffKeys(change domain.RawChange) []string {
	set := make(map[string]struct{}, len(change.Items))
	for _, item := range change.Items {
		if field := strings.TrimSpace(item.Field); field != "" {
			set[field] = struct{}{}
		}
	}
	return domain.SortedKeys(set)
}

func sequenceOrPosition(seq *int, position int) int {
	if seq != nil {
		return *seq
	}
	return position
}
