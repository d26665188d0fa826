package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Options configures an Engine.
type Options struct {
	Location            *time.Location
	SystemAuthor        string
	Epsilon             time.Duration
	MandatoryAttributes []string
}

// Engine rebuilds snapshot chains from change logs. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	normalizer   *Normalizer
	epsilon      time.Duration
	mandatory    map[string]struct{}
	systemAuthor string
}

// NewEngine constructs the engine.
func NewEngine(opts Options) *Engine {
	mandatory := make(map[string]struct{}, len(opts.MandatoryAttributes))
	for _, attr := range opts.MandatoryAttributes {
		if attr = strings.TrimSpace(attr); attr != "" {
			mandatory[attr] = struct{}{}
		}
	}
	epsilon := opts.Epsilon
	if epsilon <= 0 {
		epsilon = Epsilon
	}
	return &Engine{
		normalizer:   NewNormalizer(opts.Location, opts.SystemAuthor),
		epsilon:      epsilon,
		mandatory:    mandatory,
		systemAuthor: opts.SystemAuthor,
	}
}

// Normalize converts a raw export into a WorkItemHistory.
func (e *Engine) Normalize(raw domain.RawHistory) (domain.WorkItemHistory, []domain.Warning, error) {
	return e.normalizer.NormalizeHistory(raw)
}

// Reconstruct produces the validated snapshot chain for one item. It is pure:
// the same history always yields an identical chain.
func (e *Engine) Reconstruct(h domain.WorkItemHistory) (domain.Chain, error) {
	if strings.TrimSpace(h.ItemID) == "" {
		return domain.Chain{}, &ReconstructionError{Kind: KindInvalidHistory, Message: "missing item id"}
	}
	for _, attr := range domain.SortedKeys(e.mandatory) {
		if h.FinalState[attr] == nil {
			return domain.Chain{}, &ReconstructionError{
				Kind:      KindInvalidHistory,
				ItemID:    h.ItemID,
				Attribute: attr,
				Message:   "final state lacks mandatory attribute",
			}
		}
	}

	chain := domain.Chain{ItemID: h.ItemID}
	if len(h.Events) == 0 {
		if h.CreatedAt == nil {
			return domain.Chain{}, &ReconstructionError{
				Kind:    KindInvalidHistory,
				ItemID:  h.ItemID,
				Message: "no events and no creation time",
			}
		}
		chain.Seed = h.FinalState.Clone()
		chain.Snapshots = []domain.Snapshot{initialSnapshot(h.ItemID, h.FinalState, *h.CreatedAt, e.systemAuthor)}
	} else {
		ordered, err := Order(h.Events, e.epsilon)
		if err != nil {
			return domain.Chain{}, withItemID(err, h.ItemID)
		}
		back, warnings := ReconstructBackward(ordered, h.FinalState, e.mandatory)
		if err := checkExcluded(h.ItemID, h.Excluded, warnings); err != nil {
			return domain.Chain{}, err
		}
		chain.Seed = back.Seed
		chain.Warnings = warnings
		chain.Snapshots = BuildChain(h.ItemID, back.Seed, ordered, back.Diffs)
	}

	if err := Validate(chain, h.FinalState, e.mandatory); err != nil {
		return domain.Chain{}, err
	}
	return chain, nil
}

// checkExcluded fails the item when the surviving log disagrees with itself
// on an attribute an excluded change touched: the excluded edit is then
// needed to explain the history and cannot be dropped.
func checkExcluded(itemID string, excluded []domain.ExcludedChange, warnings []domain.Warning) error {
	for _, ex := range excluded {
		keys := make(map[string]struct{}, len(ex.DiffKeys))
		for _, k := range ex.DiffKeys {
			keys[k] = struct{}{}
		}
		for _, w := range warnings {
			if w.Code != domain.WarningInconsistentNewValue && w.Code != domain.WarningMissingNewValue {
				continue
			}
			if _, hit := keys[w.Attribute]; !hit {
				continue
			}
			return &ReconstructionError{
				Kind:      KindMalformedEvent,
				ItemID:    itemID,
				EventID:   ex.EventID,
				Timestamp: ex.RawTimestamp,
				Attribute: w.Attribute,
				DiffKeys:  ex.DiffKeys,
				Message:   fmt.Sprintf("excluded change is needed to explain %s at event %s", w.Attribute, w.EventID),
			}
		}
	}
	return nil
}

// MandatoryAttributes returns the configured mandatory attribute names.
func (e *Engine) MandatoryAttributes() []string {
	return domain.SortedKeys(e.mandatory)
}

// Fingerprint is a stable digest of a chain's seed and snapshots, used to
// detect whether a stored chain already matches.
func Fingerprint(chain domain.Chain) (string, error) {
	payload, err := json.Marshal(struct {
		ItemID    string            `json:"item_id"`
		Seed      domain.Attributes `json:"seed"`
		Snapshots []domain.Snapshot `json:"snapshots"`
	}{chain.ItemID, chain.Seed, chain.Snapshots})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
