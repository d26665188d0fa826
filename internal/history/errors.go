package history

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies reconstruction failures.
type ErrorKind string

const (
	KindMalformedEvent      ErrorKind = "MALFORMED_EVENT"
	KindCollisionExhaustion ErrorKind = "COLLISION_EXHAUSTION"
	KindChainInvariant      ErrorKind = "CHAIN_INVARIANT_VIOLATION"
	KindInvalidHistory      ErrorKind = "INVALID_HISTORY"
)

// Violation names the chain invariant that failed validation.
type Violation string

const (
	ViolationEmptyChain       Violation = "empty_chain"
	ViolationSequence         Violation = "sequence"
	ViolationEmptyInterval    Violation = "empty_interval"
	ViolationOverlap          Violation = "overlap"
	ViolationGap              Violation = "gap"
	ViolationStateMismatch    Violation = "state_mismatch"
	ViolationStateMismatchEnd Violation = "state_mismatch_at_final"
	ViolationMissingMandatory Violation = "missing_mandatory_attribute"
)

var (
	ErrMalformedEvent      = errors.New("malformed event")
	ErrCollisionExhaustion = errors.New("collision exhaustion")
	ErrChainInvariant      = errors.New("chain invariant violation")
	ErrInvalidHistory      = errors.New("invalid history")
)

// ReconstructionError carries enough context to diagnose an item failure
// without re-fetching the source export.
type ReconstructionError struct {
	Kind           ErrorKind
	ItemID         string
	SequenceNumber int
	Violation      Violation
	EventID        string
	Timestamp      string
	Attribute      string
	DiffKeys       []string
	Message        string
	Err            error
}

func (e *ReconstructionError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.ItemID != "" {
		fmt.Fprintf(&b, " item=%s", e.ItemID)
	}
	if e.SequenceNumber > 0 {
		fmt.Fprintf(&b, " seq=%d", e.SequenceNumber)
	}
	if e.Violation != "" {
		fmt.Fprintf(&b, " violation=%s", e.Violation)
	}
	if e.EventID != "" {
		fmt.Fprintf(&b, " event=%s", e.EventID)
	}
	if e.Timestamp != "" {
		fmt.Fprintf(&b, " ts=%q", e.Timestamp)
	}
	if e.Attribute != "" {
		fmt.Fprintf(&b, " attribute=%s", e.Attribute)
	}
	if len(e.DiffKeys) > 0 {
		fmt.Fprintf(&b, " diff_keys=%s", strings.Join(e.DiffKeys, ","))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ReconstructionError) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindMalformedEvent:
		return ErrMalformedEvent
	case KindCollisionExhaustion:
		return ErrCollisionExhaustion
	case KindChainInvariant:
		return ErrChainInvariant
	default:
		return ErrInvalidHistory
	}
}

func withItemID(err error, itemID string) error {
	var rerr *ReconstructionError
	if errors.As(err, &rerr) && rerr.ItemID == "" {
		rerr.ItemID = itemID
	}
	return err
}
