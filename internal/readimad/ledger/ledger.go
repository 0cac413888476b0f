// Package ledger defines the authenticity state machine every backing store
// must enforce.
//
// A key moves Unknown -> Authentic -> Redeemed and never backwards. Unknown
// is the absent state and is never stored.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
)

// Status is the lifecycle state of one identity key.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusAuthentic
	StatusRedeemed
)

func (s Status) String() string {
	switch s {
	case StatusAuthentic:
		return "Authentic"
	case StatusRedeemed:
		return "Redeemed"
	default:
		return "Unknown"
	}
}

// StatusFromCode decodes a stored status code. Codes match the registry
// contract: 1 = Authentic, 2 = Redeemed. Anything else is Unknown.
func StatusFromCode(code int64) Status {
	switch code {
	case int64(StatusAuthentic):
		return StatusAuthentic
	case int64(StatusRedeemed):
		return StatusRedeemed
	default:
		return StatusUnknown
	}
}

// Outcome reports what a successful registration did.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCreated
	OutcomeAlreadyAuthentic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyAuthentic:
		return "already_authentic"
	default:
		return "none"
	}
}

var (
	ErrCannotReauthenticateRedeemed = errors.New("cannot re-register a redeemed item as authentic")
	ErrNotAuthentic                 = errors.New("item is not registered as authentic")
	ErrAlreadyRedeemed              = errors.New("item has already been redeemed")
	ErrBackingStoreUnavailable      = errors.New("ledger backing store unavailable")
)

// Unavailable marks err as a transient backing-store failure. Both
// ErrBackingStoreUnavailable and err remain matchable with errors.Is.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrBackingStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackingStoreUnavailable, err)
}

// IsTransition reports whether err is a state-machine rejection rather than
// an infrastructure failure.
func IsTransition(err error) bool {
	return errors.Is(err, ErrCannotReauthenticateRedeemed) ||
		errors.Is(err, ErrNotAuthentic) ||
		errors.Is(err, ErrAlreadyRedeemed)
}

// Classify passes transition errors through and marks everything else
// unavailable.
func Classify(err error) error {
	if err == nil || IsTransition(err) {
		return err
	}
	return Unavailable(err)
}

// Ledger is the capability every backing store provides.
type Ledger interface {
	// RegisterAsAuthentic creates an Authentic entry for an absent key.
	// An Authentic key yields OutcomeAlreadyAuthentic; a Redeemed key
	// yields ErrCannotReauthenticateRedeemed.
	RegisterAsAuthentic(ctx context.Context, key identity.Key) (Outcome, error)

	// RegisterBatch applies RegisterAsAuthentic to each key independently.
	// Results are aligned with keys.
	RegisterBatch(ctx context.Context, keys []identity.Key) BatchResult

	// MarkRedeemed moves an Authentic key to Redeemed.
	MarkRedeemed(ctx context.Context, key identity.Key) error

	// GetStatus returns StatusUnknown for absent keys. The only error is a
	// backing-store failure.
	GetStatus(ctx context.Context, key identity.Key) (Status, error)
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyResult is the outcome of registering one key within a batch.
type KeyResult struct {
	Key     identity.Key
	Outcome Outcome
	Err     error
}

// BatchResult holds per-key registration results in input order.
type BatchResult struct {
	Results []KeyResult
}

// Created counts keys that were newly registered.
func (b BatchResult) Created() int { return b.count(func(r KeyResult) bool { return r.Outcome == OutcomeCreated }) }

// AlreadyAuthentic counts keys that were already registered.
func (b BatchResult) AlreadyAuthentic() int {
	return b.count(func(r KeyResult) bool { return r.Outcome == OutcomeAlreadyAuthentic })
}

// Failed counts keys that returned any error.
func (b BatchResult) Failed() int { return b.count(func(r KeyResult) bool { return r.Err != nil }) }

func (b BatchResult) count(pred func(KeyResult) bool) int {
	n := 0
	for _, r := range b.Results {
		if pred(r) {
			n++
		}
	}
	return n
}

// RegisterEach is the straightforward RegisterBatch for backends without a
// cheaper bulk path.
func RegisterEach(ctx context.Context, l Ledger, keys []identity.Key) BatchResult {
	res := BatchResult{Results: make([]KeyResult, len(keys))}
	for i, k := range keys {
		out, err := l.RegisterAsAuthentic(ctx, k)
		res.Results[i] = KeyResult{Key: k, Outcome: out, Err: err}
	}
	return res
}

// FailAll reports the same error for every key, used when a bulk write
// could not be committed at all.
func FailAll(keys []identity.Key, err error) BatchResult {
	res := BatchResult{Results: make([]KeyResult, len(keys))}
	for i, k := range keys {
		res.Results[i] = KeyResult{Key: k, Err: err}
	}
	return res
}
