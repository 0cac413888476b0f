package store

import (
	"context"
	"time"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventRedeemed   EventKind = "redeemed"
	EventVerified   EventKind = "verified"
)

// EventRecord captures one registry operation on one key for the audit log.
// Only the hashed key is kept; raw serial numbers are never recorded.
type EventRecord struct {
	Kind       EventKind
	Key        identity.Key
	BatchID    string // empty outside batch registration
	Status     ledger.Status
	Outcome    string // e.g. "created", "already_redeemed", "Authentic"
	Reason     string // optional detail for rejections
	OccurredAt time.Time
}

// EventStore persists registry operations as an append-only audit log.
type EventStore interface {
	RecordEvents(ctx context.Context, recs []EventRecord) error
	EventsForKey(ctx context.Context, key identity.Key) ([]EventRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
