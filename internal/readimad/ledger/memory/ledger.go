package memory

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 64

type shard struct {
	mu      sync.RWMutex
	entries map[identity.Key]ledger.Status
}

// Ledger is an in-process ledger.Ledger. Keys are spread over independently
// locked shards; a transition holds exactly one shard lock for its
// read-modify-write.
type Ledger struct {
	shards []*shard
}

func New(shards int) *Ledger {
	if shards <= 0 {
		shards = DefaultShards
	}
	l := &Ledger{shards: make([]*shard, shards)}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[identity.Key]ledger.Status)}
	}
	return l
}

// Keys are uniform digests, so the leading bytes are a fair shard index.
func (l *Ledger) shardFor(k identity.Key) *shard {
	return l.shards[binary.BigEndian.Uint32(k[:4])%uint32(len(l.shards))]
}

func (l *Ledger) RegisterAsAuthentic(ctx context.Context, key identity.Key) (ledger.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return ledger.OutcomeNone, ledger.Unavailable(err)
	}

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.entries[key] {
	case ledger.StatusAuthentic:
		return ledger.OutcomeAlreadyAuthentic, nil
	case ledger.StatusRedeemed:
		return ledger.OutcomeNone, ledger.ErrCannotReauthenticateRedeemed
	default:
		s.entries[key] = ledger.StatusAuthentic
		return ledger.OutcomeCreated, nil
	}
}

func (l *Ledger) RegisterBatch(ctx context.Context, keys []identity.Key) ledger.BatchResult {
	return ledger.RegisterEach(ctx, l, keys)
}

func (l *Ledger) MarkRedeemed(ctx context.Context, key identity.Key) error {
	if err := ctx.Err(); err != nil {
		return ledger.Unavailable(err)
	}

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.entries[key] {
	case ledger.StatusAuthentic:
		s.entries[key] = ledger.StatusRedeemed
		return nil
	case ledger.StatusRedeemed:
		return ledger.ErrAlreadyRedeemed
	default:
		return ledger.ErrNotAuthentic
	}
}

func (l *Ledger) GetStatus(ctx context.Context, key identity.Key) (ledger.Status, error) {
	if err := ctx.Err(); err != nil {
		return ledger.StatusUnknown, ledger.Unavailable(err)
	}

	s := l.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key], nil
}

// Ping always succeeds.
func (l *Ledger) Ping(context.Context) error { return nil }

// Len returns the number of stored entries. Test-only helper.
func (l *Ledger) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
