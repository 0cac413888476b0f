package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger/ledgertest"
)

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger { return New(8) })
}

func TestLedgerContract_SingleShard(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger { return New(1) })
}

type MemoryLedgerSuite struct {
	suite.Suite
	ledger *Ledger
	ctx    context.Context
}

func TestMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, new(MemoryLedgerSuite))
}

func (s *MemoryLedgerSuite) SetupTest() {
	s.ledger = New(16)
	s.ctx = context.Background()
}

func (s *MemoryLedgerSuite) TestNewDefaultsShardCount() {
	s.Len(New(0).shards, DefaultShards)
	s.Len(New(-3).shards, DefaultShards)
}

func (s *MemoryLedgerSuite) TestUnknownIsNeverStored() {
	_, err := s.ledger.GetStatus(s.ctx, identity.Hash("ghost"))
	s.Require().NoError(err)
	s.ErrorIs(s.ledger.MarkRedeemed(s.ctx, identity.Hash("ghost")), ledger.ErrNotAuthentic)
	s.Equal(0, s.ledger.Len())
}

func (s *MemoryLedgerSuite) TestKeysSpreadAcrossShards() {
	for i := range 512 {
		_, err := s.ledger.RegisterAsAuthentic(s.ctx, identity.Hash(fmt.Sprintf("SN-%04d", i)))
		s.Require().NoError(err)
	}
	s.Equal(512, s.ledger.Len())

	used := 0
	for _, sh := range s.ledger.shards {
		if len(sh.entries) > 0 {
			used++
		}
	}
	s.Equal(len(s.ledger.shards), used, "512 uniform keys should touch all 16 shards")
}

func (s *MemoryLedgerSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	k := identity.Hash("SN-001")
	_, err := s.ledger.RegisterAsAuthentic(ctx, k)
	s.ErrorIs(err, ledger.ErrBackingStoreUnavailable)
	s.ErrorIs(err, context.Canceled)

	s.ErrorIs(s.ledger.MarkRedeemed(ctx, k), ledger.ErrBackingStoreUnavailable)

	_, err = s.ledger.GetStatus(ctx, k)
	s.ErrorIs(err, ledger.ErrBackingStoreUnavailable)

	s.Equal(0, s.ledger.Len(), "cancelled calls must not mutate")
}

func (s *MemoryLedgerSuite) TestPing() {
	s.NoError(s.ledger.Ping(s.ctx))
}
