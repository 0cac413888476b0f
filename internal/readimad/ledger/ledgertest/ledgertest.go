// Package ledgertest holds the behavioral contract shared by every
// ledger.Ledger backend. Backend packages call Run from their own tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

// Factory returns a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) ledger.Ledger

// Run exercises l against the full transition table.
func Run(t *testing.T, newLedger Factory) {
	t.Helper()

	t.Run("unknown key reports Unknown", func(t *testing.T) {
		l := newLedger(t)
		st, err := l.GetStatus(context.Background(), identity.Hash("never-seen"))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusUnknown, st)
	})

	t.Run("registration is idempotent", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("SN-001")

		out, err := l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.OutcomeCreated, out)

		out, err = l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.OutcomeAlreadyAuthentic, out)

		st, err := l.GetStatus(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusAuthentic, st)
	})

	t.Run("redeem moves Authentic to Redeemed", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("SN-002")

		_, err := l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)
		require.NoError(t, l.MarkRedeemed(ctx, k))

		st, err := l.GetStatus(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRedeemed, st)
	})

	t.Run("redeemed key cannot be re-registered", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("SN-789-XYZ")

		_, err := l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)
		require.NoError(t, l.MarkRedeemed(ctx, k))

		out, err := l.RegisterAsAuthentic(ctx, k)
		assert.ErrorIs(t, err, ledger.ErrCannotReauthenticateRedeemed)
		assert.Equal(t, ledger.OutcomeNone, out)

		st, err := l.GetStatus(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRedeemed, st)
	})

	t.Run("redeeming an unknown key fails", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("counterfeit")

		assert.ErrorIs(t, l.MarkRedeemed(ctx, k), ledger.ErrNotAuthentic)

		st, err := l.GetStatus(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusUnknown, st, "a failed redemption must not create an entry")
	})

	t.Run("second redemption fails", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("SN-003")

		_, err := l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)
		require.NoError(t, l.MarkRedeemed(ctx, k))
		assert.ErrorIs(t, l.MarkRedeemed(ctx, k), ledger.ErrAlreadyRedeemed)
	})

	t.Run("batch outcomes are per key", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		existing := identity.Hash("SN-EXISTING")
		redeemed := identity.Hash("SN-SOLD")
		fresh := identity.Hash("SN-FRESH")

		_, err := l.RegisterAsAuthentic(ctx, existing)
		require.NoError(t, err)
		_, err = l.RegisterAsAuthentic(ctx, redeemed)
		require.NoError(t, err)
		require.NoError(t, l.MarkRedeemed(ctx, redeemed))

		keys := []identity.Key{fresh, redeemed, existing, fresh}
		res := l.RegisterBatch(ctx, keys)

		require.Len(t, res.Results, len(keys))
		for i, r := range res.Results {
			assert.Equal(t, keys[i], r.Key, "result %d is aligned with input", i)
		}
		assert.Equal(t, ledger.OutcomeCreated, res.Results[0].Outcome)
		assert.NoError(t, res.Results[0].Err)
		assert.ErrorIs(t, res.Results[1].Err, ledger.ErrCannotReauthenticateRedeemed)
		assert.Equal(t, ledger.OutcomeAlreadyAuthentic, res.Results[2].Outcome)
		assert.Equal(t, ledger.OutcomeAlreadyAuthentic, res.Results[3].Outcome, "in-batch duplicate collapses")

		assert.Equal(t, 1, res.Created())
		assert.Equal(t, 2, res.AlreadyAuthentic())
		assert.Equal(t, 1, res.Failed())

		st, err := l.GetStatus(ctx, redeemed)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRedeemed, st)
		st, err = l.GetStatus(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusAuthentic, st)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		l := newLedger(t)
		res := l.RegisterBatch(context.Background(), nil)
		assert.Empty(t, res.Results)
	})

	t.Run("concurrent redemption has one winner", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		k := identity.Hash("SN-RACE")

		_, err := l.RegisterAsAuthentic(ctx, k)
		require.NoError(t, err)

		const racers = 16
		var (
			wg       sync.WaitGroup
			wins     atomic.Int32
			losses   atomic.Int32
			start    = make(chan struct{})
			otherErr = make(chan error, racers)
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := l.MarkRedeemed(ctx, k)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ledger.ErrAlreadyRedeemed):
					losses.Add(1)
				default:
					otherErr <- err
				}
			}()
		}
		close(start)
		wg.Wait()
		close(otherErr)

		for err := range otherErr {
			t.Errorf("unexpected redemption error: %v", err)
		}
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(racers-1), losses.Load())
	})

	t.Run("concurrent registration of distinct keys", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const n = 64
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				k := identity.Hash(fmt.Sprintf("SN-PAR-%03d", i))
				out, err := l.RegisterAsAuthentic(ctx, k)
				if err != nil {
					errs <- err
					return
				}
				if out != ledger.OutcomeCreated {
					errs <- fmt.Errorf("key %d: outcome %s", i, out)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		for i := range n {
			st, err := l.GetStatus(ctx, identity.Hash(fmt.Sprintf("SN-PAR-%03d", i)))
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusAuthentic, st)
		}
	})
}
