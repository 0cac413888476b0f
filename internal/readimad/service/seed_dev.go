package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

type SeedDevOptions struct {
	// RedeemedSerials are registered and then redeemed, giving verifiers a
	// known already-sold package to test against.
	RedeemedSerials []string
}

// SeedDev prepares a dev ledger. It goes through the normal transitions so
// the seeded entries obey the same rules as real ones, and it is safe to run
// on every start against a persistent ledger.
func SeedDev(ctx context.Context, reg *RegistryService, opt SeedDevOptions) error {
	if len(opt.RedeemedSerials) == 0 {
		return nil
	}

	report, err := reg.RegisterNewBatch(ctx, opt.RedeemedSerials)
	if err != nil {
		return fmt.Errorf("seed register: %w", err)
	}
	if report.Unresolved > 0 {
		return fmt.Errorf("seed register: %d serials unresolved: %w", report.Unresolved, ledger.ErrBackingStoreUnavailable)
	}

	for i, sn := range opt.RedeemedSerials {
		if _, err := reg.Redeem(ctx, sn); err != nil && !errors.Is(err, ledger.ErrAlreadyRedeemed) {
			return fmt.Errorf("seed redeem [%d]: %w", i, err)
		}
	}

	reg.logger.Printf("dev seed: %d redeemed serials loaded", len(opt.RedeemedSerials))
	return nil
}
