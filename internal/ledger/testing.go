package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SeedBalance is a test helper that credits a ledger from a throwaway seed
// ledger, so the double-entry invariant keeps holding in tests.
func SeedBalance(ctx context.Context, store Store, led Ledger, amount int64) error {
	seedName := "Seed " + uuid.NewString()[:8]
	seed, err := store.CreateLedger(ctx, Ledger{
		AccountID: led.AccountID,
		Currency:  led.Currency,
		Name:      seedName,
	})
	if err != nil {
		return err
	}
	_, err = store.CreateBookTransaction(ctx, BookTransaction{
		ApplyAt:             time.Now().UTC().Add(-24 * time.Hour),
		OriginatingLedgerID: seed.ID,
		ReceivingLedgerID:   led.ID,
		Amount:              amount,
		Currency:            led.Currency,
		Memo:                "seed balance",
	})
	return err
}
