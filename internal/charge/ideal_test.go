package charge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/payment"
	"github.com/makala-pay/makala_pay/internal/trigger"
)

func gatherWithTrigger(t *testing.T, f *fixture, at time.Time, tr *trigger.Trigger) *trigger.Collection {
	t.Helper()
	ctx := context.Background()
	store := trigger.NewMemoryStore()
	if tr != nil {
		_, err := store.Create(ctx, *tr)
		require.NoError(t, err)
	}
	svc := trigger.NewService(store, f.svc, nil)
	coll, err := svc.Gather(ctx, f.account, at)
	require.NoError(t, err)
	return coll
}

func TestFindIdealCashContributionSplitsWithMatchedSubsidy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	origin, err := f.svc.LookupPlatformCategoryLedger(ctx, f.food)
	require.NoError(t, err)
	coll := gatherWithTrigger(t, f, at, &trigger.Trigger{
		Label:                    "Dollar for dollar",
		OriginatingLedgerID:      origin.ID,
		ReceivingLedgerName:      "Food subsidy",
		MatchMultiplier:          1,
		MaximumCumulativeSubsidy: 1_000_000,
		ActiveAt:                 at.Add(-time.Hour),
		ActiveUntil:              at.Add(time.Hour),
	})

	col, err := FindIdealCashContribution(ctx, f.svc, coll, f.account,
		[]category.Category{f.grocery}, 10000, at)
	require.NoError(t, err)
	require.Equal(t, int64(5000), col.Cash.Amount, "a 1:1 match halves the cash needed")
	require.False(t, col.HasRemainder())
	require.Equal(t, int64(10000), col.Total())
}

func TestFindIdealCashContributionWithoutTriggersChargesFullAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()
	coll := gatherWithTrigger(t, f, at, nil)

	col, err := FindIdealCashContribution(ctx, f.svc, coll, f.account,
		[]category.Category{f.grocery}, 730, at)
	require.NoError(t, err)
	require.Equal(t, int64(730), col.Cash.Amount)
	require.False(t, col.HasRemainder())
}

func TestFindIdealCashContributionRequiresZeroCashBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()
	require.NoError(t, ledger.SeedBalance(ctx, f.svc.Store(), f.cash, 125))
	coll := gatherWithTrigger(t, f, at, nil)

	_, err := FindIdealCashContribution(ctx, f.svc, coll, f.account,
		[]category.Category{f.grocery}, 1000, at)
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Contains(t, err.Error(), "USD 1.25")
}

func TestFindIdealCashContributionRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t)
	at := time.Now().UTC()
	coll := gatherWithTrigger(t, f, at, nil)

	_, err := FindIdealCashContribution(context.Background(), f.svc, coll, f.account,
		[]category.Category{f.grocery}, -5, at)
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre)
}
