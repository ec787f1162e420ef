package charge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/payment"
)

type fixture struct {
	svc     *ledger.Service
	cats    category.Store
	account ledger.Account
	cash    ledger.Ledger
	food    category.Category
	grocery category.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cats := category.NewMemoryStore()
	svc := ledger.NewService(ledger.NewMemoryStore(), cats, "USD")

	food, err := category.FindOrCreate(ctx, cats, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	grocery, err := category.FindOrCreate(ctx, cats, "grocery", "Grocery", food.ID)
	require.NoError(t, err)

	account, err := svc.AccountForMember(ctx, uuid.New())
	require.NoError(t, err)
	cash, err := svc.EnsureCashLedger(ctx, account)
	require.NoError(t, err)

	return &fixture{svc: svc, cats: cats, account: account, cash: cash, food: food, grocery: grocery}
}

func (f *fixture) ledgerWith(t *testing.T, name string, cat category.Category, balance int64) ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	l, err := f.svc.Store().CreateLedger(ctx, ledger.Ledger{
		AccountID:   f.account.ID,
		Currency:    "USD",
		Name:        name,
		CategoryIDs: []uuid.UUID{cat.ID},
	})
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, ledger.SeedBalance(ctx, f.svc.Store(), l, balance))
	}
	return l
}

func TestContextMutatorsLeaveReceiverUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().UTC()

	base := NewContext(at)
	credited := base.ApplyCredits(Adjustment{LedgerID: f.cash.ID, Amount: 500})
	debited := credited.ApplyDebits(Adjustment{LedgerID: f.cash.ID, Amount: 200})

	for want, c := range map[int64]*Context{0: base, 500: credited, 300: debited} {
		got, err := c.Balance(ctx, f.svc.Store(), f.cash.ID)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Empty(t, base.AdjustmentsFor(f.cash.ID))
	require.Len(t, credited.AdjustmentsFor(f.cash.ID), 1)
}

func TestAllocateSurfacesRemainderThenClearsAfterFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledgerWith(t, "Groceries", f.grocery, 600)

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 1000)
	require.NoError(t, err)
	require.Len(t, col.Rest, 1)
	require.Equal(t, int64(600), col.Rest[0].Amount)
	require.Equal(t, int64(0), col.Cash.Amount)
	require.True(t, col.HasRemainder())
	require.Equal(t, int64(400), col.Remainder.Amount)
	require.Equal(t, int64(1000), col.Total())

	require.NoError(t, ledger.SeedBalance(ctx, f.svc.Store(), f.cash, 400))
	col, err = Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 1000)
	require.NoError(t, err)
	require.False(t, col.HasRemainder())
	require.Equal(t, int64(400), col.Cash.Amount)
	require.Equal(t, int64(1000), col.Total())
}

func TestAllocateOrdersByCategoryDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broad := f.ledgerWith(t, "Food", f.food, 1000)
	specific := f.ledgerWith(t, "Groceries", f.grocery, 300)

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 500)
	require.NoError(t, err)
	require.Len(t, col.Rest, 2)
	require.Equal(t, specific.ID, col.Rest[0].Ledger.ID, "deeper category contributes first")
	require.Equal(t, int64(300), col.Rest[0].Amount)
	require.Equal(t, broad.ID, col.Rest[1].Ledger.ID)
	require.Equal(t, int64(200), col.Rest[1].Amount)
	require.False(t, col.HasRemainder())
}

func TestAllocateZeroAmountListsEveryConsideredLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledgerWith(t, "Groceries", f.grocery, 600)

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 0)
	require.NoError(t, err)
	require.Len(t, col.Rest, 1)
	require.Equal(t, int64(0), col.Rest[0].Amount)
	require.Equal(t, int64(0), col.Total())
	require.Empty(t, col.Debitable())
}

func TestAllocateSkipsCategorylessLedgers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Store().CreateLedger(ctx, ledger.Ledger{
		AccountID: f.account.ID, Currency: "USD", Name: "Receivable only",
	})
	require.NoError(t, err)

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 100)
	require.NoError(t, err)
	require.Empty(t, col.Rest)
	require.Equal(t, int64(100), col.Remainder.Amount)
}

func TestAllocateRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t)

	_, err := Allocate(context.Background(), f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, -1)
	var pre *payment.PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestDebitContributionsCreatesBookTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	groceries := f.ledgerWith(t, "Groceries", f.grocery, 600)
	require.NoError(t, ledger.SeedBalance(ctx, f.svc.Store(), f.cash, 400))

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 1000)
	require.NoError(t, err)

	bts, err := DebitContributions(ctx, f.svc, col.Debitable(), "order 42", uuid.Nil)
	require.NoError(t, err)
	require.Len(t, bts, 2)

	bal, err := f.svc.Store().Balance(ctx, groceries.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), bal)
	bal, err = f.svc.Store().Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), bal)

	platform, err := f.svc.LookupPlatformCategoryLedger(ctx, f.grocery)
	require.NoError(t, err)
	bal, err = f.svc.Store().Balance(ctx, platform.ID)
	require.NoError(t, err)
	require.Equal(t, int64(600), bal, "grocery share lands on the platform grocery ledger")
}

func TestConsolidateSumsPerLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledgerWith(t, "Groceries", f.grocery, 1000)

	first, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 300)
	require.NoError(t, err)
	second, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 450)
	require.NoError(t, err)

	merged, err := Consolidate([]*Collection{first, second})
	require.NoError(t, err)
	require.Len(t, merged.Rest, 1)
	require.Equal(t, int64(750), merged.Rest[0].Amount)
	require.Equal(t, int64(750), merged.Total())

	_, err = Consolidate(nil)
	require.Error(t, err)
}

func TestDebitableOrFallsBackForFreePurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col, err := Allocate(ctx, f.svc, NewContext(time.Now().UTC()), f.account,
		[]category.Category{f.grocery}, 0)
	require.NoError(t, err)

	cashCat, err := category.Cash(ctx, f.cats)
	require.NoError(t, err)
	got := col.DebitableOr(f.cash, cashCat)
	require.Len(t, got, 1)
	require.Equal(t, f.cash.ID, got[0].Ledger.ID)
	require.Equal(t, int64(0), got[0].Amount)
}
