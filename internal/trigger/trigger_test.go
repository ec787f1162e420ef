package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
)

type fixture struct {
	ledgers *ledger.Service
	svc     *Service
	store   Store
	account ledger.Account
	origin  ledger.Ledger
	food    category.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cats := category.NewMemoryStore()
	ledgers := ledger.NewService(ledger.NewMemoryStore(), cats, "USD")

	food, err := category.FindOrCreate(ctx, cats, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	_, err = category.Cash(ctx, cats)
	require.NoError(t, err)

	account, err := ledgers.AccountForMember(ctx, uuid.New())
	require.NoError(t, err)
	_, err = ledgers.EnsureCashLedger(ctx, account)
	require.NoError(t, err)

	origin, err := ledgers.LookupPlatformCategoryLedger(ctx, food)
	require.NoError(t, err)

	store := NewMemoryStore()
	return &fixture{
		ledgers: ledgers,
		svc:     NewService(store, ledgers, nil),
		store:   store,
		account: account,
		origin:  origin,
		food:    food,
	}
}

func (f *fixture) trigger(t *testing.T, tr Trigger) Trigger {
	t.Helper()
	if tr.OriginatingLedgerID == uuid.Nil {
		tr.OriginatingLedgerID = f.origin.ID
	}
	if tr.ReceivingLedgerName == "" {
		tr.ReceivingLedgerName = "Subsidy"
	}
	created, err := f.store.Create(context.Background(), tr)
	require.NoError(t, err)
	return created
}

func TestActiveDuringIsHalfOpen(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	until := at.Add(24 * time.Hour)
	tr := Trigger{ActiveAt: at, ActiveUntil: until}

	require.False(t, tr.ActiveDuring(at.Add(-time.Second)))
	require.True(t, tr.ActiveDuring(at))
	require.True(t, tr.ActiveDuring(until.Add(-time.Second)))
	require.False(t, tr.ActiveDuring(until))
}

func TestSubdivideSplitsWindowAndCap(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := Trigger{
		Label:                    "Summer match",
		ActiveAt:                 at,
		ActiveUntil:              at.Add(28 * 24 * time.Hour),
		MaximumCumulativeSubsidy: 1003,
	}

	subs, err := tr.Subdivide(4, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, subs, 4)
	require.Equal(t, "Summer match (1/4)", subs[0].Label)
	require.Equal(t, at, subs[0].ActiveAt)
	require.Equal(t, at.Add(7*24*time.Hour), subs[0].ActiveUntil)
	require.Equal(t, subs[0].ActiveUntil, subs[1].ActiveAt, "slices are contiguous")

	var total int64
	for _, sub := range subs {
		total += sub.MaximumCumulativeSubsidy
	}
	require.Equal(t, int64(1003), total)
	require.Equal(t, int64(251), subs[0].MaximumCumulativeSubsidy, "remainder goes to the earliest slices")
	require.Equal(t, int64(250), subs[3].MaximumCumulativeSubsidy)

	_, err = tr.Subdivide(1, time.Hour)
	require.Error(t, err)
}

func TestSubdivideDefaultsToEvenWindowSplit(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := Trigger{ActiveAt: at, ActiveUntil: at.Add(10 * time.Hour), MaximumCumulativeSubsidy: 100}

	subs, err := tr.Subdivide(2, 0)
	require.NoError(t, err)
	require.Equal(t, at.Add(5*time.Hour), subs[0].ActiveUntil)
	require.Equal(t, at.Add(10*time.Hour), subs[1].ActiveUntil)
}

func TestEnsureReceivingLedgerCopiesOriginCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.trigger(t, Trigger{Label: "Match"})

	first, err := tr.EnsureReceivingLedger(ctx, f.ledgers, f.account)
	require.NoError(t, err)
	require.Equal(t, f.account.ID, first.AccountID)
	require.True(t, first.HasCategory(f.food.ID))

	second, err := tr.EnsureReceivingLedger(ctx, f.ledgers, f.account)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestGatherFiltersByWindowAndEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := f.trigger(t, Trigger{
		Label: "Open", ActiveAt: now.Add(-time.Hour), ActiveUntil: now.Add(time.Hour),
	})
	f.trigger(t, Trigger{
		Label: "Expired", ActiveAt: now.Add(-2 * time.Hour), ActiveUntil: now.Add(-time.Hour),
	})
	f.trigger(t, Trigger{
		Label: "Gated", ActiveAt: now.Add(-time.Hour), ActiveUntil: now.Add(time.Hour),
		ProgramID: uuid.New(),
	})

	svc := NewService(f.store, f.ledgers, denyAll{})
	coll, err := svc.Gather(ctx, f.account, now)
	require.NoError(t, err)
	require.Len(t, coll.Triggers, 1, "expired and unenrolled triggers are dropped")
	require.Equal(t, open.ID, coll.Triggers[0].ID)
}

type denyAll struct{}

func (denyAll) Enrolled(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func TestFundingPlanMatchesAndCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.trigger(t, Trigger{
		Label:                    "Half match",
		MatchMultiplier:          0.5,
		MaximumCumulativeSubsidy: 2000,
		ActiveAt:                 now.Add(-time.Hour),
		ActiveUntil:              now.Add(time.Hour),
	})

	coll, err := f.svc.Gather(ctx, f.account, now)
	require.NoError(t, err)

	plan, err := coll.FundingPlan(ctx, 10000)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, int64(2000), plan.Steps[0].Amount, "a 50% match of 100.00 hits the 20.00 cap")

	plan, err = coll.FundingPlan(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(500), plan.Steps[0].Amount)
}

func TestFundingPlanRoundsHalfUpAndHonorsPayerFraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.trigger(t, Trigger{
		Label:                    "Quarter copay",
		MatchMultiplier:          1,
		PayerFraction:            0.25,
		MaximumCumulativeSubsidy: 1_000_000,
		ActiveAt:                 now.Add(-time.Hour),
		ActiveUntil:              now.Add(time.Hour),
	})

	coll, err := f.svc.Gather(ctx, f.account, now)
	require.NoError(t, err)

	plan, err := coll.FundingPlan(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(750), plan.Steps[0].Amount)

	plan, err = coll.FundingPlan(ctx, 333)
	require.NoError(t, err)
	require.Equal(t, int64(250), plan.Steps[0].Amount, "249.75 rounds half-up")
}

func TestExecuteRecordsExecutionsAndReducesLaterPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tr := f.trigger(t, Trigger{
		Label:                    "Half match",
		MatchMultiplier:          0.5,
		MaximumCumulativeSubsidy: 2000,
		ActiveAt:                 now.Add(-time.Hour),
		ActiveUntil:              now.Add(time.Hour),
	})

	coll, err := f.svc.Gather(ctx, f.account, now)
	require.NoError(t, err)
	plan, err := coll.FundingPlan(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, int64(1500), plan.Steps[0].Amount)

	receiving := plan.Steps[0].ReceivingLedger
	execs, err := plan.Execute(ctx, []uuid.UUID{receiving.ID}, now, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, tr.ID, execs[0].TriggerID)
	require.Equal(t, int64(1500), execs[0].Amount)

	bal, err := f.ledgers.Store().Balance(ctx, receiving.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1500), bal)

	// Cumulative cap: only 5.00 of headroom left.
	plan, err = coll.FundingPlan(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, int64(500), plan.Steps[0].Amount)
}

func TestExecuteScopesToAllowedLedgersAndSkipsZeroSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.trigger(t, Trigger{
		Label:                    "Half match",
		MatchMultiplier:          0.5,
		MaximumCumulativeSubsidy: 2000,
		ActiveAt:                 now.Add(-time.Hour),
		ActiveUntil:              now.Add(time.Hour),
	})

	coll, err := f.svc.Gather(ctx, f.account, now)
	require.NoError(t, err)
	plan, err := coll.FundingPlan(ctx, 1000)
	require.NoError(t, err)

	execs, err := plan.Execute(ctx, []uuid.UUID{uuid.New()}, now, uuid.Nil)
	require.NoError(t, err)
	require.Empty(t, execs, "steps outside the allowed ledger set are skipped")

	plan, err = coll.FundingPlan(ctx, 0)
	require.NoError(t, err)
	execs, err = plan.Execute(ctx, []uuid.UUID{plan.Steps[0].ReceivingLedger.ID}, now, uuid.Nil)
	require.NoError(t, err)
	require.Empty(t, execs, "zero-amount steps produce no book transactions")
}

func TestSubdivideTriggerRetiresOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tr := f.trigger(t, Trigger{
		Label:                    "Season",
		MatchMultiplier:          1,
		MaximumCumulativeSubsidy: 900,
		ActiveAt:                 now.Add(-time.Hour),
		ActiveUntil:              now.Add(3 * time.Hour),
	})

	subs, err := f.svc.SubdivideTrigger(ctx, tr.ID, 2, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	active, err := f.store.ActiveAt(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1, "only the first slice is active; the original is retired")
	require.Equal(t, subs[0].ID, active[0].ID)

	_, err = f.svc.SubdivideTrigger(ctx, uuid.New(), 2, time.Hour)
	require.ErrorIs(t, err, ErrNotFound)
}
