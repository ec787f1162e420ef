package charge

import (
	"context"
	"time"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/payment"
	"github.com/makala-pay/makala_pay/internal/trigger"
)

// FindIdealCashContribution finds the smallest cash funding that, combined
// with the subsidies the gathered triggers would match against it, covers a
// purchase of amount with no remainder and no unused cash. It answers "how
// much should we actually charge the member's card for this order".
//
// The search simulates allocations in hypothetical contexts; nothing is
// persisted (trigger receiving ledgers may be created as a side effect of
// planning). The member's cash ledger must hold a zero balance, since a
// nonzero balance makes "cash charged equals cash used" unanswerable.
//
// Cash needed shrinks as the candidate funding (and its matched subsidy)
// grows, so a bisection converges; the search gives up after 100 probes.
func FindIdealCashContribution(ctx context.Context, svc *ledger.Service, triggers *trigger.Collection, account ledger.Account, serviceCats []category.Category, amount int64, applyAt time.Time) (*Collection, error) {
	if amount < 0 {
		return nil, payment.Preconditionf("cannot find an ideal contribution for a negative amount (%d)", amount)
	}
	cash, err := svc.MustCashLedger(ctx, account)
	if err != nil {
		return nil, err
	}
	balance, err := svc.Store().Balance(ctx, cash.ID)
	if err != nil {
		return nil, err
	}
	if balance != 0 {
		return nil, payment.Preconditionf("cash ledger %s must have a zero balance, has %s",
			cash.ID, payment.FormatAmount(balance, cash.Currency))
	}

	probe := func(candidate int64) (*Collection, bool, error) {
		cctx := NewContext(applyAt).ApplyCredits(Adjustment{LedgerID: cash.ID, Amount: candidate})
		plan, err := triggers.FundingPlan(ctx, candidate)
		if err != nil {
			return nil, false, err
		}
		for _, step := range plan.Steps {
			if step.Amount <= 0 {
				continue
			}
			cctx = cctx.ApplyCredits(Adjustment{
				LedgerID:  step.ReceivingLedger.ID,
				Amount:    step.Amount,
				TriggerID: step.Trigger.ID,
			})
		}
		col, err := Allocate(ctx, svc, cctx, account, serviceCats, amount)
		if err != nil {
			return nil, false, err
		}
		return col, !col.HasRemainder() && col.Cash.Amount == candidate, nil
	}

	lo, hi := int64(0), amount
	var best *Collection
	for i := 0; i < 100 && lo <= hi; i++ {
		mid := lo + (hi-lo)/2
		col, ok, err := probe(mid)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			best = col
			hi = mid - 1
		case col.HasRemainder():
			// Not enough cash even with its matched subsidy.
			lo = mid + 1
		default:
			// Cash went unused; candidate is too high.
			hi = mid - 1
		}
	}
	if best == nil {
		return nil, payment.Preconditionf("no cash contribution between 0 and %s exactly covers the charge",
			payment.FormatAmount(amount, svc.Currency()))
	}
	return best, nil
}
