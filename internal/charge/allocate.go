package charge

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// Allocate splits amount across the account's ledgers that can purchase a
// service with the given categories. Ledgers with the most specific matching
// category contribute first (ties broken by creation order), the cash ledger
// goes last, and anything left over becomes the remainder. Every considered
// ledger appears in the result even for a zero amount, so callers get a
// uniform list of affected ledgers.
//
// Amounts are integer minor currency units; no rounding happens here.
func Allocate(ctx context.Context, svc *ledger.Service, cctx *Context, account ledger.Account, serviceCats []category.Category, amount int64) (*Collection, error) {
	if amount < 0 {
		return nil, payment.Preconditionf("cannot allocate a negative amount (%d)", amount)
	}
	cash, err := svc.MustCashLedger(ctx, account)
	if err != nil {
		return nil, err
	}
	cashCat, err := category.Cash(ctx, svc.Categories())
	if err != nil {
		return nil, err
	}
	result := NewEmptyCollection(cash, cashCat, cctx.ApplyAt())

	ledgers, err := svc.Store().LedgersForAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		contrib *Contribution
		depth   int
	}
	var candidates []candidate
	for i := range ledgers {
		led := ledgers[i]
		if len(led.CategoryIDs) == 0 {
			// Receivable-only ledger; cannot purchase.
			continue
		}
		match, ok, err := svc.CategoryUsedToPurchase(ctx, led, serviceCats)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cat := match.Category
		if led.ID == cash.ID {
			result.Cash.Category = &cat
			continue
		}
		candidates = append(candidates, candidate{
			contrib: &Contribution{Ledger: &led, Category: &cat, ApplyAt: cctx.ApplyAt()},
			depth:   match.Depth,
		})
	}
	// Most specific category first; creation order is preserved on ties.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].depth > candidates[j].depth })

	remaining := amount
	walk := make([]*Contribution, 0, len(candidates)+1)
	for _, c := range candidates {
		walk = append(walk, c.contrib)
	}
	walk = append(walk, result.Cash)
	for _, contrib := range walk {
		balance, err := cctx.Balance(ctx, svc.Store(), contrib.Ledger.ID)
		if err != nil {
			return nil, err
		}
		take := balance
		if take < 0 {
			take = 0
		}
		if take > remaining {
			take = remaining
		}
		contrib.Amount = take
		if contrib != result.Cash {
			result.Rest = append(result.Rest, contrib)
		}
		remaining -= take
		cctx = cctx.ApplyDebits(Adjustment{LedgerID: contrib.Ledger.ID, Amount: take})
	}
	if remaining < 0 {
		return nil, fmt.Errorf("allocation produced a negative remainder: %d", remaining)
	}
	result.Remainder.Amount = remaining
	return result, nil
}

// DebitContributions turns debitable contributions into committed book
// transactions from each contributing ledger to the platform's ledger for the
// contribution's category. This is the only place contributions become
// durable.
func DebitContributions(ctx context.Context, svc *ledger.Service, contribs []*Contribution, memo string, actorID uuid.UUID) ([]ledger.BookTransaction, error) {
	out := make([]ledger.BookTransaction, 0, len(contribs))
	for _, c := range contribs {
		if !c.Debitable() {
			continue
		}
		if c.Category == nil {
			return nil, payment.Preconditionf("contribution for ledger %s has no category", c.Ledger.ID)
		}
		receiving, err := svc.LookupPlatformCategoryLedger(ctx, *c.Category)
		if err != nil {
			return nil, err
		}
		bt, err := svc.Store().CreateBookTransaction(ctx, ledger.BookTransaction{
			ApplyAt:             c.ApplyAt,
			OriginatingLedgerID: c.Ledger.ID,
			ReceivingLedgerID:   receiving.ID,
			Amount:              c.Amount,
			Currency:            c.Ledger.Currency,
			CategoryID:          c.Category.ID,
			Memo:                memo,
			ActorID:             actorID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, nil
}
