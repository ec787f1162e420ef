// Package charge plans how a purchase amount is split across a member's
// ledgers: most specific category match first, cash ledger as fallback, any
// shortfall surfaced as an uncovered remainder for the caller to fund.
package charge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BalanceReader supplies as-of ledger balances; ledger.Store satisfies it.
type BalanceReader interface {
	BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, t time.Time) (int64, error)
}

// Adjustment is a hypothetical credit or debit applied to a ledger inside a
// Context. TriggerID is set when the adjustment comes from a subsidy trigger
// plan.
type Adjustment struct {
	LedgerID  uuid.UUID
	Amount    int64
	TriggerID uuid.UUID
}

type signedAdjustment struct {
	Adjustment
	delta int64
}

// Context is an immutable simulated-balance snapshot: a base timestamp plus
// hypothetical adjustments per ledger. Mutators return a new Context and
// leave the receiver untouched, so running the same allocation twice against
// one context stays idempotent.
type Context struct {
	applyAt     time.Time
	adjustments map[uuid.UUID][]signedAdjustment
	computed    map[uuid.UUID]int64
}

// NewContext creates an adjustment-free context anchored at applyAt.
func NewContext(applyAt time.Time) *Context {
	return &Context{applyAt: applyAt}
}

// ApplyAt returns the context's base timestamp.
func (c *Context) ApplyAt() time.Time { return c.applyAt }

// Balance returns the ledger's real balance as of the context timestamp plus
// the context's adjustments for that ledger.
func (c *Context) Balance(ctx context.Context, balances BalanceReader, ledgerID uuid.UUID) (int64, error) {
	balance, err := balances.BalanceAsOf(ctx, ledgerID, c.applyAt)
	if err != nil {
		return 0, err
	}
	return balance + c.computed[ledgerID], nil
}

// AdjustmentsFor returns the adjustments recorded against a ledger.
func (c *Context) AdjustmentsFor(ledgerID uuid.UUID) []Adjustment {
	signed := c.adjustments[ledgerID]
	out := make([]Adjustment, 0, len(signed))
	for _, a := range signed {
		out = append(out, a.Adjustment)
	}
	return out
}

// ApplyDebits returns a new context where each adjustment amount is taken
// from its ledger's balance.
func (c *Context) ApplyDebits(adjs ...Adjustment) *Context {
	return c.apply(adjs, -1)
}

// ApplyCredits returns a new context where each adjustment amount is added
// to its ledger's balance.
func (c *Context) ApplyCredits(adjs ...Adjustment) *Context {
	return c.apply(adjs, 1)
}

func (c *Context) apply(adjs []Adjustment, sign int64) *Context {
	next := &Context{
		applyAt:     c.applyAt,
		adjustments: make(map[uuid.UUID][]signedAdjustment, len(c.adjustments)+len(adjs)),
		computed:    make(map[uuid.UUID]int64, len(c.computed)+len(adjs)),
	}
	for id, list := range c.adjustments {
		next.adjustments[id] = list
	}
	for id, sum := range c.computed {
		next.computed[id] = sum
	}
	for _, adj := range adjs {
		if adj.LedgerID == uuid.Nil {
			panic("charge: cannot apply an adjustment with no ledger")
		}
		delta := sign * adj.Amount
		// Copy-on-write: never mutate a slice shared with the parent.
		list := next.adjustments[adj.LedgerID]
		copied := make([]signedAdjustment, len(list), len(list)+1)
		copy(copied, list)
		next.adjustments[adj.LedgerID] = append(copied, signedAdjustment{Adjustment: adj, delta: delta})
		next.computed[adj.LedgerID] += delta
	}
	return next
}
