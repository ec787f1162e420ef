package charge

import (
	"fmt"
	"time"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/ledger"
)

// Contribution is the planned portion of a purchase amount assigned to one
// ledger. The remainder contribution has a nil Ledger.
type Contribution struct {
	Ledger   *ledger.Ledger
	Category *category.Category
	Amount   int64
	ApplyAt  time.Time
}

// Debitable reports whether the contribution can become a real book
// transaction: it has a ledger and a positive amount.
func (c *Contribution) Debitable() bool {
	return c != nil && c.Ledger != nil && c.Amount > 0
}

func (c *Contribution) clone() *Contribution {
	dup := *c
	return &dup
}

// Collection is the full allocation plan for one charge: the cash ledger's
// contribution, the non-cash contributions, and the uncovered remainder.
type Collection struct {
	Cash      *Contribution
	Rest      []*Contribution
	Remainder *Contribution
}

// NewEmptyCollection builds a zero-amount collection for the given cash
// ledger.
func NewEmptyCollection(cash ledger.Ledger, cashCat category.Category, applyAt time.Time) *Collection {
	return &Collection{
		Cash:      &Contribution{Ledger: &cash, Category: &cashCat, ApplyAt: applyAt},
		Remainder: &Contribution{ApplyAt: applyAt},
	}
}

// All yields cash, then the rest, then the remainder.
func (col *Collection) All() []*Contribution {
	out := make([]*Contribution, 0, len(col.Rest)+2)
	out = append(out, col.Cash)
	out = append(out, col.Rest...)
	out = append(out, col.Remainder)
	return out
}

// Total returns the sum over cash, rest and remainder; it always equals the
// original charge amount.
func (col *Collection) Total() int64 {
	var total int64
	for _, c := range col.All() {
		total += c.Amount
	}
	return total
}

// HasRemainder reports whether part of the charge is uncovered.
func (col *Collection) HasRemainder() bool {
	return col.Remainder.Amount > 0
}

// Debitable returns the contributions that can be charged.
func (col *Collection) Debitable() []*Contribution {
	var out []*Contribution
	for _, c := range col.All() {
		if c.Debitable() {
			out = append(out, c)
		}
	}
	return out
}

// DebitableOr returns the debitable contributions, or a single zero-amount
// contribution against the fallback ledger when nothing is debitable. This
// lets callers always record which ledger a (possibly free) purchase touched.
func (col *Collection) DebitableOr(fallback ledger.Ledger, cat category.Category) []*Contribution {
	if d := col.Debitable(); len(d) > 0 {
		return d
	}
	return []*Contribution{{Ledger: &fallback, Category: &cat, ApplyAt: col.Cash.ApplyAt}}
}

// Consolidate merges collections from multiple purchases. Cash and remainder
// amounts are summed; rest contributions are summed per (ledger, category)
// pair. Consolidation is inherently lossy about categories when one ledger
// serves several: each merged rest entry keeps the category of its first
// occurrence.
func Consolidate(collections []*Collection) (*Collection, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("collections cannot be empty")
	}
	first := collections[0]
	result := &Collection{
		Cash:      first.Cash.clone(),
		Remainder: first.Remainder.clone(),
		Rest:      make([]*Contribution, 0, len(first.Rest)),
	}
	for _, c := range first.Rest {
		result.Rest = append(result.Rest, c.clone())
	}
	for _, col := range collections[1:] {
		result.Cash.Amount += col.Cash.Amount
		result.Remainder.Amount += col.Remainder.Amount
	next:
		for _, c := range col.Rest {
			for _, r := range result.Rest {
				if r.Ledger != nil && c.Ledger != nil && r.Ledger.ID == c.Ledger.ID &&
					sameCategory(r.Category, c.Category) {
					r.Amount += c.Amount
					continue next
				}
			}
			result.Rest = append(result.Rest, c.clone())
		}
	}
	return result, nil
}

func sameCategory(a, b *category.Category) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
