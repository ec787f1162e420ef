package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/payment"
)

// CashLedgerName is the display name of every account's cash ledger.
const CashLedgerName = "Cash"

// Service exposes account and ledger operations on top of a Store and the
// category taxonomy.
type Service struct {
	store    Store
	cats     category.Store
	currency string
}

// NewService builds a ledger service. currency is the platform default
// currency for created ledgers.
func NewService(store Store, cats category.Store, currency string) *Service {
	return &Service{store: store, cats: cats, currency: currency}
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// Categories returns the backing category store.
func (s *Service) Categories() category.Store { return s.cats }

// Currency returns the platform default currency.
func (s *Service) Currency() string { return s.currency }

// LookupPlatformAccount returns the single platform account, creating it on
// first call. The singleton holds under concurrent callers: creation relies
// on the store's unique constraint, and a conflict falls back to re-reading
// the winner's row.
func (s *Service) LookupPlatformAccount(ctx context.Context) (Account, error) {
	a, ok, err := s.store.FindPlatformAccount(ctx)
	if err != nil {
		return Account{}, err
	}
	if ok {
		return a, nil
	}
	a, err = s.store.CreateAccount(ctx, Account{IsPlatformAccount: true})
	if errors.Is(err, ErrConflict) {
		existing, ok, ferr := s.store.FindPlatformAccount(ctx)
		if ferr != nil {
			return Account{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return a, err
}

// AccountForMember returns the member's payment account, creating it lazily.
func (s *Service) AccountForMember(ctx context.Context, memberID uuid.UUID) (Account, error) {
	a, ok, err := s.store.FindAccountForMember(ctx, memberID)
	if err != nil {
		return Account{}, err
	}
	if ok {
		return a, nil
	}
	a, err = s.store.CreateAccount(ctx, Account{MemberID: memberID})
	if errors.Is(err, ErrConflict) {
		existing, ok, ferr := s.store.FindAccountForMember(ctx, memberID)
		if ferr != nil {
			return Account{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return a, err
}

// AccountForVendor returns the vendor's payment account, creating it lazily.
func (s *Service) AccountForVendor(ctx context.Context, vendorID uuid.UUID) (Account, error) {
	a, ok, err := s.store.FindAccountForVendor(ctx, vendorID)
	if err != nil {
		return Account{}, err
	}
	if ok {
		return a, nil
	}
	a, err = s.store.CreateAccount(ctx, Account{VendorID: vendorID})
	if errors.Is(err, ErrConflict) {
		existing, ok, ferr := s.store.FindAccountForVendor(ctx, vendorID)
		if ferr != nil {
			return Account{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return a, err
}

// CashLedger finds the account's cash ledger: the one tagged with the cash
// category.
func (s *Service) CashLedger(ctx context.Context, account Account) (Ledger, bool, error) {
	cash, ok, err := s.cats.BySlug(ctx, category.CashSlug)
	if err != nil || !ok {
		return Ledger{}, false, err
	}
	ledgers, err := s.store.LedgersForAccount(ctx, account.ID)
	if err != nil {
		return Ledger{}, false, err
	}
	for _, l := range ledgers {
		if l.HasCategory(cash.ID) {
			return l, true, nil
		}
	}
	return Ledger{}, false, nil
}

// EnsureCashLedger returns the account's cash ledger, creating it on first
// need. Repeated and concurrent calls return the same ledger.
func (s *Service) EnsureCashLedger(ctx context.Context, account Account) (Ledger, error) {
	if l, ok, err := s.CashLedger(ctx, account); err != nil {
		return Ledger{}, err
	} else if ok {
		return l, nil
	}
	cash, err := category.Cash(ctx, s.cats)
	if err != nil {
		return Ledger{}, err
	}
	l, err := s.store.CreateLedger(ctx, Ledger{
		AccountID:   account.ID,
		Currency:    s.currency,
		Name:        CashLedgerName,
		CategoryIDs: []uuid.UUID{cash.ID},
	})
	if errors.Is(err, ErrConflict) {
		existing, ok, ferr := s.CashLedger(ctx, account)
		if ferr != nil {
			return Ledger{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return l, err
}

// MustCashLedger is EnsureCashLedger's read-only counterpart; it fails with a
// precondition error when the account has no cash ledger.
func (s *Service) MustCashLedger(ctx context.Context, account Account) (Ledger, error) {
	l, ok, err := s.CashLedger(ctx, account)
	if err != nil {
		return Ledger{}, err
	}
	if !ok {
		return Ledger{}, payment.Preconditionf("payment account %s has no cash ledger", account.ID)
	}
	return l, nil
}

// LookupPlatformCategoryLedger returns-or-creates a ledger on the platform
// account named after the category and tagged with it. Repeated calls for
// the same category return the same ledger.
func (s *Service) LookupPlatformCategoryLedger(ctx context.Context, cat category.Category) (Ledger, error) {
	account, err := s.LookupPlatformAccount(ctx)
	if err != nil {
		return Ledger{}, err
	}
	ledgers, err := s.store.LedgersForAccount(ctx, account.ID)
	if err != nil {
		return Ledger{}, err
	}
	for _, l := range ledgers {
		if l.HasCategory(cat.ID) {
			return l, nil
		}
	}
	l, err := s.store.CreateLedger(ctx, Ledger{
		AccountID:   account.ID,
		Currency:    s.currency,
		Name:        cat.Name,
		CategoryIDs: []uuid.UUID{cat.ID},
	})
	if errors.Is(err, ErrConflict) {
		// Another caller created it between our read and write.
		ledgers, ferr := s.store.LedgersForAccount(ctx, account.ID)
		if ferr != nil {
			return Ledger{}, ferr
		}
		for _, existing := range ledgers {
			if existing.HasCategory(cat.ID) {
				return existing, nil
			}
		}
	}
	return l, err
}

// CategoryMatch describes why a ledger can pay for a service: the ledger
// category whose chain intersected the service's categories, and that
// category's depth in the taxonomy (deeper is more specific).
type CategoryMatch struct {
	Category category.Category
	Depth    int
}

// CategoryUsedToPurchase walks the ledger's categories, most specific first,
// and returns the first whose chain (the category plus all descendants,
// minus any verbatim exclusions) intersects the service's categories. Both
// sides having no categories is a precondition failure: such a ledger or
// service cannot participate in a purchase.
func (s *Service) CategoryUsedToPurchase(ctx context.Context, led Ledger, serviceCats []category.Category, exclude ...category.Category) (CategoryMatch, bool, error) {
	if len(led.CategoryIDs) == 0 {
		return CategoryMatch{}, false, payment.Preconditionf("ledger %s (%s) has no categories and cannot purchase", led.ID, led.Name)
	}
	if len(serviceCats) == 0 {
		return CategoryMatch{}, false, payment.Preconditionf("service has no categories and cannot be purchased")
	}
	excluded := make(map[uuid.UUID]bool, len(exclude))
	for _, e := range exclude {
		excluded[e.ID] = true
	}
	serviceIDs := make(map[uuid.UUID]bool, len(serviceCats))
	for _, c := range serviceCats {
		serviceIDs[c.ID] = true
	}

	matches := make([]CategoryMatch, 0, len(led.CategoryIDs))
	for _, id := range led.CategoryIDs {
		cat, err := s.cats.Get(ctx, id)
		if err != nil {
			return CategoryMatch{}, false, err
		}
		depth, err := category.Depth(ctx, s.cats, cat)
		if err != nil {
			return CategoryMatch{}, false, err
		}
		matches = append(matches, CategoryMatch{Category: cat, Depth: depth})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Depth > matches[j].Depth })

	for _, m := range matches {
		chain, err := category.Chain(ctx, s.cats, m.Category)
		if err != nil {
			return CategoryMatch{}, false, err
		}
		for _, c := range chain {
			if excluded[c.ID] {
				continue
			}
			if serviceIDs[c.ID] {
				return m, true, nil
			}
		}
	}
	return CategoryMatch{}, false, nil
}

// TotalBalance sums the balances of every ledger on the account.
func (s *Service) TotalBalance(ctx context.Context, account Account) (int64, error) {
	ledgers, err := s.store.LedgersForAccount(ctx, account.ID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, l := range ledgers {
		b, err := s.store.Balance(ctx, l.ID)
		if err != nil {
			return 0, err
		}
		total += b
	}
	return total, nil
}

// BalanceAsOf exposes the store's as-of balance for collaborators that only
// hold the service.
func (s *Service) BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, t time.Time) (int64, error) {
	return s.store.BalanceAsOf(ctx, ledgerID, t)
}
