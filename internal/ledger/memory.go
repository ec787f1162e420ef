package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	ledgers  map[uuid.UUID]Ledger
	// ledgerOrder preserves creation order per account.
	ledgerOrder map[uuid.UUID][]uuid.UUID
	books       map[uuid.UUID]BookTransaction
	bookOrder   []uuid.UUID
	byOpaque    map[string]uuid.UUID
}

// NewMemoryStore creates a concurrency-safe in-memory ledger store useful for
// unit tests.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts:    make(map[uuid.UUID]Account),
		ledgers:     make(map[uuid.UUID]Ledger),
		ledgerOrder: make(map[uuid.UUID][]uuid.UUID),
		books:       make(map[uuid.UUID]BookTransaction),
		byOpaque:    make(map[string]uuid.UUID),
	}
}

func (s *memoryStore) CreateAccount(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !a.validOwner() {
		return Account{}, ErrConflict
	}
	for _, existing := range s.accounts {
		if a.IsPlatformAccount && existing.IsPlatformAccount {
			return Account{}, ErrConflict
		}
		if a.MemberID != uuid.Nil && existing.MemberID == a.MemberID {
			return Account{}, ErrConflict
		}
		if a.VendorID != uuid.Nil && existing.VendorID == a.VendorID {
			return Account{}, ErrConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *memoryStore) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *memoryStore) FindPlatformAccount(_ context.Context) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.IsPlatformAccount {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

func (s *memoryStore) FindAccountForMember(_ context.Context, memberID uuid.UUID) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.MemberID == memberID && memberID != uuid.Nil {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

func (s *memoryStore) FindAccountForVendor(_ context.Context, vendorID uuid.UUID) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.VendorID == vendorID && vendorID != uuid.Nil {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

func (s *memoryStore) CreateLedger(_ context.Context, l Ledger) (Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[l.AccountID]; !ok {
		return Ledger{}, ErrNotFound
	}
	for _, id := range s.ledgerOrder[l.AccountID] {
		if s.ledgers[id].Name == l.Name {
			return Ledger{}, ErrConflict
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.ledgers[l.ID] = l
	s.ledgerOrder[l.AccountID] = append(s.ledgerOrder[l.AccountID], l.ID)
	return l, nil
}

func (s *memoryStore) GetLedger(_ context.Context, id uuid.UUID) (Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[id]
	if !ok {
		return Ledger{}, ErrNotFound
	}
	return l, nil
}

func (s *memoryStore) LedgersForAccount(_ context.Context, accountID uuid.UUID) ([]Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.ledgerOrder[accountID]
	out := make([]Ledger, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.ledgers[id])
	}
	return out, nil
}

func (s *memoryStore) CreateBookTransaction(_ context.Context, bt BookTransaction) (BookTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bt.OpaqueID == "" {
		bt.OpaqueID = NewOpaqueID()
	}
	if existingID, ok := s.byOpaque[bt.OpaqueID]; ok {
		return s.books[existingID], ErrDuplicateTransaction
	}
	originating, ok := s.ledgers[bt.OriginatingLedgerID]
	if !ok {
		return BookTransaction{}, ErrNotFound
	}
	receiving, ok := s.ledgers[bt.ReceivingLedgerID]
	if !ok {
		return BookTransaction{}, ErrNotFound
	}
	if err := validateBookTransaction(bt, originating, receiving); err != nil {
		return BookTransaction{}, err
	}
	if bt.ID == uuid.Nil {
		bt.ID = uuid.New()
	}
	if bt.CreatedAt.IsZero() {
		bt.CreatedAt = time.Now().UTC()
	}
	s.books[bt.ID] = bt
	s.bookOrder = append(s.bookOrder, bt.ID)
	s.byOpaque[bt.OpaqueID] = bt.ID
	return bt, nil
}

func (s *memoryStore) GetBookTransaction(_ context.Context, id uuid.UUID) (BookTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bt, ok := s.books[id]
	if !ok {
		return BookTransaction{}, ErrNotFound
	}
	return bt, nil
}

func (s *memoryStore) Balance(_ context.Context, ledgerID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(ledgerID, time.Time{}), nil
}

func (s *memoryStore) BalanceAsOf(_ context.Context, ledgerID uuid.UUID, t time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(ledgerID, t), nil
}

func (s *memoryStore) balanceLocked(ledgerID uuid.UUID, cutoff time.Time) int64 {
	var balance int64
	for _, id := range s.bookOrder {
		bt := s.books[id]
		if !cutoff.IsZero() && bt.ApplyAt.After(cutoff) {
			continue
		}
		if bt.ReceivingLedgerID == ledgerID {
			balance += bt.Amount
		}
		if bt.OriginatingLedgerID == ledgerID {
			balance -= bt.Amount
		}
	}
	return balance
}

func (s *memoryStore) CombinedBookTransactions(_ context.Context, ledgerID uuid.UUID) ([]BookTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BookTransaction
	for _, id := range s.bookOrder {
		bt := s.books[id]
		if bt.ReceivingLedgerID == ledgerID || bt.OriginatingLedgerID == ledgerID {
			out = append(out, bt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ApplyAt.Equal(out[j].ApplyAt) {
			return out[i].ApplyAt.After(out[j].ApplyAt)
		}
		iOrig := out[i].OriginatingLedgerID == ledgerID
		jOrig := out[j].OriginatingLedgerID == ledgerID
		return iOrig && !jOrig
	})
	return out, nil
}
