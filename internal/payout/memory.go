package payout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makala-pay/makala_pay/internal/payment"
)

type memoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Transaction
	order  []uuid.UUID
	audits map[uuid.UUID][]payment.AuditLog
}

// NewMemoryStore returns an in-memory Store for tests and local development.
func NewMemoryStore() Store {
	return &memoryStore{
		byID:   make(map[uuid.UUID]Transaction),
		audits: make(map[uuid.UUID][]payment.AuditLog),
	}
}

func (s *memoryStore) Create(_ context.Context, t Transaction) (Transaction, error) {
	if t.Classification() == ClassUnknown {
		return Transaction{}, ErrUnknownClassification
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.byID[t.ID] = t
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) Update(_ context.Context, t Transaction) (Transaction, error) {
	if t.Classification() == ClassUnknown {
		return Transaction{}, ErrUnknownClassification
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; !ok {
		return Transaction{}, ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	s.byID[t.ID] = t
	return t, nil
}

func (s *memoryStore) ListForAccount(_ context.Context, accountID uuid.UUID) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, id := range s.order {
		if t := s.byID[id]; t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryStore) ListInStatus(_ context.Context, statuses ...Status) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []Transaction
	for _, id := range s.order {
		if t := s.byID[id]; wanted[t.Status] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryStore) RefundedAmountForFunding(_ context.Context, fundingID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, id := range s.order {
		if t := s.byID[id]; t.RefundedFundingTransactionID == fundingID {
			total += t.Amount
		}
	}
	return total, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, a payment.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.audits[a.TransactionID] = append(s.audits[a.TransactionID], a)
	return nil
}

func (s *memoryStore) Audits(_ context.Context, transactionID uuid.UUID) ([]payment.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payment.AuditLog(nil), s.audits[transactionID]...), nil
}
