package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu       sync.RWMutex
	triggers map[uuid.UUID]Trigger
	order    []uuid.UUID
	execs    []Execution
}

// NewMemoryStore returns an in-memory Store for tests and local development.
func NewMemoryStore() Store {
	return &memoryStore{triggers: make(map[uuid.UUID]Trigger)}
}

func (s *memoryStore) Create(_ context.Context, t Trigger) (Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.triggers[t.ID] = t
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[id]
	if !ok {
		return Trigger{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) Update(_ context.Context, t Trigger) (Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return Trigger{}, ErrNotFound
	}
	s.triggers[t.ID] = t
	return t, nil
}

func (s *memoryStore) ActiveAt(_ context.Context, at time.Time) ([]Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trigger
	for _, id := range s.order {
		if t := s.triggers[id]; t.ActiveDuring(at) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateExecution(_ context.Context, e Execution) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.execs = append(s.execs, e)
	return e, nil
}

func (s *memoryStore) ExecutedAmount(_ context.Context, triggerID uuid.UUID, ledgerIDs []uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[uuid.UUID]bool, len(ledgerIDs))
	for _, id := range ledgerIDs {
		wanted[id] = true
	}
	var total int64
	for _, e := range s.execs {
		if e.TriggerID == triggerID && wanted[e.ReceivingLedgerID] {
			total += e.Amount
		}
	}
	return total, nil
}
