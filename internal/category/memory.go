package category

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Category
	bySlug map[string]uuid.UUID
}

// NewMemoryStore creates a concurrency-safe in-memory category store useful
// for unit tests.
func NewMemoryStore() Store {
	return &memoryStore{
		byID:   make(map[uuid.UUID]Category),
		bySlug: make(map[string]uuid.UUID),
	}
}

func (s *memoryStore) Create(_ context.Context, c Category) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySlug[c.Slug]; exists {
		return Category{}, ErrDuplicateSlug
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.byID[c.ID] = c
	s.bySlug[c.Slug] = c.ID
	return c, nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) BySlug(_ context.Context, slug string) (Category, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySlug[slug]
	if !ok {
		return Category{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *memoryStore) Children(_ context.Context, id uuid.UUID) ([]Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Category
	for _, c := range s.byID {
		if c.ParentID == id {
			out = append(out, c)
		}
	}
	return out, nil
}
