// Package category models the vendor-service category taxonomy: a forest of
// named categories where each node has at most one parent. Ledgers are tagged
// with categories to constrain what they can pay for, and purchases are
// matched against the taxonomy to find the most specific paying ledger.
package category

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// CashSlug is the well-known slug of the cash category. Every account's cash
// ledger is tagged with it.
const CashSlug = "cash"

var (
	// ErrNotFound indicates the requested category does not exist.
	ErrNotFound = errors.New("category not found")

	// ErrDuplicateSlug indicates a category with the given slug already exists.
	ErrDuplicateSlug = errors.New("duplicate category slug")
)

// Category is a node in the vendor-service category forest.
type Category struct {
	ID       uuid.UUID
	Slug     string
	Name     string
	ParentID uuid.UUID // uuid.Nil for roots
}

// Store persists the category forest.
type Store interface {
	Create(ctx context.Context, c Category) (Category, error)
	Get(ctx context.Context, id uuid.UUID) (Category, error)
	BySlug(ctx context.Context, slug string) (Category, bool, error)
	Children(ctx context.Context, id uuid.UUID) ([]Category, error)
}

// FindOrCreate returns the category with the given slug, creating it if absent.
func FindOrCreate(ctx context.Context, store Store, slug, name string, parentID uuid.UUID) (Category, error) {
	if c, ok, err := store.BySlug(ctx, slug); err != nil {
		return Category{}, err
	} else if ok {
		return c, nil
	}
	c, err := store.Create(ctx, Category{ID: uuid.New(), Slug: slug, Name: name, ParentID: parentID})
	if errors.Is(err, ErrDuplicateSlug) {
		// Lost a race; the winner's row is authoritative.
		existing, ok, ferr := store.BySlug(ctx, slug)
		if ferr != nil {
			return Category{}, ferr
		}
		if ok {
			return existing, nil
		}
	}
	return c, err
}

// Cash returns the cash category, creating it on first use.
func Cash(ctx context.Context, store Store) (Category, error) {
	return FindOrCreate(ctx, store, CashSlug, "Cash", uuid.Nil)
}

// Chain returns the category and all of its descendants, depth-first. A ledger
// tagged with a category can purchase services tagged with anything in that
// category's chain.
func Chain(ctx context.Context, store Store, c Category) ([]Category, error) {
	out := []Category{c}
	kids, err := store.Children(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i].Slug < kids[j].Slug })
	for _, kid := range kids {
		sub, err := Chain(ctx, store, kid)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// Depth counts the ancestors above the category; roots have depth 0. Deeper
// categories are more specific and win allocation ordering.
func Depth(ctx context.Context, store Store, c Category) (int, error) {
	depth := 0
	for c.ParentID != uuid.Nil {
		parent, err := store.Get(ctx, c.ParentID)
		if err != nil {
			return 0, err
		}
		c = parent
		depth++
	}
	return depth, nil
}
