package category

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := FindOrCreate(ctx, store, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	second, err := FindOrCreate(ctx, store, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = store.Create(ctx, Category{ID: uuid.New(), Slug: "food", Name: "Duplicate"})
	require.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestChainIsDepthFirstAndSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	food, err := FindOrCreate(ctx, store, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	_, err = FindOrCreate(ctx, store, "produce", "Produce", food.ID)
	require.NoError(t, err)
	grocery, err := FindOrCreate(ctx, store, "grocery", "Grocery", food.ID)
	require.NoError(t, err)
	organic, err := FindOrCreate(ctx, store, "organic", "Organic", grocery.ID)
	require.NoError(t, err)

	chain, err := Chain(ctx, store, food)
	require.NoError(t, err)
	slugs := make([]string, 0, len(chain))
	for _, c := range chain {
		slugs = append(slugs, c.Slug)
	}
	require.Equal(t, []string{"food", "grocery", "organic", "produce"}, slugs)

	leaf, err := Chain(ctx, store, organic)
	require.NoError(t, err)
	require.Len(t, leaf, 1)
}

func TestDepthCountsAncestors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	food, err := FindOrCreate(ctx, store, "food", "Food", uuid.Nil)
	require.NoError(t, err)
	grocery, err := FindOrCreate(ctx, store, "grocery", "Grocery", food.ID)
	require.NoError(t, err)
	organic, err := FindOrCreate(ctx, store, "organic", "Organic", grocery.ID)
	require.NoError(t, err)

	for want, c := range map[int]Category{0: food, 1: grocery, 2: organic} {
		depth, err := Depth(ctx, store, c)
		require.NoError(t, err)
		require.Equal(t, want, depth)
	}
}

func TestCashCreatesWellKnownCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cash, err := Cash(ctx, store)
	require.NoError(t, err)
	require.Equal(t, CashSlug, cash.Slug)

	again, err := Cash(ctx, store)
	require.NoError(t, err)
	require.Equal(t, cash.ID, again.ID)
}
