package main

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeItems(t *testing.T) {
	items, err := fakeItems(gofakeit.New(42), 50)
	require.NoError(t, err)
	require.Len(t, items, 50)

	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		require.NotEqual(t, uuid.Nil, it.ID)
		seen[it.ID] = struct{}{}
		assert.NotEmpty(t, it.Name)
		assert.Contains(t, categories, it.Category)
		assert.False(t, it.Price.IsNegative())
		assert.True(t, it.Discount.LessThan(decimal.NewFromInt(1)))
	}
	assert.Len(t, seen, len(items))

	again, err := fakeItems(gofakeit.New(42), 50)
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, again[0].ID)
}
