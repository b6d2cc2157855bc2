// Package catalog holds the read model of purchasable catalog items.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/softdelete"
	"github.com/xenking/kart-orders/internal/money"
)

// ErrNotFound is returned when a requested item does not exist or is deleted.
var ErrNotFound = errors.New("catalog item not found")

// Item is a catalog entry that can be placed in a cart.
type Item struct {
	ID    uuid.UUID
	Name  string
	Price money.Money
	// Discount is a fraction in [0, 1) taken off Price.
	Discount  decimal.Decimal
	Category  string
	State     softdelete.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available reports whether the item may be priced into a new order.
func (i *Item) Available() bool {
	return i != nil && i.State.IsActive()
}

// Repository defines catalog access. Reads exclude soft-deleted items.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Item, error)
	Upsert(ctx context.Context, item Item) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
