// Package cart models a user's pending selection of catalog items and the
// snapshot of it that an order is formed from.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/softdelete"
)

var (
	// ErrStaleReference is matched by StaleReferenceError: a selected line
	// points at a catalog item that is missing or soft-deleted.
	ErrStaleReference = errors.New("cart references unavailable item")
	// ErrInvalidQuantity is returned when adding a line with quantity below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// StaleReferenceError identifies the cart line whose catalog item is gone.
type StaleReferenceError struct {
	LineID uuid.UUID
	ItemID uuid.UUID
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("cart line %s references unavailable item %s", e.LineID, e.ItemID)
}

// Is makes errors.Is(err, ErrStaleReference) match.
func (e *StaleReferenceError) Is(target error) bool {
	return target == ErrStaleReference
}

// Line is a single catalog item plus quantity held in a user's cart.
type Line struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ItemID    uuid.UUID
	Quantity  int
	Selected  bool
	State     softdelete.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is a cart line joined with its catalog item. Item is nil when the
// referenced row no longer exists.
type Entry struct {
	Line Line
	Item *catalog.Item
}

// Available reports whether the line's item can still be ordered.
func (e Entry) Available() bool {
	return e.Item.Available()
}

// Reader loads the selected, non-deleted lines of a user ordered by creation
// time, joined with their catalog items.
type Reader interface {
	SelectedEntries(ctx context.Context, userID uuid.UUID) ([]Entry, error)
}

// Repository defines the cart operations used around order placement.
type Repository interface {
	Reader
	SetSelected(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, selected bool) (int64, error)
	Add(ctx context.Context, userID, itemID uuid.UUID, quantity int, selected bool) (*Line, error)
}
