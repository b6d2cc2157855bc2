package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/money"
)

var (
	// ErrEmptySelection is returned when a user places an order with no
	// selected cart lines.
	ErrEmptySelection = errors.New("no selected cart lines to order")
	// ErrNumberConflict is returned when the generated order number collides
	// with an existing one. Placing the order again is safe.
	ErrNumberConflict = errors.New("order number conflict")
	// ErrCartChanged is returned when fewer cart lines were retired than were
	// read into the order.
	ErrCartChanged = errors.New("cart changed during placement")
	// ErrNotFound is returned when no order matches the identifier.
	ErrNotFound = errors.New("order not found")
)

// Order is an immutable record of a placed cart. Only the status and payment
// fields change after creation.
type Order struct {
	ID uuid.UUID
	// UserID is nil once the owning user has been deleted.
	UserID      *uuid.UUID
	Number      string
	Status      Status
	Total       money.Money
	Currency    currency.Unit
	Shipping    Shipping
	PaymentTime *time.Time
	PaymentType *PaymentType
	Lines       []Line
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Line is a price and name snapshot of one ordered catalog item.
type Line struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	// ItemID is nil once the catalog item has been deleted.
	ItemID    *uuid.UUID
	ItemName  string
	UnitPrice money.Money
	Quantity  int
	Total     money.Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deleted identifies a removed order.
type Deleted struct {
	ID     uuid.UUID
	Number string
}

// Tx is the set of operations available inside one placement or status
// update transaction. SelectedEntries locks the returned cart lines until the
// transaction ends.
type Tx interface {
	cart.Reader
	InsertOrder(ctx context.Context, o *Order) error
	InsertLines(ctx context.Context, lines []Line) error
	RemoveCartLines(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
}

// Transactor runs fn as one atomic unit of work. The transaction commits only
// when fn returns nil; any error, panic or context cancellation rolls it back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository defines persistence operations for orders.
type Repository interface {
	Transactor
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	Delete(ctx context.Context, id uuid.UUID) (*Deleted, error)
}

// inTx runs fn in a transaction and returns its result only after commit.
func inTx[T any](ctx context.Context, t Transactor, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := t.InTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
