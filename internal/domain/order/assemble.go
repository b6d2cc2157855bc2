package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/pricing"
)

// AssembleParams carries everything needed to build a pending order.
type AssembleParams struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Number   string
	Shipping Shipping
	Currency currency.Unit
	Snapshot cart.Snapshot
	// Priced must hold one line per snapshot entry, in the same order.
	Priced pricing.Result
	Now    time.Time
}

// PricingInputs converts a snapshot into pricing inputs, one per entry.
func PricingInputs(snap cart.Snapshot) []pricing.Input {
	inputs := make([]pricing.Input, len(snap.Entries))
	for i, e := range snap.Entries {
		inputs[i] = pricing.Input{
			Ref:       e.Line.ID.String(),
			Quantity:  e.Line.Quantity,
			UnitPrice: e.Item.Price,
			Discount:  e.Item.Discount,
		}
	}
	return inputs
}

// Assemble builds a pending order whose lines copy the item name and the
// discounted unit price at this moment. Later catalog edits do not affect it.
func Assemble(p AssembleParams) (*Order, error) {
	if len(p.Priced.Lines) != len(p.Snapshot.Entries) {
		return nil, errors.Errorf("priced %d lines for %d cart entries", len(p.Priced.Lines), len(p.Snapshot.Entries))
	}

	userID := p.UserID
	o := &Order{
		ID:        p.ID,
		UserID:    &userID,
		Number:    p.Number,
		Status:    StatusPending,
		Total:     p.Priced.Total,
		Currency:  p.Currency,
		Shipping:  p.Shipping,
		Lines:     make([]Line, len(p.Snapshot.Entries)),
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
	}

	for i, e := range p.Snapshot.Entries {
		priced := p.Priced.Lines[i]
		itemID := e.Item.ID
		o.Lines[i] = Line{
			ID:        uuid.New(),
			OrderID:   o.ID,
			ItemID:    &itemID,
			ItemName:  e.Item.Name,
			UnitPrice: priced.UnitPriceAfterDiscount,
			Quantity:  priced.Quantity,
			Total:     priced.Total,
			CreatedAt: p.Now,
			UpdatedAt: p.Now,
		}
	}

	return o, nil
}
