// Package pricing computes discounted line and order totals. It performs no I/O.
//
// Each line is priced as
//
//	unit  = round(price × (1 − discount))   // the only rounding step
//	total = unit × quantity                 // exact
//
// and the order total is the exact sum of line totals.
package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/money"
)

var (
	// ErrInvalidQuantity is matched by InvalidQuantityError.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrInvalidDiscount is matched by InvalidDiscountError.
	ErrInvalidDiscount = errors.New("discount must be in [0, 1)")

	one = decimal.NewFromInt(1)
)

// InvalidQuantityError reports a line with a quantity below 1.
type InvalidQuantityError struct {
	Ref      string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("line %s: quantity %d must be at least 1", e.Ref, e.Quantity)
}

// Is makes errors.Is(err, ErrInvalidQuantity) match.
func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

// InvalidDiscountError reports a discount fraction outside [0, 1).
type InvalidDiscountError struct {
	Ref      string
	Discount decimal.Decimal
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("line %s: discount %s must be in [0, 1)", e.Ref, e.Discount)
}

// Is makes errors.Is(err, ErrInvalidDiscount) match.
func (e *InvalidDiscountError) Is(target error) bool { return target == ErrInvalidDiscount }

// Input is one cart line to price.
type Input struct {
	// Ref identifies the line in errors, typically the cart line ID.
	Ref       string
	Quantity  int
	UnitPrice money.Money
	Discount  decimal.Decimal
}

// Line is a priced input.
type Line struct {
	Input
	UnitPriceAfterDiscount money.Money
	Total                  money.Money
}

// Result holds priced lines in input order and their sum.
type Result struct {
	Lines []Line
	Total money.Money
}

// Price prices every input. It fails on the first invalid line.
func Price(inputs []Input) (Result, error) {
	lines := make([]Line, 0, len(inputs))
	total := money.Zero

	for _, in := range inputs {
		l, err := PriceLine(in)
		if err != nil {
			return Result{}, err
		}
		lines = append(lines, l)
		total = total.Add(l.Total)
	}

	return Result{Lines: lines, Total: total}, nil
}

// PriceLine prices a single input.
func PriceLine(in Input) (Line, error) {
	if in.Quantity < 1 {
		return Line{}, &InvalidQuantityError{Ref: in.Ref, Quantity: in.Quantity}
	}
	if in.Discount.IsNegative() || in.Discount.GreaterThanOrEqual(one) {
		return Line{}, &InvalidDiscountError{Ref: in.Ref, Discount: in.Discount}
	}

	unit := in.UnitPrice.Discounted(in.Discount)
	return Line{
		Input:                  in,
		UnitPriceAfterDiscount: unit,
		Total:                  unit.MulQty(in.Quantity),
	}, nil
}
