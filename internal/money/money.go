// Package money implements a fixed-point currency amount with two fractional
// digits.
//
// Rounding is half-up (away from zero) and happens in exactly one place:
// Discounted. Every other operation is exact at scale 2, so adding amounts or
// multiplying them by an integer quantity never drifts.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Money value.
const Scale = 2

var (
	// ErrPrecision is returned when a value has more fractional digits than Scale.
	ErrPrecision = errors.New("amount exceeds two fractional digits")

	one = decimal.NewFromInt(1)
)

// Zero is the zero amount.
var Zero = Money{amount: decimal.Zero}

// Money is an immutable amount of currency at Scale fractional digits.
type Money struct {
	amount decimal.Decimal
}

// FromDecimal converts d to Money. It fails with ErrPrecision instead of
// silently rounding when d carries more than Scale fractional digits.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Round(Scale)) {
		return Money{}, errors.Wrapf(ErrPrecision, "%s", d)
	}
	return Money{amount: d.Round(Scale)}, nil
}

// Parse parses a decimal string such as "12.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, errors.Wrapf(err, "parse amount %q", s)
	}
	return FromDecimal(d)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromCents returns the amount for an integer number of minor units.
func FromCents(cents int64) Money {
	return Money{amount: decimal.New(cents, -Scale)}
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{amount: m.amount.Add(o.amount)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{amount: m.amount.Sub(o.amount)}
}

// MulQty returns m multiplied by an integer quantity. The result is exact.
func (m Money) MulQty(qty int) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(qty)))}
}

// Discounted returns round(m × (1 − fraction)) at Scale, rounding half-up.
// The fraction is not range checked here.
func (m Money) Discounted(fraction decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(one.Sub(fraction)).Round(Scale)}
}

// Cmp compares m and o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) int {
	return m.amount.Cmp(o.amount)
}

// Equal reports whether m and o represent the same amount.
func (m Money) Equal(o Money) bool {
	return m.amount.Equal(o.amount)
}

// IsZero reports whether m is zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsNegative reports whether m is below zero.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Decimal returns the underlying decimal, e.g. for storage in a NUMERIC column.
func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

// String formats m with exactly Scale fractional digits.
func (m Money) String() string {
	return m.amount.StringFixed(Scale)
}
