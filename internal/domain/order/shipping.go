package order

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

// ErrInvalidShipping is matched by ShippingError.
var ErrInvalidShipping = errors.New("invalid shipping details")

const (
	maxNameLen    = 100
	maxPhoneLen   = 32
	maxAddressLen = 500
)

// Shipping holds the recipient details copied onto an order.
type Shipping struct {
	Name    string
	Phone   string
	Address string
}

// ShippingError names the first offending shipping field.
type ShippingError struct {
	Field  string
	Reason string
}

func (e *ShippingError) Error() string {
	return fmt.Sprintf("shipping %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidShipping) match.
func (e *ShippingError) Is(target error) bool { return target == ErrInvalidShipping }

// Normalize trims surrounding whitespace from every field.
func (s Shipping) Normalize() Shipping {
	return Shipping{
		Name:    strings.TrimSpace(s.Name),
		Phone:   strings.TrimSpace(s.Phone),
		Address: strings.TrimSpace(s.Address),
	}
}

// Validate checks that all fields are present and within length limits.
func (s Shipping) Validate() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"name", s.Name, maxNameLen},
		{"phone", s.Phone, maxPhoneLen},
		{"address", s.Address, maxAddressLen},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ShippingError{Field: f.name, Reason: "is required"}
		}
		if utf8.RuneCountInString(f.value) > f.max {
			return &ShippingError{Field: f.name, Reason: fmt.Sprintf("exceeds %d characters", f.max)}
		}
	}
	if strings.IndexFunc(s.Phone, func(r rune) bool {
		return !strings.ContainsRune("0123456789+-() ", r)
	}) >= 0 {
		return &ShippingError{Field: "phone", Reason: "contains invalid characters"}
	}
	return nil
}
