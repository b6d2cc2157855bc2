package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// PaymentType enumerates accepted payment methods.
type PaymentType string

const (
	PaymentAlipay PaymentType = "alipay"
	PaymentWechat PaymentType = "wechat"
	PaymentCard   PaymentType = "card"
)

var (
	// ErrInvalidStatus is returned for values outside the Status enumeration.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidPaymentType is returned for values outside the PaymentType enumeration.
	ErrInvalidPaymentType = errors.New("invalid payment type")
	// ErrPaymentTypeRequired is returned when settling an order without a payment type.
	ErrPaymentTypeRequired = errors.New("payment type required to settle order")
	// ErrPaymentTypeNotAllowed is returned when a payment type accompanies a
	// move to a status that is not settled.
	ErrPaymentTypeNotAllowed = errors.New("payment type only accepted when settling order")
	// ErrInvalidTransition is matched by TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusFinished, StatusCancelled},
	StatusPaid:    {StatusFinished, StatusCancelled},
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ParseStatus validates s against the enumeration.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFinished, StatusCancelled:
		return true
	default:
		return false
	}
}

// Settled reports whether the order has been paid for.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusFinished
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// ParsePaymentType validates s against the enumeration.
func ParsePaymentType(s string) (PaymentType, error) {
	pt := PaymentType(s)
	if !pt.Valid() {
		return "", errors.Wrapf(ErrInvalidPaymentType, "%q", s)
	}
	return pt, nil
}

// Valid reports whether p is a known payment type.
func (p PaymentType) Valid() bool {
	switch p {
	case PaymentAlipay, PaymentWechat, PaymentCard:
		return true
	default:
		return false
	}
}

// Transition moves o to next. Entering a settled status requires a payment
// type (given here or recorded earlier) and stamps PaymentTime once. The
// payment type of a settled order cannot be changed, and a payment type is
// rejected for any other target status.
func (o *Order) Transition(next Status, paymentType *PaymentType, now time.Time) error {
	if !next.Valid() {
		return errors.Wrapf(ErrInvalidStatus, "%q", next)
	}
	if paymentType != nil && !paymentType.Valid() {
		return errors.Wrapf(ErrInvalidPaymentType, "%q", *paymentType)
	}
	if !o.Status.CanTransitionTo(next) {
		return &TransitionError{From: o.Status, To: next}
	}
	if paymentType != nil && !next.Settled() {
		return errors.Wrapf(ErrPaymentTypeNotAllowed, "status %s", next)
	}
	if o.Status.Settled() && paymentType != nil && o.PaymentType != nil && *o.PaymentType != *paymentType {
		return &TransitionError{From: o.Status, To: next}
	}

	if paymentType != nil {
		pt := *paymentType
		o.PaymentType = &pt
	}
	if next.Settled() {
		if o.PaymentType == nil {
			return ErrPaymentTypeRequired
		}
		if o.PaymentTime == nil {
			t := now
			o.PaymentTime = &t
		}
	}

	o.Status = next
	o.UpdatedAt = now
	return nil
}
