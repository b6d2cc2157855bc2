package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/pricing"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// DefaultCurrency is used when no currency option is given.
var DefaultCurrency = currency.MustParseISO("CNY")

// Service places orders from cart selections and manages their lifecycle.
type Service struct {
	orders   Repository
	currency currency.Unit
	now      func() time.Time
	number   func(time.Time) string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	rejected       metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCurrency sets the currency stamped on new orders.
func WithCurrency(u currency.Unit) Option {
	return func(s *Service) { s.currency = u }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNumberGenerator overrides order number generation.
func WithNumberGenerator(gen func(time.Time) string) Option {
	return func(s *Service) { s.number = gen }
}

// NewService creates an order Service.
func NewService(orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		orders:         orders,
		currency:       DefaultCurrency,
		now:            func() time.Time { return time.Now().UTC() },
		number:         NewNumber,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"),
		metric.WithUnit("{order}"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.place.rejected",
		metric.WithDescription("Order placements rolled back"),
		metric.WithUnit("{order}"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.place.rejected counter")
	}

	return s, nil
}

// PlaceOrder converts the user's selected cart lines into a pending order.
//
// Reading the selection, pricing, inserting the order and its lines and
// removing the consumed cart lines happen in one transaction. The selected
// lines stay locked until commit, so a concurrent placement for the same user
// blocks and then observes an empty selection. On any error nothing is
// persisted and the cart is unchanged.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, shipping Shipping) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	o, err := inTx(ctx, s.orders, func(ctx context.Context, tx Tx) (*Order, error) {
		return s.place(ctx, tx, userID, shipping)
	})
	if err != nil {
		reason := rejectReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		zctx.From(ctx).Debug("Order placement rejected",
			zap.Stringer("user_id", userID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.number", o.Number))
	zctx.From(ctx).Info("Order placed",
		zap.Stringer("order_id", o.ID),
		zap.String("order_no", o.Number),
		zap.Stringer("total", o.Total),
		zap.Int("lines", len(o.Lines)),
	)
	return o, nil
}

func (s *Service) place(ctx context.Context, tx Tx, userID uuid.UUID, shipping Shipping) (*Order, error) {
	snap, err := cart.ReadSnapshot(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		return nil, ErrEmptySelection
	}

	priced, err := pricing.Price(PricingInputs(snap))
	if err != nil {
		return nil, errors.Wrap(err, "price selection")
	}

	now := s.now()
	o, err := Assemble(AssembleParams{
		ID:       uuid.New(),
		UserID:   userID,
		Number:   s.number(now),
		Shipping: shipping,
		Currency: s.currency,
		Snapshot: snap,
		Priced:   priced,
		Now:      now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "assemble")
	}

	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	if err := tx.InsertLines(ctx, o.Lines); err != nil {
		return nil, errors.Wrap(err, "insert order lines")
	}

	ids := snap.LineIDs()
	removed, err := tx.RemoveCartLines(ctx, userID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "remove cart lines")
	}
	if removed != int64(len(ids)) {
		return nil, errors.Wrapf(ErrCartChanged, "removed %d of %d lines", removed, len(ids))
	}

	return o, nil
}

// List returns the user's orders, newest first, with their lines.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns one order by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// GetByNumber returns one order by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get order by number")
	}
	return o, nil
}

// UpdateStatus moves the order to status under a row lock. See
// Order.Transition for the rules.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, paymentType *PaymentType) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", id.String()),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	o, err := inTx(ctx, s.orders, func(ctx context.Context, tx Tx) (*Order, error) {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "lock order")
		}
		from := o.Status
		if err := o.Transition(status, paymentType, s.now()); err != nil {
			return nil, err
		}
		if err := tx.UpdateStatus(ctx, o); err != nil {
			return nil, errors.Wrap(err, "update status")
		}
		zctx.From(ctx).Info("Order status changed",
			zap.String("order_no", o.Number),
			zap.String("from", string(from)),
			zap.String("to", string(o.Status)),
		)
		return o, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status failed")
		return nil, err
	}
	return o, nil
}

// Delete removes an order and its lines.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*Deleted, error) {
	d, err := s.orders.Delete(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "delete order")
	}
	zctx.From(ctx).Info("Order deleted", zap.Stringer("order_id", d.ID), zap.String("order_no", d.Number))
	return d, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, cart.ErrStaleReference):
		return "stale_reference"
	case errors.Is(err, ErrNumberConflict):
		return "number_conflict"
	case errors.Is(err, ErrCartChanged):
		return "cart_changed"
	case errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrInvalidDiscount):
		return "invalid_line"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
