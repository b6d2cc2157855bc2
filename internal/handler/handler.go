// Package handler exposes order placement, order lifecycle and cart selection
// over HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// UserHeader carries the authenticated user ID set by the upstream gateway.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// OrderService is the order functionality the handler depends on.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, shipping order.Shipping) (*order.Order, error)
	List(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetByNumber(ctx context.Context, number string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status, paymentType *order.PaymentType) (*order.Order, error)
	Delete(ctx context.Context, id uuid.UUID) (*order.Deleted, error)
}

// CartService is the cart functionality the handler depends on.
type CartService interface {
	Selected(ctx context.Context, userID uuid.UUID) ([]cart.Entry, error)
	SetSelected(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, selected bool) (int64, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// PlaceTimeout bounds a single order placement, including lock waits.
	// Zero disables the bound.
	PlaceTimeout time.Duration
}

// Handler serves the /api routes.
type Handler struct {
	orders       OrderService
	carts        CartService
	placeTimeout time.Duration
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, orders OrderService, carts CartService) *Handler {
	return &Handler{
		orders:       orders,
		carts:        carts,
		placeTimeout: cfg.PlaceTimeout,
	}
}

// Register adds all API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.withUser(h.placeOrder))
	mux.HandleFunc("GET /api/orders", h.withUser(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.withUser(h.getOrder))
	mux.HandleFunc("GET /api/orders/number/{number}", h.withUser(h.getOrderByNumber))
	mux.HandleFunc("PATCH /api/orders/{id}", h.withUser(h.updateOrderStatus))
	mux.HandleFunc("DELETE /api/orders/{id}", h.withUser(h.deleteOrder))
	mux.HandleFunc("GET /api/cart/selected", h.withUser(h.listSelected))
	mux.HandleFunc("PATCH /api/cart/selected", h.withUser(h.updateSelected))
}

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)

// withUser rejects requests that do not carry a valid user ID.
func (h *Handler) withUser(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get(UserHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid "+UserHeader+" header")
			return
		}
		next(w, r, userID)
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid order id")
	}
	return id, nil
}
