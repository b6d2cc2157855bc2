package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	shipping, err := decodeShipping(body)
	if err != nil {
		fail(w, r, err)
		return
	}
	shipping = shipping.Normalize()
	if err := shipping.Validate(); err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	if h.placeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.placeTimeout)
		defer cancel()
	}

	o, err := h.orders.PlaceOrder(ctx, userID, shipping)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	orders, err := h.orders.List(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeRaw(w, http.StatusOK, e.Bytes())
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ownedBy(o, userID) {
		fail(w, r, order.ErrNotFound)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	number := r.PathValue("number")
	if len(number) != order.NumberLen {
		fail(w, r, order.ErrNotFound)
		return
	}
	o, err := h.orders.GetByNumber(r.Context(), number)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ownedBy(o, userID) {
		fail(w, r, order.ErrNotFound)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	u, err := decodeStatusUpdate(body)
	if err != nil {
		fail(w, r, err)
		return
	}

	status, err := order.ParseStatus(u.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	var paymentType *order.PaymentType
	if u.PaymentType != nil {
		pt, err := order.ParsePaymentType(*u.PaymentType)
		if err != nil {
			fail(w, r, err)
			return
		}
		paymentType = &pt
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, status, paymentType)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	d, err := h.orders.Delete(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("id")
	e.Str(d.ID.String())
	e.FieldStart("orderNo")
	e.Str(d.Number)
	e.ObjEnd()
	writeRaw(w, http.StatusOK, e.Bytes())
}

func ownedBy(o *order.Order, userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}

func writeOrder(w http.ResponseWriter, code int, o *order.Order) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrder(e, o)
	writeRaw(w, code, e.Bytes())
}
