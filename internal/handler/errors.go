package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// requestError is a client mistake detected while decoding the request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// mapError converts a domain error to an HTTP status and a client-safe message.
func mapError(err error) (int, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, reqErr.msg
	}

	var shipErr *order.ShippingError
	if errors.As(err, &shipErr) {
		return http.StatusBadRequest, shipErr.Error()
	}

	var staleErr *cart.StaleReferenceError
	if errors.As(err, &staleErr) {
		return http.StatusUnprocessableEntity, staleErr.Error()
	}

	var trErr *order.TransitionError
	if errors.As(err, &trErr) {
		return http.StatusConflict, trErr.Error()
	}

	switch {
	case errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidPaymentType):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrEmptySelection):
		return http.StatusUnprocessableEntity, order.ErrEmptySelection.Error()
	case errors.Is(err, order.ErrPaymentTypeRequired):
		return http.StatusUnprocessableEntity, order.ErrPaymentTypeRequired.Error()
	case errors.Is(err, order.ErrPaymentTypeNotAllowed):
		return http.StatusUnprocessableEntity, order.ErrPaymentTypeNotAllowed.Error()
	case errors.Is(err, order.ErrNumberConflict):
		return http.StatusConflict, "order number conflict, retry the request"
	case errors.Is(err, order.ErrCartChanged):
		return http.StatusConflict, "cart changed, retry the request"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes the response for err. Server-side failures are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := mapError(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	writeRaw(w, code, e.Bytes())
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
