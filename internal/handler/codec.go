package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("request body too large or unreadable")
	}
	if len(body) == 0 {
		return nil, badRequest("request body is required")
	}
	return body, nil
}

func decodeShipping(body []byte) (order.Shipping, error) {
	var s order.Shipping
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			s.Name, err = d.Str()
		case "phone":
			s.Phone, err = d.Str()
		case "address":
			s.Address, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return s, badRequest("invalid JSON: " + err.Error())
	}
	return s, nil
}

type statusUpdate struct {
	Status      string
	PaymentType *string
}

func decodeStatusUpdate(body []byte) (statusUpdate, error) {
	var u statusUpdate
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			u.Status = v
			return errors.Wrap(err, key)
		case "type":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			u.PaymentType = &v
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return u, badRequest("invalid JSON: " + err.Error())
	}
	if u.Status == "" {
		return u, badRequest("status is required")
	}
	return u, nil
}

type selectionUpdate struct {
	IDs      []uuid.UUID
	Selected bool
}

func decodeSelectionUpdate(body []byte) (selectionUpdate, error) {
	var (
		u           selectionUpdate
		hasSelected bool
	)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "ids":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				id, err := uuid.Parse(s)
				if err != nil {
					return errors.Wrapf(err, "id %q", s)
				}
				u.IDs = append(u.IDs, id)
				return nil
			})
		case "selected":
			v, err := d.Bool()
			u.Selected = v
			hasSelected = true
			return errors.Wrap(err, key)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return u, badRequest("invalid JSON: " + err.Error())
	}
	if !hasSelected {
		return u, badRequest("selected is required")
	}
	return u, nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID.String())
	e.FieldStart("orderNo")
	e.Str(o.Number)
	e.FieldStart("userId")
	if o.UserID != nil {
		e.Str(o.UserID.String())
	} else {
		e.Null()
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("totalPrice")
	e.Str(o.Total.String())
	e.FieldStart("currency")
	e.Str(o.Currency.String())
	e.FieldStart("name")
	e.Str(o.Shipping.Name)
	e.FieldStart("phone")
	e.Str(o.Shipping.Phone)
	e.FieldStart("address")
	e.Str(o.Shipping.Address)
	e.FieldStart("paymentTime")
	encodeTimePtr(e, o.PaymentTime)
	e.FieldStart("paymentType")
	if o.PaymentType != nil {
		e.Str(string(*o.PaymentType))
	} else {
		e.Null()
	}
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(l.ID.String())
		e.FieldStart("itemId")
		if l.ItemID != nil {
			e.Str(l.ItemID.String())
		} else {
			e.Null()
		}
		e.FieldStart("itemName")
		e.Str(l.ItemName)
		e.FieldStart("unitPrice")
		e.Str(l.UnitPrice.String())
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("totalPrice")
		e.Str(l.Total.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeSelection writes selected lines. Item details are present while the
// catalog row exists; "available" is false once it is missing or deleted.
func encodeSelection(e *jx.Encoder, entries []cart.Entry) {
	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, entry := range entries {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(entry.Line.ID.String())
		e.FieldStart("itemId")
		e.Str(entry.Line.ItemID.String())
		e.FieldStart("quantity")
		e.Int(entry.Line.Quantity)
		e.FieldStart("available")
		e.Bool(entry.Available())
		if entry.Item != nil {
			e.FieldStart("itemName")
			e.Str(entry.Item.Name)
			e.FieldStart("price")
			e.Str(entry.Item.Price.String())
			e.FieldStart("discount")
			e.Str(entry.Item.Discount.String())
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeTimePtr(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	encodeTime(e, *t)
}
