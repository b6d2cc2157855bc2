package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

func (h *Handler) listSelected(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	entries, err := h.carts.Selected(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeSelection(e, entries)
	writeRaw(w, http.StatusOK, e.Bytes())
}

func (h *Handler) updateSelected(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	u, err := decodeSelectionUpdate(body)
	if err != nil {
		fail(w, r, err)
		return
	}

	n, err := h.carts.SetSelected(r.Context(), userID, u.IDs, u.Selected)
	if err != nil {
		fail(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("count")
	e.Int64(n)
	e.ObjEnd()
	writeRaw(w, http.StatusOK, e.Bytes())
}
