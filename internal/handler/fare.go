package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/confops/billing-engine/internal/domain/fare"
)

// listFares returns the fares on sale right now.
func (h *Handler) listFares(w http.ResponseWriter, r *http.Request) {
	fares, err := h.catalog.Available(r.Context(), time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range fares {
		encodeFare(&e, &fares[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

func encodeFare(e *jx.Encoder, f *fare.Fare) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(f.Code)
	e.FieldStart("name")
	e.Str(f.Name)
	e.FieldStart("description")
	e.Str(f.Description)
	e.FieldStart("price")
	e.Str(f.Price.StringFixed(2))
	e.FieldStart("recipient_type")
	e.Str(string(f.RecipientType))
	e.FieldStart("ticket_type")
	e.Str(f.TicketType)
	if f.Vat != nil {
		e.FieldStart("vat_rate")
		e.Str(f.Vat.Rate.String())
	}
	if f.StartValidity != nil && f.EndValidity != nil {
		e.FieldStart("valid_from")
		e.Str(f.StartValidity.Format("2006-01-02"))
		e.FieldStart("valid_until")
		e.Str(f.EndValidity.Format("2006-01-02"))
	}
	e.ObjEnd()
}
