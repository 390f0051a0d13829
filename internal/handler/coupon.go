package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/codec"
	"github.com/xenking/storefront/internal/domain/coupon"
)

// ListCoupons returns every coupon.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	cs, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range cs {
			encodeCoupon(e, &cs[i])
		}
		e.ArrEnd()
	})
}

// CreateCoupon registers {"code": ..., "discount": pct}.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code     string
		discount int
	)
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "discount":
			discount, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), code, discount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// DeactivateCoupon marks a coupon used. Repeating it is not an error.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// DeleteCoupon removes a coupon.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "couponID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discount")
	e.Int(c.Discount)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.FieldStart("created_at")
	codec.Time(e, c.CreatedAt)
	e.FieldStart("updated_at")
	codec.Time(e, c.UpdatedAt)
	e.ObjEnd()
}
