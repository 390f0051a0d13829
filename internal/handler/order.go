package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/codec"
	"github.com/xenking/storefront/internal/domain/order"
)

// HeaderIdempotencyKey lets clients retry a checkout safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// CreateOrder places an order for the caller.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req := order.CreateOrderRequest{
		UserID:         identity(r).UserID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	}
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeLines(d)
		case "shipping_address":
			req.ShippingAddress, err = d.Str()
		case "phone_number":
			req.PhoneNumber, err = d.Str()
		case "payment_method":
			var s string
			s, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(strings.ToUpper(s))
		case "coupon_code":
			req.CouponCode, err = optionalStr(d)
		case "transaction_id":
			req.TransactionID, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

// QuoteOrder prices a cart without reserving stock or consuming a coupon.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req order.QuoteRequest
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeLines(d)
		case "coupon_code":
			req.CouponCode, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range q.Items {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(it.ProductID)
			e.FieldStart("name")
			e.Str(it.Name)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("price")
			codec.Money(e, it.Price)
			e.ObjEnd()
		}
		e.ArrEnd()
		if q.CouponCode != "" {
			e.FieldStart("coupon_code")
			e.Str(q.CouponCode)
			e.FieldStart("discount_percent")
			e.Int(q.Discount)
		}
		e.FieldStart("items_price")
		codec.Money(e, q.ItemsPrice)
		e.FieldStart("discount_price")
		codec.Money(e, q.DiscountPrice)
		e.FieldStart("tax_price")
		codec.Money(e, q.TaxPrice)
		e.FieldStart("shipping_price")
		codec.Money(e, q.ShippingPrice)
		e.FieldStart("total_price")
		codec.Money(e, q.TotalPrice)
		e.ObjEnd()
	})
}

// ListMyOrders returns the caller's orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrders(w, orders)
}

// GetOrder returns an order owned by the caller, or any order for admins.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), identity(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// CancelOrder cancels the caller's order. The body must request
// {"status": "CANCELLED"}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	status, err := readStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), identity(r), chi.URLParam(r, "orderID"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// ListAllOrders returns every order.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrders(w, orders)
}

// UpdateOrderStatus moves an order along its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	status, err := readStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// DeleteOrder removes an order record.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.DeleteOrder(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readStatus(r *http.Request) (order.Status, error) {
	var status order.Status
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		status = order.Status(strings.ToUpper(strings.TrimSpace(s)))
		return err
	})
	return status, err
}

func decodeLines(d *jx.Decoder) ([]order.LineRequest, error) {
	var lines []order.LineRequest
	err := d.Arr(func(d *jx.Decoder) error {
		var l order.LineRequest
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product_id":
				l.ProductID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

// optionalStr reads a string that may be null.
func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { codec.EncodeOrder(e, o) })
}

func writeOrders(w http.ResponseWriter, orders []order.Order) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			codec.EncodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}
