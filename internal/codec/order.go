// Package codec holds the jx JSON representation of orders shared by the
// HTTP layer, the redis cache and event payloads.
package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// Money writes d as a JSON number with two decimal places.
func Money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

// DecodeMoney reads a decimal given either as a JSON number or a string.
func DecodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for amount", d.Next())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", raw)
	}
	return v, nil
}

// Time writes t in RFC 3339 with nanoseconds, UTC.
func Time(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// DecodeTime reads a timestamp written by Time.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// EncodeOrder writes o as a JSON object.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		encodeItem(e, it)
	}
	e.ArrEnd()
	e.FieldStart("shipping_address")
	e.Str(o.ShippingAddress)
	if o.PhoneNumber != "" {
		e.FieldStart("phone_number")
		e.Str(o.PhoneNumber)
	}
	e.FieldStart("payment_method")
	e.Str(string(o.PaymentMethod))
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	e.FieldStart("items_price")
	Money(e, o.ItemsPrice)
	e.FieldStart("discount_price")
	Money(e, o.DiscountPrice)
	e.FieldStart("tax_price")
	Money(e, o.TaxPrice)
	e.FieldStart("shipping_price")
	Money(e, o.ShippingPrice)
	e.FieldStart("total_price")
	Money(e, o.TotalPrice)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.TransactionID != "" {
		e.FieldStart("transaction_id")
		e.Str(o.TransactionID)
	}
	e.FieldStart("created_at")
	Time(e, o.CreatedAt)
	e.FieldStart("updated_at")
	Time(e, o.UpdatedAt)
	e.ObjEnd()
}

func encodeItem(e *jx.Encoder, it order.Item) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Str(it.ProductID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.FieldStart("price")
	Money(e, it.Price)
	e.ObjEnd()
}

// MarshalOrder returns the JSON form of o.
func MarshalOrder(o *order.Order) []byte {
	var e jx.Encoder
	EncodeOrder(&e, o)
	return e.Bytes()
}

// UnmarshalOrder parses an order written by EncodeOrder. Unknown fields are
// skipped.
func UnmarshalOrder(b []byte) (*order.Order, error) {
	o := new(order.Order)
	if err := DecodeOrder(jx.DecodeBytes(b), o); err != nil {
		return nil, err
	}
	return o, nil
}

// DecodeOrder reads an order object into o.
func DecodeOrder(d *jx.Decoder, o *order.Order) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "user_id":
			o.UserID, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it order.Item
				if err := decodeItem(d, &it); err != nil {
					return err
				}
				o.Items = append(o.Items, it)
				return nil
			})
		case "shipping_address":
			o.ShippingAddress, err = d.Str()
		case "phone_number":
			o.PhoneNumber, err = d.Str()
		case "payment_method":
			var s string
			s, err = d.Str()
			o.PaymentMethod = order.PaymentMethod(s)
		case "coupon_code":
			o.CouponCode, err = d.Str()
		case "items_price":
			o.ItemsPrice, err = DecodeMoney(d)
		case "discount_price":
			o.DiscountPrice, err = DecodeMoney(d)
		case "tax_price":
			o.TaxPrice, err = DecodeMoney(d)
		case "shipping_price":
			o.ShippingPrice, err = DecodeMoney(d)
		case "total_price":
			o.TotalPrice, err = DecodeMoney(d)
		case "status":
			var s string
			s, err = d.Str()
			o.Status = order.Status(s)
		case "transaction_id":
			o.TransactionID, err = d.Str()
		case "created_at":
			o.CreatedAt, err = DecodeTime(d)
		case "updated_at":
			o.UpdatedAt, err = DecodeTime(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
}

func decodeItem(d *jx.Decoder, it *order.Item) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			it.ProductID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "price":
			it.Price, err = DecodeMoney(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode item %q", key)
	})
}
