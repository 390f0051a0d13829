package order

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// Pricing holds the store-wide tax and shipping policy.
type Pricing struct {
	TaxPercent       decimal.Decimal
	ShippingPrice    decimal.Decimal
	FreeShippingOver decimal.Decimal
}

// Breakdown is a fully priced cart.
type Breakdown struct {
	ItemsPrice    decimal.Decimal
	DiscountPrice decimal.Decimal
	TaxPrice      decimal.Decimal
	ShippingPrice decimal.Decimal
	TotalPrice    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Price computes the totals for items with a coupon of discountPct percent
// (zero when no coupon applies). Tax is charged on the discounted amount and
// shipping is waived once the discounted amount reaches FreeShippingOver.
func (p Pricing) Price(items []Item, discountPct int) Breakdown {
	var b Breakdown
	for _, it := range items {
		b.ItemsPrice = b.ItemsPrice.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	var net decimal.Decimal
	b.DiscountPrice, net = coupon.ApplyDiscount(b.ItemsPrice, discountPct)
	b.TaxPrice = net.Mul(p.TaxPercent).Div(hundred).Round(2)
	b.ShippingPrice = p.ShippingPrice
	if p.FreeShippingOver.IsPositive() && net.GreaterThanOrEqual(p.FreeShippingOver) {
		b.ShippingPrice = decimal.Zero
	}
	b.TotalPrice = net.Add(b.TaxPrice).Add(b.ShippingPrice)
	return b
}

func (b Breakdown) applyTo(o *Order) {
	o.ItemsPrice = b.ItemsPrice
	o.DiscountPrice = b.DiscountPrice
	o.TaxPrice = b.TaxPrice
	o.ShippingPrice = b.ShippingPrice
	o.TotalPrice = b.TotalPrice
}
