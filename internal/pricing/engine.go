package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

// Money represents a monetary value in the store currency.
type Money = decimal.Decimal

var bpsDivisor = decimal.NewFromInt(10000)

// Policy holds the shipping and tax settings applied on top of the discount.
type Policy struct {
	ShippingFlat     Money
	FreeShippingFrom *Money
	TaxBps           int
}

// Totals aggregates computed pricing components.
type Totals struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Shipping Money `json:"shipping"`
	Tax      Money `json:"tax"`
	Total    Money `json:"total"`
}

// Compute derives order totals from the snapshot and the applied promotion.
// It never reads cached values, so repeated calls with the same inputs return
// identical totals.
func Compute(snap snapshot.Snapshot, applied *promotion.Applied, policy Policy) Totals {
	subtotal := snap.Subtotal()
	discount := decimal.Zero
	if applied != nil {
		discount = promotion.Clamp(applied.Discount, subtotal)
	}
	taxable := subtotal.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	shipping := policy.shippingFor(snap)
	tax := decimal.Zero
	if policy.TaxBps > 0 {
		tax = taxable.Mul(decimal.NewFromInt(int64(policy.TaxBps))).Div(bpsDivisor).Round(2)
	}
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    taxable.Add(shipping).Add(tax),
	}
}

func (p Policy) shippingFor(snap snapshot.Snapshot) Money {
	if snap.IsEmpty() || !p.ShippingFlat.IsPositive() {
		return decimal.Zero
	}
	if p.FreeShippingFrom != nil && !snap.Subtotal().LessThan(*p.FreeShippingFrom) {
		return decimal.Zero
	}
	return p.ShippingFlat
}
