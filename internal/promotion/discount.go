package promotion

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the amount p deducts from snap. It assumes p already
// passed Evaluate. The result is rounded to two decimal places and clamped to
// [0, subtotal].
func ComputeDiscount(p Promotion, snap snapshot.Snapshot) (decimal.Decimal, error) {
	subtotal := snap.Subtotal()
	if subtotal.Sign() <= 0 {
		return decimal.Zero, nil
	}
	value := p.DiscountValue
	if value.IsNegative() {
		value = decimal.Zero
	}

	var discount decimal.Decimal
	switch p.DiscountType {
	case Percentage:
		discount = subtotal.Mul(value).Div(hundred).Round(0)
	case Fixed:
		if p.ApplyTo == ApplyToItem {
			discount = value.Mul(decimal.NewFromInt(int64(snap.TotalQuantity())))
		} else {
			discount = value
		}
	case PriceOverride:
		scoped := snap.ScopedQuantity(p.CategoryFilter())
		if p.MinQuantity == nil || scoped >= *p.MinQuantity {
			discount = value.Mul(decimal.NewFromInt(int64(scoped)))
		} else {
			discount = decimal.Zero
		}
	default:
		return decimal.Zero, fmt.Errorf("compute discount for %q: %w", p.Code, ErrUnknownDiscountType)
	}
	return Clamp(discount.Round(2), subtotal), nil
}

// Clamp bounds discount to [0, subtotal].
func Clamp(discount, subtotal decimal.Decimal) decimal.Decimal {
	if discount.IsNegative() || subtotal.Sign() <= 0 {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

// Apply evaluates p against snap and, when eligible, derives the discount.
func Apply(p Promotion, snap snapshot.Snapshot, ec EvalContext, source Source) (Applied, error) {
	if err := Evaluate(p, snap, ec); err != nil {
		return Applied{}, err
	}
	discount, err := ComputeDiscount(p, snap)
	if err != nil {
		return Applied{}, err
	}
	return Applied{Promotion: p, Discount: discount, Source: source, SnapshotID: snap.ID()}, nil
}

// Rederive recomputes an applied promotion against a replacement snapshot.
// The previous discount is never carried over.
func Rederive(a Applied, snap snapshot.Snapshot, ec EvalContext) (Applied, error) {
	return Apply(a.Promotion, snap, ec, a.Source)
}
