package promotion

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

// Evaluate checks every applicability rule of p against snap and returns the
// first rule that fails, or nil when the promotion is eligible. It has no side
// effects.
//
// A first-order-only promotion is provisionally eligible for unauthenticated
// callers; it is validated again when the order is placed.
func Evaluate(p Promotion, snap snapshot.Snapshot, ec EvalContext) error {
	if !p.IsActive {
		return ErrInactivePromotion
	}
	if p.FirstOrderOnly && ec.Authenticated && ec.HasPriorPaidOrder {
		return ErrFirstOrderOnly
	}
	category := p.CategoryFilter()
	if !snapshot.IsUnscoped(category) && !snap.HasCategory(category) {
		return &RejectionError{Err: ErrCategoryMismatch, Code: p.Code, Category: category}
	}
	if p.MinQuantity != nil {
		scoped := snap.ScopedQuantity(category)
		if scoped < *p.MinQuantity {
			return &RejectionError{
				Err:      ErrMinimumQuantityNotMet,
				Code:     p.Code,
				Category: scopedLabel(category),
				Required: decimal.NewFromInt(int64(*p.MinQuantity)),
				Actual:   decimal.NewFromInt(int64(scoped)),
			}
		}
	}
	if p.MinPrice != nil && snap.Subtotal().LessThan(*p.MinPrice) {
		return &RejectionError{
			Err:      ErrMinimumPriceNotMet,
			Code:     p.Code,
			Required: *p.MinPrice,
			Actual:   snap.Subtotal(),
		}
	}
	return nil
}

// IsEligible reports whether Evaluate accepts the promotion.
func IsEligible(p Promotion, snap snapshot.Snapshot, ec EvalContext) bool {
	return Evaluate(p, snap, ec) == nil
}

func scopedLabel(category string) string {
	if snapshot.IsUnscoped(category) {
		return ""
	}
	return category
}
