package promotion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a promotion's discount is calculated. It is a
// closed set: values are only produced by ParseDiscountType or the exported
// constants.
type DiscountType uint8

const (
	discountTypeUnknown DiscountType = iota
	// Percentage deducts DiscountValue percent of the subtotal.
	Percentage
	// Fixed deducts DiscountValue once per order, or once per unit when ApplyTo is item.
	Fixed
	// PriceOverride deducts DiscountValue per unit in the promotion's category.
	PriceOverride
)

// String returns the wire name of the discount type.
func (t DiscountType) String() string {
	switch t {
	case Percentage:
		return "percentage"
	case Fixed:
		return "fixed"
	case PriceOverride:
		return "price_override"
	default:
		return "unknown"
	}
}

// ParseDiscountType converts a wire name into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "percentage", "percent":
		return Percentage, nil
	case "fixed", "fixed_amount":
		return Fixed, nil
	case "price_override":
		return PriceOverride, nil
	default:
		return discountTypeUnknown, fmt.Errorf("%w: %q", ErrUnknownDiscountType, value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t DiscountType) MarshalText() ([]byte, error) {
	if t == discountTypeUnknown || t > PriceOverride {
		return nil, ErrUnknownDiscountType
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DiscountType) UnmarshalText(text []byte) error {
	parsed, err := ParseDiscountType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ApplyTo scopes a fixed discount to the whole order or to every unit.
type ApplyTo string

const (
	// ApplyToOrder deducts a fixed discount once.
	ApplyToOrder ApplyTo = "order"
	// ApplyToItem deducts a fixed discount per purchased unit.
	ApplyToItem ApplyTo = "item"
)

// Promotion is a discount code record as supplied by the promotion repository.
type Promotion struct {
	Code           string           `json:"code"`
	IsActive       bool             `json:"isActive"`
	DiscountType   DiscountType     `json:"discountType"`
	DiscountValue  decimal.Decimal  `json:"discountValue"`
	Category       *string          `json:"category,omitempty"`
	MinQuantity    *int             `json:"minQuantity,omitempty"`
	MinPrice       *decimal.Decimal `json:"minPrice,omitempty"`
	FirstOrderOnly bool             `json:"firstOrderOnly"`
	ApplyTo        ApplyTo          `json:"applyTo,omitempty"`
}

// CategoryFilter returns the category the promotion is scoped to, or "" when
// it applies to every category.
func (p Promotion) CategoryFilter() string {
	if p.Category == nil {
		return ""
	}
	return strings.TrimSpace(*p.Category)
}

// Source records who selected the applied promotion.
type Source string

const (
	// SourceManual is a code typed in by the customer.
	SourceManual Source = "manual"
	// SourceAuto is a promotion picked from the catalog automatically.
	SourceAuto Source = "auto"
	// SourceCarryOver is a pending code carried in from a previous page.
	SourceCarryOver Source = "carry_over"
)

// Applied pairs a promotion with the discount derived from a specific snapshot.
type Applied struct {
	Promotion  Promotion       `json:"promotion"`
	Discount   decimal.Decimal `json:"discount"`
	Source     Source          `json:"source"`
	SnapshotID string          `json:"snapshotId"`
}

// EvalContext carries the caller facts eligibility depends on.
type EvalContext struct {
	Authenticated     bool
	HasPriorPaidOrder bool
}

// NormalizeCode trims and upper-cases a promotion code for lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Verdict is the outcome of the order-placement first-order check.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
