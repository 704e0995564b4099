package promotion

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCode is returned when the code does not exist in the repository.
	ErrInvalidCode = errors.New("promotion code not found")
	// ErrInactivePromotion is returned when the promotion exists but is switched off.
	ErrInactivePromotion = errors.New("promotion not active")
	// ErrCategoryMismatch indicates no line in the cart belongs to the promotion category.
	ErrCategoryMismatch = errors.New("promotion category not in cart")
	// ErrMinimumQuantityNotMet indicates the scoped quantity is below the promotion minimum.
	ErrMinimumQuantityNotMet = errors.New("promotion minimum quantity not met")
	// ErrMinimumPriceNotMet indicates the subtotal is below the promotion minimum.
	ErrMinimumPriceNotMet = errors.New("promotion minimum price not met")
	// ErrFirstOrderOnly is returned when a returning customer uses a first-order promotion.
	ErrFirstOrderOnly = errors.New("promotion valid on first order only")
	// ErrNetworkFailure wraps repository fetch, lookup and validation failures.
	ErrNetworkFailure = errors.New("promotion repository unavailable")
	// ErrUnknownDiscountType is returned for discount types outside the supported set.
	ErrUnknownDiscountType = errors.New("unknown discount type")
)

// RejectionError carries the threshold behind an eligibility failure so it
// can be shown to the customer.
type RejectionError struct {
	Err      error
	Code     string
	Category string
	Required decimal.Decimal
	Actual   decimal.Decimal
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	switch {
	case errors.Is(e.Err, ErrCategoryMismatch):
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Category)
	case errors.Is(e.Err, ErrMinimumQuantityNotMet), errors.Is(e.Err, ErrMinimumPriceNotMet):
		return fmt.Sprintf("%s: requires %s, have %s", e.Err.Error(), e.Required.String(), e.Actual.String())
	default:
		return e.Err.Error()
	}
}

// Unwrap exposes the sentinel for errors.Is.
func (e *RejectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Details returns the user-facing threshold fields.
func (e *RejectionError) Details() map[string]any {
	if e == nil {
		return nil
	}
	details := map[string]any{}
	if e.Code != "" {
		details["code"] = e.Code
	}
	if e.Category != "" {
		details["category"] = e.Category
	}
	if errors.Is(e.Err, ErrMinimumQuantityNotMet) || errors.Is(e.Err, ErrMinimumPriceNotMet) {
		details["required"] = e.Required
		details["actual"] = e.Actual
	}
	return details
}

// Reason codes reported to clients.
const (
	ReasonInvalidCode         = "INVALID_CODE"
	ReasonInactivePromotion   = "INACTIVE_PROMOTION"
	ReasonCategoryMismatch    = "CATEGORY_MISMATCH"
	ReasonMinimumQuantity     = "MINIMUM_QUANTITY_NOT_MET"
	ReasonMinimumPrice        = "MINIMUM_PRICE_NOT_MET"
	ReasonFirstOrderOnly      = "FIRST_ORDER_ONLY"
	ReasonNetworkFailure      = "NETWORK_FAILURE"
	ReasonUnknownDiscountType = "UNKNOWN_DISCOUNT_TYPE"
	ReasonUnclassified        = "NOT_ELIGIBLE"
)

// Reason maps err to its stable reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCode):
		return ReasonInvalidCode
	case errors.Is(err, ErrInactivePromotion):
		return ReasonInactivePromotion
	case errors.Is(err, ErrCategoryMismatch):
		return ReasonCategoryMismatch
	case errors.Is(err, ErrMinimumQuantityNotMet):
		return ReasonMinimumQuantity
	case errors.Is(err, ErrMinimumPriceNotMet):
		return ReasonMinimumPrice
	case errors.Is(err, ErrFirstOrderOnly):
		return ReasonFirstOrderOnly
	case errors.Is(err, ErrNetworkFailure):
		return ReasonNetworkFailure
	case errors.Is(err, ErrUnknownDiscountType):
		return ReasonUnknownDiscountType
	default:
		return ReasonUnclassified
	}
}

// IsRejection reports whether err is an eligibility outcome rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	switch Reason(err) {
	case ReasonInvalidCode, ReasonInactivePromotion, ReasonCategoryMismatch,
		ReasonMinimumQuantity, ReasonMinimumPrice, ReasonFirstOrderOnly:
		return true
	default:
		return false
	}
}
