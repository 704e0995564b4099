package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/promotion"
)

// Reasons returned by ValidateFirstOrderEligibility.
const (
	VerdictReasonPriorOrder      = "customer already has a paid order"
	VerdictReasonAlreadyRedeemed = "first-order promotion already redeemed"
	VerdictReasonInactive        = "promotion no longer active"
	VerdictReasonAnonymous       = "sign in to use this promotion"
)

// HasPriorPaidOrder reports whether userID has at least one paid order.
func (s *Store) HasPriorPaidOrder(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM orders WHERE user_id = $1 AND status = 'paid'
)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check prior paid order: %w", err)
	}
	return exists, nil
}

// ValidateFirstOrderEligibility performs the order-placement check for a
// first-order-only promotion. Promotions without the restriction are always
// accepted. Cart rules such as the minimum price are left to
// promotion.Evaluate.
func (s *Store) ValidateFirstOrderEligibility(ctx context.Context, code, userID string, _ decimal.Decimal) (promotion.Verdict, error) {
	p, err := s.GetByCode(ctx, code)
	if err != nil {
		return promotion.Verdict{}, err
	}
	if !p.IsActive {
		return promotion.Verdict{Reason: VerdictReasonInactive}, nil
	}
	if !p.FirstOrderOnly {
		return promotion.Verdict{Accepted: true}, nil
	}
	if strings.TrimSpace(userID) == "" {
		return promotion.Verdict{Reason: VerdictReasonAnonymous}, nil
	}

	var paid, redeemed bool
	err = s.db.QueryRow(ctx, `SELECT
    EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND status = 'paid'),
    EXISTS (SELECT 1 FROM promotion_redemptions WHERE user_id = $1 AND code = $2)`,
		userID, p.Code).Scan(&paid, &redeemed)
	if err != nil {
		return promotion.Verdict{}, fmt.Errorf("validate first order: %w", err)
	}
	switch {
	case paid:
		return promotion.Verdict{Reason: VerdictReasonPriorOrder}, nil
	case redeemed:
		return promotion.Verdict{Reason: VerdictReasonAlreadyRedeemed}, nil
	default:
		return promotion.Verdict{Accepted: true}, nil
	}
}

// Redemption is a promotion used by a confirmed checkout.
type Redemption struct {
	ID         uuid.UUID
	SessionID  string
	Code       string
	UserID     string
	Source     promotion.Source
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	RedeemedAt time.Time
}

// InsertRedemption records r. Recording the same session twice is a no-op and
// reports false.
func (s *Store) InsertRedemption(ctx context.Context, r Redemption) (bool, error) {
	if r.SessionID == "" || r.Code == "" {
		return false, errors.New("store: redemption requires session and code")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = s.now().UTC()
	}
	var userID *string
	if trimmed := strings.TrimSpace(r.UserID); trimmed != "" {
		userID = &trimmed
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO promotion_redemptions
    (id, session_id, code, user_id, source, subtotal, discount, total, redeemed_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)
ON CONFLICT (session_id) DO NOTHING`,
		r.ID, r.SessionID, promotion.NormalizeCode(r.Code), userID, string(r.Source),
		r.Subtotal.String(), r.Discount.String(), r.Total.String(), r.RedeemedAt)
	if err != nil {
		return false, fmt.Errorf("insert redemption: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
