package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/promotion"
)

const promotionColumns = `code, is_active, discount_type, discount_value::text, category,
min_quantity, min_price::text, first_order_only, apply_to`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListActive returns active promotions in catalog order.
func (s *Store) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := s.db.Query(ctx, `SELECT `+promotionColumns+`
FROM promotions
WHERE is_active
ORDER BY position, code`)
	if err != nil {
		return nil, fmt.Errorf("query active promotions: %w", err)
	}
	defer rows.Close()

	out := make([]promotion.Promotion, 0)
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active promotions: %w", err)
	}
	return out, nil
}

// GetByCode returns the promotion with code regardless of its active flag.
// A missing row yields promotion.ErrInvalidCode.
func (s *Store) GetByCode(ctx context.Context, code string) (promotion.Promotion, error) {
	normalized := promotion.NormalizeCode(code)
	row := s.db.QueryRow(ctx, `SELECT `+promotionColumns+`
FROM promotions
WHERE upper(code) = $1`, normalized)
	p, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.Promotion{}, promotion.ErrInvalidCode
		}
		return promotion.Promotion{}, err
	}
	return p, nil
}

// UpsertPromotion inserts or replaces a promotion at the given catalog position.
func (s *Store) UpsertPromotion(ctx context.Context, p promotion.Promotion, position int) error {
	var minPrice *string
	if p.MinPrice != nil {
		v := p.MinPrice.String()
		minPrice = &v
	}
	applyTo := p.ApplyTo
	if applyTo == "" {
		applyTo = promotion.ApplyToOrder
	}
	_, err := s.db.Exec(ctx, `INSERT INTO promotions
    (code, position, is_active, discount_type, discount_value, category, min_quantity, min_price, first_order_only, apply_to)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9, $10)
ON CONFLICT (code) DO UPDATE SET
    position = EXCLUDED.position,
    is_active = EXCLUDED.is_active,
    discount_type = EXCLUDED.discount_type,
    discount_value = EXCLUDED.discount_value,
    category = EXCLUDED.category,
    min_quantity = EXCLUDED.min_quantity,
    min_price = EXCLUDED.min_price,
    first_order_only = EXCLUDED.first_order_only,
    apply_to = EXCLUDED.apply_to,
    updated_at = now()`,
		promotion.NormalizeCode(p.Code), position, p.IsActive, p.DiscountType.String(), p.DiscountValue.String(),
		p.Category, p.MinQuantity, minPrice, p.FirstOrderOnly, string(applyTo))
	if err != nil {
		return fmt.Errorf("upsert promotion %s: %w", p.Code, err)
	}
	return nil
}

func scanPromotion(row rowScanner) (promotion.Promotion, error) {
	var (
		p             promotion.Promotion
		discountType  string
		discountValue string
		category      *string
		minQuantity   *int32
		minPrice      *string
		applyTo       string
	)
	if err := row.Scan(&p.Code, &p.IsActive, &discountType, &discountValue, &category,
		&minQuantity, &minPrice, &p.FirstOrderOnly, &applyTo); err != nil {
		return promotion.Promotion{}, err
	}

	dt, err := promotion.ParseDiscountType(discountType)
	if err != nil {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: %w", p.Code, err)
	}
	p.DiscountType = dt
	p.DiscountValue, err = decimal.NewFromString(discountValue)
	if err != nil {
		return promotion.Promotion{}, fmt.Errorf("promotion %s discount value: %w", p.Code, err)
	}
	p.Category = category
	if minQuantity != nil {
		v := int(*minQuantity)
		p.MinQuantity = &v
	}
	if minPrice != nil {
		v, err := decimal.NewFromString(*minPrice)
		if err != nil {
			return promotion.Promotion{}, fmt.Errorf("promotion %s min price: %w", p.Code, err)
		}
		p.MinPrice = &v
	}
	p.ApplyTo = promotion.ApplyTo(applyTo)
	if p.ApplyTo != promotion.ApplyToItem {
		p.ApplyTo = promotion.ApplyToOrder
	}
	return p, nil
}
