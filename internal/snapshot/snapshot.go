package snapshot

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mode identifies where the purchased lines came from.
type Mode string

const (
	// ModeBuyNow purchases a single selected item.
	ModeBuyNow Mode = "buy_now"
	// ModeCart purchases the persistent cart contents.
	ModeCart Mode = "cart"
)

// Valid reports whether m is a known checkout mode.
func (m Mode) Valid() bool {
	return m == ModeBuyNow || m == ModeCart
}

// LineItem is a single purchased line captured at checkout time.
type LineItem struct {
	ProductID string          `json:"productId"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns unit price multiplied by quantity.
func (it LineItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Source describes the input a snapshot is frozen from.
type Source struct {
	Mode   Mode
	BuyNow *LineItem
	Cart   []LineItem
}

// Snapshot is an immutable ordered set of line items used for every pricing
// computation of one checkout attempt. Changing the cart produces a new
// Snapshot with a new ID.
type Snapshot struct {
	id         string
	mode       Mode
	items      []LineItem
	subtotal   decimal.Decimal
	capturedAt time.Time
}

// Build freezes src into a Snapshot. Lines with a quantity below one are
// skipped and negative unit prices are clamped to zero.
func Build(src Source) Snapshot {
	mode := src.Mode
	var lines []LineItem
	switch mode {
	case ModeBuyNow:
		if src.BuyNow != nil {
			lines = []LineItem{*src.BuyNow}
		}
	default:
		mode = ModeCart
		lines = src.Cart
	}
	return freeze(mode, lines)
}

// FromBuyNow builds a snapshot holding the single selected item.
func FromBuyNow(item LineItem) Snapshot {
	return Build(Source{Mode: ModeBuyNow, BuyNow: &item})
}

// FromCart builds a snapshot of the full cart contents.
func FromCart(items []LineItem) Snapshot {
	return Build(Source{Mode: ModeCart, Cart: items})
}

func freeze(mode Mode, lines []LineItem) Snapshot {
	items := make([]LineItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, it := range lines {
		if it.Quantity < 1 {
			continue
		}
		if it.UnitPrice.IsNegative() {
			it.UnitPrice = decimal.Zero
		}
		it.ProductID = strings.TrimSpace(it.ProductID)
		it.Category = strings.TrimSpace(it.Category)
		items = append(items, it)
		subtotal = subtotal.Add(it.LineTotal())
	}
	return Snapshot{
		id:         uuid.NewString(),
		mode:       mode,
		items:      items,
		subtotal:   subtotal,
		capturedAt: time.Now().UTC(),
	}
}

// ID identifies this snapshot. Two builds never share an ID even when their
// contents are equal.
func (s Snapshot) ID() string { return s.id }

// Mode returns the checkout mode the snapshot was built for.
func (s Snapshot) Mode() Mode { return s.mode }

// CapturedAt returns when the snapshot was frozen.
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }

// Subtotal returns the sum of unit price times quantity over all lines.
func (s Snapshot) Subtotal() decimal.Decimal { return s.subtotal }

// Len returns the number of lines.
func (s Snapshot) Len() int { return len(s.items) }

// IsEmpty reports whether the snapshot holds no lines.
func (s Snapshot) IsEmpty() bool { return len(s.items) == 0 }

// Items returns a copy of the lines in display order.
func (s Snapshot) Items() []LineItem {
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// TotalQuantity sums the quantity of every line.
func (s Snapshot) TotalQuantity() int {
	var total int
	for _, it := range s.items {
		total += it.Quantity
	}
	return total
}

// ScopedQuantity sums quantity over lines in category. An unscoped category
// ("" or "All") counts every line.
func (s Snapshot) ScopedQuantity(category string) int {
	if IsUnscoped(category) {
		return s.TotalQuantity()
	}
	var total int
	for _, it := range s.items {
		if sameCategory(it.Category, category) {
			total += it.Quantity
		}
	}
	return total
}

// HasCategory reports whether at least one line belongs to category.
func (s Snapshot) HasCategory(category string) bool {
	if IsUnscoped(category) {
		return true
	}
	for _, it := range s.items {
		if sameCategory(it.Category, category) {
			return true
		}
	}
	return false
}

// AllCategories is the category value meaning "no filter".
const AllCategories = "All"

// IsUnscoped reports whether category applies no filter.
func IsUnscoped(category string) bool {
	trimmed := strings.TrimSpace(category)
	return trimmed == "" || strings.EqualFold(trimmed, AllCategories)
}

func sameCategory(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

type wireSnapshot struct {
	ID         string          `json:"id"`
	Mode       Mode            `json:"mode"`
	Items      []LineItem      `json:"items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// MarshalJSON encodes the snapshot including its identity.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	items := s.items
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(wireSnapshot{
		ID:         s.id,
		Mode:       s.mode,
		Items:      items,
		Subtotal:   s.subtotal,
		CapturedAt: s.capturedAt,
	})
}

// UnmarshalJSON restores a snapshot persisted with MarshalJSON. The subtotal
// is re-derived from the lines rather than trusted from the payload.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	restored := freeze(w.Mode, w.Items)
	restored.id = w.ID
	restored.capturedAt = w.CapturedAt
	if !restored.mode.Valid() {
		restored.mode = ModeCart
	}
	*s = restored
	return nil
}
