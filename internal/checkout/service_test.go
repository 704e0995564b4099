package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kustom-promo/internal/lock"
	"github.com/noah-isme/kustom-promo/internal/pricing"
	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/redemption"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

type fakePromos struct {
	mu      sync.Mutex
	list    []promotion.Promotion
	listErr error
	onList  func()
	onGet   func()
	lists   int
}

func (f *fakePromos) ListActive(context.Context) ([]promotion.Promotion, error) {
	f.mu.Lock()
	f.lists++
	hook := f.onList
	f.onList = nil
	err := f.listErr
	var out []promotion.Promotion
	for _, p := range f.list {
		if p.IsActive {
			out = append(out, p)
		}
	}
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakePromos) GetByCode(_ context.Context, code string) (promotion.Promotion, error) {
	f.mu.Lock()
	hook := f.onGet
	f.onGet = nil
	list := append([]promotion.Promotion(nil), f.list...)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	for _, p := range list {
		if p.Code == promotion.NormalizeCode(code) {
			return p, nil
		}
	}
	return promotion.Promotion{}, promotion.ErrInvalidCode
}

func (f *fakePromos) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

type fakeHistory struct {
	paid map[string]bool
	err  error
}

func (f fakeHistory) HasPriorPaidOrder(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.paid[userID], nil
}

type fakeValidator struct {
	verdict promotion.Verdict
	calls   int
}

func (f *fakeValidator) ValidateFirstOrderEligibility(context.Context, string, string, decimal.Decimal) (promotion.Verdict, error) {
	f.calls++
	return f.verdict, nil
}

type fakeQueue struct {
	payloads []redemption.Payload
}

func (f *fakeQueue) Enqueue(_ context.Context, p redemption.Payload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

type fixture struct {
	svc       *Service
	promos    *fakePromos
	validator *fakeValidator
	queue     *fakeQueue
}

func newFixture(t *testing.T, promos []promotion.Promotion, history fakeHistory) fixture {
	t.Helper()
	f := fixture{
		promos:    &fakePromos{list: promos},
		validator: &fakeValidator{verdict: promotion.Verdict{Accepted: true}},
		queue:     &fakeQueue{},
	}
	svc, err := NewService(Config{
		Sessions:    NewMemoryStore(),
		Locker:      lock.NewLocal(),
		Promotions:  f.promos,
		Validator:   f.validator,
		History:     history,
		Redemptions: f.queue,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func cart(items ...snapshot.LineItem) Lines {
	return Lines{Mode: snapshot.ModeCart, Items: items}
}

func percentPromo(code string, pct int64) promotion.Promotion {
	return promotion.Promotion{Code: code, IsActive: true, DiscountType: promotion.Percentage, DiscountValue: decimal.NewFromInt(pct)}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

func TestStartAutoAppliesFirstEligiblePromotion(t *testing.T) {
	minPrice := decimal.NewFromInt(5000)
	bigSpender := percentPromo("BIG", 30)
	bigSpender.MinPrice = &minPrice
	f := newFixture(t, []promotion.Promotion{bigSpender, percentPromo("TEN", 10), percentPromo("TWENTY", 20)}, fakeHistory{})

	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "500", 2)), "", "")
	require.NoError(t, err)
	require.Equal(t, AutoApplied, view.AutoState)
	require.NotNil(t, view.Applied)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)
	require.Equal(t, promotion.SourceAuto, view.Applied.Source)
	requireDecimal(t, "100", view.Totals.Discount)
	requireDecimal(t, "900", view.Totals.Total)
}

func TestStartTriesPendingCodeFirst(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10), fixedPromo("CARRY", "50")}, fakeHistory{})

	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "500", 1)), "", "carry")
	require.NoError(t, err)
	require.Equal(t, "CARRY", view.Applied.Promotion.Code)
	require.Equal(t, promotion.SourceCarryOver, view.Applied.Source)
	require.Empty(t, view.PendingCode)
	require.Zero(t, f.promos.lists, "catalog scan skipped when the pending code applies")
}

func TestStartWithUnknownPendingCodeFallsBackToCatalog(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10)}, fakeHistory{})

	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "500", 1)), "", "GHOST")
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)
	require.Nil(t, view.LastRejection, "carry-over failures are silent")
}

func TestAutoSkipsFirstOrderPromotionsForAnonymousAndReturning(t *testing.T) {
	welcome := percentPromo("WELCOME", 50)
	welcome.FirstOrderOnly = true
	promos := []promotion.Promotion{welcome, percentPromo("TEN", 10)}
	f := newFixture(t, promos, fakeHistory{paid: map[string]bool{"returning": true}})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)

	view, err = f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "returning", "")
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)

	view, err = f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "newcomer", "")
	require.NoError(t, err)
	require.Equal(t, "WELCOME", view.Applied.Promotion.Code)
}

func TestAutoTreatsHistoryFailureAsReturningCustomer(t *testing.T) {
	welcome := percentPromo("WELCOME", 50)
	welcome.FirstOrderOnly = true
	f := newFixture(t, []promotion.Promotion{welcome}, fakeHistory{err: errors.New("timeout")})

	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "100", 1)), "u1", "")
	require.NoError(t, err)
	require.Nil(t, view.Applied)
	require.Equal(t, AutoUnapplied, view.AutoState)
}

func TestCatalogFailureLeavesSessionRetryable(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10)}, fakeHistory{})
	f.promos.setListErr(errors.New("connection refused"))
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err, "auto selection never blocks checkout")
	require.Equal(t, AutoIdle, view.AutoState)
	require.Nil(t, view.Applied)
	requireDecimal(t, "100", view.Totals.Total)

	f.promos.setListErr(nil)
	view, err = f.svc.RetryAuto(ctx, view.ID, "")
	require.NoError(t, err)
	require.Equal(t, AutoApplied, view.AutoState)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)
}

func TestManualApplyOverridesAuto(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10), fixedPromo("FLAT30", "30")}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 2)), "", "")
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)

	view, err = f.svc.ApplyPromotion(ctx, view.ID, "", " flat30 ")
	require.NoError(t, err)
	require.Equal(t, "FLAT30", view.Applied.Promotion.Code)
	require.Equal(t, promotion.SourceManual, view.Applied.Source)
	require.True(t, view.ManualLock)
	requireDecimal(t, "170", view.Totals.Total)
}

func TestManualRejectionKeepsPreviousPromotion(t *testing.T) {
	minQty := 5
	bulk := fixedPromo("BULK", "100")
	bulk.MinQuantity = &minQty
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10), bulk}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 2)), "", "")
	require.NoError(t, err)

	_, err = f.svc.ApplyPromotion(ctx, view.ID, "", "BULK")
	require.ErrorIs(t, err, promotion.ErrMinimumQuantityNotMet)
	var rej *promotion.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, decimal.NewFromInt(5).String(), rej.Required.String())

	_, err = f.svc.ApplyPromotion(ctx, view.ID, "", "NOPE")
	require.ErrorIs(t, err, promotion.ErrInvalidCode)

	view, err = f.svc.Get(ctx, view.ID)
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)
	require.Equal(t, promotion.ReasonInvalidCode, view.LastRejection.Reason)
}

func TestManualApplyDiscardedWhenCartChangesMidFlight(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{fixedPromo("FLAT30", "30")}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err)
	id := view.ID
	_, err = f.svc.RemovePromotion(ctx, id)
	require.NoError(t, err)

	f.promos.mu.Lock()
	f.promos.onGet = func() {
		_, err := f.svc.ReplaceItems(ctx, id, "", []snapshot.LineItem{item("p1", "Tee", "100", 3)})
		require.NoError(t, err)
	}
	f.promos.mu.Unlock()

	_, err = f.svc.ApplyPromotion(ctx, id, "", "FLAT30")
	require.ErrorIs(t, err, ErrStaleSnapshot)

	view, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, view.Snapshot.TotalQuantity())
	if view.Applied != nil {
		require.Equal(t, view.Snapshot.ID(), view.Applied.SnapshotID)
	}
}

func TestInFlightAutoDiscardedAfterManualApply(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10), fixedPromo("FLAT30", "30")}, fakeHistory{})
	f.promos.setListErr(errors.New("unavailable"))
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err)
	require.Equal(t, AutoIdle, view.AutoState)
	id := view.ID

	f.promos.setListErr(nil)
	f.promos.mu.Lock()
	f.promos.onList = func() {
		_, err := f.svc.ApplyPromotion(ctx, id, "", "FLAT30")
		require.NoError(t, err)
	}
	f.promos.mu.Unlock()

	view, err = f.svc.RetryAuto(ctx, id, "")
	require.NoError(t, err)
	require.Equal(t, "FLAT30", view.Applied.Promotion.Code)
	require.Equal(t, promotion.SourceManual, view.Applied.Source)
}

func TestReplaceItemsRederivesDiscount(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10)}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "230", 2)), "", "")
	require.NoError(t, err)
	requireDecimal(t, "46", view.Totals.Discount)

	view, err = f.svc.ReplaceItems(ctx, view.ID, "", []snapshot.LineItem{item("p1", "Tee", "230", 4)})
	require.NoError(t, err)
	require.Equal(t, view.Snapshot.ID(), view.Applied.SnapshotID)
	requireDecimal(t, "92", view.Totals.Discount)
	requireDecimal(t, "828", view.Totals.Total)
}

func TestReplaceItemsDropsThenReselects(t *testing.T) {
	minQty := 3
	bulk := fixedPromo("BULK", "100")
	bulk.MinQuantity = &minQty
	f := newFixture(t, []promotion.Promotion{bulk, percentPromo("TEN", 10)}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 3)), "", "")
	require.NoError(t, err)
	require.Equal(t, "BULK", view.Applied.Promotion.Code)

	view, err = f.svc.ReplaceItems(ctx, view.ID, "", []snapshot.LineItem{item("p1", "Tee", "100", 1)})
	require.NoError(t, err)
	require.Equal(t, "TEN", view.Applied.Promotion.Code)
	require.Equal(t, "BULK", view.LastRejection.Code)
}

// interleavingStore runs a one-shot callback after the next Get has read the
// session, so the caller holds a copy that is already out of date.
type interleavingStore struct {
	SessionStore
	mu    sync.Mutex
	after func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.SessionStore.Get(ctx, id)
	s.mu.Lock()
	hook := s.after
	s.after = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return sess, err
}

func (s *interleavingStore) arm(fn func()) {
	s.mu.Lock()
	s.after = fn
	s.mu.Unlock()
}

func TestReplaceItemsRechecksHistoryWhenAppliedChangesConcurrently(t *testing.T) {
	welcome := percentPromo("WELCOME", 10)
	welcome.FirstOrderOnly = true
	history := fakeHistory{paid: map[string]bool{}}
	sessions := &interleavingStore{SessionStore: NewMemoryStore()}
	svc, err := NewService(Config{
		Sessions:   sessions,
		Locker:     lock.NewLocal(),
		Promotions: &fakePromos{list: []promotion.Promotion{welcome}},
		Validator:  &fakeValidator{verdict: promotion.Verdict{Accepted: true}},
		History:    history,
	})
	require.NoError(t, err)
	ctx := context.Background()

	view, err := svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "u1", "")
	require.NoError(t, err)
	view, err = svc.RemovePromotion(ctx, view.ID)
	require.NoError(t, err)
	require.Nil(t, view.Applied)

	id := view.ID
	sessions.arm(func() {
		applied, err := svc.ApplyPromotion(ctx, id, "u1", "WELCOME")
		require.NoError(t, err)
		require.Equal(t, "WELCOME", applied.Applied.Promotion.Code)
		history.paid["u1"] = true
	})

	view, err = svc.ReplaceItems(ctx, id, "u1", []snapshot.LineItem{item("p1", "Tee", "100", 2)})
	require.NoError(t, err)
	require.Nil(t, view.Applied)
	require.NotNil(t, view.LastRejection)
	require.Equal(t, "WELCOME", view.LastRejection.Code)
	require.Equal(t, promotion.ReasonFirstOrderOnly, view.LastRejection.Reason)
}

func TestSwitchModeAndClearCart(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10)}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 2), item("p2", "Hoodie", "300", 1)), "", "")
	require.NoError(t, err)

	view, err = f.svc.SwitchMode(ctx, view.ID, "", Lines{Mode: snapshot.ModeBuyNow, BuyNow: &snapshot.LineItem{ProductID: "p2", Category: "Hoodie", UnitPrice: decimal.NewFromInt(300), Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, snapshot.ModeBuyNow, view.Mode)
	requireDecimal(t, "30", view.Totals.Discount)

	view, err = f.svc.ClearCart(ctx, view.ID, "")
	require.NoError(t, err)
	require.Nil(t, view.Applied)
	require.Equal(t, AutoUnapplied, view.AutoState)
	requireDecimal(t, "0", view.Totals.Total)

	_, err = f.svc.SwitchMode(ctx, view.ID, "", Lines{Mode: snapshot.ModeBuyNow})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestConfirmRequiresAuthenticatedUser(t *testing.T) {
	f := newFixture(t, nil, fakeHistory{})
	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), view.ID, "")
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestConfirmEnqueuesRedemption(t *testing.T) {
	f := newFixture(t, []promotion.Promotion{percentPromo("TEN", 10)}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 2)), "", "")
	require.NoError(t, err)

	out, err := f.svc.Confirm(ctx, view.ID, "u1")
	require.NoError(t, err)
	require.True(t, out.Confirmed)
	require.Nil(t, out.Dropped)
	require.Len(t, f.queue.payloads, 1)
	require.Equal(t, "TEN", f.queue.payloads[0].Code)
	require.Equal(t, "u1", f.queue.payloads[0].UserID)
	requireDecimal(t, "180", f.queue.payloads[0].Total)

	_, err = f.svc.Confirm(ctx, view.ID, "u1")
	require.ErrorIs(t, err, ErrSessionConfirmed)
	_, err = f.svc.ApplyPromotion(ctx, view.ID, "u1", "TEN")
	require.ErrorIs(t, err, ErrSessionConfirmed)
}

func TestConfirmDropsFirstOrderPromotionRejectedAtPlacement(t *testing.T) {
	welcome := percentPromo("WELCOME", 50)
	welcome.FirstOrderOnly = true
	f := newFixture(t, []promotion.Promotion{welcome}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "u1", "")
	require.NoError(t, err)
	require.Equal(t, "WELCOME", view.Applied.Promotion.Code)

	f.validator.verdict = promotion.Verdict{Accepted: false, Reason: "already redeemed"}
	out, err := f.svc.Confirm(ctx, view.ID, "u1")
	require.NoError(t, err)
	require.True(t, out.Confirmed)
	require.Nil(t, out.Applied)
	require.NotNil(t, out.Dropped)
	require.Equal(t, promotion.ReasonFirstOrderOnly, out.Dropped.Reason)
	requireDecimal(t, "100", out.Totals.Total)
	require.Empty(t, f.queue.payloads)
	require.Equal(t, 1, f.validator.calls)
}

func TestConfirmDropsFirstOrderPromotionForReturningCustomer(t *testing.T) {
	welcome := percentPromo("WELCOME", 50)
	welcome.FirstOrderOnly = true
	f := newFixture(t, []promotion.Promotion{welcome}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "u1", "")
	require.NoError(t, err)
	require.NotNil(t, view.Applied)

	f.svc.history = fakeHistory{paid: map[string]bool{"u1": true}}
	out, err := f.svc.Confirm(ctx, view.ID, "u1")
	require.NoError(t, err)
	require.Nil(t, out.Applied)
	require.Equal(t, "WELCOME", out.Dropped.Code)
	require.Zero(t, f.validator.calls)
}

func TestConfirmAbortsOnHistoryOutage(t *testing.T) {
	welcome := percentPromo("WELCOME", 50)
	welcome.FirstOrderOnly = true
	f := newFixture(t, []promotion.Promotion{welcome}, fakeHistory{})
	ctx := context.Background()

	view, err := f.svc.Start(ctx, cart(item("p1", "Tee", "100", 1)), "u1", "")
	require.NoError(t, err)
	require.NotNil(t, view.Applied)

	f.svc.history = fakeHistory{err: errors.New("down")}
	_, err = f.svc.Confirm(ctx, view.ID, "u1")
	require.ErrorIs(t, err, promotion.ErrNetworkFailure)

	view, err = f.svc.Get(ctx, view.ID)
	require.NoError(t, err)
	require.False(t, view.Confirmed)
}

func TestTotalsUsePolicy(t *testing.T) {
	f := newFixture(t, nil, fakeHistory{})
	f.svc.policy = pricing.Policy{ShippingFlat: decimal.NewFromInt(25), TaxBps: 1000}

	view, err := f.svc.Start(context.Background(), cart(item("p1", "Tee", "100", 1)), "", "")
	require.NoError(t, err)
	requireDecimal(t, "25", view.Totals.Shipping)
	requireDecimal(t, "10", view.Totals.Tax)
	requireDecimal(t, "135", view.Totals.Total)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, nil, fakeHistory{})
	_, err := f.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.ApplyPromotion(context.Background(), "missing", "", "TEN")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
