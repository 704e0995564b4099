package checkout

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func item(id, category, price string, qty int) snapshot.LineItem {
	return snapshot.LineItem{ProductID: id, Category: category, UnitPrice: decimal.RequireFromString(price), Quantity: qty}
}

func appliedFor(t *testing.T, p promotion.Promotion, snap snapshot.Snapshot, source promotion.Source) *promotion.Applied {
	t.Helper()
	a, err := promotion.Apply(p, snap, promotion.EvalContext{}, source)
	require.NoError(t, err)
	return &a
}

func fixedPromo(code string, value string) promotion.Promotion {
	return promotion.Promotion{Code: code, IsActive: true, DiscountType: promotion.Fixed, DiscountValue: decimal.RequireFromString(value)}
}

func TestNewSessionNormalizesPendingCode(t *testing.T) {
	sess := NewSession(snapshot.FromCart(nil), "", "  welcome10 ", testNow)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, "WELCOME10", sess.PendingCode)
	require.Equal(t, AutoIdle, sess.Auto)
}

func TestBeginAutoOnEmptySnapshotFinishesUnapplied(t *testing.T) {
	sess := NewSession(snapshot.FromCart(nil), "", "", testNow)
	attempt, ok := sess.BeginAuto(testNow)
	require.False(t, ok)
	require.Empty(t, attempt)
	require.Equal(t, AutoUnapplied, sess.Auto)
}

func TestBeginAutoRunsOncePerSnapshot(t *testing.T) {
	sess := NewSession(snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)}), "", "", testNow)
	attempt, ok := sess.BeginAuto(testNow)
	require.True(t, ok)
	require.NotEmpty(t, attempt)
	require.Equal(t, AutoCatalogLoading, sess.Auto)

	_, ok = sess.BeginAuto(testNow)
	require.False(t, ok, "attempt already in flight")

	require.NoError(t, sess.CompleteAuto(attempt, sess.Snapshot.ID(), nil, testNow))
	require.Equal(t, AutoUnapplied, sess.Auto)
	_, ok = sess.BeginAuto(testNow)
	require.False(t, ok, "selection already finished")
}

func TestCompleteAutoRejectsStaleResults(t *testing.T) {
	snap := snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)})
	applied := appliedFor(t, fixedPromo("F10", "10"), snap, promotion.SourceAuto)

	t.Run("superseded attempt", func(t *testing.T) {
		sess := NewSession(snap, "", "", testNow)
		_, ok := sess.BeginAuto(testNow)
		require.True(t, ok)
		require.ErrorIs(t, sess.CompleteAuto("other", snap.ID(), applied, testNow), ErrStaleSnapshot)
	})

	t.Run("snapshot replaced", func(t *testing.T) {
		sess := NewSession(snap, "", "", testNow)
		attempt, ok := sess.BeginAuto(testNow)
		require.True(t, ok)
		require.NoError(t, sess.ReplaceSnapshot(snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 2)}), promotion.EvalContext{}, testNow))
		require.ErrorIs(t, sess.CompleteAuto(attempt, snap.ID(), applied, testNow), ErrStaleSnapshot)
		require.Nil(t, sess.Applied)
	})

	t.Run("manual choice intervened", func(t *testing.T) {
		sess := NewSession(snap, "", "", testNow)
		attempt, ok := sess.BeginAuto(testNow)
		require.True(t, ok)
		sess.LockManual(testNow)
		require.ErrorIs(t, sess.CompleteAuto(attempt, snap.ID(), applied, testNow), ErrStaleSnapshot)
		require.Nil(t, sess.Applied)
		require.Equal(t, AutoUnapplied, sess.Auto)
	})
}

func TestCompleteAutoKeepsRejectionOfDroppedCode(t *testing.T) {
	minQty := 3
	bulk := fixedPromo("BULK", "100")
	bulk.MinQuantity = &minQty
	snap := snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 3)})
	sess := NewSession(snap, "", "", testNow)
	sess.Applied = appliedFor(t, bulk, snap, promotion.SourceAuto)
	sess.Auto = AutoApplied

	next := snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)})
	require.Error(t, sess.ReplaceSnapshot(next, promotion.EvalContext{}, testNow))
	require.Equal(t, "BULK", sess.LastRejection.Code)

	attempt, ok := sess.BeginAuto(testNow)
	require.True(t, ok)
	require.NoError(t, sess.CompleteAuto(attempt, next.ID(), appliedFor(t, fixedPromo("TEN", "10"), next, promotion.SourceAuto), testNow))
	require.Equal(t, "TEN", sess.Applied.Promotion.Code)
	require.NotNil(t, sess.LastRejection)
	require.Equal(t, "BULK", sess.LastRejection.Code)
	require.Equal(t, promotion.ReasonMinimumQuantity, sess.LastRejection.Reason)

	// A rejection for the code that now applies is cleared.
	sess.LastRejection = &Rejection{Code: "FIVE"}
	require.NoError(t, sess.ReplaceSnapshot(snap, promotion.EvalContext{}, testNow))
	sess.Applied = nil
	sess.Auto = AutoIdle
	attempt, ok = sess.BeginAuto(testNow)
	require.True(t, ok)
	require.NoError(t, sess.CompleteAuto(attempt, snap.ID(), appliedFor(t, fixedPromo("FIVE", "5"), snap, promotion.SourceAuto), testNow))
	require.Nil(t, sess.LastRejection)
}

func TestAbortAutoKeepsPendingCode(t *testing.T) {
	sess := NewSession(snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)}), "", "SAVE5", testNow)
	attempt, ok := sess.BeginAuto(testNow)
	require.True(t, ok)
	require.NoError(t, sess.AbortAuto(attempt, sess.Snapshot.ID(), testNow))
	require.Equal(t, AutoIdle, sess.Auto)
	require.Equal(t, "SAVE5", sess.PendingCode)

	_, ok = sess.BeginAuto(testNow)
	require.True(t, ok, "aborted selection can be retried")
}

func TestApplyManualAndRemove(t *testing.T) {
	snap := snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)})
	sess := NewSession(snap, "", "PENDING", testNow)
	sess.LockManual(testNow)

	stale := appliedFor(t, fixedPromo("F10", "10"), snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)}), promotion.SourceManual)
	require.ErrorIs(t, sess.ApplyManual(snap.ID(), *stale, testNow), ErrStaleSnapshot)

	applied := appliedFor(t, fixedPromo("F10", "10"), snap, promotion.SourceManual)
	require.NoError(t, sess.ApplyManual(snap.ID(), *applied, testNow))
	require.Equal(t, AutoApplied, sess.Auto)
	require.Empty(t, sess.PendingCode)

	sess.RejectManual("NOPE", promotion.ErrInvalidCode, testNow)
	require.NotNil(t, sess.Applied, "rejection keeps the current promotion")
	require.Equal(t, promotion.ReasonInvalidCode, sess.LastRejection.Reason)

	sess.RemoveManual(testNow)
	require.Nil(t, sess.Applied)
	require.Equal(t, AutoUnapplied, sess.Auto)
	_, ok := sess.BeginAuto(testNow)
	require.False(t, ok, "removal disables auto selection for the snapshot")
}

func TestReplaceSnapshotRederivesOrDrops(t *testing.T) {
	snap := snapshot.FromCart([]snapshot.LineItem{item("p1", "Hoodie", "300", 2)})
	p := promotion.Promotion{
		Code:          "HOODIE10",
		IsActive:      true,
		DiscountType:  promotion.Percentage,
		DiscountValue: decimal.NewFromInt(10),
		MinQuantity:   func() *int { v := 2; return &v }(),
	}
	sess := NewSession(snap, "", "", testNow)
	sess.LockManual(testNow)
	require.NoError(t, sess.ApplyManual(snap.ID(), *appliedFor(t, p, snap, promotion.SourceManual), testNow))
	require.True(t, sess.Applied.Discount.Equal(decimal.NewFromInt(60)))

	bigger := snapshot.FromCart([]snapshot.LineItem{item("p1", "Hoodie", "300", 3)})
	require.NoError(t, sess.ReplaceSnapshot(bigger, promotion.EvalContext{}, testNow))
	require.True(t, sess.Applied.Discount.Equal(decimal.NewFromInt(90)), sess.Applied.Discount.String())
	require.Equal(t, bigger.ID(), sess.Applied.SnapshotID)
	require.Equal(t, AutoApplied, sess.Auto)
	require.False(t, sess.ManualLock)

	smaller := snapshot.FromCart([]snapshot.LineItem{item("p1", "Hoodie", "300", 1)})
	err := sess.ReplaceSnapshot(smaller, promotion.EvalContext{}, testNow)
	require.ErrorIs(t, err, promotion.ErrMinimumQuantityNotMet)
	require.Nil(t, sess.Applied)
	require.Equal(t, AutoIdle, sess.Auto)
	require.Equal(t, "HOODIE10", sess.LastRejection.Code)
}

func TestResetClearsSelectionState(t *testing.T) {
	snap := snapshot.FromCart([]snapshot.LineItem{item("p1", "Tee", "100", 1)})
	sess := NewSession(snap, "", "PENDING", testNow)
	sess.LockManual(testNow)
	require.NoError(t, sess.ApplyManual(snap.ID(), *appliedFor(t, fixedPromo("F10", "10"), snap, promotion.SourceManual), testNow))

	sess.Reset(snapshot.FromBuyNow(item("p2", "Tee", "50", 1)), testNow)
	require.Nil(t, sess.Applied)
	require.False(t, sess.ManualLock)
	require.Equal(t, AutoIdle, sess.Auto)
	require.Equal(t, snapshot.ModeBuyNow, sess.Snapshot.Mode())
}
