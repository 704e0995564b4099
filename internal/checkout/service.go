package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/kustom-promo/internal/lock"
	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/pricing"
	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/redemption"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

// PromotionSource supplies the promotion catalog and single-code lookups.
// GetByCode returns promotion.ErrInvalidCode for unknown codes.
type PromotionSource interface {
	ListActive(ctx context.Context) ([]promotion.Promotion, error)
	GetByCode(ctx context.Context, code string) (promotion.Promotion, error)
}

// FirstOrderValidator performs the order-placement check of first-order-only promotions.
type FirstOrderValidator interface {
	ValidateFirstOrderEligibility(ctx context.Context, code, userID string, subtotal decimal.Decimal) (promotion.Verdict, error)
}

// OrderHistory reports whether a customer already paid for an order.
type OrderHistory interface {
	HasPriorPaidOrder(ctx context.Context, userID string) (bool, error)
}

// RedemptionQueue schedules redemption recording for confirmed sessions.
type RedemptionQueue interface {
	Enqueue(ctx context.Context, p redemption.Payload) error
}

// Service orchestrates checkout sessions. Session state only changes while
// the per-session lock is held; repository calls run outside the lock and
// their results are dropped if the session moved on in the meantime.
type Service struct {
	sessions    SessionStore
	locker      lock.Interface
	promos      PromotionSource
	validator   FirstOrderValidator
	history     OrderHistory
	redemptions RedemptionQueue
	policy      pricing.Policy
	currency    string
	lockTTL     time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Config groups Service dependencies.
type Config struct {
	Sessions    SessionStore
	Locker      lock.Interface
	Promotions  PromotionSource
	Validator   FirstOrderValidator
	History     OrderHistory
	Redemptions RedemptionQueue
	Policy      pricing.Policy
	Currency    string
	LockTTL     time.Duration
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("checkout: session store is required")
	}
	if cfg.Promotions == nil {
		return nil, errors.New("checkout: promotion source is required")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "checkout").Logger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Service{
		sessions:    cfg.Sessions,
		locker:      locker,
		promos:      cfg.Promotions,
		validator:   cfg.Validator,
		history:     cfg.History,
		redemptions: cfg.Redemptions,
		policy:      cfg.Policy,
		currency:    strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		lockTTL:     lockTTL,
		logger:      logger,
		tracer:      otel.Tracer("checkout.Service"),
		now:         now,
	}, nil
}

// View is the client-facing state of a session with freshly derived totals.
type View struct {
	ID            string             `json:"id"`
	Mode          snapshot.Mode      `json:"mode"`
	Snapshot      snapshot.Snapshot  `json:"snapshot"`
	Applied       *promotion.Applied `json:"applied"`
	AutoState     AutoState          `json:"autoState"`
	ManualLock    bool               `json:"manualLock"`
	PendingCode   string             `json:"pendingCode,omitempty"`
	LastRejection *Rejection         `json:"lastRejection,omitempty"`
	Confirmed     bool               `json:"confirmed"`
	Currency      string             `json:"currency,omitempty"`
	Totals        pricing.Totals     `json:"totals"`
}

// Confirmation is the result of order placement.
type Confirmation struct {
	View
	Dropped *Rejection `json:"dropped,omitempty"`
}

// Lines describes the purchased lines for a mode.
type Lines struct {
	Mode   snapshot.Mode
	BuyNow *snapshot.LineItem
	Items  []snapshot.LineItem
}

func (l Lines) source() (snapshot.Source, error) {
	switch l.Mode {
	case snapshot.ModeBuyNow:
		item := l.BuyNow
		if item == nil && len(l.Items) == 1 {
			item = &l.Items[0]
		}
		if item == nil {
			return snapshot.Source{}, fmt.Errorf("%w: buy now requires exactly one item", ErrInvalidInput)
		}
		return snapshot.Source{Mode: snapshot.ModeBuyNow, BuyNow: item}, nil
	case snapshot.ModeCart:
		return snapshot.Source{Mode: snapshot.ModeCart, Cart: l.Items}, nil
	default:
		return snapshot.Source{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, l.Mode)
	}
}

func (s *Service) lockKey(id string) string {
	return "checkout:lock:" + id
}

// mutate loads the session under its lock, applies fn and saves the result.
// Nothing is saved when fn fails.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var out *Session
	err := s.locker.WithLock(ctx, s.lockKey(id), s.lockTTL, func(ctx context.Context) error {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("save checkout session: %w", err)
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *Service) toView(sess *Session) View {
	return View{
		ID:            sess.ID,
		Mode:          sess.Snapshot.Mode(),
		Snapshot:      sess.Snapshot,
		Applied:       sess.Applied,
		AutoState:     sess.Auto,
		ManualLock:    sess.ManualLock,
		PendingCode:   sess.PendingCode,
		LastRejection: sess.LastRejection,
		Confirmed:     sess.Confirmed,
		Currency:      s.currency,
		Totals:        pricing.Compute(sess.Snapshot, sess.Applied, s.policy),
	}
}

// Get returns the session view.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.toView(sess), nil
}

// Start creates a session from the given lines and runs automatic selection.
// pendingCode is a carried-over code tried before the catalog scan.
func (s *Service) Start(ctx context.Context, lines Lines, userID, pendingCode string) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.Start")
	defer span.End()

	src, err := lines.source()
	if err != nil {
		return View{}, err
	}
	sess := NewSession(snapshot.Build(src), strings.TrimSpace(userID), pendingCode, s.now().UTC())
	if err := s.sessions.Save(ctx, sess); err != nil {
		return View{}, fmt.Errorf("save checkout session: %w", err)
	}
	span.SetAttributes(attribute.String("checkout.session_id", sess.ID))
	s.runAuto(ctx, sess.ID)
	return s.Get(ctx, sess.ID)
}

// ReplaceItems rebuilds the snapshot in the current mode, e.g. after a
// quantity change. The applied promotion is re-derived, or dropped when it no
// longer qualifies, and automatic selection runs again if nothing stays
// applied.
func (s *Service) ReplaceItems(ctx context.Context, id, userID string, items []snapshot.LineItem) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.ReplaceItems")
	defer span.End()

	var sess *Session
	for attempt := 1; ; attempt++ {
		current, err := s.sessions.Get(ctx, id)
		if err != nil {
			return View{}, err
		}
		uid := s.userFor(current, userID)
		ec, err := s.evalContextFor(ctx, current.Applied, uid)
		if err != nil {
			return View{}, err
		}

		sess, err = s.mutate(ctx, id, func(locked *Session) error {
			if locked.Confirmed {
				return ErrSessionConfirmed
			}
			// ec was built from the unlocked read.
			if appliedCode(locked.Applied) != appliedCode(current.Applied) || s.userFor(locked, userID) != uid {
				return errAppliedChanged
			}
			src, err := Lines{Mode: locked.Snapshot.Mode(), Items: items}.source()
			if err != nil {
				return err
			}
			locked.UserID = uid
			if dropped := locked.ReplaceSnapshot(snapshot.Build(src), ec, s.now().UTC()); dropped != nil {
				s.logger.Info().Str("session_id", locked.ID).Str("reason", promotion.Reason(dropped)).Msg("applied promotion dropped after cart change")
				obs.CountPromotionApply("rederive", "dropped")
			}
			return nil
		})
		if errors.Is(err, errAppliedChanged) {
			if attempt < rederiveAttempts {
				continue
			}
			obs.CountStaleResult("rederive")
			return View{}, ErrStaleSnapshot
		}
		if err != nil {
			return View{}, err
		}
		break
	}
	if sess.Auto == AutoIdle {
		s.runAuto(ctx, id)
		return s.Get(ctx, id)
	}
	return s.toView(sess), nil
}

// SwitchMode replaces the lines with a different checkout mode. The applied
// promotion is discarded and selection starts over.
func (s *Service) SwitchMode(ctx context.Context, id, userID string, lines Lines) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.SwitchMode")
	defer span.End()

	src, err := lines.source()
	if err != nil {
		return View{}, err
	}
	return s.reset(ctx, id, userID, snapshot.Build(src))
}

// ClearCart empties the session. The applied promotion is discarded.
func (s *Service) ClearCart(ctx context.Context, id, userID string) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.ClearCart")
	defer span.End()
	return s.reset(ctx, id, userID, snapshot.FromCart(nil))
}

func (s *Service) reset(ctx context.Context, id, userID string, next snapshot.Snapshot) (View, error) {
	_, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.Confirmed {
			return ErrSessionConfirmed
		}
		sess.UserID = s.userFor(sess, userID)
		sess.Reset(next, s.now().UTC())
		return nil
	})
	if err != nil {
		return View{}, err
	}
	s.runAuto(ctx, id)
	return s.Get(ctx, id)
}

// RetryAuto runs automatic selection again, e.g. after a catalog failure left
// the session idle. It is a no-op when selection already finished.
func (s *Service) RetryAuto(ctx context.Context, id, userID string) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.RetryAuto")
	defer span.End()

	if userID != "" {
		if _, err := s.mutate(ctx, id, func(sess *Session) error {
			sess.UserID = s.userFor(sess, userID)
			return nil
		}); err != nil {
			return View{}, err
		}
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return View{}, err
	}
	s.runAuto(ctx, id)
	return s.Get(ctx, id)
}

// ApplyPromotion applies code manually. Manual choice wins over automatic
// selection and any automatic attempt in flight is discarded. Rejections are
// returned with their reason; the session keeps its previous promotion.
func (s *Service) ApplyPromotion(ctx context.Context, id, userID, code string) (View, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.ApplyPromotion")
	defer span.End()

	code = promotion.NormalizeCode(code)
	if code == "" {
		return View{}, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	span.SetAttributes(attribute.String("checkout.session_id", id), attribute.String("promotion.code", code))

	var (
		snap snapshot.Snapshot
		uid  string
	)
	if _, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.Confirmed {
			return ErrSessionConfirmed
		}
		sess.UserID = s.userFor(sess, userID)
		sess.LockManual(s.now().UTC())
		snap = sess.Snapshot
		uid = sess.UserID
		return nil
	}); err != nil {
		return View{}, err
	}

	applied, applyErr := s.resolveManual(ctx, code, snap, uid)

	sess, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.Snapshot.ID() != snap.ID() {
			return ErrStaleSnapshot
		}
		if applyErr != nil {
			sess.RejectManual(code, applyErr, s.now().UTC())
			return nil
		}
		return sess.ApplyManual(snap.ID(), applied, s.now().UTC())
	})
	if errors.Is(err, ErrStaleSnapshot) {
		obs.CountStaleResult("manual")
		obs.CountPromotionApply(string(promotion.SourceManual), "stale")
		s.logger.Info().Str("session_id", id).Str("code", code).Msg("discard manual promotion result for stale snapshot")
		return View{}, err
	}
	if err != nil {
		return View{}, err
	}
	if applyErr != nil {
		obs.CountPromotionApply(string(promotion.SourceManual), strings.ToLower(promotion.Reason(applyErr)))
		span.RecordError(applyErr)
		return View{}, applyErr
	}
	obs.CountPromotionApply(string(promotion.SourceManual), "applied")
	obs.ObserveDiscount(applied.Discount.InexactFloat64())
	return s.toView(sess), nil
}

func (s *Service) resolveManual(ctx context.Context, code string, snap snapshot.Snapshot, userID string) (promotion.Applied, error) {
	p, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return promotion.Applied{}, asNetworkFailure(err)
	}
	ec := promotion.EvalContext{Authenticated: userID != ""}
	if p.FirstOrderOnly && ec.Authenticated {
		has, err := s.hasPriorPaidOrder(ctx, userID)
		if err != nil {
			return promotion.Applied{}, err
		}
		ec.HasPriorPaidOrder = has
	}
	if err := promotion.Evaluate(p, snap, ec); err != nil {
		return promotion.Applied{}, err
	}
	if p.FirstOrderOnly && ec.Authenticated {
		if err := s.validateFirstOrder(ctx, p, userID, snap.Subtotal()); err != nil {
			return promotion.Applied{}, err
		}
	}
	return promotion.Apply(p, snap, ec, promotion.SourceManual)
}

// RemovePromotion drops the applied promotion. Automatic selection does not
// re-apply anything until the cart changes.
func (s *Service) RemovePromotion(ctx context.Context, id string) (View, error) {
	sess, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.Confirmed {
			return ErrSessionConfirmed
		}
		sess.RemoveManual(s.now().UTC())
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return s.toView(sess), nil
}

// Confirm runs the order-placement checks, drops a promotion that fails the
// deferred first-order validation, closes the session and schedules the
// redemption record.
func (s *Service) Confirm(ctx context.Context, id, userID string) (Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.Confirm")
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Confirmation{}, ErrAuthRequired
	}
	current, err := s.sessions.Get(ctx, id)
	if err != nil {
		return Confirmation{}, err
	}
	if current.Confirmed {
		return Confirmation{}, ErrSessionConfirmed
	}
	if current.Snapshot.IsEmpty() {
		return Confirmation{}, fmt.Errorf("%w: checkout is empty", ErrInvalidInput)
	}

	var dropErr error
	if current.Applied != nil {
		dropErr, err = s.recheckForOrder(ctx, *current.Applied, current.Snapshot, userID)
		if err != nil {
			return Confirmation{}, err
		}
	}

	var dropped *Rejection
	sess, err := s.mutate(ctx, id, func(sess *Session) error {
		if sess.Confirmed {
			return ErrSessionConfirmed
		}
		if sess.Snapshot.ID() != current.Snapshot.ID() || appliedCode(sess.Applied) != appliedCode(current.Applied) {
			return ErrStaleSnapshot
		}
		sess.UserID = userID
		if dropErr != nil {
			sess.DropApplied(dropErr, s.now().UTC())
			dropped = sess.LastRejection
		}
		sess.Confirm(s.now().UTC())
		return nil
	})
	if errors.Is(err, ErrStaleSnapshot) {
		obs.CountStaleResult("confirm")
		return Confirmation{}, err
	}
	if err != nil {
		return Confirmation{}, err
	}

	view := s.toView(sess)
	if dropped != nil {
		s.logger.Info().Str("session_id", id).Str("code", dropped.Code).Str("reason", dropped.Reason).Msg("promotion dropped at order placement")
		obs.CountPromotionApply("confirm", "dropped")
	}
	if sess.Applied != nil && s.redemptions != nil {
		payload := redemption.Payload{
			SessionID:  sess.ID,
			Code:       sess.Applied.Promotion.Code,
			UserID:     userID,
			Source:     sess.Applied.Source,
			Subtotal:   view.Totals.Subtotal,
			Discount:   view.Totals.Discount,
			Total:      view.Totals.Total,
			RedeemedAt: sess.UpdatedAt,
		}
		if err := s.redemptions.Enqueue(ctx, payload); err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("enqueue redemption")
		}
	}
	return Confirmation{View: view, Dropped: dropped}, nil
}

// recheckForOrder re-evaluates the applied promotion for an authenticated
// customer. It returns the reason to drop the promotion, or an infrastructure
// error that must abort the confirmation.
func (s *Service) recheckForOrder(ctx context.Context, applied promotion.Applied, snap snapshot.Snapshot, userID string) (error, error) {
	p := applied.Promotion
	ec := promotion.EvalContext{Authenticated: true}
	if p.FirstOrderOnly {
		has, err := s.hasPriorPaidOrder(ctx, userID)
		if err != nil {
			return nil, err
		}
		ec.HasPriorPaidOrder = has
	}
	if err := promotion.Evaluate(p, snap, ec); err != nil {
		return err, nil
	}
	if !p.FirstOrderOnly {
		return nil, nil
	}
	if err := s.validateFirstOrder(ctx, p, userID, snap.Subtotal()); err != nil {
		if errors.Is(err, promotion.ErrNetworkFailure) {
			return nil, err
		}
		return err, nil
	}
	return nil, nil
}

func (s *Service) validateFirstOrder(ctx context.Context, p promotion.Promotion, userID string, subtotal decimal.Decimal) error {
	if s.validator == nil {
		return nil
	}
	verdict, err := s.validator.ValidateFirstOrderEligibility(ctx, p.Code, userID, subtotal)
	if err != nil {
		return asNetworkFailure(err)
	}
	if !verdict.Accepted {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			return promotion.ErrFirstOrderOnly
		}
		return fmt.Errorf("%w: %s", promotion.ErrFirstOrderOnly, reason)
	}
	return nil
}

// runAuto drives one automatic selection attempt. Failures never reach the
// caller: catalog errors return the session to Idle so a later call can retry.
func (s *Service) runAuto(ctx context.Context, id string) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.runAuto")
	defer span.End()

	var (
		attempt string
		started bool
		snap    snapshot.Snapshot
		pending string
		userID  string
	)
	if _, err := s.mutate(ctx, id, func(sess *Session) error {
		attempt, started = sess.BeginAuto(s.now().UTC())
		snap = sess.Snapshot
		pending = sess.PendingCode
		userID = sess.UserID
		return nil
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("begin auto selection")
		return
	}
	if !started {
		return
	}

	applied, err := s.selectAutomatically(ctx, snap, pending, userID)
	if err != nil {
		obs.CountAutoSelect("catalog_error")
		s.logger.Warn().Err(err).Str("session_id", id).Msg("promotion catalog unavailable, auto selection deferred")
		if _, abortErr := s.mutate(ctx, id, func(sess *Session) error {
			return sess.AbortAuto(attempt, snap.ID(), s.now().UTC())
		}); abortErr != nil && !errors.Is(abortErr, ErrStaleSnapshot) {
			s.logger.Warn().Err(abortErr).Str("session_id", id).Msg("abort auto selection")
		}
		return
	}

	_, err = s.mutate(ctx, id, func(sess *Session) error {
		return sess.CompleteAuto(attempt, snap.ID(), applied, s.now().UTC())
	})
	switch {
	case errors.Is(err, ErrStaleSnapshot):
		obs.CountStaleResult("auto")
		s.logger.Debug().Str("session_id", id).Msg("discard auto selection result for stale snapshot")
	case err != nil:
		s.logger.Warn().Err(err).Str("session_id", id).Msg("complete auto selection")
	case applied == nil:
		obs.CountAutoSelect("none")
	default:
		obs.CountAutoSelect("applied")
		obs.CountPromotionApply(string(applied.Source), "applied")
		obs.ObserveDiscount(applied.Discount.InexactFloat64())
		s.logger.Debug().Str("session_id", id).Str("code", applied.Promotion.Code).Str("source", string(applied.Source)).Msg("promotion auto applied")
	}
}

// selectAutomatically tries the pending code, then scans the catalog. Only a
// catalog failure is returned; every other problem means nothing applies.
func (s *Service) selectAutomatically(ctx context.Context, snap snapshot.Snapshot, pending, userID string) (*promotion.Applied, error) {
	ec := promotion.EvalContext{Authenticated: userID != ""}
	historyKnown := false
	resolveHistory := func() {
		if !ec.Authenticated || historyKnown {
			return
		}
		historyKnown = true
		has, err := s.hasPriorPaidOrder(ctx, userID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("order history unavailable, skipping first-order promotions")
			has = true
		}
		ec.HasPriorPaidOrder = has
	}

	if pending != "" {
		p, err := s.promos.GetByCode(ctx, pending)
		if err == nil {
			if p.FirstOrderOnly {
				resolveHistory()
			}
			applied, err := promotion.Apply(p, snap, ec, promotion.SourceCarryOver)
			if err == nil {
				return &applied, nil
			}
			obs.CountPromotionApply(string(promotion.SourceCarryOver), strings.ToLower(promotion.Reason(err)))
			s.logger.Debug().Str("code", pending).Str("reason", promotion.Reason(err)).Msg("carried-over promotion not applicable")
		} else {
			s.logger.Debug().Err(err).Str("code", pending).Msg("carried-over promotion lookup failed")
		}
	}

	candidates, err := s.promos.ListActive(ctx)
	if err != nil {
		return nil, asNetworkFailure(err)
	}
	for _, c := range candidates {
		if c.FirstOrderOnly {
			resolveHistory()
			break
		}
	}
	picked := promotion.SelectAuto(snap, candidates, ec)
	if picked == nil {
		return nil, nil
	}
	applied, err := promotion.Apply(*picked, snap, ec, promotion.SourceAuto)
	if err != nil {
		s.logger.Warn().Err(err).Str("code", picked.Code).Msg("auto-selected promotion could not be applied")
		return nil, nil
	}
	return &applied, nil
}

func (s *Service) evalContextFor(ctx context.Context, applied *promotion.Applied, userID string) (promotion.EvalContext, error) {
	ec := promotion.EvalContext{Authenticated: userID != ""}
	if applied == nil || !applied.Promotion.FirstOrderOnly || !ec.Authenticated {
		return ec, nil
	}
	has, err := s.hasPriorPaidOrder(ctx, userID)
	if err != nil {
		return ec, err
	}
	ec.HasPriorPaidOrder = has
	return ec, nil
}

func (s *Service) hasPriorPaidOrder(ctx context.Context, userID string) (bool, error) {
	if s.history == nil || userID == "" {
		return false, nil
	}
	has, err := s.history.HasPriorPaidOrder(ctx, userID)
	if err != nil {
		return false, asNetworkFailure(err)
	}
	return has, nil
}

// errAppliedChanged signals that the applied promotion changed between the
// unlocked read and the locked update.
var errAppliedChanged = errors.New("applied promotion changed")

const rederiveAttempts = 3

func (s *Service) userFor(sess *Session, userID string) string {
	if trimmed := strings.TrimSpace(userID); trimmed != "" {
		return trimmed
	}
	return sess.UserID
}

func appliedCode(a *promotion.Applied) string {
	if a == nil {
		return ""
	}
	return a.Promotion.Code
}

func asNetworkFailure(err error) error {
	if err == nil || errors.Is(err, promotion.ErrInvalidCode) || errors.Is(err, promotion.ErrNetworkFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", promotion.ErrNetworkFailure, err)
}
