package checkout

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

var (
	// ErrSessionNotFound is returned when the checkout session does not exist or expired.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrStaleSnapshot is returned when an async result arrives after the cart changed.
	ErrStaleSnapshot = errors.New("checkout changed while the promotion was being applied")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid checkout input")
	// ErrSessionConfirmed is returned when a confirmed session is modified.
	ErrSessionConfirmed = errors.New("checkout session already confirmed")
	// ErrAuthRequired is returned when order placement is attempted anonymously.
	ErrAuthRequired = errors.New("authentication required to place the order")
)

// AutoState is the automatic selection state of a session.
type AutoState string

const (
	// AutoIdle means no automatic selection has run for the current snapshot.
	AutoIdle AutoState = "idle"
	// AutoCatalogLoading means an attempt is waiting for the promotion catalog.
	AutoCatalogLoading AutoState = "catalog_loading"
	// AutoApplied means a promotion is applied for the current snapshot.
	AutoApplied AutoState = "applied"
	// AutoUnapplied means selection finished without a promotion.
	AutoUnapplied AutoState = "unapplied"
)

// Terminal reports whether the state ends selection for the current snapshot.
func (s AutoState) Terminal() bool {
	return s == AutoApplied || s == AutoUnapplied
}

// Rejection records why a promotion was refused or dropped.
type Rejection struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func newRejection(code string, err error) *Rejection {
	return &Rejection{Code: code, Reason: promotion.Reason(err), Message: err.Error()}
}

// Session is the mutable checkout state. Every transition is a method so the
// invariants live in one place; callers hold the session lock while calling
// them.
type Session struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId,omitempty"`
	Snapshot      snapshot.Snapshot  `json:"snapshot"`
	Applied       *promotion.Applied `json:"applied,omitempty"`
	Auto          AutoState          `json:"autoState"`
	AutoAttempt   string             `json:"autoAttempt,omitempty"`
	ManualLock    bool               `json:"manualLock"`
	PendingCode   string             `json:"pendingCode,omitempty"`
	LastRejection *Rejection         `json:"lastRejection,omitempty"`
	Confirmed     bool               `json:"confirmed"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// NewSession starts a session over snap. pendingCode is a carried-over code
// tried first by automatic selection.
func NewSession(snap snapshot.Snapshot, userID, pendingCode string, now time.Time) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Snapshot:    snap,
		Auto:        AutoIdle,
		PendingCode: promotion.NormalizeCode(pendingCode),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// BeginAuto moves an idle session into CatalogLoading and returns the attempt
// token. It reports false when selection must not run: a manual choice is in
// force, a promotion is applied, a previous attempt is still loading, or
// selection already finished for this snapshot. An empty snapshot finishes as
// Unapplied without loading anything.
func (s *Session) BeginAuto(now time.Time) (string, bool) {
	if s.Confirmed || s.ManualLock || s.Applied != nil || s.Auto != AutoIdle {
		return "", false
	}
	if s.Snapshot.IsEmpty() {
		s.Auto = AutoUnapplied
		s.UpdatedAt = now
		return "", false
	}
	s.Auto = AutoCatalogLoading
	s.AutoAttempt = uuid.NewString()
	s.UpdatedAt = now
	return s.AutoAttempt, true
}

func (s *Session) autoIsCurrent(attempt, snapshotID string) bool {
	return attempt != "" &&
		s.AutoAttempt == attempt &&
		s.Auto == AutoCatalogLoading &&
		!s.ManualLock &&
		s.Snapshot.ID() == snapshotID
}

// CompleteAuto records the outcome of an attempt started by BeginAuto. A nil
// applied promotion finishes as Unapplied. The pending code is consumed. A
// rejection recorded for a different code is kept so the caller can still see
// why it went away. The result is discarded with ErrStaleSnapshot when the snapshot changed, a
// manual choice intervened, or the attempt was superseded.
func (s *Session) CompleteAuto(attempt, snapshotID string, applied *promotion.Applied, now time.Time) error {
	if !s.autoIsCurrent(attempt, snapshotID) {
		return ErrStaleSnapshot
	}
	s.AutoAttempt = ""
	s.PendingCode = ""
	s.UpdatedAt = now
	if applied == nil {
		s.Auto = AutoUnapplied
		return nil
	}
	s.Applied = applied
	s.Auto = AutoApplied
	if s.LastRejection != nil && s.LastRejection.Code == applied.Promotion.Code {
		s.LastRejection = nil
	}
	return nil
}

// AbortAuto returns a failed attempt to Idle so it can be retried. The pending
// code is kept for the retry.
func (s *Session) AbortAuto(attempt, snapshotID string, now time.Time) error {
	if !s.autoIsCurrent(attempt, snapshotID) {
		return ErrStaleSnapshot
	}
	s.AutoAttempt = ""
	s.Auto = AutoIdle
	s.UpdatedAt = now
	return nil
}

// LockManual marks the start of a manual application. It disables automatic
// selection for the current snapshot and invalidates any attempt in flight.
func (s *Session) LockManual(now time.Time) {
	s.ManualLock = true
	s.AutoAttempt = ""
	if s.Auto == AutoCatalogLoading || s.Auto == AutoIdle {
		if s.Applied != nil {
			s.Auto = AutoApplied
		} else {
			s.Auto = AutoUnapplied
		}
	}
	s.UpdatedAt = now
}

// ApplyManual stores a manually chosen promotion computed against snapshotID.
func (s *Session) ApplyManual(snapshotID string, applied promotion.Applied, now time.Time) error {
	if s.Snapshot.ID() != snapshotID || applied.SnapshotID != snapshotID {
		return ErrStaleSnapshot
	}
	s.ManualLock = true
	s.AutoAttempt = ""
	s.Applied = &applied
	s.Auto = AutoApplied
	s.PendingCode = ""
	s.LastRejection = nil
	s.UpdatedAt = now
	return nil
}

// RejectManual records a failed manual application. The previous promotion,
// if any, stays applied.
func (s *Session) RejectManual(code string, err error, now time.Time) {
	s.LastRejection = newRejection(code, err)
	s.UpdatedAt = now
}

// RemoveManual drops the applied promotion. Automatic selection stays off
// until the snapshot changes.
func (s *Session) RemoveManual(now time.Time) {
	s.Applied = nil
	s.ManualLock = true
	s.AutoAttempt = ""
	s.Auto = AutoUnapplied
	s.LastRejection = nil
	s.UpdatedAt = now
}

// ReplaceSnapshot swaps in a rebuilt snapshot after a quantity change or an
// added or removed line. The applied promotion is re-derived against the new
// snapshot; if it no longer qualifies it is dropped and the returned error
// says why. When nothing stays applied, selection is re-armed.
func (s *Session) ReplaceSnapshot(next snapshot.Snapshot, ec promotion.EvalContext, now time.Time) error {
	s.Snapshot = next
	s.AutoAttempt = ""
	s.ManualLock = false
	s.UpdatedAt = now

	var dropped error
	if s.Applied != nil {
		rederived, err := promotion.Rederive(*s.Applied, next, ec)
		if err != nil {
			s.LastRejection = newRejection(s.Applied.Promotion.Code, err)
			s.Applied = nil
			dropped = err
		} else {
			s.Applied = &rederived
		}
	}
	if s.Applied != nil {
		s.Auto = AutoApplied
	} else {
		s.Auto = AutoIdle
	}
	return dropped
}

// Reset discards the applied promotion and all selection state. It is used
// when the checkout mode switches or the cart is cleared.
func (s *Session) Reset(next snapshot.Snapshot, now time.Time) {
	s.Snapshot = next
	s.Applied = nil
	s.Auto = AutoIdle
	s.AutoAttempt = ""
	s.ManualLock = false
	s.PendingCode = ""
	s.LastRejection = nil
	s.UpdatedAt = now
}

// DropApplied removes the applied promotion at order placement.
func (s *Session) DropApplied(err error, now time.Time) {
	if s.Applied == nil {
		return
	}
	s.LastRejection = newRejection(s.Applied.Promotion.Code, err)
	s.Applied = nil
	s.Auto = AutoUnapplied
	s.UpdatedAt = now
}

// Confirm closes the session for further changes.
func (s *Session) Confirm(now time.Time) {
	s.Confirmed = true
	s.AutoAttempt = ""
	s.UpdatedAt = now
}
