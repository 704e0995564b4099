package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/common"
	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/promotion"
	"github.com/noah-isme/kustom-promo/internal/snapshot"
)

// Handler exposes checkout sessions over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	// StartLimit throttles session creation when set.
	StartLimit func(http.Handler) http.Handler
	// ApplyLimit throttles manual code attempts when set.
	ApplyLimit func(http.Handler) http.Handler
	// RequireAuth guards order placement when set.
	RequireAuth func(http.Handler) http.Handler
	// Idempotency wraps order placement when set.
	Idempotency func(http.Handler) http.Handler
}

type lineRequest struct {
	ProductID string          `json:"productId" validate:"required,max=128"`
	Category  string          `json:"category" validate:"max=128"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity" validate:"gte=1,lte=10000"`
}

type startRequest struct {
	Mode        string        `json:"mode" validate:"required,oneof=buy_now cart"`
	Items       []lineRequest `json:"items" validate:"max=200,dive"`
	PendingCode string        `json:"pendingCode" validate:"max=64"`
}

type modeRequest struct {
	Mode  string        `json:"mode" validate:"required,oneof=buy_now cart"`
	Items []lineRequest `json:"items" validate:"max=200,dive"`
}

type itemsRequest struct {
	Items []lineRequest `json:"items" validate:"max=200,dive"`
}

type applyRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Routes mounts the checkout endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.With(optional(h.StartLimit)).Post("/", h.Start)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/items", h.ReplaceItems)
		r.Delete("/items", h.ClearCart)
		r.Post("/mode", h.SwitchMode)
		r.With(optional(h.ApplyLimit)).Post("/promotion", h.ApplyPromotion)
		r.Delete("/promotion", h.RemovePromotion)
		r.Post("/auto", h.RetryAuto)
		r.With(optional(h.RequireAuth), optional(h.Idempotency)).Post("/confirm", h.Confirm)
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// Start handles POST /checkout/sessions.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var payload startRequest
	if !h.decode(w, r, &payload) {
		return
	}
	items, err := toLineItems(payload.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lines := Lines{Mode: snapshot.Mode(payload.Mode), Items: items}
	view, err := h.Svc.Start(r.Context(), lines, userID(r), payload.PendingCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.Annotate(r.Context(), "session_id", view.ID)
	common.Data(w, http.StatusCreated, view)
}

// Get handles GET /checkout/sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Get(r.Context(), sessionID(r))
	h.respond(w, view, err)
}

// ReplaceItems handles PUT /checkout/sessions/{id}/items.
func (h *Handler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	var payload itemsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	items, err := toLineItems(payload.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.ReplaceItems(r.Context(), sessionID(r), userID(r), items)
	h.respond(w, view, err)
}

// ClearCart handles DELETE /checkout/sessions/{id}/items.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.ClearCart(r.Context(), sessionID(r), userID(r))
	h.respond(w, view, err)
}

// SwitchMode handles POST /checkout/sessions/{id}/mode.
func (h *Handler) SwitchMode(w http.ResponseWriter, r *http.Request) {
	var payload modeRequest
	if !h.decode(w, r, &payload) {
		return
	}
	items, err := toLineItems(payload.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lines := Lines{Mode: snapshot.Mode(payload.Mode), Items: items}
	view, err := h.Svc.SwitchMode(r.Context(), sessionID(r), userID(r), lines)
	h.respond(w, view, err)
}

// ApplyPromotion handles POST /checkout/sessions/{id}/promotion.
func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	var payload applyRequest
	if !h.decode(w, r, &payload) {
		return
	}
	obs.Annotate(r.Context(), "promotion_code", promotion.NormalizeCode(payload.Code))
	view, err := h.Svc.ApplyPromotion(r.Context(), sessionID(r), userID(r), payload.Code)
	h.respond(w, view, err)
}

// RemovePromotion handles DELETE /checkout/sessions/{id}/promotion.
func (h *Handler) RemovePromotion(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.RemovePromotion(r.Context(), sessionID(r))
	h.respond(w, view, err)
}

// RetryAuto handles POST /checkout/sessions/{id}/auto.
func (h *Handler) RetryAuto(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.RetryAuto(r.Context(), sessionID(r), userID(r))
	h.respond(w, view, err)
}

// Confirm handles POST /checkout/sessions/{id}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Confirm(r.Context(), sessionID(r), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

func (h *Handler) respond(w http.ResponseWriter, view View, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			h.writeError(w, err)
			return false
		}
	}
	return true
}

func sessionID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	obs.Annotate(r.Context(), "session_id", id)
	return id
}

func userID(r *http.Request) string {
	id, _ := common.UserID(r.Context())
	return id
}

func toLineItems(in []lineRequest) ([]snapshot.LineItem, error) {
	out := make([]snapshot.LineItem, 0, len(in))
	for _, it := range in {
		if it.UnitPrice.IsNegative() {
			return nil, common.NewAppError("INVALID_INPUT", "unit price must not be negative", http.StatusBadRequest, ErrInvalidInput)
		}
		out = append(out, snapshot.LineItem{
			ProductID: strings.TrimSpace(it.ProductID),
			Category:  strings.TrimSpace(it.Category),
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return out, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "validation failed", map[string]any{"fields": fields})
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, ErrAuthRequired):
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, ErrSessionNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrStaleSnapshot):
		common.JSONError(w, http.StatusConflict, "STALE_SNAPSHOT", err.Error(), nil)
	case errors.Is(err, ErrSessionConfirmed):
		common.JSONError(w, http.StatusConflict, "SESSION_CONFIRMED", err.Error(), nil)
	case errors.Is(err, promotion.ErrInvalidCode):
		common.JSONError(w, http.StatusNotFound, promotion.ReasonInvalidCode, err.Error(), nil)
	case errors.Is(err, promotion.ErrNetworkFailure):
		common.JSONError(w, http.StatusServiceUnavailable, promotion.ReasonNetworkFailure, "promotion service unavailable, try again", nil)
	case promotion.IsRejection(err), errors.Is(err, promotion.ErrUnknownDiscountType):
		var details any
		var rej *promotion.RejectionError
		if errors.As(err, &rej) {
			details = rej.Details()
		}
		common.JSONError(w, http.StatusUnprocessableEntity, promotion.Reason(err), err.Error(), details)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
