package catalog

import (
	"errors"
	"net/http"

	"github.com/noah-isme/kustom-promo/internal/common"
	"github.com/noah-isme/kustom-promo/internal/promotion"
)

// Handler exposes the public promotion catalog.
type Handler struct {
	loader *Loader
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Loader *Loader
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{loader: cfg.Loader}
}

// Promotions handles GET /api/v1/promotions.
func (h *Handler) Promotions(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	rows, err := h.loader.ListActive(r.Context())
	if err != nil {
		if errors.Is(err, promotion.ErrNetworkFailure) {
			common.JSONError(w, http.StatusServiceUnavailable, promotion.ReasonNetworkFailure, "promotion catalog unavailable", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if rows == nil {
		rows = []promotion.Promotion{}
	}
	common.Data(w, http.StatusOK, rows)
}
