package redemption

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kustom-promo/internal/obs"
	"github.com/noah-isme/kustom-promo/internal/store"
)

// Recorder persists redemptions.
type Recorder interface {
	InsertRedemption(ctx context.Context, r store.Redemption) (bool, error)
}

// Handler processes redemption tasks.
type Handler struct {
	Recorder Recorder
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h == nil || h.Recorder == nil {
		return errors.New("redemption: recorder not configured")
	}
	p, err := DecodePayload(t.Payload())
	if err != nil {
		obs.CountRedemptionTask("invalid")
		h.Logger.Error().Err(err).Msg("drop malformed redemption task")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	inserted, err := h.Recorder.InsertRedemption(ctx, store.Redemption{
		SessionID:  p.SessionID,
		Code:       p.Code,
		UserID:     p.UserID,
		Source:     p.Source,
		Subtotal:   p.Subtotal,
		Discount:   p.Discount,
		Total:      p.Total,
		RedeemedAt: p.RedeemedAt,
	})
	if err != nil {
		obs.CountRedemptionTask("error")
		h.Logger.Warn().Err(err).Str("session_id", p.SessionID).Str("code", p.Code).Msg("record redemption failed")
		return err
	}
	result := "recorded"
	if !inserted {
		result = "duplicate"
	}
	obs.CountRedemptionTask(result)
	h.Logger.Info().Str("session_id", p.SessionID).Str("code", p.Code).Str("result", result).Msg("redemption processed")
	return nil
}
