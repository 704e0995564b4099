// Package redemption records promotions used by confirmed checkouts. The API
// enqueues a task on confirmation and the worker writes it to Postgres.
package redemption

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/kustom-promo/internal/promotion"
)

const (
	// TypeRecord is the asynq task type for redemption recording.
	TypeRecord = "promotion:redemption:record"
	// Queue is the asynq queue redemption tasks are routed to.
	Queue = "promotions"

	defaultMaxRetry = 10
)

// Payload describes one redemption.
type Payload struct {
	SessionID  string           `json:"sessionId"`
	Code       string           `json:"code"`
	UserID     string           `json:"userId,omitempty"`
	Source     promotion.Source `json:"source"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
	Discount   decimal.Decimal  `json:"discount"`
	Total      decimal.Decimal  `json:"total"`
	RedeemedAt time.Time        `json:"redeemedAt"`
}

func (p Payload) validate() error {
	if p.SessionID == "" {
		return errors.New("redemption: session id is required")
	}
	if p.Code == "" {
		return errors.New("redemption: code is required")
	}
	return nil
}

// NewTask builds the asynq task for p. The session id doubles as the task id
// so a confirmation retried by the client is only queued once.
func NewTask(p Payload) (*asynq.Task, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal redemption payload: %w", err)
	}
	return asynq.NewTask(TypeRecord, body,
		asynq.TaskID("redemption:"+p.SessionID),
		asynq.Queue(Queue),
		asynq.MaxRetry(defaultMaxRetry),
	), nil
}

// DecodePayload parses a task body.
func DecodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode redemption payload: %w", err)
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
