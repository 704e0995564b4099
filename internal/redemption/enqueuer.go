package redemption

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Enqueuer publishes redemption tasks.
type Enqueuer struct {
	Client *asynq.Client
}

// Enqueue schedules recording of p. A duplicate for the same session is
// treated as success.
func (e Enqueuer) Enqueue(ctx context.Context, p Payload) error {
	if e.Client == nil {
		return errors.New("redemption: task client not configured")
	}
	task, err := NewTask(p)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue redemption: %w", err)
	}
	return nil
}
