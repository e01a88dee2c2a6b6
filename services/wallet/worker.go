package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	paymenttask "wekapay-settlement/services/payment/task"

	"github.com/hibiken/asynq"
)

// HandleMirrorDeposit consumes mirror:deposit tasks from the queue.
func (s *Service) HandleMirrorDeposit(ctx context.Context, t *asynq.Task) error {
	var payload paymenttask.MirrorDepositPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed mirror deposit payload: %w: %w", err, asynq.SkipRetry)
	}

	return s.MirrorDeposit(ctx, payload.CreatorID, payload.Amount, payload.PaymentIntentID)
}

func registerTasks(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(paymenttask.TypeMirrorDeposit, svc.HandleMirrorDeposit)
}
