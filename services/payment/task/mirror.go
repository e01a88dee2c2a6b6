package task

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TypeMirrorDeposit = "mirror:deposit"

// MirrorDepositPayload carries a settled creator share to the on-chain
// mirroring worker. The payment intent ID doubles as the external reference
// so replays land on the same deposit.
type MirrorDepositPayload struct {
	CreatorID       string `json:"creator_id"`
	Amount          int64  `json:"amount"`
	PaymentIntentID string `json:"payment_intent_id"`
}

func NewMirrorDepositTask(p MirrorDepositPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMirrorDeposit, payload,
		asynq.Queue("low"), asynq.MaxRetry(10)), nil
}
