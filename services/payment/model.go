package payment

import (
	"time"

	"gorm.io/datatypes"
)

// Intent statuses. pending is the only non-terminal state; paid is never set
// without a paid_at timestamp.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// What the intent buys.
const (
	PurposeContent      = "content"
	PurposeSubscription = "subscription"
)

type PaymentIntent struct {
	ID            string         `gorm:"column:id;primaryKey"`
	PayerID       string         `gorm:"column:payer_id;index"`
	ContentID     string         `gorm:"column:content_id"`
	CreatorID     string         `gorm:"column:creator_id"`
	Purpose       string         `gorm:"column:purpose"`
	Amount        int64          `gorm:"column:amount"`
	Status        string         `gorm:"column:status"`
	ProviderRef   string         `gorm:"column:provider_ref;index"`
	PaidAt        *time.Time     `gorm:"column:paid_at"`
	FailureReason string         `gorm:"column:failure_reason"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// Entitlement grants permanent access to one content item. The unique index
// over (payer_id, content_id) is what makes webhook/poll races collapse into
// a single grant.
type Entitlement struct {
	ID              string    `gorm:"column:id;primaryKey"`
	PayerID         string    `gorm:"column:payer_id;uniqueIndex:idx_entitlement_payer_content"`
	ContentID       string    `gorm:"column:content_id;uniqueIndex:idx_entitlement_payer_content"`
	PaymentIntentID string    `gorm:"column:payment_intent_id"`
	GrantedAt       time.Time `gorm:"column:granted_at"`
}

func (Entitlement) TableName() string {
	return "entitlements"
}

// Evidence is one observation of an intent's fate, from either the webhook
// or the polling path. CompletedAt present is the only trusted proof of
// payment; a bare paid status is still pending.
type Evidence struct {
	Status        string
	CompletedAt   *time.Time
	FailureReason string
}
