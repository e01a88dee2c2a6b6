package subscription

import "time"

// State is derived from the clock at read time. The stored status column is
// advisory only, never trusted on its own.
type State string

const (
	StateNone    State = "none"
	StateTrial   State = "trial"
	StateActive  State = "active"
	StateGrace   State = "grace"
	StateExpired State = "expired"
)

type PlatformSubscription struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	AccountID           string    `gorm:"column:account_id;uniqueIndex"`
	Status              string    `gorm:"column:status"`
	StartsAt            time.Time `gorm:"column:starts_at"`
	ExpiresAt           time.Time `gorm:"column:expires_at"`
	GraceEndsAt         time.Time `gorm:"column:grace_ends_at"`
	TrialUsed           bool      `gorm:"column:trial_used"`
	LastPaymentIntentID string    `gorm:"column:last_payment_intent_id"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (PlatformSubscription) TableName() string {
	return "platform_subscriptions"
}
