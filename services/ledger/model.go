package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction types.
const (
	TypeEarning    = "earning"
	TypeFee        = "fee"
	TypeWithdrawal = "withdrawal"
	TypeRefund     = "refund"
	TypeAdjustment = "adjustment"
)

// Transaction statuses. Only withdrawal rows ever leave pending.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Reference types tie a transaction back to the event that caused it.
const (
	RefPaymentIntent = "payment_intent"
	RefWithdrawal    = "withdrawal"
)

type CreatorWallet struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatorID      string    `gorm:"column:creator_id;uniqueIndex"`
	Balance        int64     `gorm:"column:balance"`
	TotalEarned    int64     `gorm:"column:total_earned"`
	TotalWithdrawn int64     `gorm:"column:total_withdrawn"`
	TotalFees      int64     `gorm:"column:total_fees"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (CreatorWallet) TableName() string {
	return "creator_wallets"
}

// WalletTransaction is an append-only audit row. The unique index over
// (reference_type, reference_id, type) is the idempotency anchor: a second
// credit for the same payment intent has nowhere to land.
type WalletTransaction struct {
	ID            string         `gorm:"column:id;primaryKey"`
	WalletID      string         `gorm:"column:wallet_id;index"`
	Type          string         `gorm:"column:type;uniqueIndex:idx_wallet_tx_ref"`
	Status        string         `gorm:"column:status"`
	Amount        int64          `gorm:"column:amount"`
	BalanceAfter  int64          `gorm:"column:balance_after"`
	ReferenceType string         `gorm:"column:reference_type;uniqueIndex:idx_wallet_tx_ref"`
	ReferenceID   string         `gorm:"column:reference_id;uniqueIndex:idx_wallet_tx_ref"`
	Description   string         `gorm:"column:description"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
