package wallet

import (
	"time"
)

// WalletMapping pins one internal account to one custodial wallet. The
// unique index on account_id is what keeps concurrent provisioning from
// splitting an account across two wallets.
type WalletMapping struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AccountID    string    `gorm:"column:account_id;uniqueIndex"`
	WalletUserID string    `gorm:"column:wallet_user_id"`
	Address      string    `gorm:"column:address"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (WalletMapping) TableName() string {
	return "wallet_mappings"
}
