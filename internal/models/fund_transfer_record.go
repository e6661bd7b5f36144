package models

import (
	"time"
)

// Transfer kinds recorded in the audit trail.
const (
	TransferKindDeposit    = "deposit"
	TransferKindWithdrawal = "withdrawal"
	TransferKindFee        = "fee"
	TransferKindFeeDrain   = "fee_drain"
	TransferKindEmergency  = "emergency"
)

// FundTransferRecord is written for every custody movement the engine
// performs, including the emergency path that bypasses per-participant
// accounting. The reconcile job replays these against live vault balances.
type FundTransferRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RunID     uint64    `gorm:"not null;index" json:"run_id"` // 0 for platform-level fee drains
	Direction string    `gorm:"size:8;not null" json:"direction"` // "in" or "out"
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	Amount    uint64    `gorm:"not null" json:"amount"`
	Address   string    `gorm:"size:44;not null" json:"address"` // counterparty wallet
	Signature string    `gorm:"size:96" json:"signature"`        // chain transaction signature
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (FundTransferRecord) TableName() string {
	return "fund_transfer_record"
}
