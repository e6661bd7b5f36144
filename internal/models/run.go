package models

import (
	"time"
)

// RunStatus lifecycle: waiting -> active -> settled. Transitions only happen
// through the business package's guarded updates, never by direct assignment.
const (
	RunStatusWaiting = "waiting" // accepting deposits
	RunStatusActive  = "active"  // trading in progress
	RunStatusSettled = "settled" // trading ended, withdrawals open
)

// Run is one bounded round of pooled deposits, trading and settlement.
// Amounts are USDC base units (6 decimals). Once settled, only the
// withdrawal bookkeeping fields (total_withdrawn, withdrawn_count) change.
type Run struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	RunID            uint64    `gorm:"not null;uniqueIndex" json:"run_id"`
	Status           string    `gorm:"size:16;not null;default:'waiting'" json:"status"`
	MinDeposit       uint64    `gorm:"not null" json:"min_deposit"`
	MaxDeposit       uint64    `gorm:"not null" json:"max_deposit"`
	MaxParticipants  uint16    `gorm:"not null" json:"max_participants"`
	TotalDeposited   uint64    `gorm:"not null;default:0" json:"total_deposited"`
	TotalWithdrawn   uint64    `gorm:"not null;default:0" json:"total_withdrawn"`
	FinalBalance     uint64    `gorm:"not null;default:0" json:"final_balance"` // post-fee distributable balance
	FeeAmount        uint64    `gorm:"not null;default:0" json:"fee_amount"`
	ParticipantCount uint16    `gorm:"not null;default:0" json:"participant_count"`
	WithdrawnCount   uint16    `gorm:"not null;default:0" json:"withdrawn_count"`
	VaultAddress     string    `gorm:"size:44" json:"vault_address"`
	StartedAt        int64     `gorm:"not null;default:0" json:"started_at"` // unix seconds, 0 until started
	EndedAt          int64     `gorm:"not null;default:0" json:"ended_at"`   // unix seconds, 0 until settled
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Run) TableName() string {
	return "run"
}
