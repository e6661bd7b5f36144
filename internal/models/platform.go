package models

import (
	"time"
)

// Platform is the single process-wide record holding the operator identity
// and the protocol fee configuration. Created once, mutated only by admin
// operations, never destroyed.
type Platform struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	Authority          string    `gorm:"size:44;not null" json:"authority"` // operator wallet address
	FeeBps             uint16    `gorm:"not null" json:"fee_bps"`           // protocol fee in basis points, taken from realized profit only
	TotalRuns          uint64    `gorm:"not null;default:0" json:"total_runs"`
	IsPaused           bool      `gorm:"not null;default:false" json:"is_paused"`
	TotalFeesCollected uint64    `gorm:"not null;default:0" json:"total_fees_collected"`
	FeeVaultAddress    string    `gorm:"size:44;not null" json:"fee_vault_address"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Platform) TableName() string {
	return "platform"
}
