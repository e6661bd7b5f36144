package models

import (
	"time"
)

// Participation is the per-(run, user) ledger record. The composite unique
// index is the deterministic lookup key, so no scan is ever needed to find a
// participant's record. Created on first deposit, mutated by deposits before
// the run starts and by vote tracking while it is active, finalized exactly
// once on withdrawal.
type Participation struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	RunID         uint64    `gorm:"not null;uniqueIndex:idx_run_user" json:"run_id"`
	UserAddress   string    `gorm:"size:44;not null;uniqueIndex:idx_run_user" json:"user_address"`
	DepositAmount uint64    `gorm:"not null;default:0" json:"deposit_amount"`
	CorrectVotes  uint8     `gorm:"not null;default:0" json:"correct_votes"`
	TotalVotes    uint8     `gorm:"not null;default:0" json:"total_votes"` // append-only counter, never decreases
	FinalShare    uint64    `gorm:"not null;default:0" json:"final_share"`
	Withdrawn     bool      `gorm:"not null;default:false" json:"withdrawn"` // one-way flag
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Participation) TableName() string {
	return "participation"
}
