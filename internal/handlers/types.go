package handlers

// InitializePlatformRequest creates the platform record.
type InitializePlatformRequest struct {
	FeeBps   uint16 `json:"fee_bps"`
	FeeVault string `json:"fee_vault" binding:"required"`
}

// SetFeeRateRequest updates the protocol fee rate.
type SetFeeRateRequest struct {
	FeeBps uint16 `json:"fee_bps"`
}

// CreateRunRequest creates a new trading run.
type CreateRunRequest struct {
	RunID           uint64 `json:"run_id" binding:"required"`
	MinDeposit      uint64 `json:"min_deposit"`
	MaxDeposit      uint64 `json:"max_deposit"`
	MaxParticipants uint16 `json:"max_participants"`
}

// SettleRunRequest reports the final balance for an active run.
type SettleRunRequest struct {
	FinalBalance uint64 `json:"final_balance"`
}

// DepositRequest is a participant contribution in USDC base units.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// VoteStatsRequest records a participant's decision-accuracy counters.
type VoteStatsRequest struct {
	UserAddress  string `json:"user_address" binding:"required"`
	CorrectVotes uint8  `json:"correct_votes"`
	TotalVotes   uint8  `json:"total_votes"`
}

// EmergencyWithdrawRequest moves stuck funds out of a run's custody.
type EmergencyWithdrawRequest struct {
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination" binding:"required"`
}

// WithdrawFeesRequest drains collected protocol fees.
type WithdrawFeesRequest struct {
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination" binding:"required"`
}

// WithdrawResponse reports a completed participant payout.
type WithdrawResponse struct {
	RunID          uint64 `json:"run_id"`
	UserAddress    string `json:"user_address"`
	Payout         uint64 `json:"payout"`
	PayoutReadable string `json:"payout_readable"`
}

// RunEvent is published to the run_events queue on lifecycle transitions.
type RunEvent struct {
	Event          string `json:"event"` // "run_created" | "run_started" | "run_settled"
	RunID          uint64 `json:"run_id"`
	TotalDeposited uint64 `json:"total_deposited,omitempty"`
	FinalBalance   uint64 `json:"final_balance,omitempty"`
	FeeAmount      uint64 `json:"fee_amount,omitempty"`
}
