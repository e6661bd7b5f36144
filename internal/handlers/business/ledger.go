package business

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"poolcontrol/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Runtime policy, overridable through the environment. A run may never start
// with a single participant: a one-actor run would guarantee itself a
// risk-free payout.
var (
	MinParticipantsToStart uint16 = envUint16("MIN_PARTICIPANTS_TO_START", 2)
	MinActiveDuration             = time.Duration(envUint16("MIN_ACTIVE_SECONDS", 0)) * time.Second
)

const (
	minMaxParticipants = 2
	maxMaxParticipants = 1000
)

func envUint16(key string, def uint16) uint16 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(n)
		}
	}
	return def
}

// InitializePlatform creates the one platform record. Fails with AlreadyDone
// if the platform exists.
func InitializePlatform(db *gorm.DB, authority string, feeBps uint16, feeVault string) (*models.Platform, error) {
	if feeBps > MaxFeeBps {
		return nil, Errf(KindOutOfRange, "fee rate %d bps exceeds maximum %d", feeBps, MaxFeeBps)
	}
	if authority == "" || feeVault == "" {
		return nil, Errf(KindOutOfRange, "authority and fee vault are required")
	}

	platform := models.Platform{
		Authority:       authority,
		FeeBps:          feeBps,
		FeeVaultAddress: feeVault,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Platform
		if err := tx.First(&existing).Error; err == nil {
			return Errf(KindAlreadyDone, "platform already initialized")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&platform).Error
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Platform initialized: authority=%s fee=%d bps", authority, feeBps)
	return &platform, nil
}

// SetFeeRate updates the protocol fee rate. Operator only. Does not affect
// runs that already settled.
func SetFeeRate(db *gorm.DB, authority string, feeBps uint16) error {
	if feeBps > MaxFeeBps {
		return Errf(KindOutOfRange, "fee rate %d bps exceeds maximum %d", feeBps, MaxFeeBps)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}
		return tx.Model(platform).Update("fee_bps", feeBps).Error
	})
}

// PausePlatform sets the platform-wide pause flag. Pausing gates deposits
// and run creation only; withdrawals from already settled runs stay open.
func PausePlatform(db *gorm.DB, authority string) error {
	return setPaused(db, authority, true)
}

// UnpausePlatform clears the pause flag.
func UnpausePlatform(db *gorm.DB, authority string) error {
	return setPaused(db, authority, false)
}

func setPaused(db *gorm.DB, authority string, paused bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}
		res := tx.Model(&models.Platform{}).
			Where("id = ? AND is_paused = ?", platform.ID, !paused).
			Update("is_paused", paused)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindAlreadyDone, "platform pause flag already %v", paused)
		}
		return nil
	})
}

// CreateRun provisions custody for a new run and creates it in the waiting
// state with all counters zeroed. Operator only; fails while paused.
func CreateRun(ctx context.Context, db *gorm.DB, vault Vault, authority string, runID, minDeposit, maxDeposit uint64, maxParticipants uint16) (*models.Run, error) {
	if minDeposit == 0 {
		return nil, Errf(KindOutOfRange, "min deposit must be greater than zero")
	}
	if maxDeposit < minDeposit {
		return nil, Errf(KindOutOfRange, "max deposit %d below min deposit %d", maxDeposit, minDeposit)
	}
	if maxParticipants < minMaxParticipants || maxParticipants > maxMaxParticipants {
		return nil, Errf(KindOutOfRange, "max participants %d outside [%d, %d]", maxParticipants, minMaxParticipants, maxMaxParticipants)
	}

	var run models.Run
	err := db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}
		if platform.IsPaused {
			return Errf(KindInvalidState, "platform is paused")
		}

		var existing models.Run
		if err := tx.Where("run_id = ?", runID).First(&existing).Error; err == nil {
			return Errf(KindAlreadyDone, "run #%d already exists", runID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		vaultAddress, err := vault.Provision(ctx, runID)
		if err != nil {
			return err
		}

		run = models.Run{
			RunID:           runID,
			Status:          models.RunStatusWaiting,
			MinDeposit:      minDeposit,
			MaxDeposit:      maxDeposit,
			MaxParticipants: maxParticipants,
			VaultAddress:    vaultAddress,
		}
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		return tx.Model(platform).
			Update("total_runs", gorm.Expr("total_runs + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Run #%d created: min=%d max=%d participants<=%d vault=%s",
		runID, minDeposit, maxDeposit, maxParticipants, run.VaultAddress)
	return &run, nil
}

// Deposit accepts a participant contribution while the run is waiting.
// Repeat deposits by the same participant accumulate into the one
// participation record; the participant count grows only on the first.
// The cumulative deposit must stay within the run's per-deposit maximum.
func Deposit(ctx context.Context, db *gorm.DB, vault Vault, runID uint64, user string, amount uint64) (*models.Participation, error) {
	var participation models.Participation
	err := db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if platform.IsPaused {
			return Errf(KindInvalidState, "platform is paused")
		}

		run, err := loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusWaiting {
			return Errf(KindInvalidState, "run #%d is %s, deposits are only accepted while waiting", runID, run.Status)
		}
		if amount < run.MinDeposit {
			return Errf(KindOutOfRange, "deposit %d below minimum %d", amount, run.MinDeposit)
		}
		if amount > run.MaxDeposit {
			return Errf(KindOutOfRange, "deposit %d above maximum %d", amount, run.MaxDeposit)
		}

		firstDeposit := false
		if err := tx.Where("run_id = ? AND user_address = ?", runID, user).
			First(&participation).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			firstDeposit = true
			participation = models.Participation{RunID: runID, UserAddress: user}
		}

		if firstDeposit && run.ParticipantCount >= run.MaxParticipants {
			return Errf(KindOutOfRange, "run #%d is full (%d participants)", runID, run.MaxParticipants)
		}
		newTotal, err := checkedAdd(participation.DepositAmount, amount)
		if err != nil {
			return err
		}
		if newTotal > run.MaxDeposit {
			return Errf(KindOutOfRange, "cumulative deposit %d would exceed maximum %d", newTotal, run.MaxDeposit)
		}
		newRunTotal, err := checkedAdd(run.TotalDeposited, amount)
		if err != nil {
			return err
		}

		signature, err := vault.TransferIn(ctx, runID, user, amount)
		if err != nil {
			return err
		}

		participation.DepositAmount = newTotal
		if firstDeposit {
			if err := tx.Create(&participation).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&participation).
			Update("deposit_amount", newTotal).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"total_deposited": newRunTotal}
		if firstDeposit {
			updates["participant_count"] = gorm.Expr("participant_count + 1")
		}
		res := tx.Model(&models.Run{}).
			Where("run_id = ? AND status = ?", runID, models.RunStatusWaiting).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindInvalidState, "run #%d changed state during deposit", runID)
		}

		return tx.Create(&models.FundTransferRecord{
			RunID:     runID,
			Direction: "in",
			Kind:      models.TransferKindDeposit,
			Amount:    amount,
			Address:   user,
			Signature: signature,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Run #%d: %s deposited %d (cumulative %d)", runID, user, amount, participation.DepositAmount)
	return &participation, nil
}

// StartRun transitions a run from waiting to active. Operator only.
func StartRun(db *gorm.DB, authority string, runID uint64) error {
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}

		run, err := loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusWaiting {
			return Errf(KindInvalidState, "run #%d is %s, only a waiting run can start", runID, run.Status)
		}
		if run.ParticipantCount < MinParticipantsToStart {
			return Errf(KindOutOfRange, "run #%d has %d participants, minimum to start is %d",
				runID, run.ParticipantCount, MinParticipantsToStart)
		}

		res := tx.Model(&models.Run{}).
			Where("run_id = ? AND status = ?", runID, models.RunStatusWaiting).
			Updates(map[string]interface{}{
				"status":     models.RunStatusActive,
				"started_at": time.Now().Unix(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindInvalidState, "run #%d changed state during start", runID)
		}
		log.Infof("Run #%d started with %d participants and %d deposited",
			runID, run.ParticipantCount, run.TotalDeposited)
		return nil
	})
}

// SettleRun closes an active run. The reported final balance must exactly
// match the run's live custody balance, which protects settlement against a
// stale or manipulated figure. The protocol fee is extracted from realized
// profit and moved to the platform fee account; the remainder becomes the
// run's distributable final balance.
func SettleRun(ctx context.Context, db *gorm.DB, vault Vault, authority string, runID, reportedFinalBalance uint64) (*models.Run, error) {
	var settled models.Run
	err := db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}

		run, err := loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusActive {
			return Errf(KindInvalidState, "run #%d is %s, only an active run can settle", runID, run.Status)
		}
		if elapsed := time.Since(time.Unix(run.StartedAt, 0)); elapsed < MinActiveDuration {
			return Errf(KindInvalidState, "run #%d active for %s, minimum is %s", runID, elapsed, MinActiveDuration)
		}

		custody, err := vault.Balance(ctx, runID)
		if err != nil {
			return err
		}
		if custody != reportedFinalBalance {
			return Errf(KindBalanceMismatch, "run #%d custody balance %d does not match reported %d",
				runID, custody, reportedFinalBalance)
		}

		fee, distributable, err := ComputeFee(run.TotalDeposited, reportedFinalBalance, platform.FeeBps)
		if err != nil {
			return err
		}

		if fee > 0 {
			signature, err := vault.TransferOut(ctx, runID, platform.FeeVaultAddress, fee)
			if err != nil {
				return err
			}
			if err := tx.Create(&models.FundTransferRecord{
				RunID:     runID,
				Direction: "out",
				Kind:      models.TransferKindFee,
				Amount:    fee,
				Address:   platform.FeeVaultAddress,
				Signature: signature,
			}).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&models.Run{}).
			Where("run_id = ? AND status = ?", runID, models.RunStatusActive).
			Updates(map[string]interface{}{
				"status":        models.RunStatusSettled,
				"final_balance": distributable,
				"fee_amount":    fee,
				"ended_at":      time.Now().Unix(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindInvalidState, "run #%d changed state during settlement", runID)
		}
		if fee > 0 {
			if err := tx.Model(platform).
				Update("total_fees_collected", gorm.Expr("total_fees_collected + ?", fee)).Error; err != nil {
				return err
			}
		}
		return tx.Where("run_id = ?", runID).First(&settled).Error
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Run #%d settled: deposited=%d final=%d fee=%d distributable=%d",
		runID, settled.TotalDeposited, reportedFinalBalance, settled.FeeAmount, settled.FinalBalance)
	return &settled, nil
}

// Withdraw pays out a participant's share of a settled run. Non-last
// participants receive their floored base share plus the profit-only
// accuracy bonus; the last withdrawer takes the literal custody remainder so
// no dust survives. The withdrawn flag flips exactly once; a repeat call
// fails with AlreadyDone and changes nothing.
func Withdraw(ctx context.Context, db *gorm.DB, vault Vault, runID uint64, user string) (uint64, error) {
	var payout uint64
	err := db.Transaction(func(tx *gorm.DB) error {
		run, err := loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusSettled {
			return Errf(KindInvalidState, "run #%d is not settled yet", runID)
		}

		var participation models.Participation
		if err := tx.Where("run_id = ? AND user_address = ?", runID, user).
			First(&participation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Errf(KindNotFound, "no participation for %s in run #%d", user, runID)
			}
			return err
		}
		if participation.Withdrawn {
			return Errf(KindAlreadyDone, "%s already withdrew from run #%d", user, runID)
		}

		custody, err := vault.Balance(ctx, runID)
		if err != nil {
			return err
		}

		isLast := run.WithdrawnCount+1 == run.ParticipantCount
		if isLast {
			// Exact remainder: absorbs the rounding dust, positive or
			// negative relative to the theoretical share.
			payout = custody
		} else {
			payout, err = ComputePayout(participation.DepositAmount, run.TotalDeposited, run.FinalBalance, participation.CorrectVotes)
			if err != nil {
				return err
			}
			if payout > custody {
				return Errf(KindInsufficientFunds, "payout %d exceeds custody balance %d for run #%d",
					payout, custody, runID)
			}
		}

		// All verification happens before the transfer: a failed withdrawal
		// must leave custody untouched.
		newWithdrawn, err := checkedAdd(run.TotalWithdrawn, payout)
		if err != nil {
			return err
		}
		if newWithdrawn > run.FinalBalance {
			return Errf(KindInsufficientFunds, "run #%d total withdrawn %d would exceed final balance %d",
				runID, newWithdrawn, run.FinalBalance)
		}

		var signature string
		if payout > 0 {
			signature, err = vault.TransferOut(ctx, runID, user, payout)
			if err != nil {
				return err
			}
		}

		res := tx.Model(&models.Participation{}).
			Where("id = ? AND withdrawn = ?", participation.ID, false).
			Updates(map[string]interface{}{
				"withdrawn":   true,
				"final_share": payout,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindAlreadyDone, "%s already withdrew from run #%d", user, runID)
		}

		res = tx.Model(&models.Run{}).
			Where("run_id = ? AND status = ?", runID, models.RunStatusSettled).
			Updates(map[string]interface{}{
				"total_withdrawn": newWithdrawn,
				"withdrawn_count": gorm.Expr("withdrawn_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindInvalidState, "run #%d changed state during withdrawal", runID)
		}

		return tx.Create(&models.FundTransferRecord{
			RunID:     runID,
			Direction: "out",
			Kind:      models.TransferKindWithdrawal,
			Amount:    payout,
			Address:   user,
			Signature: signature,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	log.Infof("Run #%d: %s withdrew %d", runID, user, payout)
	return payout, nil
}

// UpdateVoteStats records a participant's decision-accuracy counters while
// the run is active. The total is append-only: it may never decrease across
// calls, so a compromised operator feed cannot retroactively inflate a
// participant's bonus eligibility. Pure bookkeeping, no fund movement.
func UpdateVoteStats(db *gorm.DB, authority string, runID uint64, user string, correctVotes, totalVotes uint8) error {
	if totalVotes > MaxVoteRounds {
		return Errf(KindOutOfRange, "total votes %d exceeds maximum %d", totalVotes, MaxVoteRounds)
	}
	if correctVotes > totalVotes {
		return Errf(KindOutOfRange, "correct votes %d exceeds total votes %d", correctVotes, totalVotes)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}

		run, err := loadRun(tx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusActive {
			return Errf(KindInvalidState, "run #%d is %s, vote stats only update while active", runID, run.Status)
		}

		var participation models.Participation
		if err := tx.Where("run_id = ? AND user_address = ?", runID, user).
			First(&participation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Errf(KindNotFound, "no participation for %s in run #%d", user, runID)
			}
			return err
		}
		if totalVotes < participation.TotalVotes {
			return Errf(KindOutOfRange, "total votes %d below recorded %d, counter is append-only",
				totalVotes, participation.TotalVotes)
		}

		res := tx.Model(&models.Participation{}).
			Where("id = ? AND total_votes <= ?", participation.ID, totalVotes).
			Updates(map[string]interface{}{
				"correct_votes": correctVotes,
				"total_votes":   totalVotes,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return Errf(KindOutOfRange, "vote counter for %s in run #%d moved concurrently", user, runID)
		}
		return nil
	})
}

// EmergencyWithdraw moves funds out of a run's custody outside the normal
// withdrawal flow. It bypasses per-participant accounting entirely, so it is
// gated on the paused state, operator-only, and always audited.
func EmergencyWithdraw(ctx context.Context, db *gorm.DB, vault Vault, authority string, runID, amount uint64, destination string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}
		if !platform.IsPaused {
			return Errf(KindInvalidState, "platform must be paused for emergency withdrawal")
		}

		if _, err := loadRun(tx, runID); err != nil {
			return err
		}
		custody, err := vault.Balance(ctx, runID)
		if err != nil {
			return err
		}
		if amount > custody {
			return Errf(KindInsufficientFunds, "emergency amount %d exceeds custody balance %d", amount, custody)
		}

		signature, err := vault.TransferOut(ctx, runID, destination, amount)
		if err != nil {
			return err
		}
		log.Warnf("Run #%d: emergency withdrawal of %d to %s", runID, amount, destination)
		return tx.Create(&models.FundTransferRecord{
			RunID:     runID,
			Direction: "out",
			Kind:      models.TransferKindEmergency,
			Amount:    amount,
			Address:   destination,
			Signature: signature,
		}).Error
	})
}

// WithdrawCollectedFees drains accumulated protocol fees from the platform
// fee account. Operator only.
func WithdrawCollectedFees(ctx context.Context, db *gorm.DB, vault Vault, authority string, amount uint64, destination string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		platform, err := loadPlatform(tx)
		if err != nil {
			return err
		}
		if err := requireAuthority(platform, authority); err != nil {
			return err
		}

		balance, err := vault.FeeBalance(ctx)
		if err != nil {
			return err
		}
		if amount > balance {
			return Errf(KindInsufficientFunds, "fee drain %d exceeds fee account balance %d", amount, balance)
		}

		signature, err := vault.TransferFees(ctx, destination, amount)
		if err != nil {
			return err
		}
		return tx.Create(&models.FundTransferRecord{
			RunID:     0,
			Direction: "out",
			Kind:      models.TransferKindFeeDrain,
			Amount:    amount,
			Address:   destination,
			Signature: signature,
		}).Error
	})
}

func loadPlatform(tx *gorm.DB) (*models.Platform, error) {
	var platform models.Platform
	if err := tx.First(&platform).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "platform not initialized")
		}
		return nil, err
	}
	return &platform, nil
}

func loadRun(tx *gorm.DB, runID uint64) (*models.Run, error) {
	var run models.Run
	if err := tx.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "run #%d not found", runID)
		}
		return nil, err
	}
	return &run, nil
}

func requireAuthority(platform *models.Platform, caller string) error {
	if caller != platform.Authority {
		return Errf(KindAuthorization, "caller is not the platform authority")
	}
	return nil
}
