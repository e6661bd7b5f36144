package business

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"poolcontrol/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	authority = "AuthorityWallet11111111111111111111111111111"
	feeVault  = "FeeVaultWallet111111111111111111111111111111"
	alice     = "AliceWallet11111111111111111111111111111111"
	bob       = "BobWallet1111111111111111111111111111111111"
	carol     = "CarolWallet11111111111111111111111111111111"
)

// memoryVault is an in-memory custody double. Transfers in come from an
// unlimited participant wallet; trading gains and losses are simulated by
// adjusting the run balance directly.
type memoryVault struct {
	mu       sync.Mutex
	balances map[uint64]uint64
	fees     uint64
	sigs     int
}

func newMemoryVault() *memoryVault {
	return &memoryVault{balances: make(map[uint64]uint64)}
}

func (v *memoryVault) nextSig() string {
	v.sigs++
	return fmt.Sprintf("sig-%d", v.sigs)
}

func (v *memoryVault) Provision(_ context.Context, runID uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.balances[runID]; !ok {
		v.balances[runID] = 0
	}
	return fmt.Sprintf("VaultForRun%d", runID), nil
}

func (v *memoryVault) Balance(_ context.Context, runID uint64) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[runID], nil
}

func (v *memoryVault) TransferIn(_ context.Context, runID uint64, _ string, amount uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[runID] += amount
	return v.nextSig(), nil
}

func (v *memoryVault) TransferOut(_ context.Context, runID uint64, to string, amount uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[runID] < amount {
		return "", fmt.Errorf("insufficient custody: %d < %d", v.balances[runID], amount)
	}
	v.balances[runID] -= amount
	if to == feeVault {
		v.fees += amount
	}
	return v.nextSig(), nil
}

func (v *memoryVault) FeeBalance(_ context.Context) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fees, nil
}

func (v *memoryVault) TransferFees(_ context.Context, _ string, amount uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fees < amount {
		return "", fmt.Errorf("insufficient fee balance: %d < %d", v.fees, amount)
	}
	v.fees -= amount
	return v.nextSig(), nil
}

// setBalance simulates trading activity moving the custody balance.
func (v *memoryVault) setBalance(runID, balance uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[runID] = balance
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Platform{},
		&models.Run{},
		&models.Participation{},
		&models.FundTransferRecord{},
	))
	return db
}

// newSettledRun drives a fresh platform through deposit, start and
// settlement, returning the db and vault ready for withdrawal tests.
// Deposits are alice=250 and bob=150, trading brings the pool to 500, and at
// 15% the fee is 15, leaving 485 distributable.
func newSettledRun(t *testing.T) (*gorm.DB, *memoryVault) {
	t.Helper()
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, bob, 150)
	require.NoError(t, err)
	require.NoError(t, StartRun(db, authority, 1))
	require.NoError(t, UpdateVoteStats(db, authority, 1, alice, 10, 12))

	vault.setBalance(1, 500)
	run, err := SettleRun(ctx, db, vault, authority, 1, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(15), run.FeeAmount)
	require.Equal(t, uint64(485), run.FinalBalance)
	return db, vault
}

func TestRunLifecycle(t *testing.T) {
	db, vault := newSettledRun(t)
	ctx := context.Background()

	// Fee already left custody at settlement.
	custody, err := vault.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(485), custody)
	assert.Equal(t, uint64(15), vault.fees)

	// Alice: base floor(250*485/400)=303, profit share floor(250*85/400)=53,
	// bonus floor(53*10/100)=5.
	payout, err := Withdraw(ctx, db, vault, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(308), payout)

	// Bob is last and takes the literal remainder, dust included.
	payout, err = Withdraw(ctx, db, vault, 1, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(177), payout)

	custody, err = vault.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), custody, "custody fully drained after last withdrawal")

	var run models.Run
	require.NoError(t, db.Where("run_id = ?", 1).First(&run).Error)
	assert.Equal(t, models.RunStatusSettled, run.Status)
	assert.Equal(t, run.FinalBalance, run.TotalWithdrawn)
	assert.Equal(t, run.ParticipantCount, run.WithdrawnCount)

	// Each participant's realized share is recorded.
	var p models.Participation
	require.NoError(t, db.Where("run_id = ? AND user_address = ?", 1, alice).First(&p).Error)
	assert.True(t, p.Withdrawn)
	assert.Equal(t, uint64(308), p.FinalShare)

	// Audit trail: two deposits in, fee out, two withdrawals out.
	var records []models.FundTransferRecord
	require.NoError(t, db.Where("run_id = ?", 1).Order("id").Find(&records).Error)
	require.Len(t, records, 5)
	assert.Equal(t, models.TransferKindDeposit, records[0].Kind)
	assert.Equal(t, models.TransferKindFee, records[2].Kind)
	assert.Equal(t, models.TransferKindWithdrawal, records[4].Kind)

	var platform models.Platform
	require.NoError(t, db.First(&platform).Error)
	assert.Equal(t, uint64(15), platform.TotalFeesCollected)
	assert.Equal(t, uint64(1), platform.TotalRuns)
}

func TestLossRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, bob, 150)
	require.NoError(t, err)
	require.NoError(t, StartRun(db, authority, 1))
	require.NoError(t, UpdateVoteStats(db, authority, 1, alice, 12, 12))

	// Trading lost 100. No fee on a losing run.
	vault.setBalance(1, 300)
	run, err := SettleRun(ctx, db, vault, authority, 1, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), run.FeeAmount)
	assert.Equal(t, uint64(300), run.FinalBalance)

	// Perfect accuracy earns nothing on a loss.
	payout, err := Withdraw(ctx, db, vault, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(187), payout) // floor(250*300/400)

	payout, err = Withdraw(ctx, db, vault, 1, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(113), payout)

	custody, err := vault.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), custody)
}

func TestPlatformLifecycle(t *testing.T) {
	db := newTestDB(t)

	platform, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	assert.Equal(t, uint16(1500), platform.FeeBps)
	assert.False(t, platform.IsPaused)

	_, err = InitializePlatform(db, authority, 1000, feeVault)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyDone, KindOf(err))

	// Fee cap
	err = SetFeeRate(db, authority, MaxFeeBps+1)
	require.Error(t, err)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	// Only the authority can change the rate
	err = SetFeeRate(db, alice, 500)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))

	require.NoError(t, SetFeeRate(db, authority, 500))

	// Pause is idempotence-guarded
	require.NoError(t, PausePlatform(db, authority))
	err = PausePlatform(db, authority)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyDone, KindOf(err))
	require.NoError(t, UnpausePlatform(db, authority))
}

func TestInitializePlatformRejectsExcessiveFee(t *testing.T) {
	db := newTestDB(t)
	_, err := InitializePlatform(db, authority, MaxFeeBps+1, feeVault)
	require.Error(t, err)
	assert.Equal(t, KindOutOfRange, KindOf(err))
}

func TestCreateRunValidation(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)

	// Parameter ranges
	_, err = CreateRun(ctx, db, vault, authority, 1, 0, 100, 10)
	assert.Equal(t, KindOutOfRange, KindOf(err))
	_, err = CreateRun(ctx, db, vault, authority, 1, 100, 50, 10)
	assert.Equal(t, KindOutOfRange, KindOf(err))
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 100, 1)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	// Authority only
	_, err = CreateRun(ctx, db, vault, alice, 1, 10, 100, 10)
	assert.Equal(t, KindAuthorization, KindOf(err))

	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 100, 10)
	require.NoError(t, err)

	// Duplicate run id
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 100, 10)
	assert.Equal(t, KindAlreadyDone, KindOf(err))

	// Paused platform rejects new runs
	require.NoError(t, PausePlatform(db, authority))
	_, err = CreateRun(ctx, db, vault, authority, 2, 10, 100, 10)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestDepositRules(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 50, 300, 2)
	require.NoError(t, err)

	// Bounds per call
	_, err = Deposit(ctx, db, vault, 1, alice, 49)
	assert.Equal(t, KindOutOfRange, KindOf(err))
	_, err = Deposit(ctx, db, vault, 1, alice, 301)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	// Repeat deposits accumulate into one participation
	p, err := Deposit(ctx, db, vault, 1, alice, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p.DepositAmount)
	p, err = Deposit(ctx, db, vault, 1, alice, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), p.DepositAmount)

	// Cumulative cap
	_, err = Deposit(ctx, db, vault, 1, alice, 100)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	var run models.Run
	require.NoError(t, db.Where("run_id = ?", 1).First(&run).Error)
	assert.Equal(t, uint16(1), run.ParticipantCount, "repeat deposits count one participant")
	assert.Equal(t, uint64(250), run.TotalDeposited)

	_, err = Deposit(ctx, db, vault, 1, bob, 100)
	require.NoError(t, err)

	// Run full
	_, err = Deposit(ctx, db, vault, 1, carol, 100)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	// No deposits after start
	require.NoError(t, StartRun(db, authority, 1))
	_, err = Deposit(ctx, db, vault, 1, alice, 50)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestDepositWhilePaused(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 100, 10)
	require.NoError(t, err)

	require.NoError(t, PausePlatform(db, authority))
	_, err = Deposit(ctx, db, vault, 1, alice, 50)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestStartRunGuards(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 100, 10)
	require.NoError(t, err)

	// A single participant may not start a run.
	_, err = Deposit(ctx, db, vault, 1, alice, 50)
	require.NoError(t, err)
	err = StartRun(db, authority, 1)
	require.Error(t, err)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	_, err = Deposit(ctx, db, vault, 1, bob, 50)
	require.NoError(t, err)

	err = StartRun(db, alice, 1)
	assert.Equal(t, KindAuthorization, KindOf(err))

	require.NoError(t, StartRun(db, authority, 1))

	// Already active
	err = StartRun(db, authority, 1)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestSettleGuards(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, bob, 150)
	require.NoError(t, err)

	// Only an active run settles
	_, err = SettleRun(ctx, db, vault, authority, 1, 400)
	assert.Equal(t, KindInvalidState, KindOf(err))

	require.NoError(t, StartRun(db, authority, 1))

	_, err = SettleRun(ctx, db, vault, alice, 1, 400)
	assert.Equal(t, KindAuthorization, KindOf(err))

	// Reported figure must match live custody exactly
	vault.setBalance(1, 500)
	_, err = SettleRun(ctx, db, vault, authority, 1, 499)
	require.Error(t, err)
	assert.Equal(t, KindBalanceMismatch, KindOf(err))

	_, err = SettleRun(ctx, db, vault, authority, 1, 500)
	require.NoError(t, err)

	// Settling twice fails
	_, err = SettleRun(ctx, db, vault, authority, 1, 500)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestWithdrawGuards(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, bob, 150)
	require.NoError(t, err)
	require.NoError(t, StartRun(db, authority, 1))

	// No withdrawals before settlement
	_, err = Withdraw(ctx, db, vault, 1, alice)
	assert.Equal(t, KindInvalidState, KindOf(err))

	vault.setBalance(1, 500)
	_, err = SettleRun(ctx, db, vault, authority, 1, 500)
	require.NoError(t, err)

	// Unknown participant
	_, err = Withdraw(ctx, db, vault, 1, carol)
	assert.Equal(t, KindNotFound, KindOf(err))

	first, err := Withdraw(ctx, db, vault, 1, alice)
	require.NoError(t, err)

	// Second attempt changes nothing
	_, err = Withdraw(ctx, db, vault, 1, alice)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyDone, KindOf(err))

	var run models.Run
	require.NoError(t, db.Where("run_id = ?", 1).First(&run).Error)
	assert.Equal(t, first, run.TotalWithdrawn, "failed repeat withdrawal left no state change")
	assert.Equal(t, uint16(1), run.WithdrawnCount)
}

func TestWithdrawFailureMovesNoFunds(t *testing.T) {
	db, vault := newSettledRun(t)
	ctx := context.Background()

	first, err := Withdraw(ctx, db, vault, 1, alice)
	require.NoError(t, err)

	// Custody topped up outside the engine: the last withdrawer's remainder
	// payout would push total_withdrawn past the distributable balance, so
	// the withdrawal must be refused before any transfer happens.
	vault.setBalance(1, 1177)

	_, err = Withdraw(ctx, db, vault, 1, bob)
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	custody, err := vault.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1177), custody, "failed withdrawal must not move custody")

	var p models.Participation
	require.NoError(t, db.Where("run_id = ? AND user_address = ?", 1, bob).First(&p).Error)
	assert.False(t, p.Withdrawn)
	assert.Equal(t, uint64(0), p.FinalShare)

	var run models.Run
	require.NoError(t, db.Where("run_id = ?", 1).First(&run).Error)
	assert.Equal(t, first, run.TotalWithdrawn)
	assert.Equal(t, uint16(1), run.WithdrawnCount)
}

func TestVoteStatsRules(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, bob, 150)
	require.NoError(t, err)

	// Only while active
	err = UpdateVoteStats(db, authority, 1, alice, 1, 1)
	assert.Equal(t, KindInvalidState, KindOf(err))

	require.NoError(t, StartRun(db, authority, 1))

	// Bounds
	err = UpdateVoteStats(db, authority, 1, alice, 0, MaxVoteRounds+1)
	assert.Equal(t, KindOutOfRange, KindOf(err))
	err = UpdateVoteStats(db, authority, 1, alice, 3, 2)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	// Authority only
	err = UpdateVoteStats(db, alice, 1, alice, 1, 1)
	assert.Equal(t, KindAuthorization, KindOf(err))

	// Unknown participant
	err = UpdateVoteStats(db, authority, 1, carol, 1, 1)
	assert.Equal(t, KindNotFound, KindOf(err))

	require.NoError(t, UpdateVoteStats(db, authority, 1, alice, 4, 6))

	// The total is append-only
	err = UpdateVoteStats(db, authority, 1, alice, 3, 5)
	require.Error(t, err)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	require.NoError(t, UpdateVoteStats(db, authority, 1, alice, 8, 12))

	var p models.Participation
	require.NoError(t, db.Where("run_id = ? AND user_address = ?", 1, alice).First(&p).Error)
	assert.Equal(t, uint8(8), p.CorrectVotes)
	assert.Equal(t, uint8(12), p.TotalVotes)
}

func TestEmergencyWithdraw(t *testing.T) {
	db := newTestDB(t)
	vault := newMemoryVault()
	ctx := context.Background()

	_, err := InitializePlatform(db, authority, 1500, feeVault)
	require.NoError(t, err)
	_, err = CreateRun(ctx, db, vault, authority, 1, 10, 1000, 10)
	require.NoError(t, err)
	_, err = Deposit(ctx, db, vault, 1, alice, 250)
	require.NoError(t, err)

	// Refused while the platform runs normally
	err = EmergencyWithdraw(ctx, db, vault, authority, 1, 100, carol)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	require.NoError(t, PausePlatform(db, authority))

	err = EmergencyWithdraw(ctx, db, vault, alice, 1, 100, carol)
	assert.Equal(t, KindAuthorization, KindOf(err))

	err = EmergencyWithdraw(ctx, db, vault, authority, 1, 251, carol)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	require.NoError(t, EmergencyWithdraw(ctx, db, vault, authority, 1, 100, carol))

	custody, err := vault.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), custody)

	// Always audited
	var record models.FundTransferRecord
	require.NoError(t, db.Where("run_id = ? AND kind = ?", 1, models.TransferKindEmergency).
		First(&record).Error)
	assert.Equal(t, uint64(100), record.Amount)
	assert.Equal(t, carol, record.Address)
}

func TestWithdrawCollectedFees(t *testing.T) {
	db, vault := newSettledRun(t)
	ctx := context.Background()

	err := WithdrawCollectedFees(ctx, db, vault, alice, 10, carol)
	assert.Equal(t, KindAuthorization, KindOf(err))

	err = WithdrawCollectedFees(ctx, db, vault, authority, 16, carol)
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	require.NoError(t, WithdrawCollectedFees(ctx, db, vault, authority, 15, carol))

	balance, err := vault.FeeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), balance)

	var record models.FundTransferRecord
	require.NoError(t, db.Where("kind = ?", models.TransferKindFeeDrain).First(&record).Error)
	assert.Equal(t, uint64(0), record.RunID)
	assert.Equal(t, uint64(15), record.Amount)
}
