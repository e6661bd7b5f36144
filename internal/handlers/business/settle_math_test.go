package business

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFee(t *testing.T) {
	t.Run("Break Even Pays No Fee", func(t *testing.T) {
		fee, distributable, err := ComputeFee(500, 500, 1500)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), fee)
		assert.Equal(t, uint64(500), distributable)
	})

	t.Run("Loss Pays No Fee", func(t *testing.T) {
		fee, distributable, err := ComputeFee(400, 300, 1500)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), fee)
		assert.Equal(t, uint64(300), distributable)
	})

	t.Run("Fee From Profit Only", func(t *testing.T) {
		// 100 profit at 15% -> 15 fee, 485 left to distribute
		fee, distributable, err := ComputeFee(400, 500, 1500)
		require.NoError(t, err)
		assert.Equal(t, uint64(15), fee)
		assert.Equal(t, uint64(485), distributable)
	})

	t.Run("Fee Floors Down", func(t *testing.T) {
		// 7 profit at 15% = 1.05 -> 1
		fee, distributable, err := ComputeFee(100, 107, 1500)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), fee)
		assert.Equal(t, uint64(106), distributable)
	})

	t.Run("Zero Fee Rate", func(t *testing.T) {
		fee, distributable, err := ComputeFee(400, 500, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), fee)
		assert.Equal(t, uint64(500), distributable)
	})

	t.Run("Fee Rate Above Cap Rejected", func(t *testing.T) {
		_, _, err := ComputeFee(400, 500, MaxFeeBps+1)
		require.Error(t, err)
		assert.Equal(t, KindOutOfRange, KindOf(err))
	})

	t.Run("Large Balances Do Not Overflow", func(t *testing.T) {
		// Profit close to the uint64 limit still computes through the
		// 128-bit intermediate.
		fee, distributable, err := ComputeFee(1, math.MaxUint64, MaxFeeBps)
		require.NoError(t, err)
		assert.Equal(t, uint64((math.MaxUint64-1)/5), fee)
		assert.Equal(t, uint64(math.MaxUint64)-fee, distributable)
	})
}

func TestComputePayout(t *testing.T) {
	t.Run("Break Even Returns Deposit", func(t *testing.T) {
		// Equal deposits, no profit, no bonus regardless of accuracy
		payout, err := ComputePayout(50, 500, 500, 12)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), payout)
	})

	t.Run("Profit With Accuracy Bonus", func(t *testing.T) {
		// d=50 of D=400, post-fee final 485, 10 correct decisions:
		// base = floor(50*485/400) = 60
		// profit share = floor(50*85/400) = 10
		// bonus = floor(10*10/100) = 1
		payout, err := ComputePayout(50, 400, 485, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(61), payout)
	})

	t.Run("Bonus On Profit Share Only", func(t *testing.T) {
		// Tiny profit: the floored profit share is zero, so even a perfect
		// score earns no bonus and the principal is untouched.
		payout, err := ComputePayout(10, 30, 31, 12)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), payout)
	})

	t.Run("Loss Pays Floored Base Without Bonus", func(t *testing.T) {
		payout, err := ComputePayout(250, 400, 300, 12)
		require.NoError(t, err)
		assert.Equal(t, uint64(187), payout) // floor(250*300/400)
	})

	t.Run("Entitlements Stay Solvent", func(t *testing.T) {
		// Ten equal deposits, small profit. Bonuses computed on the profit
		// share stay fundable; a bonus computed on the full base share
		// would overdraw custody.
		const (
			participants = 10
			deposit      = uint64(33)
			total        = deposit * participants // 330
			final        = uint64(340)
		)

		var sum, naiveSum uint64
		for i := 0; i < participants; i++ {
			votes := uint8(i % (MaxVoteRounds + 1))
			payout, err := ComputePayout(deposit, total, final, votes)
			require.NoError(t, err)
			sum += payout

			// What a bonus on the whole base share would have paid.
			base := deposit * final / total
			naiveSum += base + base*uint64(votes)/100
		}
		assert.LessOrEqual(t, sum, final, "payouts must be coverable by custody")
		assert.Greater(t, naiveSum, final, "bonus on base share would overdraw custody")
	})

	t.Run("Zero Total Deposited Rejected", func(t *testing.T) {
		_, err := ComputePayout(10, 0, 100, 0)
		require.Error(t, err)
		assert.Equal(t, KindOutOfRange, KindOf(err))
	})

	t.Run("Vote Count Above Rounds Rejected", func(t *testing.T) {
		_, err := ComputePayout(10, 100, 110, MaxVoteRounds+1)
		require.Error(t, err)
		assert.Equal(t, KindOutOfRange, KindOf(err))
	})

	t.Run("Overflow Reported Not Wrapped", func(t *testing.T) {
		_, err := ComputePayout(math.MaxUint64, 2, math.MaxUint64, 0)
		require.Error(t, err)
		assert.Equal(t, KindOverflow, KindOf(err))
	})
}

func TestCheckedArithmetic(t *testing.T) {
	t.Run("Add Overflow", func(t *testing.T) {
		_, err := checkedAdd(math.MaxUint64, 1)
		require.Error(t, err)
		assert.Equal(t, KindOverflow, KindOf(err))

		sum, err := checkedAdd(math.MaxUint64-1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), sum)
	})

	t.Run("Sub Underflow", func(t *testing.T) {
		_, err := checkedSub(1, 2)
		require.Error(t, err)
		assert.Equal(t, KindOverflow, KindOf(err))

		diff, err := checkedSub(2, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), diff)
	})

	t.Run("MulDiv Floors", func(t *testing.T) {
		quo, err := mulDiv(7, 3, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), quo)
	})

	t.Run("MulDiv Zero Denominator", func(t *testing.T) {
		_, err := mulDiv(1, 1, 0)
		require.Error(t, err)
		assert.Equal(t, KindOverflow, KindOf(err))
	})

	t.Run("MulDiv Quotient Overflow", func(t *testing.T) {
		_, err := mulDiv(math.MaxUint64, math.MaxUint64, 1)
		require.Error(t, err)
		assert.Equal(t, KindOverflow, KindOf(err))
	})
}
