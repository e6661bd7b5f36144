package business

import (
	"math/bits"
)

// Policy constants for the settlement arithmetic. Amounts are USDC base
// units; all products go through 128-bit intermediates and abort on overflow
// rather than wrap or saturate.
const (
	BpsDenominator = 10_000
	MaxFeeBps      = 2_000 // platform fee can never exceed 20% of profit

	MaxVoteRounds       = 12 // decision rounds per run
	BonusPerCorrectVote = 1  // percent of profit share per correct decision

	USDCDecimals = 6
)

// checkedAdd returns a+b or an overflow error.
func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, Errf(KindOverflow, "addition overflow: %d + %d", a, b)
	}
	return sum, nil
}

// checkedSub returns a-b or an overflow error when b > a.
func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, Errf(KindOverflow, "subtraction underflow: %d - %d", a, b)
	}
	return diff, nil
}

// mulDiv computes floor(a*b/den) with a 128-bit intermediate product. It
// fails when den is zero or when the quotient does not fit in 64 bits.
func mulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, Errf(KindOverflow, "division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, Errf(KindOverflow, "mulDiv overflow: %d * %d / %d", a, b, den)
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}

// ComputeFee derives the protocol fee and the post-fee distributable balance
// for a settling run. The fee is taken from realized profit only: a
// break-even or losing run pays zero fee.
//
//	profit        = max(0, finalBalance - totalDeposited)
//	fee           = floor(profit * feeBps / 10000)
//	distributable = finalBalance - fee
func ComputeFee(totalDeposited, finalBalance uint64, feeBps uint16) (fee, distributable uint64, err error) {
	if feeBps > MaxFeeBps {
		return 0, 0, Errf(KindOutOfRange, "fee rate %d bps exceeds maximum %d", feeBps, MaxFeeBps)
	}
	if finalBalance <= totalDeposited {
		return 0, finalBalance, nil
	}
	profit := finalBalance - totalDeposited
	fee, err = mulDiv(profit, uint64(feeBps), BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	// fee <= profit <= finalBalance, so this subtraction cannot underflow
	return fee, finalBalance - fee, nil
}

// ComputePayout derives a non-last participant's entitlement from the
// post-fee final balance.
//
//	base         = floor(deposit * finalBalance / totalDeposited)
//	profitShare  = floor(deposit * (finalBalance - totalDeposited) / totalDeposited)
//	bonus        = floor(profitShare * correctVotes / 100)
//	payout       = base + bonus
//
// The bonus applies to the participant's slice of the profit only, never to
// principal, and is zero on a break-even or losing run. The last withdrawer
// does not use this function: they take the literal custody remainder.
func ComputePayout(deposit, totalDeposited, finalBalance uint64, correctVotes uint8) (uint64, error) {
	if totalDeposited == 0 {
		return 0, Errf(KindOutOfRange, "run has no deposits")
	}
	if correctVotes > MaxVoteRounds {
		return 0, Errf(KindOutOfRange, "correct votes %d exceeds maximum %d", correctVotes, MaxVoteRounds)
	}

	base, err := mulDiv(deposit, finalBalance, totalDeposited)
	if err != nil {
		return 0, err
	}
	if finalBalance <= totalDeposited {
		return base, nil
	}

	profitShare, err := mulDiv(deposit, finalBalance-totalDeposited, totalDeposited)
	if err != nil {
		return 0, err
	}
	bonus, err := mulDiv(profitShare, uint64(correctVotes)*BonusPerCorrectVote, 100)
	if err != nil {
		return 0, err
	}
	return checkedAdd(base, bonus)
}
