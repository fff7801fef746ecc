package swap

import (
	"fmt"

	"creatorswap/internal/fixed"
)

// Breakdown is the arithmetic of one constant-product trade.
type Breakdown struct {
	AmountIn  fixed.Amount
	AfterFee  fixed.Amount
	Fee       fixed.Amount
	AmountOut fixed.Amount
	// IdealOut is the output at the pre-trade spot price for AfterFee.
	IdealOut fixed.Amount
	// SlippageBps is (IdealOut-AmountOut)/IdealOut in basis points, rounded up.
	SlippageBps uint64
}

// Compute prices amountIn against (reserveIn, reserveOut) with the fee taken
// from the input. Every division floors, so reserveIn*reserveOut never
// decreases across the trade.
func Compute(reserveIn, reserveOut, amountIn fixed.Amount, feeBps uint64) (Breakdown, error) {
	if feeBps >= fixed.BpsDenominator {
		return Breakdown{}, fmt.Errorf("fee %d bps: %w", feeBps, ErrInvalidAmount)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return Breakdown{}, fmt.Errorf("%w: empty pool", ErrInsufficientReserve)
	}
	afterFee, err := amountIn.MulBps(fixed.BpsDenominator - feeBps)
	if err != nil {
		return Breakdown{}, err
	}
	fee, err := amountIn.Sub(afterFee)
	if err != nil {
		return Breakdown{}, err
	}
	denom, err := reserveIn.Add(afterFee)
	if err != nil {
		return Breakdown{}, err
	}
	out, err := fixed.MulDiv(afterFee, reserveOut, denom)
	if err != nil {
		return Breakdown{}, err
	}
	ideal, err := fixed.MulDiv(afterFee, reserveOut, reserveIn)
	if err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		AmountIn:  amountIn,
		AfterFee:  afterFee,
		Fee:       fee,
		AmountOut: out,
		IdealOut:  ideal,
	}
	b.SlippageBps, err = slippageBps(ideal, out)
	if err != nil {
		return Breakdown{}, err
	}
	return b, nil
}

func slippageBps(ideal, out fixed.Amount) (uint64, error) {
	if ideal.IsZero() || !out.Lt(ideal) {
		return 0, nil
	}
	diff, err := ideal.Sub(out)
	if err != nil {
		return 0, err
	}
	num, err := diff.Mul(fixed.FromUint64(fixed.BpsDenominator))
	if err != nil {
		return 0, err
	}
	num, err = num.Add(ideal)
	if err != nil {
		return 0, err
	}
	num, err = num.Sub(fixed.FromUint64(1))
	if err != nil {
		return 0, err
	}
	bps, err := num.Div(ideal)
	if err != nil {
		return 0, err
	}
	// out < ideal bounds this by the denominator
	return bps.Uint256().Uint64(), nil
}
