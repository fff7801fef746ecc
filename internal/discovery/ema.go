package discovery

import "creatorswap/internal/fixed"

// Smooth returns alpha*raw + (1-alpha)*prev with alpha given in basis points.
// prev and the result are 18-decimal fixed point; raw is a plain count.
func Smooth(prev fixed.Amount, raw uint64, alphaBps uint64) (fixed.Amount, error) {
	weighted, err := fixed.Units(raw).Mul(fixed.FromUint64(alphaBps))
	if err != nil {
		return fixed.Amount{}, err
	}
	carried, err := prev.Mul(fixed.FromUint64(fixed.BpsDenominator - alphaBps))
	if err != nil {
		return fixed.Amount{}, err
	}
	sum, err := weighted.Add(carried)
	if err != nil {
		return fixed.Amount{}, err
	}
	return sum.Div(fixed.FromUint64(fixed.BpsDenominator))
}
