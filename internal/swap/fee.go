package swap

import (
	"fmt"

	"creatorswap/internal/fixed"
)

// FeePolicy divides the fee taken from a swap input between liquidity
// providers and the protocol. The LP portion stays in the reserves.
type FeePolicy interface {
	Name() string
	Split(fee fixed.Amount) (lp, protocol fixed.Amount, err error)
}

// LPFeePolicy leaves the whole fee in the pool.
type LPFeePolicy struct{}

func (LPFeePolicy) Name() string { return "lp" }

func (LPFeePolicy) Split(fee fixed.Amount) (fixed.Amount, fixed.Amount, error) {
	return fee, fixed.Zero(), nil
}

// ProtocolSharePolicy sends ShareBps of the fee to the protocol.
type ProtocolSharePolicy struct {
	ShareBps uint64
}

func (p ProtocolSharePolicy) Name() string {
	return fmt.Sprintf("protocol_share_%d", p.ShareBps)
}

func (p ProtocolSharePolicy) Split(fee fixed.Amount) (fixed.Amount, fixed.Amount, error) {
	if p.ShareBps > fixed.BpsDenominator {
		return fixed.Amount{}, fixed.Amount{}, fmt.Errorf("protocol share %d bps: %w", p.ShareBps, ErrInvalidAmount)
	}
	protocol, err := fee.MulBps(p.ShareBps)
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	lp, err := fee.Sub(protocol)
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	return lp, protocol, nil
}

// PolicyFor returns LPFeePolicy for a zero share and ProtocolSharePolicy otherwise.
func PolicyFor(protocolShareBps uint64) FeePolicy {
	if protocolShareBps == 0 {
		return LPFeePolicy{}
	}
	return ProtocolSharePolicy{ShareBps: protocolShareBps}
}
