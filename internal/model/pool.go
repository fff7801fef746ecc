package model

import (
	"time"

	"creatorswap/internal/fixed"
)

// Pool is the ledger record for one creator token paired with the settlement token.
type Pool struct {
	TokenID               string       `json:"token_id"`
	CreatorReserve        fixed.Amount `json:"creator_reserve"`
	SettlementReserve     fixed.Amount `json:"settlement_reserve"`
	MinLiquidity          fixed.Amount `json:"min_liquidity"`
	TotalShares           fixed.Amount `json:"total_shares"`
	ProtocolFeeCreator    fixed.Amount `json:"protocol_fee_creator"`
	ProtocolFeeSettlement fixed.Amount `json:"protocol_fee_settlement"`
	CreatedAt             time.Time    `json:"created_at"`
	SeededAt              time.Time    `json:"seeded_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Seeded reports whether both reserves are positive.
func (p Pool) Seeded() bool {
	return !p.CreatorReserve.IsZero() && !p.SettlementReserve.IsZero()
}

// Empty reports whether both reserves are zero.
func (p Pool) Empty() bool {
	return p.CreatorReserve.IsZero() && p.SettlementReserve.IsZero()
}

// Reserves returns (reserve_in, reserve_out) for a swap in dir.
func (p Pool) Reserves(dir Direction) (fixed.Amount, fixed.Amount) {
	if dir == SettlementToCreator {
		return p.SettlementReserve, p.CreatorReserve
	}
	return p.CreatorReserve, p.SettlementReserve
}

// SwapDeltas returns the signed (creator, settlement) reserve changes for a
// swap in dir that adds in to the input side and removes out from the output side.
func SwapDeltas(dir Direction, in, out fixed.Amount) (fixed.Delta, fixed.Delta) {
	if dir == SettlementToCreator {
		return fixed.Debit(out), fixed.Credit(in)
	}
	return fixed.Credit(in), fixed.Debit(out)
}
