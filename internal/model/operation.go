package model

import (
	"time"
)

// OpKind names a replayable engine operation.
type OpKind string

const (
	OpRegisterPool      OpKind = "register_pool"
	OpStartDiscovery    OpKind = "start_discovery"
	OpRecordSnapshot    OpKind = "record_snapshot"
	OpCompleteDiscovery OpKind = "complete_discovery"
	OpAddLiquidity      OpKind = "add_liquidity"
	OpWithdrawLiquidity OpKind = "withdraw_liquidity"
	OpSwap              OpKind = "swap"
)

// Operation is one line of an operations log. Amount fields are decimal
// token strings and are converted at the boundary.
type Operation struct {
	Line             uint64    `json:"-"`
	Op               OpKind    `json:"op"`
	Timestamp        time.Time `json:"ts"`
	TokenID          string    `json:"token_id"`
	InitialMetric    uint64    `json:"initial_metric,omitempty"`
	RawCount         uint64    `json:"raw_count,omitempty"`
	Direction        Direction `json:"direction,omitempty"`
	AmountIn         string    `json:"amount_in,omitempty"`
	MinAmountOut     string    `json:"min_amount_out,omitempty"`
	MaxSlippageBps   uint64    `json:"max_slippage_bps,omitempty"`
	Sender           string    `json:"sender,omitempty"`
	CreatorAmount    string    `json:"creator_amount,omitempty"`
	SettlementAmount string    `json:"settlement_amount,omitempty"`
	Shares           string    `json:"shares,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	TxHash           string    `json:"tx_hash,omitempty"`
}

// OpError records a rejected operation.
type OpError struct {
	Line    uint64    `json:"line"`
	Op      OpKind    `json:"op"`
	TokenID string    `json:"token_id"`
	At      time.Time `json:"ts"`
	Code    string    `json:"code"`
	Error   string    `json:"error"`
}
