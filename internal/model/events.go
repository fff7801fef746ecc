package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorswap/internal/fixed"
)

// EventType names an engine event.
type EventType string

const (
	EventSwap               EventType = "swap"
	EventLiquidityAdd       EventType = "liquidity.add"
	EventLiquidityWithdraw  EventType = "liquidity.withdraw"
	EventDiscoveryStarted   EventType = "discovery.started"
	EventDiscoverySnapshot  EventType = "discovery.snapshot"
	EventDiscoveryCompleted EventType = "discovery.completed"
)

// Event is the envelope published for every committed engine operation.
// Exactly one of Swap, Liquidity and Discovery is set.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TokenID   string          `json:"token_id"`
	Timestamp time.Time       `json:"timestamp"`
	Swap      *SwapEvent      `json:"swap,omitempty"`
	Liquidity *LiquidityEvent `json:"liquidity,omitempty"`
	Discovery *DiscoveryEvent `json:"discovery,omitempty"`
}

// SwapEvent is the payload of a committed swap. Reserve fields hold the
// post-trade state.
type SwapEvent struct {
	Sender            common.Address `json:"sender"`
	TokenID           string         `json:"token_id"`
	Direction         Direction      `json:"direction"`
	AmountIn          fixed.Amount   `json:"amount_in"`
	AmountOut         fixed.Amount   `json:"amount_out"`
	Fee               fixed.Amount   `json:"fee"`
	ProtocolFee       fixed.Amount   `json:"protocol_fee"`
	CreatorReserve    fixed.Amount   `json:"creator_reserve"`
	SettlementReserve fixed.Amount   `json:"settlement_reserve"`
}

// LiquidityEvent is the payload of an add or withdraw.
type LiquidityEvent struct {
	Provider          common.Address `json:"provider"`
	CreatorAmount     fixed.Amount   `json:"creator_amount"`
	SettlementAmount  fixed.Amount   `json:"settlement_amount"`
	Shares            fixed.Amount   `json:"shares"`
	TotalShares       fixed.Amount   `json:"total_shares"`
	CreatorReserve    fixed.Amount   `json:"creator_reserve"`
	SettlementReserve fixed.Amount   `json:"settlement_reserve"`
}

// DiscoveryEvent is the payload of a discovery transition or snapshot.
type DiscoveryEvent struct {
	State             DiscoveryState `json:"state"`
	RawCount          uint64         `json:"raw_count"`
	SmoothedCount     fixed.Amount   `json:"smoothed_count"`
	SnapshotCount     int            `json:"snapshot_count"`
	CreatorReserve    fixed.Amount   `json:"creator_reserve"`
	SettlementReserve fixed.Amount   `json:"settlement_reserve"`
}
