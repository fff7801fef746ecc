package engine

import (
	"context"
	"errors"

	"creatorswap/internal/discovery"
	"creatorswap/internal/fixed"
	"creatorswap/internal/guard"
	"creatorswap/internal/ledger"
	"creatorswap/internal/liquidity"
	"creatorswap/internal/swap"
)

var (
	ErrInsufficientReserve     = ledger.ErrInsufficientReserve
	ErrBelowMinSwapAmount      = swap.ErrBelowMinSwapAmount
	ErrAboveMaxSwapAmount      = swap.ErrAboveMaxSwapAmount
	ErrExceedsReserveFraction  = swap.ErrExceedsReserveFraction
	ErrSlippageExceeded        = swap.ErrSlippageExceeded
	ErrThrottleActive          = guard.ErrThrottleActive
	ErrDiscoveryAlreadyActive  = discovery.ErrDiscoveryAlreadyActive
	ErrDiscoveryNotComplete    = discovery.ErrDiscoveryNotComplete
	ErrSnapshotAfterCompletion = discovery.ErrSnapshotAfterCompletion
	ErrBelowMinLiquidity       = liquidity.ErrBelowMinLiquidity

	ErrPoolNotFound        = ledger.ErrPoolNotFound
	ErrPoolExists          = ledger.ErrPoolExists
	ErrInvalidTokenID      = ledger.ErrInvalidTokenID
	ErrInsufficientShares  = ledger.ErrInsufficientShares
	ErrPoolNotTradeable    = swap.ErrPoolNotTradeable
	ErrInvalidAmount       = swap.ErrInvalidAmount
	ErrInvalidDirection    = swap.ErrInvalidDirection
	ErrDiscoveryNotStarted = discovery.ErrDiscoveryNotStarted
	ErrDiscoveryCompleted  = discovery.ErrDiscoveryCompleted
	ErrSnapshotTooSoon     = discovery.ErrSnapshotTooSoon
	ErrAlreadySeeded       = discovery.ErrAlreadySeeded
	ErrOverflow            = fixed.ErrOverflow
)

var codes = []struct {
	err  error
	code string
}{
	{ErrThrottleActive, "throttle_active"},
	{ErrBelowMinSwapAmount, "below_min_swap_amount"},
	{ErrAboveMaxSwapAmount, "above_max_swap_amount"},
	{ErrExceedsReserveFraction, "exceeds_reserve_fraction"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrInsufficientReserve, "insufficient_reserve"},
	{ErrDiscoveryAlreadyActive, "discovery_already_active"},
	{ErrDiscoveryNotComplete, "discovery_not_complete"},
	{ErrSnapshotAfterCompletion, "snapshot_after_completion"},
	{ErrBelowMinLiquidity, "below_min_liquidity"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrPoolExists, "pool_exists"},
	{ErrInvalidTokenID, "invalid_token_id"},
	{ErrInsufficientShares, "insufficient_shares"},
	{ErrPoolNotTradeable, "pool_not_tradeable"},
	{ErrInvalidAmount, "invalid_amount"},
	{fixed.ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidDirection, "invalid_direction"},
	{ErrDiscoveryNotStarted, "discovery_not_started"},
	{ErrDiscoveryCompleted, "discovery_completed"},
	{ErrSnapshotTooSoon, "snapshot_too_soon"},
	{ErrAlreadySeeded, "already_seeded"},
	{ErrOverflow, "overflow"},
	{fixed.ErrUnderflow, "underflow"},
	{fixed.ErrDivisionByZero, "division_by_zero"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// Code maps err to a stable snake-case code for boundary layers.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "unknown"
}
