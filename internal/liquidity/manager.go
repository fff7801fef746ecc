// Package liquidity adds and withdraws pool liquidity under the
// minimum-liquidity floor.
package liquidity

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/ledger"
	"creatorswap/internal/model"
	"creatorswap/internal/swap"
)

var (
	ErrBelowMinLiquidity = errors.New("below minimum liquidity")
	ErrInvalidAmount     = swap.ErrInvalidAmount
	ErrPoolNotTradeable  = swap.ErrPoolNotTradeable
)

// StatusFunc reports the discovery state of a token.
type StatusFunc func(tokenID string) model.DiscoveryState

// Result describes a committed add or withdraw.
type Result struct {
	CreatorAmount    fixed.Amount
	SettlementAmount fixed.Amount
	Shares           fixed.Amount
	Pool             model.Pool
}

type Manager struct {
	ledger  *ledger.Ledger
	status  StatusFunc
	emitter events.Emitter
	logger  *zap.Logger
}

func NewManager(l *ledger.Ledger, status StatusFunc, emitter events.Emitter, logger *zap.Logger) *Manager {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{ledger: l, status: status, emitter: emitter, logger: logger}
}

// SetEmitter replaces the event emitter. It is not safe to call concurrently
// with other operations.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// Add credits both reserves and mints LP shares to provider. The custody
// transfer of both amounts must already be confirmed by the caller.
func (m *Manager) Add(tokenID string, creatorAmount, settlementAmount fixed.Amount, provider common.Address, at time.Time) (Result, error) {
	if creatorAmount.IsZero() || settlementAmount.IsZero() {
		return Result{}, fmt.Errorf("%w: both sides must be positive", ErrInvalidAmount)
	}
	if !m.ledger.Has(tokenID) {
		return Result{}, fmt.Errorf("%w: %s", ledger.ErrPoolNotFound, tokenID)
	}
	if st := m.status(tokenID); st != model.DiscoveryCompleted {
		return Result{}, fmt.Errorf("%w: discovery is %s", ErrPoolNotTradeable, st)
	}

	var res Result
	err := m.ledger.Update(tokenID, func(tx *ledger.Tx) error {
		pool := tx.Pool()
		if pool.Empty() && settlementAmount.Lt(pool.MinLiquidity) {
			return fmt.Errorf("%w: %s < %s", ErrBelowMinLiquidity, settlementAmount, pool.MinLiquidity)
		}
		shares, err := sharesFor(pool, creatorAmount, settlementAmount)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: deposit mints no shares", ErrInvalidAmount)
		}
		if err := tx.ApplyDelta(fixed.Credit(creatorAmount), fixed.Credit(settlementAmount)); err != nil {
			return err
		}
		if err := tx.MintShares(provider, shares); err != nil {
			return err
		}
		tx.Stamp(at)
		tx.OnCommit(func(p model.Pool) {
			res = Result{CreatorAmount: creatorAmount, SettlementAmount: settlementAmount, Shares: shares, Pool: p}
			m.emit(model.EventLiquidityAdd, provider, res, at)
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.logger.Info("liquidity added",
		zap.String("token_id", tokenID),
		zap.String("provider", provider.Hex()),
		zap.String("shares", res.Shares.String()),
	)
	return res, nil
}

func sharesFor(pool model.Pool, creatorAmount, settlementAmount fixed.Amount) (fixed.Amount, error) {
	if pool.TotalShares.IsZero() || pool.Empty() {
		product, err := creatorAmount.Mul(settlementAmount)
		if err != nil {
			return fixed.Amount{}, err
		}
		return product.Sqrt(), nil
	}
	byCreator, err := fixed.MulDiv(creatorAmount, pool.TotalShares, pool.CreatorReserve)
	if err != nil {
		return fixed.Amount{}, err
	}
	bySettlement, err := fixed.MulDiv(settlementAmount, pool.TotalShares, pool.SettlementReserve)
	if err != nil {
		return fixed.Amount{}, err
	}
	return fixed.Min(byCreator, bySettlement), nil
}

// Withdraw burns shares and pays out the pro-rata part of each reserve.
func (m *Manager) Withdraw(tokenID string, shares fixed.Amount, provider common.Address, at time.Time) (Result, error) {
	if shares.IsZero() {
		return Result{}, fmt.Errorf("%w: zero shares", ErrInvalidAmount)
	}

	var res Result
	err := m.ledger.Update(tokenID, func(tx *ledger.Tx) error {
		pool := tx.Pool()
		if held := tx.SharesOf(provider); held.Lt(shares) {
			return fmt.Errorf("%w: %s holds %s, wants %s", ledger.ErrInsufficientShares, provider.Hex(), held, shares)
		}
		creatorOut, err := fixed.MulDiv(shares, pool.CreatorReserve, pool.TotalShares)
		if err != nil {
			return err
		}
		settlementOut, err := fixed.MulDiv(shares, pool.SettlementReserve, pool.TotalShares)
		if err != nil {
			return err
		}
		if creatorOut.IsZero() && settlementOut.IsZero() {
			return fmt.Errorf("%w: withdrawal pays nothing", ErrInvalidAmount)
		}
		remainingCreator, err := pool.CreatorReserve.Sub(creatorOut)
		if err != nil {
			return err
		}
		remainingSettlement, err := pool.SettlementReserve.Sub(settlementOut)
		if err != nil {
			return err
		}
		if remainingCreator.IsZero() != remainingSettlement.IsZero() {
			return fmt.Errorf("%w: withdrawal would leave a one-sided pool", ErrBelowMinLiquidity)
		}
		if !remainingSettlement.IsZero() && remainingSettlement.Lt(pool.MinLiquidity) {
			return fmt.Errorf("%w: %s would remain, floor is %s", ErrBelowMinLiquidity, remainingSettlement, pool.MinLiquidity)
		}

		if err := tx.BurnShares(provider, shares); err != nil {
			return err
		}
		if err := tx.ApplyDelta(fixed.Debit(creatorOut), fixed.Debit(settlementOut)); err != nil {
			return err
		}
		tx.Stamp(at)
		tx.OnCommit(func(p model.Pool) {
			res = Result{CreatorAmount: creatorOut, SettlementAmount: settlementOut, Shares: shares, Pool: p}
			m.emit(model.EventLiquidityWithdraw, provider, res, at)
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.logger.Info("liquidity withdrawn",
		zap.String("token_id", tokenID),
		zap.String("provider", provider.Hex()),
		zap.String("shares", shares.String()),
	)
	return res, nil
}

func (m *Manager) emit(typ model.EventType, provider common.Address, res Result, at time.Time) {
	ev := events.New(typ, res.Pool.TokenID, at)
	ev.Liquidity = &model.LiquidityEvent{
		Provider:          provider,
		CreatorAmount:     res.CreatorAmount,
		SettlementAmount:  res.SettlementAmount,
		Shares:            res.Shares,
		TotalShares:       res.Pool.TotalShares,
		CreatorReserve:    res.Pool.CreatorReserve,
		SettlementReserve: res.Pool.SettlementReserve,
	}
	m.emitter.Emit(ev)
}
