// Package swap executes constant-product trades against the reserve ledger.
package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/guard"
	"creatorswap/internal/ledger"
	"creatorswap/internal/model"
)

var (
	ErrBelowMinSwapAmount     = errors.New("below minimum swap amount")
	ErrAboveMaxSwapAmount     = errors.New("above maximum swap amount")
	ErrExceedsReserveFraction = errors.New("exceeds reserve fraction")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrPoolNotTradeable       = errors.New("pool not tradeable")
	ErrInvalidDirection       = errors.New("invalid direction")
	ErrInvalidAmount          = errors.New("invalid amount")

	// ErrInsufficientReserve is the ledger's error, shared so callers can
	// match either package.
	ErrInsufficientReserve = ledger.ErrInsufficientReserve
)

// Params are the swap admission tunables. A zero MaxSingleSwap disables
// that bound.
type Params struct {
	FeeBps               uint64
	MinSwapAmount        fixed.Amount
	MaxSingleSwap        fixed.Amount
	MaxSwapAmountPercent uint64
}

// Request is one swap order.
type Request struct {
	TokenID        string
	Direction      model.Direction
	AmountIn       fixed.Amount
	MinAmountOut   fixed.Amount
	MaxSlippageBps uint64
	Sender         common.Address
	At             time.Time
}

// Result describes a committed swap.
type Result struct {
	AmountOut   fixed.Amount
	Fee         fixed.Amount
	ProtocolFee fixed.Amount
	SlippageBps uint64
	Pool        model.Pool
}

// Quote is a read-only estimate.
type Quote struct {
	AmountOut      fixed.Amount `json:"amount_out"`
	Fee            fixed.Amount `json:"fee"`
	IdealOut       fixed.Amount `json:"ideal_out"`
	PriceImpactBps uint64       `json:"price_impact_bps"`
}

type Engine struct {
	ledger  *ledger.Ledger
	guard   *guard.Guard
	params  Params
	fees    FeePolicy
	emitter events.Emitter
	logger  *zap.Logger
}

func NewEngine(l *ledger.Ledger, g *guard.Guard, params Params, fees FeePolicy, emitter events.Emitter, logger *zap.Logger) *Engine {
	if fees == nil {
		fees = LPFeePolicy{}
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ledger:  l,
		guard:   g,
		params:  params,
		fees:    fees,
		emitter: emitter,
		logger:  logger,
	}
}

// SetEmitter replaces the event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Params returns the configured tunables.
func (e *Engine) Params() Params { return e.params }

// Swap admits, prices and commits req. On any error neither the pool, the
// sender's cooldown nor the event stream changes.
func (e *Engine) Swap(req Request) (Result, error) {
	if !req.Direction.Valid() {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(req.Direction))
	}
	if req.AmountIn.IsZero() {
		return Result{}, fmt.Errorf("%w: zero amount in", ErrInvalidAmount)
	}
	if req.MaxSlippageBps > fixed.BpsDenominator {
		return Result{}, fmt.Errorf("%w: max slippage %d bps", ErrInvalidAmount, req.MaxSlippageBps)
	}

	slot := e.guard.Acquire(req.Sender)
	defer slot.Release()
	if err := slot.Admit(req.At); err != nil {
		return Result{}, err
	}

	if err := e.checkBounds(req.AmountIn); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.ledger.Update(req.TokenID, func(tx *ledger.Tx) error {
		pool := tx.Pool()
		if pool.SeededAt.IsZero() {
			return fmt.Errorf("%w: %s has not been seeded", ErrPoolNotTradeable, req.TokenID)
		}
		reserveIn, reserveOut := pool.Reserves(req.Direction)
		if reserveIn.IsZero() || reserveOut.IsZero() {
			return fmt.Errorf("%w: %s is drained", ErrInsufficientReserve, req.TokenID)
		}

		limit, err := fixed.MulDiv(reserveIn, fixed.FromUint64(e.params.MaxSwapAmountPercent), fixed.FromUint64(100))
		if err != nil {
			return err
		}
		if req.AmountIn.Gt(limit) {
			return fmt.Errorf("%w: %s > %d%% of reserve %s", ErrExceedsReserveFraction, req.AmountIn, e.params.MaxSwapAmountPercent, reserveIn)
		}

		b, err := Compute(reserveIn, reserveOut, req.AmountIn, e.params.FeeBps)
		if err != nil {
			return err
		}
		if b.AmountOut.IsZero() {
			return fmt.Errorf("%w: zero output", ErrSlippageExceeded)
		}
		if b.AmountOut.Lt(req.MinAmountOut) {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippageExceeded, b.AmountOut, req.MinAmountOut)
		}
		if b.SlippageBps > req.MaxSlippageBps {
			return fmt.Errorf("%w: %d bps > max %d bps", ErrSlippageExceeded, b.SlippageBps, req.MaxSlippageBps)
		}
		if b.AmountOut.Gt(reserveOut) {
			return fmt.Errorf("%w: out %s > reserve %s", ErrInsufficientReserve, b.AmountOut, reserveOut)
		}

		_, protocolFee, err := e.fees.Split(b.Fee)
		if err != nil {
			return err
		}
		credited, err := req.AmountIn.Sub(protocolFee)
		if err != nil {
			return err
		}
		dc, ds := model.SwapDeltas(req.Direction, credited, b.AmountOut)
		if err := tx.ApplyDelta(dc, ds); err != nil {
			return err
		}
		if !protocolFee.IsZero() {
			if req.Direction == model.CreatorToSettlement {
				err = tx.AccrueProtocolFee(protocolFee, fixed.Zero())
			} else {
				err = tx.AccrueProtocolFee(fixed.Zero(), protocolFee)
			}
			if err != nil {
				return err
			}
		}
		tx.Stamp(req.At)

		tx.OnCommit(func(p model.Pool) {
			slot.Stamp(req.At)
			res = Result{
				AmountOut:   b.AmountOut,
				Fee:         b.Fee,
				ProtocolFee: protocolFee,
				SlippageBps: b.SlippageBps,
				Pool:        p,
			}
			ev := events.New(model.EventSwap, req.TokenID, req.At)
			ev.Swap = &model.SwapEvent{
				Sender:            req.Sender,
				TokenID:           req.TokenID,
				Direction:         req.Direction,
				AmountIn:          req.AmountIn,
				AmountOut:         b.AmountOut,
				Fee:               b.Fee,
				ProtocolFee:       protocolFee,
				CreatorReserve:    p.CreatorReserve,
				SettlementReserve: p.SettlementReserve,
			}
			e.emitter.Emit(ev)
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug("swap committed",
		zap.String("token_id", req.TokenID),
		zap.Stringer("direction", req.Direction),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("amount_out", res.AmountOut.String()),
	)
	return res, nil
}

func (e *Engine) checkBounds(amountIn fixed.Amount) error {
	if amountIn.Lt(e.params.MinSwapAmount) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinSwapAmount, amountIn, e.params.MinSwapAmount)
	}
	if !e.params.MaxSingleSwap.IsZero() && amountIn.Gt(e.params.MaxSingleSwap) {
		return fmt.Errorf("%w: %s > %s", ErrAboveMaxSwapAmount, amountIn, e.params.MaxSingleSwap)
	}
	return nil
}

// Quote prices amountIn against the current reserves without admission
// checks or side effects.
func (e *Engine) Quote(tokenID string, dir model.Direction, amountIn fixed.Amount) (Quote, error) {
	if !dir.Valid() {
		return Quote{}, fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(dir))
	}
	pool, err := e.ledger.Pool(tokenID)
	if err != nil {
		return Quote{}, err
	}
	if pool.SeededAt.IsZero() {
		return Quote{}, fmt.Errorf("%w: %s has not been seeded", ErrPoolNotTradeable, tokenID)
	}
	reserveIn, reserveOut := pool.Reserves(dir)
	b, err := Compute(reserveIn, reserveOut, amountIn, e.params.FeeBps)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		AmountOut:      b.AmountOut,
		Fee:            b.Fee,
		IdealOut:       b.IdealOut,
		PriceImpactBps: b.SlippageBps,
	}, nil
}
