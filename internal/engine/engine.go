// Package engine is the collaborator-facing entry point. It wires the reserve
// ledger, the swap engine, the address guard, price discovery and the
// liquidity manager behind one clock and one event emitter.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorswap/internal/discovery"
	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/guard"
	"creatorswap/internal/ledger"
	"creatorswap/internal/liquidity"
	"creatorswap/internal/model"
	"creatorswap/internal/swap"
)

type timeKey struct{}

// WithTime makes operations run with ctx observe at as "now".
func WithTime(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, at)
}

// SwapRequest is a swap order as submitted by a collaborator.
type SwapRequest struct {
	TokenID        string
	Direction      model.Direction
	AmountIn       fixed.Amount
	MinAmountOut   fixed.Amount
	MaxSlippageBps uint64
	Sender         common.Address
}

type Engine struct {
	cfg       Config
	ledger    *ledger.Ledger
	guard     *guard.Guard
	swaps     *swap.Engine
	discovery *discovery.Engine
	liquidity *liquidity.Manager
	events    *events.Sequencer
	now       func() time.Time
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pricing, err := discovery.NewPricingPolicy(cfg.Pricing)
	if err != nil {
		return nil, err
	}

	l := ledger.New(cfg.MinLiquidity, logger.Named("ledger"))
	g := guard.New(cfg.MinTimeBetweenSwaps)
	swaps := swap.NewEngine(l, g, swap.Params{
		FeeBps:               cfg.SwapFeeBps,
		MinSwapAmount:        cfg.MinSwapAmount,
		MaxSingleSwap:        cfg.MaxSingleSwap,
		MaxSwapAmountPercent: cfg.MaxSwapAmountPercent,
	}, swap.PolicyFor(cfg.ProtocolFeeShareBps), nil, logger.Named("swap"))
	disc, err := discovery.NewEngine(l, discovery.Params{
		Period:            cfg.DiscoveryPeriod,
		SnapshotInterval:  cfg.SnapshotInterval,
		MinSnapshots:      cfg.MinSnapshots,
		SmoothingAlphaBps: cfg.SmoothingAlphaBps,
	}, pricing, nil, logger.Named("discovery"))
	if err != nil {
		return nil, err
	}
	liq := liquidity.NewManager(l, disc.Status, nil, logger.Named("liquidity"))

	seq := events.NewSequencer(nil)
	swaps.SetEmitter(seq)
	disc.SetEmitter(seq)
	liq.SetEmitter(seq)

	return &Engine{
		cfg:       cfg,
		ledger:    l,
		guard:     g,
		swaps:     swaps,
		discovery: disc,
		liquidity: liq,
		events:    seq,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// SetClock replaces the time source used when ctx carries no time.
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	e.now = now
	e.ledger.SetClock(now)
}

// SetEmitter routes events from every component to emitter. Event ids are
// numbered per token whatever the emitter, so swapping in a NoopEmitter mutes
// events without changing the ids of later ones.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.events.SetTarget(emitter)
}

// Emitter returns the emitter set by SetEmitter.
func (e *Engine) Emitter() events.Emitter { return e.events.Target() }

// Config returns the tunables the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) begin(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if at, ok := ctx.Value(timeKey{}).(time.Time); ok && !at.IsZero() {
		return at, nil
	}
	return e.now(), nil
}

func (e *Engine) rejected(op, tokenID string, err error) {
	e.logger.Debug("operation rejected",
		zap.String("op", op),
		zap.String("token_id", tokenID),
		zap.String("code", Code(err)),
		zap.Error(err),
	)
}

// RegisterPool creates the empty pool for a newly listed creator token.
func (e *Engine) RegisterPool(ctx context.Context, tokenID string) (model.Pool, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	pool, err := e.ledger.Register(tokenID, at)
	if err != nil {
		e.rejected("register_pool", tokenID, err)
		return model.Pool{}, err
	}
	e.logger.Info("pool registered", zap.String("token_id", tokenID))
	return pool, nil
}

func (e *Engine) StartPriceDiscovery(ctx context.Context, tokenID string, initialMetric uint64) (model.DiscoverySession, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return model.DiscoverySession{}, err
	}
	sess, err := e.discovery.Start(tokenID, initialMetric, at)
	if err != nil {
		e.rejected("start_price_discovery", tokenID, err)
		return model.DiscoverySession{}, err
	}
	return sess, nil
}

func (e *Engine) RecordEngagementSnapshot(ctx context.Context, tokenID string, rawCount uint64) (model.EngagementSnapshot, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return model.EngagementSnapshot{}, err
	}
	snap, err := e.discovery.Record(tokenID, rawCount, at)
	if err != nil {
		e.rejected("record_engagement_snapshot", tokenID, err)
		return model.EngagementSnapshot{}, err
	}
	return snap, nil
}

// CompletePriceDiscovery seeds the pool once the discovery window closes.
func (e *Engine) CompletePriceDiscovery(ctx context.Context, tokenID string) (model.Pool, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	pool, err := e.discovery.Complete(tokenID, at)
	if err != nil {
		e.rejected("complete_price_discovery", tokenID, err)
		return model.Pool{}, err
	}
	return pool, nil
}

// AddLiquidity must only be called after the custody transfer of both
// amounts is confirmed.
func (e *Engine) AddLiquidity(ctx context.Context, tokenID string, creatorAmount, settlementAmount fixed.Amount, provider common.Address) (liquidity.Result, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return liquidity.Result{}, err
	}
	res, err := e.liquidity.Add(tokenID, creatorAmount, settlementAmount, provider, at)
	if err != nil {
		e.rejected("add_liquidity", tokenID, err)
		return liquidity.Result{}, err
	}
	return res, nil
}

func (e *Engine) WithdrawLiquidity(ctx context.Context, tokenID string, shares fixed.Amount, provider common.Address) (liquidity.Result, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return liquidity.Result{}, err
	}
	res, err := e.liquidity.Withdraw(tokenID, shares, provider, at)
	if err != nil {
		e.rejected("withdraw_liquidity", tokenID, err)
		return liquidity.Result{}, err
	}
	return res, nil
}

// Swap executes req atomically and returns the committed result.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (swap.Result, error) {
	at, err := e.begin(ctx)
	if err != nil {
		return swap.Result{}, err
	}
	res, err := e.swaps.Swap(swap.Request{
		TokenID:        req.TokenID,
		Direction:      req.Direction,
		AmountIn:       req.AmountIn,
		MinAmountOut:   req.MinAmountOut,
		MaxSlippageBps: req.MaxSlippageBps,
		Sender:         req.Sender,
		At:             at,
	})
	if err != nil {
		e.rejected("swap", req.TokenID, err)
		return swap.Result{}, err
	}
	e.logger.Info("swap",
		zap.String("token_id", req.TokenID),
		zap.String("sender", req.Sender.Hex()),
		zap.Stringer("direction", req.Direction),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("amount_out", res.AmountOut.String()),
	)
	return res, nil
}

// Quote is advisory; Swap recomputes everything in its own transaction.
func (e *Engine) Quote(tokenID string, dir model.Direction, amountIn fixed.Amount) (swap.Quote, error) {
	return e.swaps.Quote(tokenID, dir, amountIn)
}

// GetReserves returns (creator_reserve, settlement_reserve).
func (e *Engine) GetReserves(tokenID string) (fixed.Amount, fixed.Amount, error) {
	return e.ledger.GetReserves(tokenID)
}

func (e *Engine) Pool(tokenID string) (model.Pool, error) { return e.ledger.Pool(tokenID) }

func (e *Engine) Pools() []model.Pool { return e.ledger.Pools() }

func (e *Engine) SharesOf(tokenID string, owner common.Address) (fixed.Amount, error) {
	return e.ledger.SharesOf(tokenID, owner)
}

func (e *Engine) DiscoverySession(tokenID string) (model.DiscoverySession, bool) {
	return e.discovery.Session(tokenID)
}

func (e *Engine) Cooldown(addr common.Address) (model.Cooldown, bool) {
	return e.guard.Cooldown(addr)
}
