// Package discovery runs the per-token price discovery session that seeds a
// pool's reserves from smoothed engagement snapshots.
package discovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/ledger"
	"creatorswap/internal/model"
)

var (
	ErrDiscoveryAlreadyActive  = errors.New("discovery already active")
	ErrDiscoveryNotComplete    = errors.New("discovery not complete")
	ErrSnapshotAfterCompletion = errors.New("snapshot after completion")
	ErrDiscoveryNotStarted     = errors.New("discovery not started")
	ErrDiscoveryCompleted      = errors.New("discovery already completed")
	ErrSnapshotTooSoon         = errors.New("snapshot too soon")
	ErrAlreadySeeded           = errors.New("pool already seeded")
)

// ProtocolOwner holds the LP shares minted when discovery seeds a pool.
var ProtocolOwner = common.Address{}

type Params struct {
	Period            time.Duration
	SnapshotInterval  time.Duration
	MinSnapshots      int
	SmoothingAlphaBps uint64
}

type session struct {
	mu sync.Mutex
	s  model.DiscoverySession
}

type Engine struct {
	ledger   *ledger.Ledger
	sessions *xsync.Map[string, *session]
	params   Params
	pricing  PricingPolicy
	emitter  events.Emitter
	logger   *zap.Logger
}

func NewEngine(l *ledger.Ledger, params Params, pricing PricingPolicy, emitter events.Emitter, logger *zap.Logger) (*Engine, error) {
	if params.SmoothingAlphaBps == 0 || params.SmoothingAlphaBps > fixed.BpsDenominator {
		return nil, fmt.Errorf("smoothing alpha %d bps out of range", params.SmoothingAlphaBps)
	}
	if params.MinSnapshots < 1 {
		return nil, fmt.Errorf("min snapshots must be positive")
	}
	if pricing == nil {
		return nil, fmt.Errorf("pricing policy is required")
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ledger:   l,
		sessions: xsync.NewMap[string, *session](),
		params:   params,
		pricing:  pricing,
		emitter:  emitter,
		logger:   logger,
	}, nil
}

// SetEmitter replaces the event emitter. It is not safe to call concurrently
// with other operations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Start opens a session for a registered token. A token gets at most one
// session over its lifetime.
func (e *Engine) Start(tokenID string, initialMetric uint64, at time.Time) (model.DiscoverySession, error) {
	if !e.ledger.Has(tokenID) {
		return model.DiscoverySession{}, fmt.Errorf("%w: %s", ledger.ErrPoolNotFound, tokenID)
	}
	fresh := &session{s: model.DiscoverySession{
		TokenID:           tokenID,
		State:             model.DiscoveryActive,
		StartTime:         at,
		InitialMetric:     initialMetric,
		LastSmoothedCount: fixed.Units(initialMetric),
	}}
	fresh.mu.Lock()
	defer fresh.mu.Unlock()
	if existing, loaded := e.sessions.LoadOrStore(tokenID, fresh); loaded {
		return model.DiscoverySession{}, fmt.Errorf("%w: %s is %s", ErrDiscoveryAlreadyActive, tokenID, existing.state())
	}

	ev := events.New(model.EventDiscoveryStarted, tokenID, at)
	ev.Discovery = &model.DiscoveryEvent{
		State:         model.DiscoveryActive,
		RawCount:      initialMetric,
		SmoothedCount: fresh.s.LastSmoothedCount,
	}
	e.emitter.Emit(ev)
	e.logger.Info("price discovery started", zap.String("token_id", tokenID), zap.Uint64("initial_metric", initialMetric))
	return fresh.s.Clone(), nil
}

func (s *session) state() model.DiscoveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.State
}

func (e *Engine) lookup(tokenID string) (*session, error) {
	s, ok := e.sessions.Load(tokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiscoveryNotStarted, tokenID)
	}
	return s, nil
}

// Record appends a snapshot of rawCount taken at at.
func (e *Engine) Record(tokenID string, rawCount uint64, at time.Time) (model.EngagementSnapshot, error) {
	s, err := e.lookup(tokenID)
	if err != nil {
		return model.EngagementSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s.State == model.DiscoveryCompleted {
		return model.EngagementSnapshot{}, fmt.Errorf("%w: %s", ErrSnapshotAfterCompletion, tokenID)
	}
	prev := s.s.StartTime
	if !s.s.LastSnapshotAt.IsZero() {
		prev = s.s.LastSnapshotAt
	}
	if !at.After(prev) {
		return model.EngagementSnapshot{}, fmt.Errorf("%w: %s is not after %s", ErrSnapshotTooSoon, at.Format(time.RFC3339), prev.Format(time.RFC3339))
	}
	if gap := at.Sub(prev); gap < e.params.SnapshotInterval {
		return model.EngagementSnapshot{}, fmt.Errorf("%w: %s since last, need %s", ErrSnapshotTooSoon, gap, e.params.SnapshotInterval)
	}

	smoothed, err := Smooth(s.s.LastSmoothedCount, rawCount, e.params.SmoothingAlphaBps)
	if err != nil {
		return model.EngagementSnapshot{}, err
	}
	snap := model.EngagementSnapshot{Timestamp: at, RawCount: rawCount, SmoothedCount: smoothed}
	s.s.Snapshots = append(s.s.Snapshots, snap)
	s.s.SnapshotCount++
	s.s.LastSmoothedCount = smoothed
	s.s.LastSnapshotAt = at

	ev := events.New(model.EventDiscoverySnapshot, tokenID, at)
	ev.Discovery = &model.DiscoveryEvent{
		State:         model.DiscoveryActive,
		RawCount:      rawCount,
		SmoothedCount: smoothed,
		SnapshotCount: s.s.SnapshotCount,
	}
	e.emitter.Emit(ev)
	return snap, nil
}

// Complete seeds the pool and closes the session once the discovery period
// has elapsed and enough snapshots were recorded.
func (e *Engine) Complete(tokenID string, at time.Time) (model.Pool, error) {
	s, err := e.lookup(tokenID)
	if err != nil {
		return model.Pool{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s.State == model.DiscoveryCompleted {
		return model.Pool{}, fmt.Errorf("%w: %s", ErrDiscoveryCompleted, tokenID)
	}
	if elapsed := at.Sub(s.s.StartTime); elapsed < e.params.Period {
		return model.Pool{}, fmt.Errorf("%w: %s elapsed of %s", ErrDiscoveryNotComplete, elapsed, e.params.Period)
	}
	if s.s.SnapshotCount < e.params.MinSnapshots {
		return model.Pool{}, fmt.Errorf("%w: %d of %d snapshots", ErrDiscoveryNotComplete, s.s.SnapshotCount, e.params.MinSnapshots)
	}

	creator, settlement, err := e.pricing.Reserves(s.s.LastSmoothedCount)
	if err != nil {
		return model.Pool{}, fmt.Errorf("%s pricing: %w", e.pricing.Name(), err)
	}
	if creator.IsZero() || settlement.IsZero() {
		return model.Pool{}, fmt.Errorf("%w: %s pricing gave %s/%s", ErrDiscoveryNotComplete, e.pricing.Name(), creator, settlement)
	}
	product, err := creator.Mul(settlement)
	if err != nil {
		return model.Pool{}, err
	}
	shares := product.Sqrt()

	var seeded model.Pool
	err = e.ledger.Update(tokenID, func(tx *ledger.Tx) error {
		if p := tx.Pool(); !p.Empty() {
			return fmt.Errorf("%w: %s holds %s/%s", ErrAlreadySeeded, tokenID, p.CreatorReserve, p.SettlementReserve)
		}
		if err := tx.ApplyDelta(fixed.Credit(creator), fixed.Credit(settlement)); err != nil {
			return err
		}
		if err := tx.MintShares(ProtocolOwner, shares); err != nil {
			return err
		}
		tx.Stamp(at)
		tx.OnCommit(func(p model.Pool) {
			seeded = p
			s.s.State = model.DiscoveryCompleted
			s.s.CompletedAt = at

			ev := events.New(model.EventDiscoveryCompleted, tokenID, at)
			ev.Discovery = &model.DiscoveryEvent{
				State:             model.DiscoveryCompleted,
				SmoothedCount:     s.s.LastSmoothedCount,
				SnapshotCount:     s.s.SnapshotCount,
				CreatorReserve:    p.CreatorReserve,
				SettlementReserve: p.SettlementReserve,
			}
			e.emitter.Emit(ev)
		})
		return nil
	})
	if err != nil {
		return model.Pool{}, err
	}

	e.logger.Info("price discovery completed",
		zap.String("token_id", tokenID),
		zap.String("smoothed", s.s.LastSmoothedCount.Format()),
		zap.String("creator_reserve", seeded.CreatorReserve.String()),
		zap.String("settlement_reserve", seeded.SettlementReserve.String()),
	)
	return seeded, nil
}

// Status returns the session state; tokens without a session are NotStarted.
func (e *Engine) Status(tokenID string) model.DiscoveryState {
	s, ok := e.sessions.Load(tokenID)
	if !ok {
		return model.DiscoveryNotStarted
	}
	return s.state()
}

// Session returns a copy of the session for tokenID.
func (e *Engine) Session(tokenID string) (model.DiscoverySession, bool) {
	s, ok := e.sessions.Load(tokenID)
	if !ok {
		return model.DiscoverySession{TokenID: tokenID}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.Clone(), true
}
