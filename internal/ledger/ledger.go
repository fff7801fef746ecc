// Package ledger is the authoritative per-pool reserve record. Every mutation
// runs inside Update, which holds the pool's lock for the whole read-decide-write
// cycle so no caller can act on reserves another writer has already changed.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
)

var (
	ErrInsufficientReserve = errors.New("insufficient reserve")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrPoolExists          = errors.New("pool already registered")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInvalidTokenID      = errors.New("invalid token id")
)

type entry struct {
	mu     sync.Mutex
	pool   model.Pool
	shares map[common.Address]fixed.Amount
}

// Ledger stores pools keyed by token id.
type Ledger struct {
	pools        *xsync.Map[string, *entry]
	minLiquidity fixed.Amount
	now          func() time.Time
	logger       *zap.Logger
}

// New creates an empty ledger. minLiquidity is recorded on every pool it registers.
func New(minLiquidity fixed.Amount, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		pools:        xsync.NewMap[string, *entry](),
		minLiquidity: minLiquidity,
		now:          time.Now,
		logger:       logger,
	}
}

// SetClock replaces the time source used when a transaction does not stamp its own time.
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Register creates an empty pool for tokenID.
func (l *Ledger) Register(tokenID string, at time.Time) (model.Pool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return model.Pool{}, ErrInvalidTokenID
	}
	if at.IsZero() {
		at = l.now()
	}
	fresh := &entry{
		pool: model.Pool{
			TokenID:      tokenID,
			MinLiquidity: l.minLiquidity,
			CreatedAt:    at,
			UpdatedAt:    at,
		},
		shares: make(map[common.Address]fixed.Amount),
	}
	if _, loaded := l.pools.LoadOrStore(tokenID, fresh); loaded {
		return model.Pool{}, fmt.Errorf("%w: %s", ErrPoolExists, tokenID)
	}
	l.logger.Debug("pool registered", zap.String("token_id", tokenID))
	return fresh.pool, nil
}

// Has reports whether tokenID is registered.
func (l *Ledger) Has(tokenID string) bool {
	_, ok := l.pools.Load(tokenID)
	return ok
}

func (l *Ledger) lookup(tokenID string) (*entry, error) {
	e, ok := l.pools.Load(tokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, tokenID)
	}
	return e, nil
}

// Pool returns a consistent copy of the pool state.
func (l *Ledger) Pool(tokenID string) (model.Pool, error) {
	e, err := l.lookup(tokenID)
	if err != nil {
		return model.Pool{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool, nil
}

// GetReserves returns (creator_reserve, settlement_reserve).
func (l *Ledger) GetReserves(tokenID string) (fixed.Amount, fixed.Amount, error) {
	p, err := l.Pool(tokenID)
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	return p.CreatorReserve, p.SettlementReserve, nil
}

// SharesOf returns the LP shares held by owner in tokenID's pool.
func (l *Ledger) SharesOf(tokenID string, owner common.Address) (fixed.Amount, error) {
	e, err := l.lookup(tokenID)
	if err != nil {
		return fixed.Amount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shares[owner], nil
}

// Pools returns copies of all pools ordered by token id.
func (l *Ledger) Pools() []model.Pool {
	var entries []*entry
	l.pools.Range(func(_ string, e *entry) bool {
		entries = append(entries, e)
		return true
	})
	out := make([]model.Pool, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pool)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Len returns the number of registered pools.
func (l *Ledger) Len() int { return l.pools.Size() }

// ApplyDelta applies signed reserve deltas as one all-or-nothing step.
func (l *Ledger) ApplyDelta(tokenID string, dc, ds fixed.Delta) (model.Pool, error) {
	var out model.Pool
	err := l.Update(tokenID, func(tx *Tx) error {
		if err := tx.ApplyDelta(dc, ds); err != nil {
			return err
		}
		tx.OnCommit(func(p model.Pool) { out = p })
		return nil
	})
	return out, err
}

// Update runs fn with exclusive access to the pool. Changes staged on the Tx
// are written only when fn returns nil; commit hooks then run with the new
// state before the lock is released.
func (l *Ledger) Update(tokenID string, fn func(*Tx) error) error {
	e, err := l.lookup(tokenID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Tx{work: e.pool, base: e.shares}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.check(); err != nil {
		return err
	}

	at := tx.at
	if at.IsZero() {
		at = l.now()
	}
	next := tx.work
	next.UpdatedAt = at
	if e.pool.Empty() && next.Seeded() {
		next.SeededAt = at
	}
	e.pool = next
	for owner, bal := range tx.staged {
		if bal.IsZero() {
			delete(e.shares, owner)
			continue
		}
		e.shares[owner] = bal
	}
	for _, hook := range tx.hooks {
		hook(next)
	}
	return nil
}
