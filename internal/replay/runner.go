// Package replay drives the engine from a JSONL operations log. Each line
// carries its own timestamp, which the engine observes as "now".
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"creatorswap/internal/chain"
	"creatorswap/internal/engine"
	"creatorswap/internal/events"
	"creatorswap/internal/model"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	BatchSize             uint64
	Workers               int
	QueueSize             int
	Sequential            bool
	MaxRetries            int
	RetryBackoff          time.Duration
	DefaultMaxSlippageBps uint64
}

// Depositor confirms custody deposits.
type Depositor interface {
	Confirm(ctx context.Context, dep chain.Deposit) error
}

// ErrorWriter receives rejected operations.
type ErrorWriter interface {
	Write(value interface{}) error
}

// Stats summarizes a replay. Skipped counts operations at or below the
// checkpoint; Restored counts those of them that applied again while
// rebuilding engine state.
type Stats struct {
	Applied  int64
	Rejected int64
	Skipped  int64
	Restored int64
}

// Runner applies operations to an engine.
type Runner struct {
	cfg      RunConfig
	engine   *engine.Engine
	deposits Depositor
	errs     ErrorWriter
	state    StateStore
	logger   *zap.Logger
	pool     pond.Pool

	applied  atomic.Int64
	rejected atomic.Int64
}

// NewRunner builds a Runner. deposits, errs and state may be nil.
func NewRunner(cfg RunConfig, eng *engine.Engine, deposits Depositor, errs ErrorWriter, state StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Runner{
		cfg:      cfg,
		engine:   eng,
		deposits: deposits,
		errs:     errs,
		state:    state,
		logger:   logger,
	}
	if !cfg.Sequential {
		r.pool = pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize))
	}
	return r
}

// Close stops the worker pool.
func (r *Runner) Close() {
	if r.pool != nil {
		r.pool.StopAndWait()
	}
}

// Run reads an operations log from in and applies every line past the
// checkpoint. Lines at or below the checkpoint are applied first, in line
// order with events muted, so the engine holds the state they produced.
// Rejected operations are reported to the error writer and do not stop the
// replay.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Stats, error) {
	if r.engine == nil {
		return Stats{}, fmt.Errorf("engine is nil")
	}
	if r.cfg.BatchSize == 0 {
		return Stats{}, fmt.Errorf("batch size must be greater than zero")
	}

	ops, invalid, err := ReadOperations(in)
	if err != nil {
		return Stats{}, err
	}

	var last uint64
	if r.state != nil {
		line, ok, err := r.state.Load(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			last = line
			r.logger.Info("resume from checkpoint", zap.Uint64("last_applied_line", last))
		}
	}

	var stats Stats
	for _, opErr := range invalid {
		if opErr.Line <= last {
			continue
		}
		if err := r.reject(opErr); err != nil {
			return r.stats(stats), err
		}
	}

	pending := make([]model.Operation, 0, len(ops))
	var done []model.Operation
	for _, op := range ops {
		if op.Line <= last {
			done = append(done, op)
			continue
		}
		pending = append(pending, op)
	}
	if len(done) > 0 {
		stats.Skipped = int64(len(done))
		restored, err := r.restore(ctx, done)
		stats.Restored = restored
		if err != nil {
			return r.stats(stats), fmt.Errorf("restore state: %w", err)
		}
		r.logger.Info("state restored",
			zap.Int64("skipped", stats.Skipped),
			zap.Int64("restored", restored),
			zap.Int("pools", len(r.engine.Pools())),
		)
	}
	if len(pending) == 0 {
		r.logger.Info("nothing to replay", zap.Uint64("last_applied_line", last))
		return r.stats(stats), r.flush()
	}

	ranges, err := SplitRange(pending[0].Line, pending[len(pending)-1].Line, r.cfg.BatchSize)
	if err != nil {
		return r.stats(stats), err
	}

	next := 0
	for _, rng := range ranges {
		select {
		case <-ctx.Done():
			return r.stats(stats), ctx.Err()
		default:
		}

		start := next
		for next < len(pending) && rng.Contains(pending[next].Line) {
			next++
		}
		batch := pending[start:next]
		if len(batch) == 0 {
			continue
		}

		if err := r.runBatch(ctx, batch); err != nil {
			return r.stats(stats), err
		}
		if err := r.flush(); err != nil {
			return r.stats(stats), err
		}
		if r.state != nil {
			if err := r.state.Save(ctx, rng.To); err != nil {
				return r.stats(stats), fmt.Errorf("save checkpoint: %w", err)
			}
		}

		r.logger.Info("batch complete",
			zap.Int("ops", len(batch)),
			zap.Uint64("from", rng.From),
			zap.Uint64("to", rng.To),
			zap.Int64("applied", r.applied.Load()),
			zap.Int64("rejected", r.rejected.Load()),
		)
	}

	return r.stats(stats), nil
}

func (r *Runner) stats(s Stats) Stats {
	s.Applied = r.applied.Load()
	s.Rejected = r.rejected.Load()
	return s
}

// runBatch applies ops of different tokens in parallel. Ops of one token run
// in log order.
func (r *Runner) runBatch(ctx context.Context, batch []model.Operation) error {
	if r.pool == nil {
		for _, op := range batch {
			if err := r.step(ctx, op); err != nil {
				return err
			}
		}
		return nil
	}

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, ops := range groupByToken(batch) {
		ops := ops
		group.SubmitErr(func() error {
			for _, op := range ops {
				if err := r.step(groupCtx, op); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, pond.ErrGroupStopped) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// restore applies operations that were handled before the checkpoint. Their
// events are discarded and their rejections are not reported again.
func (r *Runner) restore(ctx context.Context, ops []model.Operation) (int64, error) {
	prev := r.engine.Emitter()
	r.engine.SetEmitter(events.NoopEmitter{})
	defer r.engine.SetEmitter(prev)

	var applied int64
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		err := r.apply(engine.WithTime(ctx, op.Timestamp), op)
		if err == nil {
			applied++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return applied, ctxErr
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return applied, fmt.Errorf("line %d: %w", op.Line, fatal.err)
		}
	}
	return applied, nil
}

func groupByToken(batch []model.Operation) [][]model.Operation {
	index := make(map[string]int)
	var groups [][]model.Operation
	for _, op := range batch {
		i, ok := index[op.TokenID]
		if !ok {
			i = len(groups)
			index[op.TokenID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

func (r *Runner) step(ctx context.Context, op model.Operation) error {
	err := r.apply(engine.WithTime(ctx, op.Timestamp), op)
	if err == nil {
		r.applied.Add(1)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return fmt.Errorf("line %d: %w", op.Line, fatal.err)
	}

	return r.reject(model.OpError{
		Line:    op.Line,
		Op:      op.Op,
		TokenID: op.TokenID,
		At:      op.Timestamp,
		Code:    code(err),
		Error:   err.Error(),
	})
}

func (r *Runner) reject(opErr model.OpError) error {
	r.rejected.Add(1)
	r.logger.Debug("operation rejected",
		zap.Uint64("line", opErr.Line),
		zap.String("op", string(opErr.Op)),
		zap.String("token_id", opErr.TokenID),
		zap.String("code", opErr.Code),
	)
	if r.errs == nil {
		return nil
	}
	if err := r.errs.Write(opErr); err != nil {
		return fmt.Errorf("write op error: %w", err)
	}
	return nil
}

func (r *Runner) flush() error {
	if f, ok := r.errs.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush op errors: %w", err)
		}
	}
	return nil
}
