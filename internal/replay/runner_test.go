package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creatorswap/internal/chain"
	"creatorswap/internal/engine"
	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type errorSink struct {
	mu   sync.Mutex
	errs []model.OpError
}

func (s *errorSink) Write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, v.(model.OpError))
	return nil
}

func (s *errorSink) codes() map[uint64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]string, len(s.errs))
	for _, e := range s.errs {
		out[e.Line] = e.Code
	}
	return out
}

type fakeDepositor struct {
	err   error
	calls int
}

func (f *fakeDepositor) Confirm(context.Context, chain.Deposit) error {
	f.calls++
	return f.err
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig(), nil)
	require.NoError(t, err)
	return e
}

func discoveryOps(token string) []model.Operation {
	ops := []model.Operation{
		{Op: model.OpRegisterPool, Timestamp: t0, TokenID: token},
		{Op: model.OpStartDiscovery, Timestamp: t0, TokenID: token, InitialMetric: 100},
	}
	for i := 1; i <= 3; i++ {
		ops = append(ops, model.Operation{
			Op: model.OpRecordSnapshot, Timestamp: t0.Add(time.Duration(i) * time.Hour), TokenID: token, RawCount: 100,
		})
	}
	return append(ops, model.Operation{Op: model.OpCompleteDiscovery, Timestamp: t0.Add(24 * time.Hour), TokenID: token})
}

func swapOp(token, sender string, at time.Time) model.Operation {
	return model.Operation{
		Op:        model.OpSwap,
		Timestamp: at,
		TokenID:   token,
		Direction: model.SettlementToCreator,
		AmountIn:  "10",
		Sender:    sender,
	}
}

func encode(t *testing.T, ops []model.Operation) string {
	t.Helper()
	var b strings.Builder
	for _, op := range ops {
		line, err := json.Marshal(op)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func TestRunAppliesAndRejects(t *testing.T) {
	after := t0.Add(25 * time.Hour)
	ops := append(discoveryOps("tok"),
		swapOp("tok", "0x00000000000000000000000000000000000000a1", after),
		// throttled: same sender one second later
		swapOp("tok", "0x00000000000000000000000000000000000000a1", after.Add(time.Second)),
		model.Operation{Op: model.OpAddLiquidity, Timestamp: after, TokenID: "tok", CreatorAmount: "20", SettlementAmount: "20",
			Provider: "0x00000000000000000000000000000000000000b1", TxHash: "0x01"},
		model.Operation{Op: model.OpAddLiquidity, Timestamp: after, TokenID: "tok", CreatorAmount: "20", SettlementAmount: "20",
			Provider: "0x00000000000000000000000000000000000000b1"},
		model.Operation{Op: model.OpWithdrawLiquidity, Timestamp: after, TokenID: "tok", Shares: "1",
			Provider: "0x00000000000000000000000000000000000000c1"},
		swapOp("tok", "nothex", after),
	)
	input := encode(t, ops) + "\n{\n" + `{"op":"mint","ts":"2024-01-02T00:00:00Z","token_id":"tok"}` + "\n"

	sink := &errorSink{}
	e := newEngine(t)
	r := NewRunner(RunConfig{BatchSize: 4, Sequential: true, DefaultMaxSlippageBps: 1000}, e, nil, sink, nil, nil)
	defer r.Close()

	stats, err := r.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, int64(8), stats.Applied)
	require.Equal(t, int64(6), stats.Rejected)

	require.Equal(t, map[uint64]string{
		8:  "throttle_active",
		9:  "custody_unavailable",
		11: "insufficient_shares",
		12: "invalid_address",
		14: "malformed_operation",
		15: "unknown_operation",
	}, sink.codes())

	pool, err := e.Pool("tok")
	require.NoError(t, err)
	require.True(t, pool.Seeded())
	require.Equal(t, t0.Add(24*time.Hour), pool.SeededAt)
}

func TestParallelMatchesSequential(t *testing.T) {
	var ops []model.Operation
	for i := 0; i < 6; i++ {
		ops = append(ops, discoveryOps(fmt.Sprintf("tok-%d", i))...)
	}
	after := t0.Add(25 * time.Hour)
	for j := 0; j < 5; j++ {
		for i := 0; i < 6; i++ {
			sender := fmt.Sprintf("0x%040x", 1000*i+1)
			ops = append(ops, swapOp(fmt.Sprintf("tok-%d", i), sender, after.Add(time.Duration(j)*time.Minute)))
		}
	}
	input := encode(t, ops)

	run := func(sequential bool) *engine.Engine {
		e := newEngine(t)
		r := NewRunner(RunConfig{BatchSize: 7, Workers: 4, Sequential: sequential, DefaultMaxSlippageBps: 1000}, e, nil, &errorSink{}, nil, nil)
		defer r.Close()
		stats, err := r.Run(context.Background(), strings.NewReader(input))
		require.NoError(t, err)
		require.Equal(t, int64(len(ops)), stats.Applied)
		require.Zero(t, stats.Rejected)
		return e
	}

	seq, par := run(true), run(false)
	for i := 0; i < 6; i++ {
		token := fmt.Sprintf("tok-%d", i)
		c1, s1, err := seq.GetReserves(token)
		require.NoError(t, err)
		c2, s2, err := par.GetReserves(token)
		require.NoError(t, err)
		require.Equal(t, c1, c2, token)
		require.Equal(t, s1, s2, token)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	ops := append(discoveryOps("tok"),
		model.Operation{Op: model.OpWithdrawLiquidity, Timestamp: t0.Add(25 * time.Hour), TokenID: "tok", Shares: "1",
			Provider: "0x00000000000000000000000000000000000000c1"},
		swapOp("tok", "0x00000000000000000000000000000000000000a1", t0.Add(25*time.Hour)),
	)
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "cp.json")}
	ctx := context.Background()
	cfg := RunConfig{BatchSize: 2, Sequential: true, DefaultMaxSlippageBps: 1000}

	firstErrs := &errorSink{}
	first := NewRunner(cfg, newEngine(t), nil, firstErrs, state, nil)
	stats, err := first.Run(ctx, strings.NewReader(encode(t, ops[:7])))
	require.NoError(t, err)
	require.Equal(t, int64(6), stats.Applied)
	require.Equal(t, map[uint64]string{7: "insufficient_shares"}, firstErrs.codes())
	line, ok, err := state.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), line)

	// a new process starts from an empty engine
	e := newEngine(t)
	rec := &events.Recorder{}
	e.SetEmitter(rec)
	sink := &errorSink{}
	second := NewRunner(cfg, e, nil, sink, state, nil)
	stats, err = second.Run(ctx, strings.NewReader(encode(t, ops)))
	require.NoError(t, err)
	require.Equal(t, int64(7), stats.Skipped)
	require.Equal(t, int64(6), stats.Restored)
	require.Equal(t, int64(1), stats.Applied)
	require.Empty(t, sink.codes())

	swaps := rec.Events()
	require.Len(t, swaps, 1)
	require.Equal(t, model.EventSwap, swaps[0].Type)
	require.Equal(t, events.EventID("tok", 6), swaps[0].ID)
	require.Equal(t, events.Emitter(rec), e.Emitter())

	pool, err := e.Pool("tok")
	require.NoError(t, err)
	require.True(t, pool.Seeded())
	_, stamped := e.Cooldown(common.HexToAddress("0x00000000000000000000000000000000000000a1"))
	require.True(t, stamped)

	line, _, err = state.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), line)
}

func TestRestoreMatchesUninterruptedRun(t *testing.T) {
	var ops []model.Operation
	for i := 0; i < 3; i++ {
		ops = append(ops, discoveryOps(fmt.Sprintf("tok-%d", i))...)
	}
	after := t0.Add(25 * time.Hour)
	for j := 0; j < 4; j++ {
		for i := 0; i < 3; i++ {
			ops = append(ops, swapOp(fmt.Sprintf("tok-%d", i), fmt.Sprintf("0x%040x", 100*i+1), after.Add(time.Duration(j)*time.Minute)))
		}
	}
	input := encode(t, ops)
	cfg := RunConfig{BatchSize: 5, Sequential: true, DefaultMaxSlippageBps: 1000}

	whole := newEngine(t)
	r := NewRunner(cfg, whole, nil, &errorSink{}, nil, nil)
	_, err := r.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "cp.json")}
	require.NoError(t, state.Save(context.Background(), 20))
	resumed := newEngine(t)
	r = NewRunner(cfg, resumed, nil, &errorSink{}, state, nil)
	stats, err := r.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, int64(20), stats.Restored)
	require.Equal(t, int64(len(ops)-20), stats.Applied)

	for i := 0; i < 3; i++ {
		token := fmt.Sprintf("tok-%d", i)
		want, err := whole.Pool(token)
		require.NoError(t, err)
		got, err := resumed.Pool(token)
		require.NoError(t, err)
		require.Equal(t, want, got, token)
	}
}

func TestAddLiquidityConfirmsDeposit(t *testing.T) {
	token := "0x00000000000000000000000000000000000000ee"
	add := model.Operation{
		Op:               model.OpAddLiquidity,
		Timestamp:        t0.Add(25 * time.Hour),
		TokenID:          token,
		CreatorAmount:    "20",
		SettlementAmount: "20",
		Provider:         "0x00000000000000000000000000000000000000b1",
		TxHash:           "0x" + strings.Repeat("ab", 32),
	}
	input := encode(t, append(discoveryOps(token), add))
	cfg := RunConfig{BatchSize: 10, Sequential: true, MaxRetries: 1, RetryBackoff: time.Millisecond}

	t.Run("confirmed", func(t *testing.T) {
		dep := &fakeDepositor{}
		r := NewRunner(cfg, newEngine(t), dep, &errorSink{}, nil, nil)
		stats, err := r.Run(context.Background(), strings.NewReader(input))
		require.NoError(t, err)
		require.Equal(t, int64(7), stats.Applied)
		require.Equal(t, 1, dep.calls)
	})

	t.Run("short", func(t *testing.T) {
		dep := &fakeDepositor{err: chain.ErrDepositShort}
		sink := &errorSink{}
		r := NewRunner(cfg, newEngine(t), dep, sink, nil, nil)
		stats, err := r.Run(context.Background(), strings.NewReader(input))
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.Rejected)
		require.Equal(t, "deposit_short", sink.codes()[7])
		require.Equal(t, 1, dep.calls)
	})

	t.Run("pending is retried then rejected", func(t *testing.T) {
		dep := &fakeDepositor{err: chain.ErrDepositPending}
		sink := &errorSink{}
		r := NewRunner(cfg, newEngine(t), dep, sink, nil, nil)
		_, err := r.Run(context.Background(), strings.NewReader(input))
		require.NoError(t, err)
		require.Equal(t, "deposit_pending", sink.codes()[7])
		require.Equal(t, 2, dep.calls)
	})

	t.Run("rpc failure aborts", func(t *testing.T) {
		boom := errors.New("connection refused")
		dep := &fakeDepositor{err: boom}
		r := NewRunner(cfg, newEngine(t), dep, &errorSink{}, nil, nil)
		_, err := r.Run(context.Background(), strings.NewReader(input))
		require.ErrorIs(t, err, boom)
	})
}

func TestGroupByTokenKeepsOrder(t *testing.T) {
	batch := []model.Operation{
		{Line: 1, TokenID: "a"},
		{Line: 2, TokenID: "b"},
		{Line: 3, TokenID: "a"},
	}
	groups := groupByToken(batch)
	require.Len(t, groups, 2)
	require.Equal(t, []uint64{1, 3}, []uint64{groups[0][0].Line, groups[0][1].Line})
	require.Equal(t, uint64(2), groups[1][0].Line)
}

func TestReadOperationsLineNumbers(t *testing.T) {
	input := "\n" + `{"op":"register_pool","ts":"2024-01-01T00:00:00Z","token_id":"tok"}` + "\n" +
		`{"op":"register_pool","token_id":"tok"}` + "\n"
	ops, invalid, err := ReadOperations(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, uint64(2), ops[0].Line)
	require.Len(t, invalid, 1)
	require.Equal(t, uint64(3), invalid[0].Line)
	require.Equal(t, "malformed_operation", invalid[0].Code)
}

func TestCodeFallsBackToEngine(t *testing.T) {
	require.Equal(t, "slippage_exceeded", code(fmt.Errorf("x: %w", engine.ErrSlippageExceeded)))
	require.Equal(t, "invalid_amount", code(fmt.Errorf("amount_in: %w", fixed.ErrInvalidAmount)))
	require.Equal(t, "deposit_too_late", code(chain.ErrDepositTooLate))
}
