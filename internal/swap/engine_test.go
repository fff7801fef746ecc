package swap

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creatorswap/internal/events"
	"creatorswap/internal/fixed"
	"creatorswap/internal/guard"
	"creatorswap/internal/ledger"
	"creatorswap/internal/model"
)

var (
	t0    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func testParams() Params {
	return Params{
		FeeBps:               30,
		MinSwapAmount:        fixed.FromUint64(1),
		MaxSingleSwap:        fixed.FromUint64(1_000_000_000),
		MaxSwapAmountPercent: 10,
	}
}

func newTestEngine(t *testing.T, c, s uint64, params Params, fees FeePolicy) (*Engine, *ledger.Ledger, *guard.Guard, *events.Recorder) {
	t.Helper()
	l := ledger.New(fixed.Zero(), nil)
	l.SetClock(func() time.Time { return t0 })
	_, err := l.Register("tok", t0)
	require.NoError(t, err)
	_, err = l.ApplyDelta("tok", fixed.Credit(fixed.FromUint64(c)), fixed.Credit(fixed.FromUint64(s)))
	require.NoError(t, err)
	g := guard.New(30 * time.Second)
	rec := &events.Recorder{}
	return NewEngine(l, g, params, fees, rec, nil), l, g, rec
}

func TestComputeScenario(t *testing.T) {
	b, err := Compute(fixed.FromUint64(500), fixed.FromUint64(1000), fixed.FromUint64(10), 30)
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(9), b.AfterFee)
	require.Equal(t, fixed.FromUint64(1), b.Fee)
	require.Equal(t, fixed.FromUint64(17), b.AmountOut)
	require.Equal(t, fixed.FromUint64(18), b.IdealOut)
	require.Equal(t, uint64(556), b.SlippageBps)
}

func TestComputeRejectsEmptyPool(t *testing.T) {
	_, err := Compute(fixed.Zero(), fixed.FromUint64(1000), fixed.FromUint64(10), 30)
	require.ErrorIs(t, err, ErrInsufficientReserve)
	_, err = Compute(fixed.FromUint64(1), fixed.FromUint64(1), fixed.FromUint64(1), 10_000)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSwapScenarioWithThrottle(t *testing.T) {
	e, l, _, rec := newTestEngine(t, 1000, 500, testParams(), nil)

	req := Request{
		TokenID:        "tok",
		Direction:      model.SettlementToCreator,
		AmountIn:       fixed.FromUint64(10),
		MaxSlippageBps: 1000,
		Sender:         alice,
		At:             t0,
	}
	res, err := e.Swap(req)
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(17), res.AmountOut)

	c, s, err := l.GetReserves("tok")
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(983), c)
	require.Equal(t, fixed.FromUint64(510), s)

	second := req
	second.At = t0.Add(time.Second)
	_, err = e.Swap(second)
	require.ErrorIs(t, err, guard.ErrThrottleActive)

	c2, s2, err := l.GetReserves("tok")
	require.NoError(t, err)
	require.Equal(t, c, c2)
	require.Equal(t, s, s2)

	third := req
	third.At = t0.Add(30 * time.Second)
	_, err = e.Swap(third)
	require.NoError(t, err)

	swaps := rec.OfType(model.EventSwap)
	require.Len(t, swaps, 2)
	require.Equal(t, alice, swaps[0].Swap.Sender)
	require.Equal(t, fixed.FromUint64(17), swaps[0].Swap.AmountOut)
	require.Equal(t, model.SettlementToCreator, swaps[0].Swap.Direction)
}

func TestSwapRejectionsLeaveStateUntouched(t *testing.T) {
	base := Request{
		TokenID:        "tok",
		Direction:      model.CreatorToSettlement,
		AmountIn:       fixed.FromUint64(50),
		MaxSlippageBps: 10_000,
		Sender:         alice,
		At:             t0,
	}
	cases := []struct {
		name string
		mod  func(*Request)
		want error
	}{
		{"below min", func(r *Request) { r.AmountIn = fixed.FromUint64(1) }, ErrBelowMinSwapAmount},
		{"zero amount", func(r *Request) { r.AmountIn = fixed.Zero() }, ErrInvalidAmount},
		{"bad direction", func(r *Request) { r.Direction = 0 }, ErrInvalidDirection},
		{"above max", func(r *Request) { r.AmountIn = fixed.FromUint64(2_000_000_000) }, ErrAboveMaxSwapAmount},
		{"reserve fraction", func(r *Request) { r.AmountIn = fixed.FromUint64(101) }, ErrExceedsReserveFraction},
		{"min out", func(r *Request) { r.MinAmountOut = fixed.FromUint64(1000) }, ErrSlippageExceeded},
		{"max slippage", func(r *Request) { r.MaxSlippageBps = 1 }, ErrSlippageExceeded},
		{"unknown pool", func(r *Request) { r.TokenID = "nope" }, ledger.ErrPoolNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			params.MinSwapAmount = fixed.FromUint64(5)
			e, l, g, rec := newTestEngine(t, 1000, 500, params, nil)
			req := base
			tc.mod(&req)
			_, err := e.Swap(req)
			require.ErrorIs(t, err, tc.want)

			c, s, err := l.GetReserves("tok")
			require.NoError(t, err)
			require.Equal(t, fixed.FromUint64(1000), c)
			require.Equal(t, fixed.FromUint64(500), s)
			_, stamped := g.Cooldown(alice)
			require.False(t, stamped)
			require.Empty(t, rec.Events())
		})
	}
}

func TestSwapZeroOutputIsSlippage(t *testing.T) {
	e, _, _, _ := newTestEngine(t, 1000, 500, testParams(), nil)
	// 1 unit in loses everything to the floored fee
	_, err := e.Swap(Request{
		TokenID:        "tok",
		Direction:      model.CreatorToSettlement,
		AmountIn:       fixed.FromUint64(1),
		MaxSlippageBps: 10_000,
		Sender:         alice,
		At:             t0,
	})
	require.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSwapUnseededPool(t *testing.T) {
	l := ledger.New(fixed.Zero(), nil)
	_, err := l.Register("tok", t0)
	require.NoError(t, err)
	e := NewEngine(l, guard.New(time.Second), testParams(), nil, nil, nil)
	_, err = e.Swap(Request{TokenID: "tok", Direction: model.CreatorToSettlement, AmountIn: fixed.FromUint64(5), Sender: alice, At: t0})
	require.ErrorIs(t, err, ErrPoolNotTradeable)
}

func TestProtocolShareAccruesOutsideReserves(t *testing.T) {
	params := testParams()
	params.FeeBps = 100
	e, l, _, rec := newTestEngine(t, 1_000_000, 1_000_000, params, ProtocolSharePolicy{ShareBps: 5000})

	res, err := e.Swap(Request{
		TokenID:        "tok",
		Direction:      model.CreatorToSettlement,
		AmountIn:       fixed.FromUint64(10_000),
		MaxSlippageBps: 10_000,
		Sender:         alice,
		At:             t0,
	})
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(100), res.Fee)
	require.Equal(t, fixed.FromUint64(50), res.ProtocolFee)

	p, err := l.Pool("tok")
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(1_000_000+9_950), p.CreatorReserve)
	require.Equal(t, fixed.FromUint64(50), p.ProtocolFeeCreator)
	require.True(t, p.ProtocolFeeSettlement.IsZero())
	require.Equal(t, fixed.FromUint64(50), rec.Events()[0].Swap.ProtocolFee)
}

func TestConstantProductNeverDecreases(t *testing.T) {
	params := testParams()
	params.MaxSwapAmountPercent = 50
	e, l, _, _ := newTestEngine(t, 7_919_000, 3_301_000, params, ProtocolSharePolicy{ShareBps: 10_000})

	k := func() *big.Int {
		c, s, err := l.GetReserves("tok")
		require.NoError(t, err)
		return new(big.Int).Mul(c.Big(), s.Big())
	}

	at := t0
	amounts := []uint64{3, 17, 999, 12_345, 400_000, 77, 1_000_001, 5}
	for i, amt := range amounts {
		dir := model.CreatorToSettlement
		if i%2 == 1 {
			dir = model.SettlementToCreator
		}
		before := k()
		at = at.Add(time.Minute)
		res, err := e.Swap(Request{
			TokenID:        "tok",
			Direction:      dir,
			AmountIn:       fixed.FromUint64(amt),
			MaxSlippageBps: 10_000,
			Sender:         alice,
			At:             at,
		})
		if err != nil {
			require.ErrorIs(t, err, ErrSlippageExceeded)
			continue
		}
		require.False(t, res.AmountOut.IsZero())
		require.GreaterOrEqual(t, k().Cmp(before), 0, "k decreased at swap %d", i)
	}
}

func TestConcurrentSwapsDistinctSenders(t *testing.T) {
	params := testParams()
	e, l, _, rec := newTestEngine(t, 10_000_000, 10_000_000, params, nil)

	startK := new(big.Int).Mul(big.NewInt(10_000_000), big.NewInt(10_000_000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir := model.CreatorToSettlement
			if i%2 == 0 {
				dir = model.SettlementToCreator
			}
			_, _ = e.Swap(Request{
				TokenID:        "tok",
				Direction:      dir,
				AmountIn:       fixed.FromUint64(1000 + uint64(i)),
				MaxSlippageBps: 10_000,
				Sender:         common.BigToAddress(big.NewInt(int64(i + 1))),
				At:             t0,
			})
		}(i)
	}
	wg.Wait()

	require.Len(t, rec.OfType(model.EventSwap), 50)
	c, s, err := l.GetReserves("tok")
	require.NoError(t, err)
	require.GreaterOrEqual(t, new(big.Int).Mul(c.Big(), s.Big()).Cmp(startK), 0)
}

func TestThrottleSpansPools(t *testing.T) {
	e, l, _, _ := newTestEngine(t, 1000, 1000, testParams(), nil)
	_, err := l.Register("other", t0)
	require.NoError(t, err)
	_, err = l.ApplyDelta("other", fixed.Credit(fixed.FromUint64(1000)), fixed.Credit(fixed.FromUint64(1000)))
	require.NoError(t, err)

	req := Request{TokenID: "tok", Direction: model.CreatorToSettlement, AmountIn: fixed.FromUint64(50), MaxSlippageBps: 10_000, Sender: bob, At: t0}
	_, err = e.Swap(req)
	require.NoError(t, err)

	req.TokenID = "other"
	_, err = e.Swap(req)
	require.ErrorIs(t, err, guard.ErrThrottleActive)
}

func TestQuoteMatchesSwap(t *testing.T) {
	e, _, g, _ := newTestEngine(t, 1000, 500, testParams(), nil)
	q, err := e.Quote("tok", model.SettlementToCreator, fixed.FromUint64(10))
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(17), q.AmountOut)
	require.Equal(t, fixed.FromUint64(18), q.IdealOut)
	require.Equal(t, uint64(556), q.PriceImpactBps)

	_, stamped := g.Cooldown(alice)
	require.False(t, stamped)

	res, err := e.Swap(Request{TokenID: "tok", Direction: model.SettlementToCreator, AmountIn: fixed.FromUint64(10), MaxSlippageBps: 556, Sender: alice, At: t0})
	require.NoError(t, err)
	require.Equal(t, q.AmountOut, res.AmountOut)
}
