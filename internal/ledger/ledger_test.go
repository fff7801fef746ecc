package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T, c, s uint64) *Ledger {
	t.Helper()
	l := New(fixed.Zero(), nil)
	_, err := l.Register("tok", t0)
	require.NoError(t, err)
	_, err = l.ApplyDelta("tok", fixed.Credit(fixed.FromUint64(c)), fixed.Credit(fixed.FromUint64(s)))
	require.NoError(t, err)
	return l
}

func TestRegister(t *testing.T) {
	l := New(fixed.Units(1), nil)
	p, err := l.Register("tok", t0)
	require.NoError(t, err)
	require.True(t, p.Empty())
	require.Equal(t, fixed.Units(1), p.MinLiquidity)

	_, err = l.Register("tok", t0)
	require.ErrorIs(t, err, ErrPoolExists)
	_, err = l.Register("  ", t0)
	require.ErrorIs(t, err, ErrInvalidTokenID)

	_, _, err = l.GetReserves("missing")
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestApplyDeltaAllOrNothing(t *testing.T) {
	l := seeded(t, 1000, 500)

	// creator side fits, settlement side does not
	_, err := l.ApplyDelta("tok", fixed.Debit(fixed.FromUint64(10)), fixed.Debit(fixed.FromUint64(501)))
	require.ErrorIs(t, err, ErrInsufficientReserve)

	c, s, err := l.GetReserves("tok")
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(1000), c)
	require.Equal(t, fixed.FromUint64(500), s)
}

func TestApplyDeltaRejectsOneSidedPool(t *testing.T) {
	l := seeded(t, 1000, 500)
	_, err := l.ApplyDelta("tok", fixed.Debit(fixed.FromUint64(1000)), fixed.Credit(fixed.FromUint64(1)))
	require.ErrorIs(t, err, ErrInsufficientReserve)

	l2 := New(fixed.Zero(), nil)
	_, err = l2.Register("tok", t0)
	require.NoError(t, err)
	_, err = l2.ApplyDelta("tok", fixed.Credit(fixed.FromUint64(1)), fixed.Delta{})
	require.ErrorIs(t, err, ErrInsufficientReserve)
}

func TestSeededAtStampedOnce(t *testing.T) {
	l := New(fixed.Zero(), nil)
	_, err := l.Register("tok", t0)
	require.NoError(t, err)

	at := t0.Add(time.Hour)
	err = l.Update("tok", func(tx *Tx) error {
		tx.Stamp(at)
		return tx.ApplyDelta(fixed.Credit(fixed.FromUint64(5)), fixed.Credit(fixed.FromUint64(5)))
	})
	require.NoError(t, err)

	err = l.Update("tok", func(tx *Tx) error {
		tx.Stamp(at.Add(time.Hour))
		return tx.ApplyDelta(fixed.Credit(fixed.FromUint64(5)), fixed.Credit(fixed.FromUint64(5)))
	})
	require.NoError(t, err)

	p, err := l.Pool("tok")
	require.NoError(t, err)
	require.Equal(t, at, p.SeededAt)
	require.Equal(t, at.Add(time.Hour), p.UpdatedAt)
}

func TestUpdateErrorDiscardsStagedState(t *testing.T) {
	l := seeded(t, 1000, 500)
	owner := common.HexToAddress("0x01")
	boom := errors.New("boom")
	hookRan := false

	err := l.Update("tok", func(tx *Tx) error {
		require.NoError(t, tx.ApplyDelta(fixed.Credit(fixed.FromUint64(1)), fixed.Credit(fixed.FromUint64(1))))
		require.NoError(t, tx.MintShares(owner, fixed.FromUint64(7)))
		tx.OnCommit(func(model.Pool) { hookRan = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, hookRan)

	p, err := l.Pool("tok")
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(1000), p.CreatorReserve)
	require.True(t, p.TotalShares.IsZero())
	shares, err := l.SharesOf("tok", owner)
	require.NoError(t, err)
	require.True(t, shares.IsZero())
}

func TestShares(t *testing.T) {
	l := seeded(t, 1000, 500)
	owner := common.HexToAddress("0x01")

	require.NoError(t, l.Update("tok", func(tx *Tx) error {
		return tx.MintShares(owner, fixed.FromUint64(10))
	}))

	err := l.Update("tok", func(tx *Tx) error {
		return tx.BurnShares(owner, fixed.FromUint64(11))
	})
	require.ErrorIs(t, err, ErrInsufficientShares)

	var committed model.Pool
	require.NoError(t, l.Update("tok", func(tx *Tx) error {
		if err := tx.BurnShares(owner, fixed.FromUint64(4)); err != nil {
			return err
		}
		require.Equal(t, fixed.FromUint64(6), tx.SharesOf(owner))
		tx.OnCommit(func(p model.Pool) { committed = p })
		return nil
	}))
	require.Equal(t, fixed.FromUint64(6), committed.TotalShares)

	shares, err := l.SharesOf("tok", owner)
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(6), shares)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	l := seeded(t, 1_000_000, 1_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = l.Update("tok", func(tx *Tx) error {
					p := tx.Pool()
					// read-modify-write inside one transaction
					if p.CreatorReserve.Lt(fixed.FromUint64(2)) {
						return ErrInsufficientReserve
					}
					return tx.ApplyDelta(fixed.Debit(fixed.FromUint64(1)), fixed.Credit(fixed.FromUint64(1)))
				})
			}
		}()
	}
	wg.Wait()

	c, s, err := l.GetReserves("tok")
	require.NoError(t, err)
	require.Equal(t, fixed.FromUint64(1_000_000-64*50), c)
	require.Equal(t, fixed.FromUint64(1_000_000+64*50), s)
}

func TestPoolsSorted(t *testing.T) {
	l := New(fixed.Zero(), nil)
	for _, id := range []string{"b", "c", "a"} {
		_, err := l.Register(id, t0)
		require.NoError(t, err)
	}
	pools := l.Pools()
	require.Len(t, pools, 3)
	require.Equal(t, "a", pools[0].TokenID)
	require.Equal(t, "c", pools[2].TokenID)
	require.Equal(t, 3, l.Len())
}
