package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
)

// Tx stages changes to one pool. It is only valid inside the Update call that
// created it.
type Tx struct {
	work   model.Pool
	base   map[common.Address]fixed.Amount
	staged map[common.Address]fixed.Amount
	hooks  []func(model.Pool)
	at     time.Time
}

// Pool returns the pool state including changes staged so far.
func (tx *Tx) Pool() model.Pool { return tx.work }

// Stamp sets the time recorded on the pool when the transaction commits.
func (tx *Tx) Stamp(at time.Time) { tx.at = at }

// ApplyDelta stages signed reserve changes. A change that would take either
// reserve below zero fails with ErrInsufficientReserve and stages nothing.
func (tx *Tx) ApplyDelta(dc, ds fixed.Delta) error {
	c, err := dc.ApplyTo(tx.work.CreatorReserve)
	if err != nil {
		return reserveErr("creator", err)
	}
	s, err := ds.ApplyTo(tx.work.SettlementReserve)
	if err != nil {
		return reserveErr("settlement", err)
	}
	tx.work.CreatorReserve = c
	tx.work.SettlementReserve = s
	return nil
}

func reserveErr(side string, err error) error {
	if errors.Is(err, fixed.ErrUnderflow) {
		return fmt.Errorf("%w: %s side", ErrInsufficientReserve, side)
	}
	return fmt.Errorf("%s reserve: %w", side, err)
}

// SharesOf returns owner's staged share balance.
func (tx *Tx) SharesOf(owner common.Address) fixed.Amount {
	if bal, ok := tx.staged[owner]; ok {
		return bal
	}
	return tx.base[owner]
}

func (tx *Tx) setShares(owner common.Address, bal fixed.Amount) {
	if tx.staged == nil {
		tx.staged = make(map[common.Address]fixed.Amount)
	}
	tx.staged[owner] = bal
}

// MintShares credits owner with amount LP shares.
func (tx *Tx) MintShares(owner common.Address, amount fixed.Amount) error {
	total, err := tx.work.TotalShares.Add(amount)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	bal, err := tx.SharesOf(owner).Add(amount)
	if err != nil {
		return fmt.Errorf("shares of %s: %w", owner.Hex(), err)
	}
	tx.work.TotalShares = total
	tx.setShares(owner, bal)
	return nil
}

// BurnShares debits owner by amount LP shares.
func (tx *Tx) BurnShares(owner common.Address, amount fixed.Amount) error {
	bal, err := tx.SharesOf(owner).Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientShares, owner.Hex(), tx.SharesOf(owner))
	}
	total, err := tx.work.TotalShares.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: pool total %s", ErrInsufficientShares, tx.work.TotalShares)
	}
	tx.work.TotalShares = total
	tx.setShares(owner, bal)
	return nil
}

// AccrueProtocolFee adds to the pool's accrued protocol fees. Accrued fees
// are held outside the reserves.
func (tx *Tx) AccrueProtocolFee(creator, settlement fixed.Amount) error {
	c, err := tx.work.ProtocolFeeCreator.Add(creator)
	if err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}
	s, err := tx.work.ProtocolFeeSettlement.Add(settlement)
	if err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}
	tx.work.ProtocolFeeCreator = c
	tx.work.ProtocolFeeSettlement = s
	return nil
}

// OnCommit registers fn to run with the committed pool state.
func (tx *Tx) OnCommit(fn func(model.Pool)) {
	tx.hooks = append(tx.hooks, fn)
}

// check enforces that reserves are both zero or both positive.
func (tx *Tx) check() error {
	c, s := tx.work.CreatorReserve.IsZero(), tx.work.SettlementReserve.IsZero()
	if c != s {
		return fmt.Errorf("%w: one-sided pool %s/%s", ErrInsufficientReserve, tx.work.CreatorReserve, tx.work.SettlementReserve)
	}
	return nil
}
