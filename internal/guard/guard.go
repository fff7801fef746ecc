// Package guard throttles swaps per trading address.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"

	"creatorswap/internal/model"
)

var ErrThrottleActive = errors.New("throttle active")

// Admit reports whether a swap at now is allowed after a swap at last.
// A zero last means the address has never swapped.
func Admit(last, now time.Time, minGap time.Duration) error {
	if last.IsZero() {
		return nil
	}
	elapsed := now.Sub(last)
	if elapsed < minGap {
		return fmt.Errorf("%w: %s remaining", ErrThrottleActive, minGap-elapsed)
	}
	return nil
}

type slot struct {
	mu   sync.Mutex
	last time.Time
}

// Guard holds the cooldown of every address that has swapped.
type Guard struct {
	minGap time.Duration
	slots  *xsync.Map[common.Address, *slot]
}

func New(minGap time.Duration) *Guard {
	return &Guard{
		minGap: minGap,
		slots:  xsync.NewMap[common.Address, *slot](),
	}
}

// MinGap returns the configured minimum time between swaps.
func (g *Guard) MinGap() time.Duration { return g.minGap }

// Acquire locks addr's cooldown until Release. The caller evaluates Admit,
// performs the swap and calls Stamp while holding it, so concurrent swaps
// from one address are serialized even across pools.
func (g *Guard) Acquire(addr common.Address) *Slot {
	s, _ := g.slots.LoadOrCompute(addr, func() (*slot, bool) {
		return &slot{}, false
	})
	s.mu.Lock()
	return &Slot{addr: addr, s: s, minGap: g.minGap}
}

// Cooldown returns the recorded cooldown for addr.
func (g *Guard) Cooldown(addr common.Address) (model.Cooldown, bool) {
	s, ok := g.slots.Load(addr)
	if !ok {
		return model.Cooldown{Address: addr}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Cooldown{Address: addr, LastSwapTime: s.last}, !s.last.IsZero()
}

// Slot is a held address cooldown.
type Slot struct {
	addr     common.Address
	s        *slot
	minGap   time.Duration
	released bool
}

// Admit checks the cooldown against now without changing it.
func (h *Slot) Admit(now time.Time) error {
	if err := Admit(h.s.last, now, h.minGap); err != nil {
		return fmt.Errorf("%s: %w", h.addr.Hex(), err)
	}
	return nil
}

// Stamp records now as the address's last swap.
func (h *Slot) Stamp(now time.Time) { h.s.last = now }

// Release unlocks the slot. Calling it more than once is a no-op.
func (h *Slot) Release() {
	if h.released {
		return
	}
	h.released = true
	h.s.mu.Unlock()
}
