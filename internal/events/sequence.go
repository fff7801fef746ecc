package events

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"creatorswap/internal/model"
)

var idNamespace = uuid.MustParse("4f1d7c2e-9b0a-5c3e-8d61-2a7e0b5f9c14")

// EventID derives the id of the seq-th event emitted for tokenID.
func EventID(tokenID string, seq uint64) string {
	return uuid.NewSHA1(idNamespace, []byte(tokenID+"/"+strconv.FormatUint(seq, 10))).String()
}

// Sequencer numbers events per token and replaces their ids with ones derived
// from the token and that number before forwarding them. Applying the same
// operations to a fresh engine yields the same ids, which lets stores skip
// events they already hold.
//
// Counting continues while the target is a NoopEmitter, so muted events still
// consume their numbers.
type Sequencer struct {
	counters *xsync.Map[string, *atomic.Uint64]

	mu     sync.RWMutex
	target Emitter
}

func NewSequencer(target Emitter) *Sequencer {
	if target == nil {
		target = NoopEmitter{}
	}
	return &Sequencer{
		counters: xsync.NewMap[string, *atomic.Uint64](),
		target:   target,
	}
}

// SetTarget replaces the emitter events are forwarded to.
func (s *Sequencer) SetTarget(target Emitter) {
	if target == nil {
		target = NoopEmitter{}
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Target returns the emitter events are forwarded to.
func (s *Sequencer) Target() Emitter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Emit implements the Emitter interface.
func (s *Sequencer) Emit(ev model.Event) {
	counter, _ := s.counters.LoadOrCompute(ev.TokenID, func() (*atomic.Uint64, bool) {
		return new(atomic.Uint64), false
	})
	ev.ID = EventID(ev.TokenID, counter.Add(1))
	s.Target().Emit(ev)
}
