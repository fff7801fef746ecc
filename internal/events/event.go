// Package events carries committed engine events to downstream consumers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"creatorswap/internal/model"
)

// Emitter receives events from the engine. Emit is called while the emitting
// pool is locked and must not block.
type Emitter interface {
	Emit(model.Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(model.Event) {}

// New builds an event envelope with a fresh id.
func New(typ model.EventType, tokenID string, at time.Time) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		TokenID:   tokenID,
		Timestamp: at.UTC(),
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *Recorder) Emit(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

// OfType returns the recorded events of typ.
func (r *Recorder) OfType(typ model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
