package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"creatorswap/internal/model"
)

// Hub fans events out to channel subscribers. Emit only appends to an
// unbounded outbox; a single pump goroutine delivers queued events to the
// feed in emission order, so a slow subscriber delays delivery but never the
// emitter.
type Hub struct {
	feed  event.Feed
	scope event.SubscriptionScope

	mu     sync.Mutex
	wake   *sync.Cond
	queue  []model.Event
	closed bool
	done   chan struct{}
}

func NewHub() *Hub {
	h := &Hub{done: make(chan struct{})}
	h.wake = sync.NewCond(&h.mu)
	go h.pump()
	return h
}

// Emit implements the Emitter interface. Events emitted after Close are
// dropped.
func (h *Hub) Emit(ev model.Event) {
	h.mu.Lock()
	if !h.closed {
		h.queue = append(h.queue, ev)
		h.wake.Signal()
	}
	h.mu.Unlock()
}

// Pending returns the number of events not yet handed to subscribers.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

func (h *Hub) pump() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.wake.Wait()
		}
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		batch := h.queue
		h.queue = nil
		h.mu.Unlock()

		for _, ev := range batch {
			h.feed.Send(ev)
		}
	}
}

// Subscribe delivers events to ch until the subscription is closed.
func (h *Hub) Subscribe(ch chan<- model.Event) event.Subscription {
	return h.scope.Track(h.feed.Subscribe(ch))
}

// Close delivers every queued event to the current subscribers and then ends
// all subscriptions. Subscribers must keep reading until Close returns.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.wake.Broadcast()
	h.mu.Unlock()
	<-h.done
	h.scope.Close()
}
