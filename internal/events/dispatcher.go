package events

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"creatorswap/internal/model"
)

// Sink persists or forwards batches of events.
type Sink interface {
	Name() string
	WriteEvents(ctx context.Context, events []model.Event) error
}

// DispatcherOptions tunes batching.
type DispatcherOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 10 * time.Second
	}
	return o
}

// Dispatcher subscribes to a Hub and writes events to sinks in batches from
// its own goroutine. Sink failures are logged and the batch is dropped for
// that sink only.
type Dispatcher struct {
	sinks  []Sink
	opts   DispatcherOptions
	logger *zap.Logger

	ch   chan model.Event
	sub  event.Subscription
	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(hub *Hub, sinks []Sink, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		sinks:  sinks,
		opts:   opts,
		logger: logger,
		ch:     make(chan model.Event, opts.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.sub = hub.Subscribe(d.ch)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Event, 0, d.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.write(batch)
		batch = make([]model.Event, 0, d.opts.BatchSize)
	}

	for {
		select {
		case ev := <-d.ch:
			batch = append(batch, ev)
			if len(batch) >= d.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-d.stop:
			for {
				select {
				case ev := <-d.ch:
					batch = append(batch, ev)
					if len(batch) >= d.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(batch []model.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.FlushTimeout)
		err := sink.WriteEvents(ctx, batch)
		cancel()
		if err != nil {
			d.logger.Error("event sink write failed",
				zap.String("sink", sink.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
			continue
		}
		d.logger.Debug("events written", zap.String("sink", sink.Name()), zap.Int("events", len(batch)))
	}
}

// Close stops the subscription, flushes queued events and waits for the
// writer goroutine to exit. Close the Hub first so its outbox is drained
// into the queue.
func (d *Dispatcher) Close() {
	d.sub.Unsubscribe()
	close(d.stop)
	<-d.done
}
