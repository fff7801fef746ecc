package storage

import (
	"context"

	"creatorswap/internal/events"
	"creatorswap/internal/model"
)

// Storage defines a sink for engine events.
type Storage interface {
	PutEventBatch(ctx context.Context, batch []model.Event) error
}

type namedSink struct {
	name  string
	store Storage
}

// Sink adapts store to the dispatcher's sink interface.
func Sink(name string, store Storage) events.Sink {
	return namedSink{name: name, store: store}
}

func (s namedSink) Name() string { return s.name }

func (s namedSink) WriteEvents(ctx context.Context, batch []model.Event) error {
	return s.store.PutEventBatch(ctx, batch)
}
