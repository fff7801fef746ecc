// Package redis publishes engine events to Redis streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"creatorswap/internal/model"
)

const DefaultStreamMaxLen = 10000

// Options configures the publisher.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Stream receives every event. Per-token streams are "<Stream>:<token_id>"
	// when PerToken is set.
	Stream    string
	PerToken  bool
	MaxLen    int64
	PoolSize  int
	DialLimit time.Duration
}

// Publisher appends events to a capped stream.
type Publisher struct {
	client   *redis.Client
	stream   string
	perToken bool
	maxLen   int64
	logger   *zap.Logger
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, opts Options, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.Stream == "" {
		opts.Stream = "creatorswap:events"
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.DialLimit <= 0 {
		opts.DialLimit = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,

		DialTimeout:  opts.DialLimit,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialLimit)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("stream", opts.Stream),
		zap.Int64("max_len", opts.MaxLen))

	return newPublisher(rdb, opts, logger), nil
}

func newPublisher(rdb *redis.Client, opts Options, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   rdb,
		stream:   opts.Stream,
		perToken: opts.PerToken,
		maxLen:   opts.MaxLen,
		logger:   logger,
	}
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// StreamFor returns the stream an event for tokenID is appended to.
func (p *Publisher) StreamFor(tokenID string) string {
	if p.perToken {
		return p.stream + ":" + tokenID
	}
	return p.stream
}

// PutEventBatch appends batch in one pipeline. MAXLEN trimming is
// approximate.
func (p *Publisher) PutEventBatch(ctx context.Context, batch []model.Event) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, ev := range batch {
		args, err := p.xaddArgs(ev)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %d events: %w", len(batch), err)
	}
	return nil
}

func (p *Publisher) xaddArgs(ev model.Event) (*redis.XAddArgs, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: p.StreamFor(ev.TokenID),
		Values: map[string]interface{}{
			"id":       ev.ID,
			"type":     string(ev.Type),
			"token_id": ev.TokenID,
			"ts":       ev.Timestamp.UnixMilli(),
			"data":     string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return args, nil
}
