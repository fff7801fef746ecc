package config

import (
	"time"

	"github.com/spf13/pflag"

	"creatorswap/internal/engine"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Engine  engine.Config
	Logging Logging

	In        string
	Errors    string
	EventsOut string

	BatchSize             uint64
	Workers               int
	QueueSize             int
	Sequential            bool
	DefaultMaxSlippageBps uint64
	MaxRetries            int
	RetryBackoff          time.Duration

	Checkpoint string
	StateName  string

	PGDSN     string
	PGMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisPerToken bool
	RedisMaxLen   int64

	RPCURL          string
	Custody         string
	SettlementToken string
	Confirmations   uint64

	EventQueueSize     int
	EventBatchSize     int
	EventFlushInterval time.Duration
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"errors":                   "./data/replay_errors.jsonl",
		"batch-size":               uint64(500),
		"workers":                  4,
		"queue-size":               256,
		"default-max-slippage-bps": uint64(100),
		"max-retries":              5,
		"retry-backoff":            500 * time.Millisecond,
		"state-name":               "replay",
		"pg-migrate":               true,
		"redis-stream":             "creatorswap:events",
		"redis-max-len":            int64(10000),
		"confirmations":            uint64(12),
		"event-queue-size":         1024,
		"event-batch-size":         200,
		"event-flush-interval":     time.Second,
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	eng, err := engineConfig(v)
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		Engine:                eng,
		Logging:               loggingConfig(v),
		In:                    v.GetString("in"),
		Errors:                v.GetString("errors"),
		EventsOut:             v.GetString("events-out"),
		BatchSize:             v.GetUint64("batch-size"),
		Workers:               v.GetInt("workers"),
		QueueSize:             v.GetInt("queue-size"),
		Sequential:            v.GetBool("sequential"),
		DefaultMaxSlippageBps: v.GetUint64("default-max-slippage-bps"),
		MaxRetries:            v.GetInt("max-retries"),
		RetryBackoff:          durationOr(v.GetDuration("retry-backoff"), 500*time.Millisecond),
		Checkpoint:            v.GetString("checkpoint"),
		StateName:             v.GetString("state-name"),
		PGDSN:                 v.GetString("pg-dsn"),
		PGMigrate:             v.GetBool("pg-migrate"),
		RedisAddr:             v.GetString("redis-addr"),
		RedisPassword:         v.GetString("redis-password"),
		RedisDB:               v.GetInt("redis-db"),
		RedisStream:           v.GetString("redis-stream"),
		RedisPerToken:         v.GetBool("redis-per-token"),
		RedisMaxLen:           v.GetInt64("redis-max-len"),
		RPCURL:                v.GetString("rpc"),
		Custody:               v.GetString("custody"),
		SettlementToken:       v.GetString("settlement-token"),
		Confirmations:         v.GetUint64("confirmations"),
		EventQueueSize:        v.GetInt("event-queue-size"),
		EventBatchSize:        v.GetInt("event-batch-size"),
		EventFlushInterval:    durationOr(v.GetDuration("event-flush-interval"), time.Second),
	}, nil
}
