package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"creatorswap/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "creatorswap",
		Short:        "Creator token AMM engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	config.RegisterEngineFlags(root.PersistentFlags())
	config.RegisterLoggingFlags(root.PersistentFlags())

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply an operations log to a fresh engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "", "input operations JSONL")
	replayCmd.Flags().String("errors", "./data/replay_errors.jsonl", "rejected operations JSONL")
	replayCmd.Flags().String("events-out", "", "optional events JSONL")
	replayCmd.Flags().Uint64("batch-size", 500, "operation lines per batch")
	replayCmd.Flags().Int("workers", 4, "pools replayed in parallel")
	replayCmd.Flags().Int("queue-size", 256, "worker pool queue size")
	replayCmd.Flags().Bool("sequential", false, "apply operations strictly in log order")
	replayCmd.Flags().Uint64("default-max-slippage-bps", 100, "slippage tolerance for swaps that do not set one")
	replayCmd.Flags().String("checkpoint", "", "checkpoint file path (ignored when --pg-dsn is set)")
	replayCmd.Flags().String("state-name", "replay", "replay state name in Postgres")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for events, pools and replay state")
	replayCmd.Flags().Bool("pg-migrate", true, "create Postgres tables if missing")
	replayCmd.Flags().String("redis-addr", "", "Redis address for the event stream")
	replayCmd.Flags().String("redis-password", "", "Redis password")
	replayCmd.Flags().Int("redis-db", 0, "Redis database")
	replayCmd.Flags().String("redis-stream", "creatorswap:events", "Redis stream name")
	replayCmd.Flags().Bool("redis-per-token", false, "publish to one stream per token")
	replayCmd.Flags().Int64("redis-max-len", 10000, "approximate stream length cap, 0 means unlimited")
	replayCmd.Flags().String("rpc", "", "RPC URL used to confirm custody deposits")
	replayCmd.Flags().String("custody", "", "custody address receiving liquidity deposits")
	replayCmd.Flags().String("settlement-token", "", "settlement token contract address")
	replayCmd.Flags().Uint64("confirmations", 12, "confirmations required for a deposit")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().Int("event-queue-size", 1024, "buffered events awaiting sinks")
	replayCmd.Flags().Int("event-batch-size", 200, "events per sink write")
	replayCmd.Flags().Duration("event-flush-interval", time.Second, "maximum delay before a partial event batch is written")

	root.AddCommand(replayCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against given reserves",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("creator-reserve", "", "creator token reserve in tokens")
	quoteCmd.Flags().String("settlement-reserve", "", "settlement token reserve in tokens")
	quoteCmd.Flags().String("amount-in", "", "swap input in tokens")
	quoteCmd.Flags().String("direction", "settlement_to_creator", "creator_to_settlement (sell) or settlement_to_creator (buy)")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Logging) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevel()
	if err := zcfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return logger, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zcfg.EncoderConfig), zapcore.AddSync(rotator), zcfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
