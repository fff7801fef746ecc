package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"creatorswap/internal/chain"
	"creatorswap/internal/config"
	"creatorswap/internal/engine"
	"creatorswap/internal/events"
	"creatorswap/internal/model"
	"creatorswap/internal/replay"
	"creatorswap/internal/storage"
	"creatorswap/internal/storage/postgres"
	"creatorswap/internal/storage/redis"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(cfg.Engine, logger.Named("engine"))
	if err != nil {
		return err
	}

	var (
		sinks []events.Sink
		state replay.StateStore
		store *postgres.Store
	)
	if cfg.EventsOut != "" {
		sinks = append(sinks, storage.Sink("jsonl", storage.NewJsonlStorage(cfg.EventsOut)))
	}
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if cfg.PGMigrate {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
		sinks = append(sinks, storage.Sink("postgres", store))
		state = &replay.DBStateStore{Store: store, Name: cfg.StateName}
	} else if cfg.Checkpoint != "" {
		state = &replay.FileStateStore{Path: cfg.Checkpoint}
	}
	if cfg.RedisAddr != "" {
		pub, err := redis.NewPublisher(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			PerToken: cfg.RedisPerToken,
			MaxLen:   cfg.RedisMaxLen,
		}, logger.Named("redis"))
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, storage.Sink("redis", pub))
	}

	var deposits replay.Depositor
	if cfg.RPCURL != "" {
		confirmer, closeChain, err := newConfirmer(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeChain()
		deposits = confirmer
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	errWriter, err := storage.NewJSONLWriter(cfg.Errors, state != nil)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	hub := events.NewHub()
	dispatcher := events.NewDispatcher(hub, sinks, events.DispatcherOptions{
		QueueSize:     cfg.EventQueueSize,
		BatchSize:     cfg.EventBatchSize,
		FlushInterval: cfg.EventFlushInterval,
	}, logger.Named("events"))
	eng.SetEmitter(hub)

	runner := replay.NewRunner(replay.RunConfig{
		BatchSize:             cfg.BatchSize,
		Workers:               cfg.Workers,
		QueueSize:             cfg.QueueSize,
		Sequential:            cfg.Sequential,
		MaxRetries:            cfg.MaxRetries,
		RetryBackoff:          cfg.RetryBackoff,
		DefaultMaxSlippageBps: cfg.DefaultMaxSlippageBps,
	}, eng, deposits, errWriter, state, logger.Named("replay"))

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("errors", cfg.Errors),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Bool("sequential", cfg.Sequential),
		zap.Int("sinks", len(sinks)),
		zap.Bool("custody_confirmation", deposits != nil),
	)

	stats, runErr := runner.Run(ctx, inputFile)
	runner.Close()
	hub.Close()
	dispatcher.Close()

	pools := eng.Pools()
	if store != nil && len(pools) > 0 {
		if err := store.UpsertPools(context.Background(), pools); err != nil {
			logger.Error("upsert pools failed", zap.Error(err))
		}
	}

	logger.Info("replay complete",
		zap.Int64("applied", stats.Applied),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("restored", stats.Restored),
		zap.Int("pools", len(pools)),
		zap.Error(runErr),
	)
	if runErr != nil {
		return runErr
	}
	return printPools(pools)
}

func newConfirmer(ctx context.Context, cfg config.ReplayConfig, logger *zap.Logger) (*chain.Confirmer, func(), error) {
	custody, err := replay.ParseAddress(cfg.Custody)
	if err != nil {
		return nil, nil, fmt.Errorf("custody: %w", err)
	}
	settlementToken, err := replay.ParseAddress(cfg.SettlementToken)
	if err != nil {
		return nil, nil, fmt.Errorf("settlement token: %w", err)
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("get chain id: %w", err)
	}
	logger.Info("custody confirmation enabled",
		zap.String("chain_id", chainID.String()),
		zap.String("custody", custody.Hex()),
		zap.String("settlement_token", settlementToken.Hex()),
		zap.Uint64("confirmations", cfg.Confirmations),
	)
	return chain.NewConfirmer(client, custody, settlementToken, cfg.Confirmations), client.Close, nil
}

type poolOutput struct {
	TokenID           string `json:"token_id"`
	CreatorReserve    string `json:"creator_reserve"`
	SettlementReserve string `json:"settlement_reserve"`
	TotalShares       string `json:"total_shares"`
	Seeded            bool   `json:"seeded"`
}

func printPools(pools []model.Pool) error {
	enc := json.NewEncoder(os.Stdout)
	for _, p := range pools {
		if err := enc.Encode(poolOutput{
			TokenID:           p.TokenID,
			CreatorReserve:    p.CreatorReserve.Format(),
			SettlementReserve: p.SettlementReserve.Format(),
			TotalShares:       p.TotalShares.Format(),
			Seeded:            p.Seeded(),
		}); err != nil {
			return err
		}
	}
	return nil
}
