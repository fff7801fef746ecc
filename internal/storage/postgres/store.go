package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creatorswap/internal/model"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for engine events, pool snapshots and
// replay progress.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables the store writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutEventBatch inserts events. Events already stored are skipped; engine
// event ids are derived from the token and its event number, so re-applying
// a batch after a crash does not duplicate rows.
func (s *Store) PutEventBatch(ctx context.Context, batch []model.Event) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, ev := range batch {
		payload, err := eventPayload(ev)
		if err != nil {
			return err
		}
		b.Queue(`
			INSERT INTO engine_events (id, type, token_id, ts, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`,
			ev.ID,
			string(ev.Type),
			ev.TokenID,
			ev.Timestamp,
			payload,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range batch {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func eventPayload(ev model.Event) ([]byte, error) {
	var v interface{}
	switch {
	case ev.Swap != nil:
		v = ev.Swap
	case ev.Liquidity != nil:
		v = ev.Liquidity
	case ev.Discovery != nil:
		v = ev.Discovery
	default:
		return []byte("{}"), nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	return payload, nil
}

// UpsertPools inserts or updates pool snapshots. Amounts are stored in base
// units.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		var seededAt *time.Time
		if !pool.SeededAt.IsZero() {
			at := pool.SeededAt
			seededAt = &at
		}
		batch.Queue(`
			INSERT INTO pools (
				token_id, creator_reserve, settlement_reserve, total_shares,
				protocol_fee_creator, protocol_fee_settlement, created_at, seeded_at, pool_updated_at, updated_at
			) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, now())
			ON CONFLICT (token_id)
			DO UPDATE SET
				creator_reserve = EXCLUDED.creator_reserve,
				settlement_reserve = EXCLUDED.settlement_reserve,
				total_shares = EXCLUDED.total_shares,
				protocol_fee_creator = EXCLUDED.protocol_fee_creator,
				protocol_fee_settlement = EXCLUDED.protocol_fee_settlement,
				seeded_at = COALESCE(pools.seeded_at, EXCLUDED.seeded_at),
				pool_updated_at = EXCLUDED.pool_updated_at,
				updated_at = now()
		`,
			pool.TokenID,
			pool.CreatorReserve.String(),
			pool.SettlementReserve.String(),
			pool.TotalShares.String(),
			pool.ProtocolFeeCreator.String(),
			pool.ProtocolFeeSettlement.String(),
			pool.CreatedAt,
			seededAt,
			pool.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last applied line for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var line int64
	row := s.pool.QueryRow(ctx, `SELECT last_line FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&line); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(line), true, nil
}

// SaveState upserts the last applied line for a name.
func (s *Store) SaveState(ctx context.Context, name string, line uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_line, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_line = EXCLUDED.last_line, updated_at = now()
	`, name, int64(line))
	return err
}
