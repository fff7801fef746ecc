package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"creatorswap/internal/engine"
	"creatorswap/internal/fixed"
)

func TestLoadReplayDefaults(t *testing.T) {
	cfg, err := LoadReplay("", nil)
	require.NoError(t, err)
	require.Equal(t, engine.DefaultConfig(), cfg.Engine)
	require.Equal(t, uint64(500), cfg.BatchSize)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	require.Equal(t, uint64(12), cfg.Confirmations)
}

func TestLoadReplayEnvAndFlags(t *testing.T) {
	t.Setenv("CREATORSWAP_SWAP_FEE_BPS", "50")
	t.Setenv("CREATORSWAP_MIN_LIQUIDITY", "2.5")

	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	RegisterEngineFlags(flags)
	RegisterLoggingFlags(flags)
	flags.Bool("sequential", false, "")
	require.NoError(t, flags.Parse([]string{"--sequential", "--min-time-between-swaps=1m", "--swap-fee-bps=40"}))

	cfg, err := LoadReplay("", flags)
	require.NoError(t, err)
	require.True(t, cfg.Sequential)
	require.Equal(t, time.Minute, cfg.Engine.MinTimeBetweenSwaps)
	// a changed flag wins over the environment
	require.Equal(t, uint64(40), cfg.Engine.SwapFeeBps)
	require.Equal(t, fixed.MustParse("2.5"), cfg.Engine.MinLiquidity)
}

func TestLoadQuoteConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creatorswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
discovery-pricing: inverse
settlement-endowment: "250"
amount-in: "10"
creator-reserve: "1000"
settlement-reserve: "500"
`), 0o644))

	cfg, err := LoadQuote(path, nil)
	require.NoError(t, err)
	require.Equal(t, "inverse", cfg.Engine.Pricing.Policy)
	require.Equal(t, fixed.Units(250), cfg.Engine.Pricing.SettlementEndowment)
	require.Equal(t, "10", cfg.AmountIn)
	require.Equal(t, "settlement_to_creator", cfg.Direction)
}

func TestLoadRejectsInvalidTunables(t *testing.T) {
	t.Setenv("CREATORSWAP_MIN_SWAP_AMOUNT", "abc")
	_, err := LoadQuote("", nil)
	require.ErrorIs(t, err, fixed.ErrInvalidAmount)

	t.Setenv("CREATORSWAP_MIN_SWAP_AMOUNT", "0.000001")
	t.Setenv("CREATORSWAP_SWAP_FEE_BPS", "10000")
	_, err = LoadQuote("", nil)
	require.Error(t, err)

	_, err = LoadQuote(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}
