package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"creatorswap/internal/engine"
	"creatorswap/internal/fixed"
)

const envPrefix = "CREATORSWAP"

// Logging configures the process logger.
type Logging struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// load merges config file, environment variables, and flags into a viper
// instance. Engine tunables are always registered.
func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-max-size-mb", 100)
	v.SetDefault("log-max-backups", 5)
	v.SetDefault("log-max-age-days", 28)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setEngineDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()
	v.SetDefault("swap-fee-bps", d.SwapFeeBps)
	v.SetDefault("protocol-fee-share-bps", d.ProtocolFeeShareBps)
	v.SetDefault("min-swap-amount", d.MinSwapAmount.Format())
	v.SetDefault("max-single-swap", d.MaxSingleSwap.Format())
	v.SetDefault("max-swap-amount-percent", d.MaxSwapAmountPercent)
	v.SetDefault("min-time-between-swaps", d.MinTimeBetweenSwaps)
	v.SetDefault("discovery-period", d.DiscoveryPeriod)
	v.SetDefault("snapshot-interval", d.SnapshotInterval)
	v.SetDefault("min-snapshots", d.MinSnapshots)
	v.SetDefault("smoothing-alpha-bps", d.SmoothingAlphaBps)
	v.SetDefault("min-liquidity", d.MinLiquidity.Format())
	v.SetDefault("discovery-pricing", d.Pricing.Policy)
	v.SetDefault("settlement-endowment", d.Pricing.SettlementEndowment.Format())
	v.SetDefault("creator-units-per-follower", d.Pricing.CreatorUnitsPerFollower.Format())
	v.SetDefault("base-price", d.Pricing.BasePrice.Format())
	v.SetDefault("price-per-follower", d.Pricing.PricePerFollower.Format())
}

// RegisterEngineFlags adds the engine tunables to flags.
func RegisterEngineFlags(flags *pflag.FlagSet) {
	d := engine.DefaultConfig()
	flags.Uint64("swap-fee-bps", d.SwapFeeBps, "swap fee in basis points")
	flags.Uint64("protocol-fee-share-bps", d.ProtocolFeeShareBps, "share of the swap fee accrued to the protocol, in basis points")
	flags.String("min-swap-amount", d.MinSwapAmount.Format(), "minimum swap input in tokens")
	flags.String("max-single-swap", d.MaxSingleSwap.Format(), "maximum swap input in tokens, 0 means unlimited")
	flags.Uint64("max-swap-amount-percent", d.MaxSwapAmountPercent, "maximum swap input as a percent of the input reserve")
	flags.Duration("min-time-between-swaps", d.MinTimeBetweenSwaps, "per-address swap cooldown")
	flags.Duration("discovery-period", d.DiscoveryPeriod, "price discovery window")
	flags.Duration("snapshot-interval", d.SnapshotInterval, "minimum gap between engagement snapshots")
	flags.Int("min-snapshots", d.MinSnapshots, "snapshots required to complete discovery")
	flags.Uint64("smoothing-alpha-bps", d.SmoothingAlphaBps, "EMA weight of the newest snapshot in basis points")
	flags.String("min-liquidity", d.MinLiquidity.Format(), "settlement reserve floor in tokens")
	flags.String("discovery-pricing", d.Pricing.Policy, "initial pricing policy (proportional, inverse)")
	flags.String("settlement-endowment", d.Pricing.SettlementEndowment.Format(), "settlement tokens seeded at discovery completion")
	flags.String("creator-units-per-follower", d.Pricing.CreatorUnitsPerFollower.Format(), "creator tokens seeded per smoothed follower (proportional)")
	flags.String("base-price", d.Pricing.BasePrice.Format(), "base creator token price in settlement tokens (inverse)")
	flags.String("price-per-follower", d.Pricing.PricePerFollower.Format(), "price increment per smoothed follower (inverse)")
}

// RegisterLoggingFlags adds the logger settings to flags.
func RegisterLoggingFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this file, rotated")
	flags.Int("log-max-size-mb", 100, "rotate the log file after this many megabytes")
	flags.Int("log-max-backups", 5, "rotated log files to keep")
	flags.Int("log-max-age-days", 28, "days to keep rotated log files")
}

func loggingConfig(v *viper.Viper) Logging {
	return Logging{
		Level:      v.GetString("log-level"),
		File:       v.GetString("log-file"),
		MaxSizeMB:  v.GetInt("log-max-size-mb"),
		MaxBackups: v.GetInt("log-max-backups"),
		MaxAgeDays: v.GetInt("log-max-age-days"),
	}
}

func engineConfig(v *viper.Viper) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.SwapFeeBps = v.GetUint64("swap-fee-bps")
	cfg.ProtocolFeeShareBps = v.GetUint64("protocol-fee-share-bps")
	cfg.MaxSwapAmountPercent = v.GetUint64("max-swap-amount-percent")
	cfg.MinTimeBetweenSwaps = v.GetDuration("min-time-between-swaps")
	cfg.DiscoveryPeriod = v.GetDuration("discovery-period")
	cfg.SnapshotInterval = v.GetDuration("snapshot-interval")
	cfg.MinSnapshots = v.GetInt("min-snapshots")
	cfg.SmoothingAlphaBps = v.GetUint64("smoothing-alpha-bps")
	cfg.Pricing.Policy = v.GetString("discovery-pricing")

	amounts := []struct {
		key string
		dst *fixed.Amount
	}{
		{"min-swap-amount", &cfg.MinSwapAmount},
		{"max-single-swap", &cfg.MaxSingleSwap},
		{"min-liquidity", &cfg.MinLiquidity},
		{"settlement-endowment", &cfg.Pricing.SettlementEndowment},
		{"creator-units-per-follower", &cfg.Pricing.CreatorUnitsPerFollower},
		{"base-price", &cfg.Pricing.BasePrice},
		{"price-per-follower", &cfg.Pricing.PricePerFollower},
	}
	for _, a := range amounts {
		parsed, err := fixed.Parse(v.GetString(a.key))
		if err != nil {
			return engine.Config{}, fmt.Errorf("%s: %w", a.key, err)
		}
		*a.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// durationOr returns d unless it is not positive.
func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
