package engine

import (
	"fmt"
	"time"

	"creatorswap/internal/discovery"
	"creatorswap/internal/fixed"
)

// Config holds every engine tunable.
type Config struct {
	SwapFeeBps           uint64
	ProtocolFeeShareBps  uint64
	MinSwapAmount        fixed.Amount
	MaxSingleSwap        fixed.Amount
	MaxSwapAmountPercent uint64
	MinTimeBetweenSwaps  time.Duration
	DiscoveryPeriod      time.Duration
	SnapshotInterval     time.Duration
	MinSnapshots         int
	SmoothingAlphaBps    uint64
	MinLiquidity         fixed.Amount
	Pricing              discovery.PricingConfig
}

func DefaultConfig() Config {
	return Config{
		SwapFeeBps:           30,
		MinSwapAmount:        fixed.MustParse("0.000001"),
		MaxSingleSwap:        fixed.Units(1_000_000),
		MaxSwapAmountPercent: 10,
		MinTimeBetweenSwaps:  30 * time.Second,
		DiscoveryPeriod:      24 * time.Hour,
		SnapshotInterval:     time.Hour,
		MinSnapshots:         3,
		SmoothingAlphaBps:    3000,
		MinLiquidity:         fixed.Units(1),
		Pricing: discovery.PricingConfig{
			Policy:                  "proportional",
			SettlementEndowment:     fixed.Units(1000),
			CreatorUnitsPerFollower: fixed.Units(10),
			BasePrice:               fixed.MustParse("0.01"),
			PricePerFollower:        fixed.MustParse("0.0001"),
		},
	}
}

// Validate rejects inconsistent tunables.
func (c Config) Validate() error {
	if c.SwapFeeBps >= fixed.BpsDenominator {
		return fmt.Errorf("swap fee %d bps must be below %d", c.SwapFeeBps, fixed.BpsDenominator)
	}
	if c.ProtocolFeeShareBps > fixed.BpsDenominator {
		return fmt.Errorf("protocol fee share %d bps exceeds %d", c.ProtocolFeeShareBps, fixed.BpsDenominator)
	}
	if c.MaxSwapAmountPercent == 0 || c.MaxSwapAmountPercent > 100 {
		return fmt.Errorf("max swap amount percent %d must be in (0,100]", c.MaxSwapAmountPercent)
	}
	if !c.MaxSingleSwap.IsZero() && c.MinSwapAmount.Gt(c.MaxSingleSwap) {
		return fmt.Errorf("min swap amount %s exceeds max single swap %s", c.MinSwapAmount.Format(), c.MaxSingleSwap.Format())
	}
	if c.MinTimeBetweenSwaps < 0 || c.DiscoveryPeriod < 0 || c.SnapshotInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.SmoothingAlphaBps == 0 || c.SmoothingAlphaBps > fixed.BpsDenominator {
		return fmt.Errorf("smoothing alpha %d bps must be in (0,%d]", c.SmoothingAlphaBps, fixed.BpsDenominator)
	}
	if c.MinSnapshots < 1 {
		return fmt.Errorf("min snapshots must be positive")
	}
	if c.Pricing.SettlementEndowment.Lt(c.MinLiquidity) {
		return fmt.Errorf("settlement endowment %s is below min liquidity %s", c.Pricing.SettlementEndowment.Format(), c.MinLiquidity.Format())
	}
	if _, err := discovery.NewPricingPolicy(c.Pricing); err != nil {
		return err
	}
	return nil
}
