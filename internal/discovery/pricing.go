package discovery

import (
	"fmt"
	"strings"

	"creatorswap/internal/fixed"
)

// PricingPolicy turns the final smoothed engagement metric (18-decimal fixed
// point) into the reserves a pool is seeded with.
type PricingPolicy interface {
	Name() string
	Reserves(smoothed fixed.Amount) (creator, settlement fixed.Amount, err error)
}

// ProportionalPricing seeds CreatorUnitsPerFollower creator tokens per
// smoothed follower against a fixed settlement endowment.
type ProportionalPricing struct {
	SettlementEndowment     fixed.Amount
	CreatorUnitsPerFollower fixed.Amount
}

func (ProportionalPricing) Name() string { return "proportional" }

func (p ProportionalPricing) Reserves(smoothed fixed.Amount) (fixed.Amount, fixed.Amount, error) {
	creator, err := fixed.MulDiv(smoothed, p.CreatorUnitsPerFollower, fixed.One())
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	return creator, p.SettlementEndowment, nil
}

// InversePricing prices one creator token at BasePrice plus PricePerFollower
// for every smoothed follower, and sizes the creator reserve so the
// endowment buys it at that price.
type InversePricing struct {
	SettlementEndowment fixed.Amount
	BasePrice           fixed.Amount
	PricePerFollower    fixed.Amount
}

func (InversePricing) Name() string { return "inverse" }

func (p InversePricing) Reserves(smoothed fixed.Amount) (fixed.Amount, fixed.Amount, error) {
	premium, err := fixed.MulDiv(smoothed, p.PricePerFollower, fixed.One())
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	price, err := p.BasePrice.Add(premium)
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	if price.IsZero() {
		return fixed.Amount{}, fixed.Amount{}, fmt.Errorf("inverse pricing: zero price")
	}
	creator, err := fixed.MulDiv(p.SettlementEndowment, fixed.One(), price)
	if err != nil {
		return fixed.Amount{}, fixed.Amount{}, err
	}
	return creator, p.SettlementEndowment, nil
}

// PricingConfig carries the inputs of every built-in policy.
type PricingConfig struct {
	Policy                  string
	SettlementEndowment     fixed.Amount
	CreatorUnitsPerFollower fixed.Amount
	BasePrice               fixed.Amount
	PricePerFollower        fixed.Amount
}

// NewPricingPolicy resolves a policy by name.
func NewPricingPolicy(cfg PricingConfig) (PricingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case "", "proportional":
		return ProportionalPricing{
			SettlementEndowment:     cfg.SettlementEndowment,
			CreatorUnitsPerFollower: cfg.CreatorUnitsPerFollower,
		}, nil
	case "inverse":
		return InversePricing{
			SettlementEndowment: cfg.SettlementEndowment,
			BasePrice:           cfg.BasePrice,
			PricePerFollower:    cfg.PricePerFollower,
		}, nil
	default:
		return nil, fmt.Errorf("unknown discovery pricing %q", cfg.Policy)
	}
}
