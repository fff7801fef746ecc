package config

import (
	"github.com/spf13/pflag"

	"creatorswap/internal/engine"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	Engine  engine.Config
	Logging Logging

	CreatorReserve    string
	SettlementReserve string
	AmountIn          string
	Direction         string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"direction": "settlement_to_creator",
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	eng, err := engineConfig(v)
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		Engine:            eng,
		Logging:           loggingConfig(v),
		CreatorReserve:    v.GetString("creator-reserve"),
		SettlementReserve: v.GetString("settlement-reserve"),
		AmountIn:          v.GetString("amount-in"),
		Direction:         v.GetString("direction"),
	}, nil
}
