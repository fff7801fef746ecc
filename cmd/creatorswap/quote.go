package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"creatorswap/internal/config"
	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
	"creatorswap/internal/swap"
)

type quoteOutput struct {
	Direction      model.Direction `json:"direction"`
	AmountIn       string          `json:"amount_in"`
	AmountOut      string          `json:"amount_out"`
	Fee            string          `json:"fee"`
	IdealOut       string          `json:"ideal_out"`
	PriceImpactBps uint64          `json:"price_impact_bps"`
	FeeBps         uint64          `json:"fee_bps"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	creatorReserve, err := fixed.Parse(cfg.CreatorReserve)
	if err != nil {
		return fmt.Errorf("creator reserve: %w", err)
	}
	settlementReserve, err := fixed.Parse(cfg.SettlementReserve)
	if err != nil {
		return fmt.Errorf("settlement reserve: %w", err)
	}
	amountIn, err := fixed.Parse(cfg.AmountIn)
	if err != nil {
		return fmt.Errorf("amount in: %w", err)
	}
	dir, err := model.ParseDirection(cfg.Direction)
	if err != nil {
		return err
	}

	pool := model.Pool{CreatorReserve: creatorReserve, SettlementReserve: settlementReserve}
	reserveIn, reserveOut := pool.Reserves(dir)
	b, err := swap.Compute(reserveIn, reserveOut, amountIn, cfg.Engine.SwapFeeBps)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(quoteOutput{
		Direction:      dir,
		AmountIn:       amountIn.Format(),
		AmountOut:      b.AmountOut.Format(),
		Fee:            b.Fee.Format(),
		IdealOut:       b.IdealOut.Format(),
		PriceImpactBps: b.SlippageBps,
		FeeBps:         cfg.Engine.SwapFeeBps,
	})
}
