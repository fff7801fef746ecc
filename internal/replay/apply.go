package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"creatorswap/internal/chain"
	"creatorswap/internal/engine"
	"creatorswap/internal/fixed"
	"creatorswap/internal/model"
)

func (r *Runner) apply(ctx context.Context, op model.Operation) error {
	e := r.engine
	switch op.Op {
	case model.OpRegisterPool:
		_, err := e.RegisterPool(ctx, op.TokenID)
		return err

	case model.OpStartDiscovery:
		_, err := e.StartPriceDiscovery(ctx, op.TokenID, op.InitialMetric)
		return err

	case model.OpRecordSnapshot:
		_, err := e.RecordEngagementSnapshot(ctx, op.TokenID, op.RawCount)
		return err

	case model.OpCompleteDiscovery:
		_, err := e.CompletePriceDiscovery(ctx, op.TokenID)
		return err

	case model.OpAddLiquidity:
		creatorAmount, err := fixed.Parse(op.CreatorAmount)
		if err != nil {
			return fmt.Errorf("creator_amount: %w", err)
		}
		settlementAmount, err := fixed.Parse(op.SettlementAmount)
		if err != nil {
			return fmt.Errorf("settlement_amount: %w", err)
		}
		provider, err := ParseAddress(op.Provider)
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
		if op.TxHash != "" {
			if err := r.confirmDeposit(ctx, op, provider, creatorAmount, settlementAmount); err != nil {
				return err
			}
		}
		_, err = e.AddLiquidity(ctx, op.TokenID, creatorAmount, settlementAmount, provider)
		return err

	case model.OpWithdrawLiquidity:
		shares, err := fixed.Parse(op.Shares)
		if err != nil {
			return fmt.Errorf("shares: %w", err)
		}
		provider, err := ParseAddress(op.Provider)
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
		_, err = e.WithdrawLiquidity(ctx, op.TokenID, shares, provider)
		return err

	case model.OpSwap:
		amountIn, err := fixed.Parse(op.AmountIn)
		if err != nil {
			return fmt.Errorf("amount_in: %w", err)
		}
		minOut := fixed.Zero()
		if op.MinAmountOut != "" {
			if minOut, err = fixed.Parse(op.MinAmountOut); err != nil {
				return fmt.Errorf("min_amount_out: %w", err)
			}
		}
		sender, err := ParseAddress(op.Sender)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		maxSlippage := op.MaxSlippageBps
		if maxSlippage == 0 {
			maxSlippage = r.cfg.DefaultMaxSlippageBps
		}
		_, err = e.Swap(ctx, engine.SwapRequest{
			TokenID:        op.TokenID,
			Direction:      op.Direction,
			AmountIn:       amountIn,
			MinAmountOut:   minOut,
			MaxSlippageBps: maxSlippage,
			Sender:         sender,
		})
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperation, op.Op)
}

func (r *Runner) confirmDeposit(ctx context.Context, op model.Operation, provider common.Address, creatorAmount, settlementAmount fixed.Amount) error {
	if r.deposits == nil {
		return ErrCustodyUnavailable
	}
	creatorToken, err := ParseAddress(op.TokenID)
	if err != nil {
		return fmt.Errorf("token_id is not a contract address: %w", err)
	}
	raw, err := hexutil.Decode(strings.TrimSpace(op.TxHash))
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("%w: tx_hash %q", ErrMalformedOperation, op.TxHash)
	}

	dep := chain.Deposit{
		TxHash:           common.BytesToHash(raw),
		Provider:         provider,
		CreatorToken:     creatorToken,
		CreatorAmount:    creatorAmount,
		SettlementAmount: settlementAmount,
		NotAfter:         op.Timestamp,
	}
	err = withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := r.deposits.Confirm(ctx, dep)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chain.ErrDepositPending), errors.Is(err, chain.ErrDepositNotFound):
			r.logger.Debug("custody deposit not confirmed yet", zap.String("tx_hash", op.TxHash), zap.Error(err))
			return err
		case isDepositRejection(err):
			return permanent(err)
		default:
			r.logger.Warn("custody confirmation failed", zap.String("tx_hash", op.TxHash), zap.Error(err))
			return err
		}
	})
	switch {
	case err == nil:
		return nil
	case isDepositRejection(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &fatalError{err: fmt.Errorf("confirm deposit %s: %w", op.TxHash, err)}
	}
}
