package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"creatorswap/internal/fixed"
)

var (
	ErrDepositNotFound = errors.New("chain: custody deposit not found")
	ErrDepositPending  = errors.New("chain: custody deposit not yet confirmed")
	ErrDepositFailed   = errors.New("chain: custody deposit transaction reverted")
	ErrDepositShort    = errors.New("chain: custody deposit below required amount")
	ErrDepositTooLate  = errors.New("chain: custody deposit mined after the operation")
)

const erc20TransferABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "from", "type": "address"},
      {"indexed": true, "name": "to", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

var (
	erc20TransferABI     abi.ABI
	erc20TransferABIOnce sync.Once
	erc20TransferABIErr  error
)

func erc20TransferInstance() (abi.ABI, error) {
	erc20TransferABIOnce.Do(func() {
		erc20TransferABI, erc20TransferABIErr = abi.JSON(strings.NewReader(erc20TransferABIJSON))
	})
	return erc20TransferABI, erc20TransferABIErr
}

// Transfer is a decoded ERC20 Transfer log.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfers returns the ERC20 Transfer logs in logs. Other logs are
// skipped.
func DecodeTransfers(logs []*types.Log) ([]Transfer, error) {
	parsed, err := erc20TransferInstance()
	if err != nil {
		return nil, err
	}
	event := parsed.Events["Transfer"]

	out := make([]Transfer, 0, len(logs))
	for _, log := range logs {
		if log == nil || len(log.Topics) != 3 || log.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("invalid %s value type %T", event.Name, values[0])
		}
		out = append(out, Transfer{
			Token: log.Address,
			From:  common.BytesToAddress(log.Topics[1].Bytes()),
			To:    common.BytesToAddress(log.Topics[2].Bytes()),
			Value: value,
		})
	}
	return out, nil
}

// ReceiptSource is the subset of Client used to confirm deposits.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Deposit is a provider's transfer of both pool assets into custody.
type Deposit struct {
	TxHash           common.Hash
	Provider         common.Address
	CreatorToken     common.Address
	CreatorAmount    fixed.Amount
	SettlementAmount fixed.Amount
	// NotAfter rejects deposits mined after this time when set.
	NotAfter time.Time
}

// Confirmer checks custody deposits against transaction receipts.
type Confirmer struct {
	src             ReceiptSource
	custody         common.Address
	settlementToken common.Address
	confirmations   uint64
}

func NewConfirmer(src ReceiptSource, custody, settlementToken common.Address, confirmations uint64) *Confirmer {
	return &Confirmer{
		src:             src,
		custody:         custody,
		settlementToken: settlementToken,
		confirmations:   confirmations,
	}
}

// Confirm succeeds once dep's transaction is mined with enough
// confirmations and moved at least both amounts from the provider to the
// custody address.
func (c *Confirmer) Confirm(ctx context.Context, dep Deposit) error {
	receipt, err := c.src.TransactionReceipt(ctx, dep.TxHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("%w: %s", ErrDepositNotFound, dep.TxHash.Hex())
		}
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrDepositFailed, dep.TxHash.Hex())
	}

	latest, err := c.src.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	mined := receipt.BlockNumber.Uint64()
	if latest < mined || latest-mined+1 < c.confirmations {
		return fmt.Errorf("%w: %s mined at %d, head %d", ErrDepositPending, dep.TxHash.Hex(), mined, latest)
	}

	if !dep.NotAfter.IsZero() {
		ts, err := c.src.BlockTimestamp(ctx, mined)
		if err != nil {
			return err
		}
		if time.Unix(int64(ts), 0).After(dep.NotAfter) {
			return fmt.Errorf("%w: %s", ErrDepositTooLate, dep.TxHash.Hex())
		}
	}

	transfers, err := DecodeTransfers(receipt.Logs)
	if err != nil {
		return err
	}
	creator, settlement := new(big.Int), new(big.Int)
	for _, tr := range transfers {
		if tr.From != dep.Provider || tr.To != c.custody {
			continue
		}
		switch tr.Token {
		case dep.CreatorToken:
			creator.Add(creator, tr.Value)
		case c.settlementToken:
			settlement.Add(settlement, tr.Value)
		}
	}

	if creator.Cmp(dep.CreatorAmount.Big()) < 0 {
		return fmt.Errorf("%w: creator token got %s want %s", ErrDepositShort, creator, dep.CreatorAmount.String())
	}
	if settlement.Cmp(dep.SettlementAmount.Big()) < 0 {
		return fmt.Errorf("%w: settlement token got %s want %s", ErrDepositShort, settlement, dep.SettlementAmount.String())
	}
	return nil
}
