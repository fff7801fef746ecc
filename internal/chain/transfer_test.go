package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"creatorswap/internal/fixed"
)

var (
	custody    = common.HexToAddress("0xc0")
	settleTok  = common.HexToAddress("0x5e")
	creatorTok = common.HexToAddress("0xcc")
	provider   = common.HexToAddress("0x01")
	txHash     = common.HexToHash("0xabc")
)

type fakeSource struct {
	receipt *types.Receipt
	err     error
	head    uint64
	ts      uint64
}

func (f *fakeSource) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) BlockTimestamp(context.Context, uint64) (uint64, error) { return f.ts, nil }

func transferLog(t *testing.T, token, from, to common.Address, value int64) *types.Log {
	t.Helper()
	parsed, err := erc20TransferInstance()
	require.NoError(t, err)
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			parsed.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func receipt(status uint64, block int64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(block), Logs: logs}
}

func deposit(c, s uint64) Deposit {
	return Deposit{
		TxHash:           txHash,
		Provider:         provider,
		CreatorToken:     creatorTok,
		CreatorAmount:    fixed.FromUint64(c),
		SettlementAmount: fixed.FromUint64(s),
	}
}

func TestDecodeTransfers(t *testing.T) {
	logs := []*types.Log{
		transferLog(t, settleTok, provider, custody, 42),
		{Address: settleTok, Topics: []common.Hash{common.HexToHash("0x01")}},
		nil,
	}
	got, err := DecodeTransfers(logs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, settleTok, got[0].Token)
	require.Equal(t, provider, got[0].From)
	require.Equal(t, custody, got[0].To)
	require.Equal(t, int64(42), got[0].Value.Int64())
}

func TestConfirmDeposit(t *testing.T) {
	ok := receipt(types.ReceiptStatusSuccessful, 100,
		transferLog(t, creatorTok, provider, custody, 60),
		transferLog(t, creatorTok, provider, custody, 40),
		transferLog(t, settleTok, provider, custody, 50),
		// not from the provider
		transferLog(t, settleTok, common.HexToAddress("0x02"), custody, 1000),
	)

	cases := []struct {
		name string
		src  *fakeSource
		dep  Deposit
		want error
	}{
		{"confirmed", &fakeSource{receipt: ok, head: 102}, deposit(100, 50), nil},
		{"short settlement", &fakeSource{receipt: ok, head: 102}, deposit(100, 51), ErrDepositShort},
		{"short creator", &fakeSource{receipt: ok, head: 102}, deposit(101, 50), ErrDepositShort},
		{"pending", &fakeSource{receipt: ok, head: 101}, deposit(100, 50), ErrDepositPending},
		{"reverted", &fakeSource{receipt: receipt(types.ReceiptStatusFailed, 100), head: 200}, deposit(1, 1), ErrDepositFailed},
		{"missing", &fakeSource{err: ethereum.NotFound}, deposit(1, 1), ErrDepositNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewConfirmer(tc.src, custody, settleTok, 3).Confirm(context.Background(), tc.dep)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConfirmDepositNotAfter(t *testing.T) {
	src := &fakeSource{
		receipt: receipt(types.ReceiptStatusSuccessful, 10,
			transferLog(t, creatorTok, provider, custody, 1),
			transferLog(t, settleTok, provider, custody, 1),
		),
		head: 10,
		ts:   1_700_000_000,
	}
	c := NewConfirmer(src, custody, settleTok, 1)

	dep := deposit(1, 1)
	dep.NotAfter = time.Unix(1_700_000_000, 0)
	require.NoError(t, c.Confirm(context.Background(), dep))

	dep.NotAfter = time.Unix(1_699_999_999, 0)
	require.ErrorIs(t, c.Confirm(context.Background(), dep), ErrDepositTooLate)
}
