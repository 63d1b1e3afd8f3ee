package verify

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"PoolBet/internal/chain"
	"PoolBet/internal/logging"
	"PoolBet/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChain = int64(11155111)
	txHash    = "0x1111111111111111111111111111111111111111111111111111111111111111"
	alice     = "0xAbCdEf0123456789abcdef0123456789ABCDEF01"
	escrow    = "0x00000000000000000000000000000000000e5c20"
)

type fakeReader struct {
	receipts map[string]*chain.Receipt
	txs      map[string]*chain.TxInfo
	err      error
}

func (f *fakeReader) Receipt(_ context.Context, chainID int64, hash string) (*chain.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	if chainID != testChain {
		return nil, chain.ErrUnsupportedChain
	}
	rc, ok := f.receipts[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return rc, nil
}

func (f *fakeReader) Transaction(_ context.Context, chainID int64, hash string) (*chain.TxInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if chainID != testChain {
		return nil, chain.ErrUnsupportedChain
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return tx, nil
}

func newGateway(rc *chain.Receipt, tx *chain.TxInfo) *Gateway {
	r := &fakeReader{receipts: map[string]*chain.Receipt{}, txs: map[string]*chain.TxInfo{}}
	if rc != nil {
		r.receipts[txHash] = rc
	}
	if tx != nil {
		r.txs[txHash] = tx
	}
	return NewGateway(r, logging.Discard())
}

func TestVerifyExists(t *testing.T) {
	ctx := context.Background()

	g := newGateway(&chain.Receipt{TxHash: txHash, Status: chain.ReceiptSuccess, GasUsed: 21000}, nil)
	ok, rc, err := g.VerifyExists(ctx, txHash, testChain)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(21000), rc.GasUsed)

	// revert 与不存在同等对待
	g = newGateway(&chain.Receipt{TxHash: txHash, Status: chain.ReceiptFailed}, nil)
	ok, rc, err = g.VerifyExists(ctx, txHash, testChain)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rc)

	g = newGateway(nil, nil)
	ok, _, err = g.VerifyExists(ctx, txHash, testChain)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyExistsPropagatesNodeErrors(t *testing.T) {
	g := NewGateway(&fakeReader{err: errors.New("connection refused")}, logging.Discard())
	_, _, err := g.VerifyExists(context.Background(), txHash, testChain)
	require.Error(t, err)

	g = newGateway(nil, nil)
	_, _, err = g.VerifyExists(context.Background(), txHash, 1)
	require.ErrorIs(t, err, chain.ErrUnsupportedChain)
}

func TestVerifySenderIsCaseInsensitive(t *testing.T) {
	g := newGateway(nil, &chain.TxInfo{Hash: txHash, From: alice, Value: big.NewInt(1)})

	ok, actual, err := g.VerifySender(context.Background(), txHash, testChain, "0xabcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", actual)

	ok, actual, err = g.VerifySender(context.Background(), txHash, testChain, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", actual)
}

func TestVerifyValueIsExact(t *testing.T) {
	g := newGateway(nil, &chain.TxInfo{Hash: txHash, From: alice, Value: big.NewInt(990000000000000000)})

	ok, _, err := g.VerifyValue(context.Background(), txHash, testChain, "990000000000000000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, actual, err := g.VerifyValue(context.Background(), txHash, testChain, "990000000000000001")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "990000000000000000", actual)

	ok, _, err = g.VerifyValue(context.Background(), txHash, testChain, "0.99")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRecipient(t *testing.T) {
	g := newGateway(nil, &chain.TxInfo{Hash: txHash, From: alice, To: escrow, Value: big.NewInt(1)})
	ok, _, err := g.VerifyRecipient(context.Background(), txHash, testChain, escrow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = g.VerifyRecipient(context.Background(), txHash, testChain, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	// 合约创建交易没有接收方
	g = newGateway(nil, &chain.TxInfo{Hash: txHash, From: alice, Value: big.NewInt(1)})
	ok, _, err = g.VerifyRecipient(context.Background(), txHash, testChain, escrow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func resolvedReceipt(emitter string, marketID int64, yes bool) *chain.Receipt {
	word := make([]byte, 32)
	if yes {
		word[31] = 1
	}
	return &chain.Receipt{TxHash: txHash, Status: chain.ReceiptSuccess, Logs: []*types.Log{{
		Address: common.HexToAddress(emitter),
		Topics:  []common.Hash{chain.SigMarketResolved, common.BigToHash(big.NewInt(marketID))},
		Data:    word,
	}}}
}

func TestVerifyMarketResolved(t *testing.T) {
	const pool = "0x00000000000000000000000000000000000c0de1"
	g := newGateway(nil, nil)

	rc := resolvedReceipt(pool, 7, false)
	assert.True(t, g.VerifyMarketResolved(rc, txHash, testChain, pool, "7", model.PredictionNo))

	// 结果不符、盘口不符
	assert.False(t, g.VerifyMarketResolved(rc, txHash, testChain, pool, "7", model.PredictionYes))
	assert.False(t, g.VerifyMarketResolved(rc, txHash, testChain, pool, "8", model.PredictionNo))

	// 其它合约发出的同名事件不算
	assert.False(t, g.VerifyMarketResolved(resolvedReceipt(alice, 7, false), txHash, testChain, pool, "7", model.PredictionNo))

	// 普通转账没有事件
	plain := &chain.Receipt{TxHash: txHash, Status: chain.ReceiptSuccess}
	assert.False(t, g.VerifyMarketResolved(plain, txHash, testChain, pool, "7", model.PredictionNo))
}

func TestErrorRemediation(t *testing.T) {
	assert.Equal(t, RemediationRetry, NewError(ReasonNotFound, txHash, testChain).Remediation())
	assert.Equal(t, RemediationAbandon, NewError(ReasonSenderMismatch, txHash, testChain).Remediation())
	assert.Equal(t, RemediationContactSupport, NewError(ReasonValueMismatch, txHash, testChain).Remediation())
	assert.Equal(t, RemediationAbandon, NewError(ReasonEventMismatch, txHash, testChain).Remediation())
	assert.NotContains(t, PublicMessage, "sender")
}
