package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Wallet 客户端签名账户：发送交易、等待回执、检查合约部署
type Wallet struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	// 串行化 nonce 分配，避免同一账户并发发送时 nonce 冲突
	sendMu sync.Mutex
}

// NewWallet 连接 RPC 并加载私钥（可带 0x 前缀）
func NewWallet(ctx context.Context, rpcURL, privateKeyHex string) (*Wallet, error) {
	if rpcURL == "" || privateKeyHex == "" {
		return nil, fmt.Errorf("rpc_url, private_key 必填")
	}
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &Wallet{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func parsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	keyBuf, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBuf)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return key, nil
}

// Address 钱包地址（checksum 格式）
func (w *Wallet) Address() string { return w.from.Hex() }

// ChainID 当前连接的链
func (w *Wallet) ChainID() int64 { return w.chainID.Int64() }

// IsDeployed 地址上是否有合约代码
func (w *Wallet) IsDeployed(ctx context.Context, addr string) (bool, error) {
	code, err := w.client.CodeAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return false, fmt.Errorf("code at: %w", err)
	}
	return len(code) > 0, nil
}

// Submit 签名并广播一笔交易，返回交易哈希
func (w *Wallet) Submit(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	toAddr := common.HexToAddress(to)
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.from,
		To:    &toAddr,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := w.client.PendingNonceAt(ctx, w.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &toAddr,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForReceipt 轮询回执直到拿到或 ctx 结束；调用方负责用 ctx 限定等待上限
func (w *Wallet) WaitForReceipt(ctx context.Context, hash string, poll time.Duration) (*Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	h := common.HexToHash(hash)
	for {
		// NotFound 与节点抖动一样继续轮询，超时由 ctx 控制
		if rc, err := w.client.TransactionReceipt(ctx, h); err == nil {
			return convertReceipt(rc), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
		case <-time.After(poll):
		}
	}
}

// Close 关闭连接
func (w *Wallet) Close() { w.client.Close() }
