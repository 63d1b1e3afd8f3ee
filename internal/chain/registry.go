package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"

	"PoolBet/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Registry 服务端只读链访问：按 chainId 懒加载 ethclient，供验证网关与奖池同步使用
type Registry struct {
	mu      sync.Mutex
	chains  map[int64]config.ChainConfig
	clients map[int64]*ethclient.Client
}

// NewRegistry 由配置构建；chains 的 key 为十进制 chainId
func NewRegistry(chains map[string]config.ChainConfig) (*Registry, error) {
	r := &Registry{
		chains:  make(map[int64]config.ChainConfig, len(chains)),
		clients: make(map[int64]*ethclient.Client),
	}
	for k, c := range chains {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain id %q: %w", k, err)
		}
		if c.RPCURL == "" {
			return nil, fmt.Errorf("chain %d: rpc_url 必填", id)
		}
		r.chains[id] = c
	}
	return r, nil
}

// Config 取某条链的配置
func (r *Registry) Config(chainID int64) (config.ChainConfig, bool) {
	c, ok := r.chains[chainID]
	return c, ok
}

// ChainIDs 已配置的链，升序
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cli, ok := r.clients[chainID]; ok {
		return cli, nil
	}
	cli, err := ethclient.DialContext(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc chain %d: %w", chainID, err)
	}
	r.clients[chainID] = cli
	return cli, nil
}

// Receipt 查询回执；不存在返回 ErrTxNotFound
func (r *Registry) Receipt(ctx context.Context, chainID int64, hash string) (*Receipt, error) {
	cli, err := r.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	rc, err := cli.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("transaction receipt: %w", err)
	}
	return convertReceipt(rc), nil
}

// Transaction 查询交易本体并恢复发送方地址
func (r *Registry) Transaction(ctx context.Context, chainID int64, hash string) (*TxInfo, error) {
	cli, err := r.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	tx, _, err := cli.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("transaction by hash: %w", err)
	}
	return txInfo(tx, big.NewInt(chainID))
}

// MarketPools 读取合约上某盘口的 yes/no 奖池
func (r *Registry) MarketPools(ctx context.Context, chainID int64, marketID string) (yesPool, noPool *big.Int, err error) {
	c, ok := r.chains[chainID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	cli, err := r.client(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	data, err := PackGetMarketPools(marketID)
	if err != nil {
		return nil, nil, err
	}
	to := common.HexToAddress(c.ContractAddress)
	res, err := cli.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("call getMarketPools: %w", err)
	}
	return UnpackMarketPools(res)
}

// Close 关闭已建立的连接
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cli := range r.clients {
		cli.Close()
		delete(r.clients, id)
	}
}

func convertReceipt(rc *types.Receipt) *Receipt {
	status := ReceiptFailed
	if rc.Status == types.ReceiptStatusSuccessful {
		status = ReceiptSuccess
	}
	var block uint64
	if rc.BlockNumber != nil {
		block = rc.BlockNumber.Uint64()
	}
	return &Receipt{
		TxHash:      rc.TxHash.Hex(),
		Status:      status,
		GasUsed:     rc.GasUsed,
		BlockNumber: block,
		Logs:        rc.Logs,
	}
}

func txInfo(tx *types.Transaction, chainID *big.Int) (*TxInfo, error) {
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	info := &TxInfo{
		Hash:  tx.Hash().Hex(),
		From:  from.Hex(),
		Value: new(big.Int).Set(tx.Value()),
	}
	if tx.To() != nil {
		info.To = tx.To().Hex()
	}
	return info, nil
}
