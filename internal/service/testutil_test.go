package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"PoolBet/internal/cache"
	"PoolBet/internal/chain"
	"PoolBet/internal/config"
	"PoolBet/internal/events"
	"PoolBet/internal/logging"
	"PoolBet/internal/model"
	"PoolBet/internal/repository"
	"PoolBet/internal/verify"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testChainID = int64(11155111)
	contract    = "0x00000000000000000000000000000000000c0de1"
	escrow      = "0x00000000000000000000000000000000000e5c20"
	alice       = "0xaaaa000000000000000000000000000000000001"
	mallory     = "0xbbbb000000000000000000000000000000000002"
)

func txHash(n int) string { return fmt.Sprintf("0x%064x", n) }

// fakeLedger 以内存交易表实现 verify.ChainReader，交给真实 Gateway 使用
type fakeLedger struct {
	mu  sync.Mutex
	txs map[string]fakeTx
	err error
}

type fakeTx struct {
	from, to string
	value    *big.Int
	failed   bool
	logs     []*types.Log
}

func newFakeLedger() *fakeLedger { return &fakeLedger{txs: map[string]fakeTx{}} }

func (l *fakeLedger) add(hash, from, to string, value int64, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[strings.ToLower(hash)] = fakeTx{from: from, to: to, value: big.NewInt(value), failed: failed}
}

func (l *fakeLedger) addWei(hash, from, to, wei string) {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		panic(wei)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[strings.ToLower(hash)] = fakeTx{from: from, to: to, value: v}
}

// addResolution from 调用下注合约结算 marketID，回执带合约发出的 MarketResolved 事件
func (l *fakeLedger) addResolution(hash, from string, marketID int64, result model.Prediction) {
	word := make([]byte, 32)
	if result == model.PredictionYes {
		word[31] = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[strings.ToLower(hash)] = fakeTx{from: from, to: contract, value: big.NewInt(0), logs: []*types.Log{{
		Address: common.HexToAddress(contract),
		Topics:  []common.Hash{chain.SigMarketResolved, common.BigToHash(big.NewInt(marketID))},
		Data:    word,
	}}}
}

func (l *fakeLedger) Receipt(_ context.Context, chainID int64, hash string) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if chainID != testChainID {
		return nil, chain.ErrUnsupportedChain
	}
	tx, ok := l.txs[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	status := chain.ReceiptSuccess
	if tx.failed {
		status = chain.ReceiptFailed
	}
	return &chain.Receipt{TxHash: hash, Status: status, GasUsed: 21000, BlockNumber: 1, Logs: tx.logs}, nil
}

func (l *fakeLedger) Transaction(_ context.Context, chainID int64, hash string) (*chain.TxInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if chainID != testChainID {
		return nil, chain.ErrUnsupportedChain
	}
	tx, ok := l.txs[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return &chain.TxInfo{Hash: hash, From: tx.from, To: tx.to, Value: new(big.Int).Set(tx.value)}, nil
}

type staticChains map[int64]config.ChainConfig

func (c staticChains) Config(chainID int64) (config.ChainConfig, bool) {
	cc, ok := c[chainID]
	return cc, ok
}

// capturePublisher 记录投递过的事件
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	ledger    *fakeLedger
	publisher *capturePublisher
	pools     *fakePools
	records   *RecordService
	markets   *MarketService
	marketRep repository.MarketRepository
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithHistory(t, nil)
}

// newFixtureWithHistory history 为 nil 时不缓存
func newFixtureWithHistory(t *testing.T, history cache.BetHistoryCache) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := logging.Discard()
	ledger := newFakeLedger()
	pub := &capturePublisher{}
	marketRepo := repository.NewMarketRepository(db)

	records := NewRecordService(RecordDeps{
		Bets:         repository.NewBetRepository(db),
		Transactions: repository.NewTransactionRepository(db),
		Markets:      marketRepo,
		Gateway:      verify.NewGateway(ledger, log),
		Chains: staticChains{testChainID: {
			RPCURL:          "http://unused",
			ContractAddress: contract,
			EscrowAddress:   escrow,
		}},
		History:   history,
		Publisher: pub,
		Logger:    log,
	})
	pools := &fakePools{pools: map[string][2]int64{}}
	return &fixture{
		db:        db,
		ledger:    ledger,
		publisher: pub,
		pools:     pools,
		records:   records,
		markets:   NewMarketService(marketRepo, records, NewPoolSyncService(marketRepo, pools, log), pub, log),
		marketRep: marketRepo,
	}
}

func (f *fixture) seedMarket(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.marketRep.CreateMarket(context.Background(), &model.Market{
		ID:             id,
		ChainID:        testChainID,
		CreatorAddress: alice,
		Title:          "Home vs Away",
		Status:         model.MarketLive,
		Deadline:       time.Now().Add(24 * time.Hour),
	}))
}

func (f *fixture) resolve(t *testing.T, id string, result model.Prediction, yesPool, noPool string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.marketRep.UpdatePools(ctx, id, yesPool, noPool, "0", time.Now()))
	_, err := f.marketRep.ResolveMarket(ctx, id, result, time.Now(), model.ResolvedByChain)
	require.NoError(t, err)
}

func (f *fixture) countBets(t *testing.T, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Bet{}).Where(where, args...).Count(&n).Error)
	return n
}
