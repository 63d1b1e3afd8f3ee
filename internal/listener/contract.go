package listener

import (
	"context"
	"math/big"
	"time"

	"PoolBet/internal/model"

	"github.com/sirupsen/logrus"
)

// BetPlacedEvent 合约 BetPlaced 事件
type BetPlacedEvent struct {
	MarketID    string
	User        string
	Prediction  model.Prediction
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
}

// MarketResolvedEvent 合约 MarketResolved 事件
type MarketResolvedEvent struct {
	ChainID     int64
	MarketID    string
	Result      model.Prediction
	TxHash      string
	BlockNumber uint64
}

// PoolSyncer 重新读取单个盘口的链上奖池
type PoolSyncer interface {
	SyncMarket(ctx context.Context, marketID string) error
}

// Resolver 写入链上结果，同一结果重复写入幂等；链上结果覆盖经 API 写入的不同结果
type Resolver interface {
	ApplyChainResolution(ctx context.Context, chainID int64, id string, result model.Prediction, at time.Time) (*model.Market, error)
}

// ContractListener 把链上事件转成服务调用：下注后刷新奖池，结算后写入结果
type ContractListener struct {
	pools    PoolSyncer
	resolver Resolver
	logger   *logrus.Logger
}

// NewContractListener 创建合约事件监听器
func NewContractListener(pools PoolSyncer, resolver Resolver, logger *logrus.Logger) *ContractListener {
	return &ContractListener{pools: pools, resolver: resolver, logger: logger}
}

// OnBetPlaced 链上奖池以合约为准，这里只触发重新同步
func (l *ContractListener) OnBetPlaced(ctx context.Context, ev *BetPlacedEvent) error {
	if ev == nil {
		return nil
	}
	if err := l.pools.SyncMarket(ctx, ev.MarketID); err != nil {
		l.logger.WithError(err).WithField("market_id", ev.MarketID).Warn("BetPlaced 后同步奖池失败")
		return err
	}
	l.logger.WithFields(logrus.Fields{
		"market_id": ev.MarketID,
		"user":      ev.User,
		"amount":    ev.Amount,
		"tx_hash":   ev.TxHash,
	}).Debug("BetPlaced")
	return nil
}

// OnMarketResolved 先按最终奖池同步一次，再写入结果（权威来源）。
// 同步失败不阻止结算，奖池留待定时同步修正。
func (l *ContractListener) OnMarketResolved(ctx context.Context, ev *MarketResolvedEvent) error {
	if ev == nil {
		return nil
	}
	if err := l.pools.SyncMarket(ctx, ev.MarketID); err != nil {
		l.logger.WithError(err).WithField("market_id", ev.MarketID).Warn("MarketResolved 前同步奖池失败")
	}
	if _, err := l.resolver.ApplyChainResolution(ctx, ev.ChainID, ev.MarketID, ev.Result, time.Now()); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"chain_id":  ev.ChainID,
			"market_id": ev.MarketID,
			"result":    ev.Result,
			"tx_hash":   ev.TxHash,
		}).Error("ApplyChainResolution failed")
		return err
	}
	l.logger.WithField("market_id", ev.MarketID).WithField("result", ev.Result).Info("MarketResolved applied")
	return nil
}
