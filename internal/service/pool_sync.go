package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"PoolBet/internal/metrics"
	"PoolBet/internal/repository"

	"github.com/sirupsen/logrus"
)

// PoolReader 读取链上奖池（chain.Registry 实现）
type PoolReader interface {
	MarketPools(ctx context.Context, chainID int64, marketID string) (yesPool, noPool *big.Int, err error)
}

// ErrMarketWithoutChain 盘口未绑定链，无从读取奖池
var ErrMarketWithoutChain = errors.New("market has no chain")

// PoolSyncService 定期把合约上的奖池写回 markets 表。每个盘口只读自己所在链的合约。
type PoolSyncService struct {
	repo   repository.MarketRepository
	reader PoolReader
	logger *logrus.Logger
}

// NewPoolSyncService 创建奖池同步服务
func NewPoolSyncService(repo repository.MarketRepository, reader PoolReader, logger *logrus.Logger) *PoolSyncService {
	return &PoolSyncService{repo: repo, reader: reader, logger: logger}
}

// Run 同步所有未结算盘口；单个盘口失败只记日志
func (s *PoolSyncService) Run(ctx context.Context) error {
	markets, err := s.repo.ListUnresolved(ctx, 500)
	if err != nil {
		return fmt.Errorf("ListUnresolved: %w", err)
	}
	updated := 0
	for _, m := range markets {
		if err := s.SyncMarket(ctx, m.ID); err != nil {
			s.logger.WithError(err).WithField("market_id", m.ID).Warn("同步奖池失败")
			continue
		}
		updated++
	}
	if updated > 0 {
		s.logger.Debugf("奖池同步：更新 %d 个盘口", updated)
	}
	return nil
}

// SyncMarket 同步单个盘口（链上监听到下注、结算事件以及 API 结算时也会调用）。
// 已结算盘口同样可以同步，结算时的最终奖池以此为准。
func (s *PoolSyncService) SyncMarket(ctx context.Context, marketID string) error {
	m, err := s.repo.GetMarket(ctx, marketID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrMarketNotFound
		}
		return fmt.Errorf("GetMarket: %w", err)
	}
	if m.ChainID <= 0 {
		return fmt.Errorf("market %s: %w", marketID, ErrMarketWithoutChain)
	}
	yes, no, err := s.reader.MarketPools(ctx, m.ChainID, marketID)
	if err != nil {
		metrics.PoolSyncErrors.Inc()
		return err
	}
	total := new(big.Int).Add(yes, no)
	if err := s.repo.UpdatePools(ctx, marketID, yes.String(), no.String(), total.String(), time.Now()); err != nil {
		metrics.PoolSyncErrors.Inc()
		return fmt.Errorf("UpdatePools: %w", err)
	}
	return nil
}

// Loop 按间隔执行 Run，直到 ctx 取消
func (s *PoolSyncService) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("奖池同步失败")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
