package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/events"
	"PoolBet/internal/metrics"
	"PoolBet/internal/model"
	"PoolBet/internal/repository"

	"github.com/sirupsen/logrus"
)

// TransactionRecorder 经验证写入交易审计日志、核实结算事件（RecordService 实现）
type TransactionRecorder interface {
	CreateTransaction(ctx context.Context, in CreateTransactionInput) (*model.Transaction, error)
	VerifyResolution(ctx context.Context, hash string, chainID int64, marketID string, result model.Prediction) error
}

// MarketPoolSyncer 结算前刷新盘口的链上奖池（PoolSyncService 实现）
type MarketPoolSyncer interface {
	SyncMarket(ctx context.Context, marketID string) error
}

// MarketService 盘口的创建、结算与查询
type MarketService struct {
	repo      repository.MarketRepository
	recorder  TransactionRecorder
	pools     MarketPoolSyncer
	publisher events.Publisher
	logger    *logrus.Logger
}

// NewMarketService 创建 MarketService；pools、publisher 可为 nil
func NewMarketService(repo repository.MarketRepository, recorder TransactionRecorder, pools MarketPoolSyncer, publisher events.Publisher, logger *logrus.Logger) *MarketService {
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &MarketService{repo: repo, recorder: recorder, pools: pools, publisher: publisher, logger: logger}
}

// MarketListResult 列表返回
type MarketListResult struct {
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int64           `json:"total"`
	Items    []*model.Market `json:"items"`
}

// ListMarkets status 为空返回全部
func (s *MarketService) ListMarkets(ctx context.Context, status string, page, pageSize int) (*MarketListResult, error) {
	if status != "" && !model.MarketStatus(status).Valid() {
		return nil, invalid("status", "must be live, upcoming or completed")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	items, total, err := s.repo.ListMarkets(ctx, repository.MarketFilter{Status: status}, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询盘口列表失败: %w", err)
	}
	return &MarketListResult{Page: page, PageSize: pageSize, Total: total, Items: items}, nil
}

// GetMarket 按合约 marketId 查询
func (s *MarketService) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := s.repo.GetMarket(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("查询盘口失败: %w", err)
	}
	return m, nil
}

// CreateMarketInput POST /api/markets：由用户提交的 create_market 交易创建
type CreateMarketInput struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Status          model.MarketStatus `json:"status"`
	Deadline        time.Time          `json:"deadline"`
	YesOdds         float64            `json:"yesOdds"`
	NoOdds          float64            `json:"noOdds"`
	CreatorAddress  string             `json:"creatorAddress"`
	TransactionHash string             `json:"transactionHash"`
	ChainID         int64              `json:"chainId"`
}

// CreateMarket 先经验证写入 create_market 交易（须发往下注合约），再插入盘口。不接受 completed 状态。
// id 已存在时只有原创建者可在同一条链上修改未结算盘口的描述字段，否则返回 ErrMarketExists。
func (s *MarketService) CreateMarket(ctx context.Context, in CreateMarketInput) (*model.Market, error) {
	if err := validateMarketID(in.ID); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = model.MarketUpcoming
	}
	if in.Status != model.MarketLive && in.Status != model.MarketUpcoming {
		return nil, invalid("status", "must be live or upcoming")
	}
	if in.Deadline.IsZero() {
		return nil, invalid("deadline", "required")
	}
	if in.YesOdds < 0 || in.NoOdds < 0 {
		return nil, invalid("odds", "must not be negative")
	}
	creator := chain.NormalizeAddress(in.CreatorAddress)

	existing, err := s.repo.GetMarket(ctx, in.ID)
	switch {
	case err == nil:
		if existing.CreatorAddress == "" || existing.CreatorAddress != creator || existing.ChainID != in.ChainID || existing.Resolved() {
			return nil, ErrMarketExists
		}
	case repository.IsNotFound(err):
		existing = nil
	default:
		return nil, fmt.Errorf("查询盘口失败: %w", err)
	}

	if _, err := s.recorder.CreateTransaction(ctx, CreateTransactionInput{
		UserAddress:     in.CreatorAddress,
		Type:            model.TxTypeCreateMarket,
		TransactionHash: in.TransactionHash,
		ChainID:         in.ChainID,
	}); err != nil {
		return nil, err
	}

	m := &model.Market{
		ID:             in.ID,
		ChainID:        in.ChainID,
		CreatorAddress: creator,
		Title:          in.Title,
		Status:         in.Status,
		Deadline:       in.Deadline,
		YesOdds:        in.YesOdds,
		NoOdds:         in.NoOdds,
	}
	log := s.logger.WithFields(logrus.Fields{"market_id": m.ID, "chain_id": m.ChainID, "tx_hash": in.TransactionHash})
	if existing != nil {
		ok, err := s.repo.UpdateMarketInfo(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("更新盘口失败: %w", err)
		}
		if !ok {
			return nil, ErrMarketExists
		}
		log.Info("盘口描述已由创建者更新")
		return s.GetMarket(ctx, m.ID)
	}
	if err := s.repo.CreateMarket(ctx, m); err != nil {
		if errors.Is(err, repository.ErrMarketExists) {
			return nil, ErrMarketExists
		}
		return nil, fmt.Errorf("保存盘口失败: %w", err)
	}
	log.Info("盘口已创建")
	return s.GetMarket(ctx, m.ID)
}

// ResolveInput POST /api/markets/:id/resolve
type ResolveInput struct {
	MarketID        string           `json:"-"`
	Result          model.Prediction `json:"result"`
	Caller          string           `json:"-"`
	TransactionHash string           `json:"transactionHash"`
	ChainID         int64            `json:"chainId"`
}

// ResolveMarket 上报的结算交易须发往盘口所在链的下注合约，回执须含相同结果的 MarketResolved 事件。
// 核实后先同步最终奖池，再写入结果。
func (s *MarketService) ResolveMarket(ctx context.Context, in ResolveInput) (*model.Market, error) {
	if err := validateResult(in.Result); err != nil {
		return nil, err
	}
	m, err := s.GetMarket(ctx, in.MarketID)
	if err != nil {
		return nil, err
	}
	if m.ChainID != in.ChainID {
		return nil, ErrChainMismatch
	}
	if err := s.recorder.VerifyResolution(ctx, in.TransactionHash, in.ChainID, in.MarketID, in.Result); err != nil {
		return nil, err
	}
	if _, err := s.recorder.CreateTransaction(ctx, CreateTransactionInput{
		UserAddress:     in.Caller,
		Type:            model.TxTypeResolveMarket,
		TransactionHash: in.TransactionHash,
		ChainID:         in.ChainID,
	}); err != nil {
		return nil, err
	}
	s.syncPools(ctx, in.MarketID)
	return s.applyResolution(ctx, m.ID, in.Result, time.Now(), model.ResolvedByAPI)
}

// ApplyChainResolution 链上监听器写入 MarketResolved 结果（权威来源）。
// 同一结果重复应用为幂等；与经 API 写入的不同结果冲突时以链上为准覆盖。
func (s *MarketService) ApplyChainResolution(ctx context.Context, chainID int64, id string, result model.Prediction, at time.Time) (*model.Market, error) {
	if err := validateResult(result); err != nil {
		return nil, err
	}
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ChainID != chainID {
		s.logger.WithFields(logrus.Fields{
			"market_id":    id,
			"market_chain": m.ChainID,
			"event_chain":  chainID,
		}).Warn("结算事件来自其它链，忽略")
		return nil, ErrChainMismatch
	}
	return s.applyResolution(ctx, id, result, at, model.ResolvedByChain)
}

func (s *MarketService) applyResolution(ctx context.Context, id string, result model.Prediction, at time.Time, source model.ResolutionSource) (*model.Market, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Resolved() {
		return s.resolvedAgain(ctx, m, result, at, source)
	}

	updated, err := s.repo.ResolveMarket(ctx, id, result, at, source)
	if err != nil {
		return nil, fmt.Errorf("写入盘口结果失败: %w", err)
	}
	m, err = s.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !updated {
		// 并发结算，以先写入者为准（链上结果仍可覆盖 API 结果）
		return s.resolvedAgain(ctx, m, result, at, source)
	}

	s.logger.WithFields(logrus.Fields{"market_id": id, "result": result, "source": source}).Info("盘口已结算")
	s.publishResolved(ctx, m)
	return m, nil
}

// resolvedAgain 已有结果时：相同结果幂等；链上结果覆盖 API 结果；其余冲突返回 ErrResultConflict
func (s *MarketService) resolvedAgain(ctx context.Context, m *model.Market, result model.Prediction, at time.Time, source model.ResolutionSource) (*model.Market, error) {
	if m.Result != nil && *m.Result == result {
		return m, nil
	}
	if source != model.ResolvedByChain || m.ResolutionSource == model.ResolvedByChain {
		s.logger.WithFields(logrus.Fields{
			"market_id": m.ID,
			"existing":  m.Result,
			"incoming":  result,
			"source":    source,
		}).Warn("盘口结果冲突，忽略")
		return nil, ErrResultConflict
	}

	ok, err := s.repo.OverrideResolution(ctx, m.ID, result, at)
	if err != nil {
		return nil, fmt.Errorf("覆盖盘口结果失败: %w", err)
	}
	updated, err := s.GetMarket(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if updated.Result != nil && *updated.Result == result {
			return updated, nil
		}
		return nil, ErrResultConflict
	}
	metrics.ResolutionOverrides.Inc()
	s.logger.WithFields(logrus.Fields{
		"market_id": m.ID,
		"api":       *m.Result,
		"chain":     result,
	}).Error("链上结算结果与 API 上报不一致，已按链上结果覆盖，已领取的下注需人工核查")
	s.publishResolved(ctx, updated)
	return updated, nil
}

func (s *MarketService) publishResolved(ctx context.Context, m *model.Market) {
	if err := s.publisher.Publish(ctx, events.Event{
		Type:     events.TypeMarketResolved,
		MarketID: m.ID,
		Result:   string(*m.Result),
		ChainID:  m.ChainID,
	}); err != nil {
		s.logger.WithError(err).WithField("market_id", m.ID).Warn("投递结算事件失败")
	}
}

// syncPools 失败只记日志，奖池留待定时同步修正
func (s *MarketService) syncPools(ctx context.Context, id string) {
	if s.pools == nil {
		return
	}
	if err := s.pools.SyncMarket(ctx, id); err != nil {
		s.logger.WithError(err).WithField("market_id", id).Warn("结算前同步奖池失败")
	}
}
