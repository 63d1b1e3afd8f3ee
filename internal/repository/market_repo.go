package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PoolBet/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMarketExists marketId 已存在（主键保证）
var ErrMarketExists = errors.New("market already exists")

// MarketFilter 列表筛选条件
type MarketFilter struct {
	Status string // live / upcoming / completed，空为全部
}

// MarketRepository 盘口仓储
type MarketRepository interface {
	// ListMarkets 按过滤条件分页查询，按截止时间升序
	ListMarkets(ctx context.Context, filter MarketFilter, page, pageSize int) ([]*model.Market, int64, error)
	// GetMarket 通过合约 marketId 获取
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	// CreateMarket 只插入；id 已存在返回 ErrMarketExists
	CreateMarket(ctx context.Context, m *model.Market) error
	// UpdateMarketInfo 只更新未结算盘口的描述性字段，不触碰结果与奖池；返回是否实际更新
	UpdateMarketInfo(ctx context.Context, m *model.Market) (bool, error)
	// ResolveMarket 仅当尚无结果时写入；返回是否实际更新
	ResolveMarket(ctx context.Context, id string, result model.Prediction, resolvedAt time.Time, source model.ResolutionSource) (bool, error)
	// OverrideResolution 用链上结果覆盖经 API 写入的不同结果；返回是否实际更新
	OverrideResolution(ctx context.Context, id string, result model.Prediction, resolvedAt time.Time) (bool, error)
	// UpdatePools 写入链上奖池快照
	UpdatePools(ctx context.Context, id, yesPool, noPool, totalPool string, syncedAt time.Time) error
	// ListUnresolved 已绑定链的未结算盘口（供奖池同步）
	ListUnresolved(ctx context.Context, limit int) ([]*model.Market, error)
}

type marketRepository struct {
	db *gorm.DB
}

// NewMarketRepository 创建 MarketRepository 实例
func NewMarketRepository(db *gorm.DB) MarketRepository {
	return &marketRepository{db: db}
}

func (r *marketRepository) ListMarkets(ctx context.Context, filter MarketFilter, page, pageSize int) ([]*model.Market, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	db := r.db.WithContext(ctx).Model(&model.Market{})
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var markets []*model.Market
	if err := db.
		Order("deadline ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&markets).Error; err != nil {
		return nil, 0, err
	}
	return markets, total, nil
}

func (r *marketRepository) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *marketRepository) CreateMarket(ctx context.Context, m *model.Market) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		if IsDuplicateKey(res.Error) {
			return fmt.Errorf("market %s: %w", m.ID, ErrMarketExists)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("market %s: %w", m.ID, ErrMarketExists)
	}
	return nil
}

func (r *marketRepository) UpdateMarketInfo(ctx context.Context, m *model.Market) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Market{}).
		Where("id = ? AND result IS NULL", m.ID).
		Updates(map[string]interface{}{
			"title":      m.Title,
			"deadline":   m.Deadline,
			"yes_odds":   m.YesOdds,
			"no_odds":    m.NoOdds,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *marketRepository) ResolveMarket(ctx context.Context, id string, result model.Prediction, resolvedAt time.Time, source model.ResolutionSource) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Market{}).
		Where("id = ? AND result IS NULL", id).
		Updates(map[string]interface{}{
			"status":            model.MarketCompleted,
			"result":            result,
			"resolution_source": source,
			"resolved_at":       resolvedAt,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *marketRepository) OverrideResolution(ctx context.Context, id string, result model.Prediction, resolvedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Market{}).
		Where("id = ? AND result IS NOT NULL AND result <> ? AND resolution_source = ?", id, result, model.ResolvedByAPI).
		Updates(map[string]interface{}{
			"status":            model.MarketCompleted,
			"result":            result,
			"resolution_source": model.ResolvedByChain,
			"resolved_at":       resolvedAt,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *marketRepository) UpdatePools(ctx context.Context, id, yesPool, noPool, totalPool string, syncedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Market{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"yes_pool_on_chain": yesPool,
			"no_pool_on_chain":  noPool,
			"total_pool":        totalPool,
			"pools_synced_at":   syncedAt,
			"updated_at":        time.Now(),
		}).Error
}

func (r *marketRepository) ListUnresolved(ctx context.Context, limit int) ([]*model.Market, error) {
	if limit <= 0 {
		limit = 500
	}
	var markets []*model.Market
	if err := r.db.WithContext(ctx).Model(&model.Market{}).
		Where("status <> ? AND chain_id > 0", model.MarketCompleted).
		Order("deadline ASC").
		Limit(limit).Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}
