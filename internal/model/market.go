package model

import (
	"time"
)

// MarketStatus 盘口状态
type MarketStatus string

const (
	MarketLive      MarketStatus = "live"
	MarketUpcoming  MarketStatus = "upcoming"
	MarketCompleted MarketStatus = "completed"
)

func (s MarketStatus) Valid() bool {
	return s == MarketLive || s == MarketUpcoming || s == MarketCompleted
}

// ResolutionSource 结果来源：链上事件或经验证的 API 上报
type ResolutionSource string

const (
	ResolvedByChain ResolutionSource = "chain"
	ResolvedByAPI   ResolutionSource = "api"
)

// Market 对应 markets 表。Result 非空当且仅当 Status=completed。
// 奖池字段镜像 ChainID 所在链的合约，由 PoolSyncService 定期同步，不从 bets 表推导。
type Market struct {
	ID               string           `gorm:"column:id;type:varchar(78);primaryKey" json:"id"` // 合约 marketId（十进制）
	ChainID          int64            `gorm:"column:chain_id;not null;default:0;index" json:"chainId"`
	CreatorAddress   string           `gorm:"column:creator_address;type:varchar(42)" json:"creatorAddress,omitempty"`
	Title            string           `gorm:"column:title;type:varchar(256)" json:"title,omitempty"`
	Status           MarketStatus     `gorm:"column:status;type:varchar(16);not null;default:'upcoming';index" json:"status"`
	Deadline         time.Time        `gorm:"column:deadline;not null" json:"deadline"`
	YesOdds          float64          `gorm:"column:yes_odds;default:0" json:"yesOdds"`
	NoOdds           float64          `gorm:"column:no_odds;default:0" json:"noOdds"`
	TotalPool        string           `gorm:"column:total_pool;type:varchar(78);not null;default:'0'" json:"totalPool"`
	YesPoolOnChain   string           `gorm:"column:yes_pool_on_chain;type:varchar(78);not null;default:'0'" json:"yesPoolOnChain"`
	NoPoolOnChain    string           `gorm:"column:no_pool_on_chain;type:varchar(78);not null;default:'0'" json:"noPoolOnChain"`
	Result           *Prediction      `gorm:"column:result;type:varchar(8)" json:"result"`
	ResolutionSource ResolutionSource `gorm:"column:resolution_source;type:varchar(8)" json:"resolutionSource,omitempty"`
	ResolvedAt       *time.Time       `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	PoolsSyncedAt    *time.Time       `gorm:"column:pools_synced_at" json:"poolsSyncedAt,omitempty"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updatedAt"`
}

func (Market) TableName() string { return "markets" }

// Resolved 已出结果
func (m *Market) Resolved() bool {
	return m.Status == MarketCompleted && m.Result != nil
}
