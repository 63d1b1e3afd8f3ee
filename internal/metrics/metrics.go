package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationFailures 验证网关拒绝次数，按原因区分（安全相关事件）
	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "verification_failures_total",
		Help:      "Client-reported transactions rejected by the verification gateway.",
	}, []string{"check", "reason"})

	// RecordsWritten 记录服务成功写入
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "records_written_total",
		Help:      "Records persisted through the verified write path.",
	}, []string{"kind"})

	// DuplicateRecords 以交易哈希去重拒绝的写入
	DuplicateRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "duplicate_records_total",
		Help:      "Writes rejected because the transaction hash was already recorded.",
	}, []string{"kind"})

	// ZeroWinningPool 已结算盘口的获胜方奖池为 0，派彩被置 0，需要人工关注
	ZeroWinningPool = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "payout_zero_winning_pool_total",
		Help:      "Payout computations that hit an empty winning pool.",
	})

	// CoordinatorOutcomes 客户端两阶段流程的终态分布
	CoordinatorOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "coordinator_outcomes_total",
		Help:      "Terminal outcomes of the tax-then-bet sequence.",
	}, []string{"outcome"})

	// OutboxPending outbox 中待重试条目
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "poolbet",
		Name:      "outbox_pending",
		Help:      "Entries waiting in the persistence outbox.",
	})

	// PoolSyncErrors 奖池同步失败次数
	PoolSyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "pool_sync_errors_total",
		Help:      "Markets whose on-chain pools could not be read.",
	})

	// ResolutionOverrides 链上结果覆盖 API 结果的次数
	ResolutionOverrides = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolbet",
		Name:      "resolution_overrides_total",
		Help:      "API-reported market results replaced by a different on-chain MarketResolved result.",
	})
)
