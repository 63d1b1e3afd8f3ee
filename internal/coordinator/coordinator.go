// Package coordinator 客户端两阶段下注流程：先向托管地址转税费，税费确认后再向合约下注。
// 下注失败时登记退款；记录服务写入失败交给 outbox 重试；回执等待有上限，超时进入 stuck 由 outbox 核对。
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/outbox"
	"PoolBet/internal/recordclient"

	"github.com/sirupsen/logrus"
)

// Ledger 签名账户的写侧能力，*chain.Wallet 实现
type Ledger interface {
	Address() string
	ChainID() int64
	IsDeployed(ctx context.Context, addr string) (bool, error)
	Submit(ctx context.Context, to string, value *big.Int, data []byte) (string, error)
	WaitForReceipt(ctx context.Context, hash string, poll time.Duration) (*chain.Receipt, error)
}

// Recorder 记录服务写接口，*recordclient.Client 实现；重复写入须视为成功
type Recorder interface {
	RecordTransaction(ctx context.Context, r recordclient.TransactionRecord) error
	RecordBet(ctx context.Context, r recordclient.BetRecord) error
	MarkForRefund(ctx context.Context, r recordclient.RefundRecord) error
}

// Queue outbox 入队，*outbox.Store 实现
type Queue interface {
	Enqueue(kind outbox.Kind, payload interface{}) (*outbox.Entry, error)
}

// Config 流程参数
type Config struct {
	ContractAddress string
	EscrowAddress   string
	TaxRateBps      int64
	MinBet          *big.Int      // wei，nil 表示不限制
	ConfirmTimeout  time.Duration // 单笔回执等待上限
	PollInterval    time.Duration
	RecordTimeout   time.Duration // 单次记录服务调用上限
}

// Deps 依赖
type Deps struct {
	Ledger   Ledger
	Recorder Recorder
	Outbox   Queue
	Logger   *logrus.Logger
	// OnTransition 每次状态迁移的回调（可空），用于进度展示
	OnTransition func(intentID string, t Transition)
}

// Coordinator 共享依赖与进行中的意图集合；每次下注通过 NewSession 得到独立会话
type Coordinator struct {
	cfg          Config
	ledger       Ledger
	recorder     Recorder
	outbox       Queue
	logger       *logrus.Logger
	onTransition func(string, Transition)
	now          func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// New 校验配置并构建
func New(cfg Config, d Deps) (*Coordinator, error) {
	if !chain.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: contract %q", ErrInvalidAddress, cfg.ContractAddress)
	}
	if !chain.IsHexAddress(cfg.EscrowAddress) {
		return nil, fmt.Errorf("%w: escrow %q", ErrInvalidAddress, cfg.EscrowAddress)
	}
	if cfg.TaxRateBps <= 0 || cfg.TaxRateBps >= bpsDenominator {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTaxRate, cfg.TaxRateBps)
	}
	if d.Ledger == nil || d.Recorder == nil || d.Outbox == nil || d.Logger == nil {
		return nil, fmt.Errorf("coordinator: ledger, recorder, outbox, logger 必填")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 15 * time.Second
	}
	return &Coordinator{
		cfg:          cfg,
		ledger:       d.Ledger,
		recorder:     d.Recorder,
		outbox:       d.Outbox,
		logger:       d.Logger,
		onTransition: d.OnTransition,
		now:          time.Now,
		active:       make(map[string]struct{}),
	}, nil
}

// NewSession 新会话，初始为 idle
func (c *Coordinator) NewSession() *Session {
	return &Session{c: c, state: StateIdle}
}

// acquire 同一意图只允许一个会话执行
func (c *Coordinator) acquire(intentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[intentID]; ok {
		return false
	}
	c.active[intentID] = struct{}{}
	return true
}

func (c *Coordinator) release(intentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, intentID)
}

// InFlight 进行中的意图数
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
