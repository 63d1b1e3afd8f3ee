package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/metrics"
	"PoolBet/internal/model"
	"PoolBet/internal/outbox"
	"PoolBet/internal/recordclient"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State 会话状态
type State string

const (
	StateIdle     State = "idle"
	StateTax      State = "tax"      // 税费交易已提交，等待回执
	StateBet      State = "bet"      // 下注交易已提交，等待回执
	StateComplete State = "complete" // 两笔交易均成功
	StateStuck    State = "stuck"    // 回执等待超时，结果未知
)

// Result 终态
type Result string

const (
	ResultComplete       Result = "complete"
	ResultTaxFailed      Result = "tax_failed"
	ResultRefundRequired Result = "refund_required"
	ResultStuck          Result = "stuck"
)

// 面向用户的提示
const (
	NoticeDegraded       = "bet placed on-chain; history will update once the record service catches up"
	NoticeContactSupport = "tax was collected but the bet was not placed; contact support for a refund"
	NoticeStuck          = "confirmation is taking longer than expected; the transaction will be reconciled automatically"
)

// Transition 一次状态迁移
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Request 下注意图
type Request struct {
	IntentID   string // 为空时自动生成；同一 ID 同时只能有一个会话执行
	MarketID   string
	Prediction model.Prediction
	Amount     *big.Int // wei，含税
}

// Outcome 一次下注的最终结果
type Outcome struct {
	IntentID   string
	Result     Result
	FinalState State // 回到 idle 之前的状态
	TaxAmount  *big.Int
	PoolAmount *big.Int
	TaxHash    string
	BetHash    string
	// Degraded 链上成功但有记录写入转入了 outbox
	Degraded bool
	// RefundRecorded 退款记录已直接写入记录服务（false 时在 outbox 中）
	RefundRecorded bool
	Notice         string
	TaxConfirmedAt time.Time
	BetSubmittedAt time.Time
	Transitions    []Transition
}

// intent 单次执行的内部状态
type intent struct {
	id         string
	user       string
	chainID    int64
	marketID   string
	prediction model.Prediction
	amount     *big.Int
	tax        *big.Int
	pool       *big.Int
	betData    []byte
}

// Session 单个下注会话；同一时刻只执行一个意图
type Session struct {
	c *Coordinator

	mu     sync.Mutex
	state  State
	intent *intent
	trans  []Transition
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlaceBet 执行 idle -> tax -> bet -> complete。
// 前置条件不满足或提交前 ctx 已取消时返回 (nil, err)，没有任何链上动作；之后的失败返回 Outcome 与对应错误。
// ctx 只在税费交易提交前生效，提交后流程脱离调用方取消，由回执等待上限约束。
func (s *Session) PlaceBet(ctx context.Context, req Request) (*Outcome, error) {
	in, err := s.c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.intent != nil {
		s.mu.Unlock()
		return nil, ErrIntentInFlight
	}
	if !s.c.acquire(in.id) {
		s.mu.Unlock()
		return nil, ErrIntentInFlight
	}
	s.intent = in
	s.trans = nil
	s.mu.Unlock()

	out, err := s.run(ctx, in)
	s.finish(in, out)
	return out, err
}

// prepare 校验输入与前置条件，计算拆分
func (c *Coordinator) prepare(ctx context.Context, req Request) (*intent, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if c.cfg.MinBet != nil && req.Amount.Cmp(c.cfg.MinBet) < 0 {
		return nil, fmt.Errorf("%w: %s < %s wei", ErrBelowMinimum, req.Amount, c.cfg.MinBet)
	}
	tax, pool, err := SplitAmount(req.Amount, c.cfg.TaxRateBps)
	if err != nil {
		return nil, err
	}
	if tax.Sign() == 0 || pool.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount too small to split", ErrBelowMinimum)
	}
	// 先打包下注调用，参数错误在动用资金前暴露
	data, err := chain.PackPlaceBet(req.MarketID, req.Prediction)
	if err != nil {
		return nil, err
	}

	user := c.ledger.Address()
	if !chain.IsHexAddress(user) {
		return nil, ErrWalletNotConnected
	}
	deployed, err := c.ledger.IsDeployed(ctx, c.cfg.ContractAddress)
	if err != nil {
		return nil, newWalletError(StageTax, err)
	}
	if !deployed {
		return nil, fmt.Errorf("%w: %s on chain %d", ErrContractNotDeployed, c.cfg.ContractAddress, c.ledger.ChainID())
	}

	id := req.IntentID
	if id == "" {
		id = uuid.NewString()
	}
	return &intent{
		id:         id,
		user:       chain.NormalizeAddress(user),
		chainID:    c.ledger.ChainID(),
		marketID:   req.MarketID,
		prediction: req.Prediction,
		amount:     new(big.Int).Set(req.Amount),
		tax:        tax,
		pool:       pool,
		betData:    data,
	}, nil
}

func (s *Session) run(ctx context.Context, in *intent) (*Outcome, error) {
	c := s.c
	log := c.logger.WithFields(logrus.Fields{
		"intent_id": in.id,
		"market_id": in.marketID,
		"user":      in.user,
		"chain_id":  in.chainID,
	})
	out := &Outcome{
		IntentID:   in.id,
		TaxAmount:  new(big.Int).Set(in.tax),
		PoolAmount: new(big.Int).Set(in.pool),
	}

	// idle -> tax
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.transition(in.id, StateTax)
	taxHash, err := c.ledger.Submit(ctx, c.cfg.EscrowAddress, in.tax, nil)
	if err != nil {
		werr := newWalletError(StageTax, err)
		log.WithError(err).WithField("category", werr.Category).Warn("税费交易提交失败")
		out.Result, out.FinalState = ResultTaxFailed, StateTax
		return out, werr
	}
	taxHash = chain.NormalizeHash(taxHash)
	out.TaxHash = taxHash
	log = log.WithField("tax_hash", taxHash)

	// 税费已提交：之后不再响应调用方取消
	detached := context.WithoutCancel(ctx)

	rc, err := c.waitReceipt(detached, taxHash)
	if err != nil {
		log.WithError(err).Warn("税费回执未确认，进入 stuck")
		c.enqueue(log, outbox.KindReconcileTax, c.reconcilePayload(in, taxHash, ""))
		return s.stuck(out), confirmError(err)
	}
	if !rc.Succeeded() {
		log.Warn("税费交易执行失败")
		out.Result, out.FinalState = ResultTaxFailed, StateTax
		return out, ErrTaxFailed
	}
	out.TaxConfirmedAt = c.now()

	taxRecord := recordclient.TransactionRecord{
		UserAddress:     in.user,
		Type:            model.TxTypeEscrowTax,
		TransactionHash: taxHash,
		ChainID:         in.chainID,
		Value:           in.tax.String(),
	}
	if !c.record(detached, log, outbox.KindPersistTaxTx, taxRecord, func(ctx context.Context) error {
		return c.recorder.RecordTransaction(ctx, taxRecord)
	}) {
		out.Degraded = true
	}

	// tax -> bet
	s.transition(in.id, StateBet)
	out.BetSubmittedAt = c.now()
	betHash, err := c.ledger.Submit(detached, c.cfg.ContractAddress, in.pool, in.betData)
	if err != nil {
		werr := newWalletError(StageBet, err)
		log.WithError(err).WithField("category", werr.Category).Error("下注交易提交失败，登记退款")
		s.refund(detached, log, in, taxHash, out)
		return out, werr
	}
	betHash = chain.NormalizeHash(betHash)
	out.BetHash = betHash
	log = log.WithField("bet_hash", betHash)

	rc, err = c.waitReceipt(detached, betHash)
	if err != nil {
		log.WithError(err).Warn("下注回执未确认，进入 stuck")
		c.enqueue(log, outbox.KindReconcileBet, c.reconcilePayload(in, taxHash, betHash))
		return s.stuck(out), confirmError(err)
	}
	if !rc.Succeeded() {
		log.Error("下注交易执行失败，登记退款")
		s.refund(detached, log, in, taxHash, out)
		return out, ErrBetFailed
	}

	// bet -> complete
	s.transition(in.id, StateComplete)
	if !c.persistBet(detached, log, in, taxHash, betHash) {
		out.Degraded = true
	}
	out.Result, out.FinalState = ResultComplete, StateComplete
	if out.Degraded {
		out.Notice = NoticeDegraded
	}
	log.WithField("degraded", out.Degraded).Info("下注完成")
	return out, nil
}

// persistBet 写入下注与 bet 交易；返回两者是否都已直接写入
func (c *Coordinator) persistBet(ctx context.Context, log *logrus.Entry, in *intent, taxHash, betHash string) bool {
	bet := recordclient.BetRecord{
		MarketID:           in.marketID,
		UserAddress:        in.user,
		Prediction:         in.prediction,
		Amount:             in.pool.String(),
		TransactionHash:    betHash,
		ChainID:            in.chainID,
		TaxTransactionHash: taxHash,
	}
	betTx := recordclient.TransactionRecord{
		UserAddress:     in.user,
		Type:            model.TxTypeBet,
		TransactionHash: betHash,
		ChainID:         in.chainID,
		Value:           in.pool.String(),
	}
	okBet := c.record(ctx, log, outbox.KindPersistBet, bet, func(ctx context.Context) error {
		return c.recorder.RecordBet(ctx, bet)
	})
	okTx := c.record(ctx, log, outbox.KindPersistBetTx, betTx, func(ctx context.Context) error {
		return c.recorder.RecordTransaction(ctx, betTx)
	})
	return okBet && okTx
}

// refund bet -> idle：税费已扣但下注未成功
func (s *Session) refund(ctx context.Context, log *logrus.Entry, in *intent, taxHash string, out *Outcome) {
	c := s.c
	r := recordclient.RefundRecord{
		TaxTransactionHash: taxHash,
		MarketID:           in.marketID,
		UserAddress:        in.user,
		Prediction:         in.prediction,
		ChainID:            in.chainID,
	}
	out.RefundRecorded = c.record(ctx, log, outbox.KindMarkRefund, r, func(ctx context.Context) error {
		return c.recorder.MarkForRefund(ctx, r)
	})
	out.Result, out.FinalState = ResultRefundRequired, StateBet
	out.Notice = NoticeContactSupport
}

func (s *Session) stuck(out *Outcome) *Outcome {
	s.transition(out.IntentID, StateStuck)
	out.Result, out.FinalState = ResultStuck, StateStuck
	out.Notice = NoticeStuck
	return out
}

// record 直接写入记录服务，失败则入 outbox；返回是否直接写入成功
func (c *Coordinator) record(ctx context.Context, log *logrus.Entry, kind outbox.Kind, payload interface{}, write func(context.Context) error) bool {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.RecordTimeout)
	defer cancel()
	err := write(wctx)
	if err == nil {
		return true
	}
	log.WithError(err).WithField("kind", kind).Warn("记录服务写入失败，转入 outbox")
	c.enqueue(log, kind, payload)
	return false
}

func (c *Coordinator) enqueue(log *logrus.Entry, kind outbox.Kind, payload interface{}) {
	if _, err := c.outbox.Enqueue(kind, payload); err != nil {
		// outbox 本身不可用时只能依赖日志人工补录
		log.WithError(err).WithFields(logrus.Fields{"kind": kind, "payload": payload}).Error("outbox 入队失败")
	}
}

func (c *Coordinator) waitReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	return c.ledger.WaitForReceipt(wctx, hash, c.cfg.PollInterval)
}

// confirmError 超时与其它等待错误都意味着结果未知
func confirmError(err error) error {
	if errors.Is(err, chain.ErrReceiptTimeout) {
		return ErrConfirmationTimeout
	}
	return fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
}

func (s *Session) transition(intentID string, to State) {
	s.mu.Lock()
	t := Transition{From: s.state, To: to, At: s.c.now()}
	s.state = to
	s.trans = append(s.trans, t)
	s.mu.Unlock()
	if s.c.onTransition != nil {
		s.c.onTransition(intentID, t)
	}
}

// finish 任一终态后回到 idle，释放意图
func (s *Session) finish(in *intent, out *Outcome) {
	if s.State() != StateIdle {
		s.transition(in.id, StateIdle)
	}
	s.mu.Lock()
	s.intent = nil
	trans := append([]Transition(nil), s.trans...)
	s.mu.Unlock()
	s.c.release(in.id)

	if out != nil {
		out.Transitions = trans
		metrics.CoordinatorOutcomes.WithLabelValues(string(out.Result)).Inc()
	}
}

// Describe 面向用户的一行结果
func (o *Outcome) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", o.Result)
	if o.TaxHash != "" {
		fmt.Fprintf(&b, " tax=%s", o.TaxHash)
	}
	if o.BetHash != "" {
		fmt.Fprintf(&b, " bet=%s", o.BetHash)
	}
	if o.Notice != "" {
		fmt.Fprintf(&b, " (%s)", o.Notice)
	}
	return b.String()
}
