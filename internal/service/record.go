package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PoolBet/internal/cache"
	"PoolBet/internal/chain"
	"PoolBet/internal/config"
	"PoolBet/internal/events"
	"PoolBet/internal/metrics"
	"PoolBet/internal/model"
	"PoolBet/internal/payout"
	"PoolBet/internal/repository"
	"PoolBet/internal/verify"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Verifier 验证网关（verify.Gateway 实现）
type Verifier interface {
	VerifyExists(ctx context.Context, hash string, chainID int64) (bool, *chain.Receipt, error)
	VerifySender(ctx context.Context, hash string, chainID int64, expectedSender string) (bool, string, error)
	VerifyValue(ctx context.Context, hash string, chainID int64, expectedWei string) (bool, string, error)
	VerifyRecipient(ctx context.Context, hash string, chainID int64, expectedTo string) (bool, string, error)
	VerifyMarketResolved(rc *chain.Receipt, hash string, chainID int64, contract, marketID string, expected model.Prediction) bool
}

// ChainDirectory 按 chainId 取合约/托管地址（chain.Registry 实现）
type ChainDirectory interface {
	Config(chainID int64) (config.ChainConfig, bool)
}

// RecordDeps RecordService 依赖
type RecordDeps struct {
	Bets         repository.BetRepository
	Transactions repository.TransactionRepository
	Markets      repository.MarketRepository
	Gateway      Verifier
	Chains       ChainDirectory
	History      cache.BetHistoryCache // 可为 nil
	Publisher    events.Publisher      // 可为 nil
	FeePercent   int64
	Logger       *logrus.Logger
}

// RecordService 下注/交易记录的唯一写入方。
// 所有写入先按交易哈希去重，再回链独立核实，核实通过才落库。
type RecordService struct {
	bets       repository.BetRepository
	txs        repository.TransactionRepository
	markets    repository.MarketRepository
	gateway    Verifier
	chains     ChainDirectory
	history    cache.BetHistoryCache
	publisher  events.Publisher
	feePercent int64
	logger     *logrus.Logger
}

// NewRecordService 创建记录服务
func NewRecordService(d RecordDeps) *RecordService {
	if d.History == nil {
		d.History = cache.Noop{}
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLogPublisher(d.Logger)
	}
	return &RecordService{
		bets:       d.Bets,
		txs:        d.Transactions,
		markets:    d.Markets,
		gateway:    d.Gateway,
		chains:     d.Chains,
		history:    d.History,
		publisher:  d.Publisher,
		feePercent: d.FeePercent,
		logger:     d.Logger,
	}
}

// CreateBetInput POST /api/bets
type CreateBetInput struct {
	MarketID           string           `json:"marketId"`
	UserAddress        string           `json:"userAddress"`
	Prediction         model.Prediction `json:"prediction"`
	Amount             string           `json:"amount"` // wei
	TransactionHash    string           `json:"transactionHash"`
	ChainID            int64            `json:"chainId"`
	TaxTransactionHash string           `json:"taxTransactionHash,omitempty"`
	Timestamp          time.Time        `json:"timestamp,omitempty"`
}

// CreateBet 顺序：哈希去重 -> 盘口存在 -> 交易存在 -> 发送方 -> 金额 -> 接收方为下注合约 -> 落库
func (s *RecordService) CreateBet(ctx context.Context, in CreateBetInput) (*model.Bet, error) {
	if err := validateBetInput(in); err != nil {
		return nil, err
	}
	hash := chain.NormalizeHash(in.TransactionHash)
	user := chain.NormalizeAddress(in.UserAddress)

	if err := s.ensureNoBet(ctx, hash); err != nil {
		return nil, err
	}
	if _, err := s.market(ctx, in.MarketID); err != nil {
		return nil, err
	}
	addrs, err := s.chainAddresses(in.ChainID, hash)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifyTx(ctx, txCheck{
		hash:      hash,
		chainID:   in.ChainID,
		sender:    user,
		value:     in.Amount,
		recipient: addrs.ContractAddress,
	}); err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	bet := &model.Bet{
		ID:              uuid.NewString(),
		MarketID:        in.MarketID,
		UserAddress:     user,
		Prediction:      in.Prediction,
		Amount:          in.Amount,
		TransactionHash: hash,
		ChainID:         in.ChainID,
		Timestamp:       ts,
		TaxStatus:       model.TaxStatusNone,
	}
	if in.TaxTransactionHash != "" {
		taxHash := chain.NormalizeHash(in.TaxTransactionHash)
		bet.TaxTransactionHash = &taxHash
		bet.TaxStatus = model.TaxStatusPaid
	}
	if err := s.saveBet(ctx, bet); err != nil {
		return nil, err
	}

	metrics.RecordsWritten.WithLabelValues("bet").Inc()
	s.afterWrite(ctx, user, events.Event{
		Type:               events.TypeBetRecorded,
		BetID:              bet.ID,
		MarketID:           bet.MarketID,
		UserAddress:        user,
		TransactionHash:    hash,
		TaxTransactionHash: in.TaxTransactionHash,
		Amount:             bet.Amount,
		ChainID:            bet.ChainID,
	})
	return bet, nil
}

// CreateTransactionInput POST /api/transactions
type CreateTransactionInput struct {
	UserAddress     string                `json:"userAddress"`
	Type            model.TransactionType `json:"type"`
	TransactionHash string                `json:"transactionHash"`
	ChainID         int64                 `json:"chainId"`
	Value           string                `json:"value,omitempty"` // wei，仅 bet/escrow_tax 校验
	Metadata        json.RawMessage       `json:"metadata,omitempty"`
}

// CreateTransaction 顺序：哈希去重 -> 交易存在 -> 发送方 -> 金额（仅带值类型） -> 接收方 -> 落库。
// 税费须发往托管地址，其余类型须发往下注合约。
func (s *RecordService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*model.Transaction, error) {
	if err := validateTransactionInput(in); err != nil {
		return nil, err
	}
	hash := chain.NormalizeHash(in.TransactionHash)
	user := chain.NormalizeAddress(in.UserAddress)

	existing, err := s.txs.GetByHash(ctx, hash)
	if err == nil {
		metrics.DuplicateRecords.WithLabelValues("transaction").Inc()
		return nil, &DuplicateError{Kind: "transaction", Hash: hash, ExistingID: existing.ID}
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("查询交易记录失败: %w", err)
	}

	addrs, err := s.chainAddresses(in.ChainID, hash)
	if err != nil {
		return nil, err
	}
	check := txCheck{hash: hash, chainID: in.ChainID, sender: user, recipient: addrs.ContractAddress}
	if in.Type == model.TxTypeEscrowTax {
		check.recipient = addrs.EscrowAddress
	}
	value := "0"
	if in.Type.CarriesValue() {
		check.value = in.Value
		value = in.Value
	}
	rc, err := s.verifyTx(ctx, check)
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:              uuid.NewString(),
		UserAddress:     user,
		Type:            in.Type,
		TransactionHash: hash,
		Status:          model.TxStatusSuccess,
		ChainID:         in.ChainID,
		Value:           value,
	}
	if rc != nil {
		gas := rc.GasUsed
		tx.GasUsed = &gas
	}
	if len(in.Metadata) > 0 {
		tx.Metadata = datatypes.JSON(in.Metadata)
	}
	if err := s.txs.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			metrics.DuplicateRecords.WithLabelValues("transaction").Inc()
			dup := &DuplicateError{Kind: "transaction", Hash: hash}
			if prev, getErr := s.txs.GetByHash(ctx, hash); getErr == nil {
				dup.ExistingID = prev.ID
			}
			return nil, dup
		}
		return nil, fmt.Errorf("保存交易记录失败: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues("transaction").Inc()
	return tx, nil
}

// RefundInput POST /api/bets/refund：已收税但下注未成功
type RefundInput struct {
	TaxTransactionHash string           `json:"taxTransactionHash"`
	MarketID           string           `json:"marketId"`
	UserAddress        string           `json:"userAddress"`
	Prediction         model.Prediction `json:"prediction"`
	ChainID            int64            `json:"chainId"`
}

// MarkForRefund 写入 amount="0"、refundEligible=true 的审计记录，引用税费交易哈希。
// 顺序：哈希去重 -> 盘口存在 -> 交易存在 -> 发送方 -> 接收方为托管地址 -> 落库
func (s *RecordService) MarkForRefund(ctx context.Context, in RefundInput) (*model.Bet, error) {
	if err := validateRefundInput(in); err != nil {
		return nil, err
	}
	taxHash := chain.NormalizeHash(in.TaxTransactionHash)
	user := chain.NormalizeAddress(in.UserAddress)

	if err := s.ensureNoBet(ctx, taxHash); err != nil {
		return nil, err
	}
	if _, err := s.market(ctx, in.MarketID); err != nil {
		return nil, err
	}
	addrs, err := s.chainAddresses(in.ChainID, taxHash)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifyTx(ctx, txCheck{
		hash:      taxHash,
		chainID:   in.ChainID,
		sender:    user,
		recipient: addrs.EscrowAddress,
	}); err != nil {
		return nil, err
	}

	eligible := true
	bet := &model.Bet{
		ID:                 uuid.NewString(),
		MarketID:           in.MarketID,
		UserAddress:        user,
		Prediction:         in.Prediction,
		Amount:             "0",
		TransactionHash:    taxHash,
		ChainID:            in.ChainID,
		Timestamp:          time.Now(),
		TaxTransactionHash: &taxHash,
		TaxStatus:          model.TaxStatusRefundPending,
		RefundEligible:     &eligible,
	}
	if err := s.saveBet(ctx, bet); err != nil {
		return nil, err
	}

	metrics.RecordsWritten.WithLabelValues("refund").Inc()
	s.logger.WithFields(logrus.Fields{
		"bet_id":      bet.ID,
		"market_id":   bet.MarketID,
		"user":        user,
		"tax_tx_hash": taxHash,
	}).Warn("已收税未下注，记录待退款")
	s.afterWrite(ctx, user, events.Event{
		Type:               events.TypeBetRefundRequired,
		BetID:              bet.ID,
		MarketID:           bet.MarketID,
		UserAddress:        user,
		TransactionHash:    taxHash,
		TaxTransactionHash: taxHash,
		Amount:             "0",
		ChainID:            bet.ChainID,
	})
	return bet, nil
}

const (
	defaultHistoryPage = 100
	maxHistoryPage     = 500
)

// BetPage 下注历史分页参数；Limit<=0 取 100，上限 500
type BetPage struct {
	Offset int
	Limit  int
}

// BetList 一页下注历史。HasMore 为 true 时以 NextOffset 继续翻页
type BetList struct {
	Bets       []*model.Bet `json:"bets"`
	HasMore    bool         `json:"hasMore"`
	NextOffset int          `json:"nextOffset,omitempty"`
}

// ListBets 用户下注历史（新到旧）。只有默认的第一页走缓存
func (s *RecordService) ListBets(ctx context.Context, userAddress string, page BetPage) (*BetList, error) {
	if !chain.IsHexAddress(strings.TrimSpace(userAddress)) {
		return nil, invalid("userAddress", "must be 0x followed by 40 hex characters")
	}
	if page.Offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	if page.Limit <= 0 {
		page.Limit = defaultHistoryPage
	}
	if page.Limit > maxHistoryPage {
		page.Limit = maxHistoryPage
	}
	user := chain.NormalizeAddress(userAddress)
	cacheable := page.Offset == 0 && page.Limit == defaultHistoryPage

	if cacheable {
		if bets, hit, err := s.history.Get(ctx, user); err != nil {
			s.logger.WithError(err).WithField("user", user).Warn("读取下注历史缓存失败")
		} else if hit {
			return pageOf(bets, page), nil
		}
	}

	// 多取一条判断是否还有下一页
	bets, err := s.bets.ListByUser(ctx, user, page.Offset, page.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("查询下注历史失败: %w", err)
	}
	if cacheable {
		if err := s.history.Set(ctx, user, bets); err != nil {
			s.logger.WithError(err).WithField("user", user).Warn("写入下注历史缓存失败")
		}
	}
	return pageOf(bets, page), nil
}

func pageOf(bets []*model.Bet, page BetPage) *BetList {
	out := &BetList{Bets: bets}
	if len(bets) > page.Limit {
		out.Bets = bets[:page.Limit]
		out.HasMore = true
		out.NextOffset = page.Offset + page.Limit
	}
	if out.Bets == nil {
		out.Bets = []*model.Bet{}
	}
	return out
}

// ClaimInput PATCH /api/bets/:id/claim
type ClaimInput struct {
	BetID                string `json:"-"`
	ClaimTransactionHash string `json:"claimTransactionHash"`
	Caller               string `json:"-"`
}

// ClaimBet 标记已领取：调用方须为下注人，盘口已结算且派彩 > 0，领取交易须由下注人发往下注合约。
// 已领取由条件更新保证，并发重复领取只有一个成功。
func (s *RecordService) ClaimBet(ctx context.Context, in ClaimInput) (*model.Bet, error) {
	if !chain.IsTxHash(in.ClaimTransactionHash) {
		return nil, invalid("claimTransactionHash", "must be 0x followed by 64 hex characters")
	}
	claimHash := chain.NormalizeHash(in.ClaimTransactionHash)

	bet, err := s.bets.GetByID(ctx, in.BetID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("查询下注记录失败: %w", err)
	}
	if chain.NormalizeAddress(in.Caller) != bet.UserAddress {
		return nil, ErrNotOwner
	}
	if bet.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if bet.IsRefundRecord() {
		return nil, ErrNothingToClaim
	}

	market, err := s.market(ctx, bet.MarketID)
	if err != nil {
		return nil, err
	}
	res, err := s.computePayout(bet, market)
	if err != nil {
		return nil, err
	}
	if res.Payout.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	addrs, err := s.chainAddresses(bet.ChainID, claimHash)
	if err != nil {
		return nil, err
	}
	rc, err := s.verifyTx(ctx, txCheck{
		hash:      claimHash,
		chainID:   bet.ChainID,
		sender:    bet.UserAddress,
		recipient: addrs.ContractAddress,
	})
	if err != nil {
		return nil, err
	}

	ok, err := s.bets.MarkClaimed(ctx, bet.ID, claimHash)
	if err != nil {
		return nil, fmt.Errorf("更新领取状态失败: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}
	bet.Claimed = true
	bet.ClaimTransactionHash = &claimHash

	// 同一笔领取交易可覆盖多注，审计日志按哈希只记一次
	gas := rc.GasUsed
	claimTx := &model.Transaction{
		ID:              uuid.NewString(),
		UserAddress:     bet.UserAddress,
		Type:            model.TxTypeClaim,
		TransactionHash: claimHash,
		Status:          model.TxStatusSuccess,
		ChainID:         bet.ChainID,
		Value:           "0",
		GasUsed:         &gas,
	}
	if err := s.txs.CreateTransaction(ctx, claimTx); err != nil && !errors.Is(err, repository.ErrDuplicateHash) {
		s.logger.WithError(err).WithField("tx_hash", claimHash).Warn("记录领取交易失败")
	}

	s.afterWrite(ctx, bet.UserAddress, events.Event{
		Type:            events.TypeBetClaimed,
		BetID:           bet.ID,
		MarketID:        bet.MarketID,
		UserAddress:     bet.UserAddress,
		TransactionHash: claimHash,
		Amount:          res.Payout.String(),
		ChainID:         bet.ChainID,
	})
	return bet, nil
}

// VerifyResolution 结算交易回执须成功，且含下注合约发出的 MarketResolved(marketID, result) 事件
func (s *RecordService) VerifyResolution(ctx context.Context, hash string, chainID int64, marketID string, result model.Prediction) error {
	if !chain.IsTxHash(hash) {
		return invalid("transactionHash", "must be 0x followed by 64 hex characters")
	}
	hash = chain.NormalizeHash(hash)
	addrs, err := s.chainAddresses(chainID, hash)
	if err != nil {
		return err
	}
	c := txCheck{hash: hash, chainID: chainID}
	ok, rc, err := s.gateway.VerifyExists(ctx, hash, chainID)
	if err != nil {
		return s.ledgerError(err, c)
	}
	if !ok {
		return verify.NewError(verify.ReasonNotFound, hash, chainID)
	}
	if !s.gateway.VerifyMarketResolved(rc, hash, chainID, addrs.ContractAddress, marketID, result) {
		return verify.NewError(verify.ReasonEventMismatch, hash, chainID)
	}
	return nil
}

// PayoutStatus 派彩状态
type PayoutStatus string

const (
	PayoutUnresolved PayoutStatus = "unresolved"
	PayoutWon        PayoutStatus = "won"
	PayoutLost       PayoutStatus = "lost"
	PayoutRefund     PayoutStatus = "refund_pending"
)

// PayoutView GET /api/bets/id/:id/payout
type PayoutView struct {
	BetID           string       `json:"betId"`
	MarketID        string       `json:"marketId"`
	Status          PayoutStatus `json:"status"`
	Payout          *string      `json:"payout"` // 未结算时为 null
	ZeroWinningPool bool         `json:"zeroWinningPool,omitempty"`
	Claimed         bool         `json:"claimed"`
}

// GetPayout 未结算盘口返回 unresolved 且 payout 为 null，与“已结算且输”区分
func (s *RecordService) GetPayout(ctx context.Context, betID string) (*PayoutView, error) {
	bet, err := s.bets.GetByID(ctx, betID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("查询下注记录失败: %w", err)
	}
	view := &PayoutView{BetID: bet.ID, MarketID: bet.MarketID, Claimed: bet.Claimed}
	if bet.IsRefundRecord() {
		view.Status = PayoutRefund
		return view, nil
	}

	market, err := s.market(ctx, bet.MarketID)
	if err != nil {
		return nil, err
	}
	res, err := s.computePayout(bet, market)
	if errors.Is(err, ErrMarketNotResolved) {
		view.Status = PayoutUnresolved
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	amount := res.Payout.String()
	view.Payout = &amount
	view.ZeroWinningPool = res.ZeroWinningPool
	view.Status = PayoutLost
	if res.Won {
		view.Status = PayoutWon
	}
	return view, nil
}

func (s *RecordService) computePayout(bet *model.Bet, market *model.Market) (payout.Result, error) {
	res, err := payout.ForBet(bet, market, s.feePercent)
	if errors.Is(err, payout.ErrUnresolved) {
		return payout.Result{}, ErrMarketNotResolved
	}
	if err != nil {
		return payout.Result{}, fmt.Errorf("计算派彩失败: %w", err)
	}
	if res.ZeroWinningPool {
		metrics.ZeroWinningPool.Inc()
		s.logger.WithFields(logrus.Fields{
			"market_id":  market.ID,
			"bet_id":     bet.ID,
			"result":     *market.Result,
			"yes_pool":   market.YesPoolOnChain,
			"no_pool":    market.NoPoolOnChain,
			"total_pool": market.TotalPool,
		}).Warn("获胜方奖池为 0，派彩按 0 处理，需人工核查盘口")
	}
	return res, nil
}

// txCheck 空字段表示跳过该项检查
type txCheck struct {
	hash      string
	chainID   int64
	sender    string
	value     string
	recipient string
}

func (s *RecordService) verifyTx(ctx context.Context, c txCheck) (*chain.Receipt, error) {
	ok, rc, err := s.gateway.VerifyExists(ctx, c.hash, c.chainID)
	if err != nil {
		return nil, s.ledgerError(err, c)
	}
	if !ok {
		return nil, verify.NewError(verify.ReasonNotFound, c.hash, c.chainID)
	}

	if ok, _, err = s.gateway.VerifySender(ctx, c.hash, c.chainID, c.sender); err != nil {
		return nil, s.ledgerError(err, c)
	} else if !ok {
		return nil, verify.NewError(verify.ReasonSenderMismatch, c.hash, c.chainID)
	}

	if c.value != "" {
		if ok, _, err = s.gateway.VerifyValue(ctx, c.hash, c.chainID, c.value); err != nil {
			return nil, s.ledgerError(err, c)
		} else if !ok {
			return nil, verify.NewError(verify.ReasonValueMismatch, c.hash, c.chainID)
		}
	}

	if c.recipient != "" {
		if ok, _, err = s.gateway.VerifyRecipient(ctx, c.hash, c.chainID, c.recipient); err != nil {
			return nil, s.ledgerError(err, c)
		} else if !ok {
			return nil, verify.NewError(verify.ReasonRecipientMismatch, c.hash, c.chainID)
		}
	}
	return rc, nil
}

func (s *RecordService) ledgerError(err error, c txCheck) error {
	if errors.Is(err, chain.ErrUnsupportedChain) {
		return verify.NewError(verify.ReasonUnsupportedChain, c.hash, c.chainID)
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"tx_hash":  c.hash,
		"chain_id": c.chainID,
	}).Error("链上验证不可用")
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}

// chainAddresses 未配置的链直接按验证失败处理（fail closed）
func (s *RecordService) chainAddresses(chainID int64, hash string) (config.ChainConfig, error) {
	c, ok := s.chains.Config(chainID)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"event":    "security.verification_failed",
			"check":    verify.CheckChain,
			"reason":   verify.ReasonUnsupportedChain,
			"tx_hash":  hash,
			"chain_id": chainID,
		}).Warn("transaction verification failed")
		metrics.VerificationFailures.WithLabelValues(string(verify.CheckChain), string(verify.ReasonUnsupportedChain)).Inc()
		return config.ChainConfig{}, verify.NewError(verify.ReasonUnsupportedChain, hash, chainID)
	}
	if !chain.IsHexAddress(c.ContractAddress) || !chain.IsHexAddress(c.EscrowAddress) {
		return config.ChainConfig{}, fmt.Errorf("chain %d: %w", chainID, ErrChainMisconfigured)
	}
	return c, nil
}

func (s *RecordService) ensureNoBet(ctx context.Context, hash string) error {
	existing, err := s.bets.GetByTxHash(ctx, hash)
	if err == nil {
		metrics.DuplicateRecords.WithLabelValues("bet").Inc()
		return &DuplicateError{Kind: "bet", Hash: hash, ExistingID: existing.ID}
	}
	if !repository.IsNotFound(err) {
		return fmt.Errorf("查询下注记录失败: %w", err)
	}
	return nil
}

// saveBet 唯一索引兜底并发重复写入
func (s *RecordService) saveBet(ctx context.Context, bet *model.Bet) error {
	err := s.bets.CreateBet(ctx, bet)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrDuplicateHash) {
		metrics.DuplicateRecords.WithLabelValues("bet").Inc()
		dup := &DuplicateError{Kind: "bet", Hash: bet.TransactionHash}
		if prev, getErr := s.bets.GetByTxHash(ctx, bet.TransactionHash); getErr == nil {
			dup.ExistingID = prev.ID
		}
		return dup
	}
	return fmt.Errorf("保存下注记录失败: %w", err)
}

func (s *RecordService) market(ctx context.Context, id string) (*model.Market, error) {
	m, err := s.markets.GetMarket(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("查询盘口失败: %w", err)
	}
	return m, nil
}

// afterWrite 失效缓存并投递事件；失败只记日志，不影响已落库的记录
func (s *RecordService) afterWrite(ctx context.Context, user string, e events.Event) {
	if err := s.history.Invalidate(ctx, user); err != nil {
		s.logger.WithError(err).WithField("user", user).Warn("失效下注历史缓存失败")
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.WithError(err).WithField("event", e.Type).Warn("投递记录事件失败")
	}
}
