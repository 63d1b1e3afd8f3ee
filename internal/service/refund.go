package service

import (
	"context"
	"errors"
	"fmt"

	"PoolBet/internal/chain"
	"PoolBet/internal/events"
	"PoolBet/internal/metrics"
	"PoolBet/internal/model"
	"PoolBet/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RefundView 待退款记录及应退金额（wei）。税费交易未入审计日志时 RefundAmount 为空
type RefundView struct {
	*model.Bet
	RefundAmount string `json:"refundAmount"`
}

// ListRefunds 待退款记录（旧到新），limit 上限 500
func (s *RecordService) ListRefunds(ctx context.Context, limit int) ([]RefundView, error) {
	if limit > 500 {
		limit = 500
	}
	bets, err := s.bets.ListRefundPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("查询待退款记录失败: %w", err)
	}
	out := make([]RefundView, 0, len(bets))
	for _, b := range bets {
		v := RefundView{Bet: b}
		if amount, err := s.refundAmount(ctx, b); err == nil {
			v.RefundAmount = amount
		}
		out = append(out, v)
	}
	return out, nil
}

// CompleteRefundInput PATCH /api/bets/:id/refund
type CompleteRefundInput struct {
	BetID                 string `json:"-"`
	RefundTransactionHash string `json:"refundTransactionHash"`
	Caller                string `json:"-"`
}

// CompleteRefund 托管方退回税费后登记。调用方须为该链托管地址；
// 退款交易须由托管地址发出、发往下注人，金额等于原税费。
// refund_pending -> refunded 为条件更新，并发重复登记只有一个成功。
func (s *RecordService) CompleteRefund(ctx context.Context, in CompleteRefundInput) (*model.Bet, error) {
	if !chain.IsTxHash(in.RefundTransactionHash) {
		return nil, invalid("refundTransactionHash", "must be 0x followed by 64 hex characters")
	}
	refundHash := chain.NormalizeHash(in.RefundTransactionHash)

	bet, err := s.bets.GetByID(ctx, in.BetID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("查询下注记录失败: %w", err)
	}
	if bet.TaxStatus != model.TaxStatusRefundPending {
		return nil, ErrNotRefundable
	}

	addrs, err := s.chainAddresses(bet.ChainID, refundHash)
	if err != nil {
		return nil, err
	}
	escrowAddr := chain.NormalizeAddress(addrs.EscrowAddress)
	if chain.NormalizeAddress(in.Caller) != escrowAddr {
		return nil, ErrNotEscrow
	}

	amount, err := s.refundAmount(ctx, bet)
	if err != nil {
		return nil, err
	}
	rc, err := s.verifyTx(ctx, txCheck{
		hash:      refundHash,
		chainID:   bet.ChainID,
		sender:    escrowAddr,
		value:     amount,
		recipient: bet.UserAddress,
	})
	if err != nil {
		return nil, err
	}

	ok, err := s.bets.MarkRefunded(ctx, bet.ID, refundHash)
	if err != nil {
		return nil, fmt.Errorf("更新退款状态失败: %w", err)
	}
	if !ok {
		return nil, ErrNotRefundable
	}
	bet.TaxStatus = model.TaxStatusRefunded
	bet.RefundTransactionHash = &refundHash

	gas := rc.GasUsed
	refundTx := &model.Transaction{
		ID:              uuid.NewString(),
		UserAddress:     bet.UserAddress,
		Type:            model.TxTypeRefund,
		TransactionHash: refundHash,
		Status:          model.TxStatusSuccess,
		ChainID:         bet.ChainID,
		Value:           amount,
		GasUsed:         &gas,
	}
	if err := s.txs.CreateTransaction(ctx, refundTx); err != nil && !errors.Is(err, repository.ErrDuplicateHash) {
		s.logger.WithError(err).WithField("tx_hash", refundHash).Warn("记录退款交易失败")
	}

	metrics.RecordsWritten.WithLabelValues("refund_completed").Inc()
	s.logger.WithFields(logrus.Fields{
		"bet_id":         bet.ID,
		"user":           bet.UserAddress,
		"amount":         amount,
		"refund_tx_hash": refundHash,
	}).Info("税费已退回")
	s.afterWrite(ctx, bet.UserAddress, events.Event{
		Type:               events.TypeBetRefunded,
		BetID:              bet.ID,
		MarketID:           bet.MarketID,
		UserAddress:        bet.UserAddress,
		TransactionHash:    refundHash,
		TaxTransactionHash: bet.TransactionHash,
		Amount:             amount,
		ChainID:            bet.ChainID,
	})
	return bet, nil
}

// refundAmount 以审计日志中的 escrow_tax 交易金额为准
func (s *RecordService) refundAmount(ctx context.Context, bet *model.Bet) (string, error) {
	taxHash := bet.TransactionHash
	if bet.TaxTransactionHash != nil {
		taxHash = *bet.TaxTransactionHash
	}
	tx, err := s.txs.GetByHash(ctx, taxHash)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", ErrRefundAmountUnknown
		}
		return "", fmt.Errorf("查询税费交易失败: %w", err)
	}
	if tx.Type != model.TxTypeEscrowTax {
		return "", ErrRefundAmountUnknown
	}
	return tx.Value, nil
}
