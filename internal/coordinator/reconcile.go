package coordinator

import (
	"context"
	"fmt"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/model"
	"PoolBet/internal/outbox"
	"PoolBet/internal/recordclient"

	"github.com/sirupsen/logrus"
)

// maxReconcileAge 超过该时长仍查不到回执的交易视为被丢弃，转人工处理
const maxReconcileAge = 24 * time.Hour

// ReconcilePayload 回执超时后核对所需的信息
type ReconcilePayload struct {
	IntentID    string           `json:"intent_id"`
	UserAddress string           `json:"user_address"`
	ChainID     int64            `json:"chain_id"`
	MarketID    string           `json:"market_id"`
	Prediction  model.Prediction `json:"prediction"`
	TaxAmount   string           `json:"tax_amount"`
	PoolAmount  string           `json:"pool_amount"`
	TaxHash     string           `json:"tax_hash"`
	BetHash     string           `json:"bet_hash,omitempty"`
}

func (c *Coordinator) reconcilePayload(in *intent, taxHash, betHash string) ReconcilePayload {
	return ReconcilePayload{
		IntentID:    in.id,
		UserAddress: in.user,
		ChainID:     in.chainID,
		MarketID:    in.marketID,
		Prediction:  in.prediction,
		TaxAmount:   in.tax.String(),
		PoolAmount:  in.pool.String(),
		TaxHash:     taxHash,
		BetHash:     betHash,
	}
}

func (p ReconcilePayload) refund() recordclient.RefundRecord {
	return recordclient.RefundRecord{
		TaxTransactionHash: p.TaxHash,
		MarketID:           p.MarketID,
		UserAddress:        p.UserAddress,
		Prediction:         p.Prediction,
		ChainID:            p.ChainID,
	}
}

// HandleOutbox outbox.Handler：重放记录写入，核对超时交易。写入均幂等，可重复执行。
func (c *Coordinator) HandleOutbox(ctx context.Context, e *outbox.Entry) error {
	switch e.Kind {
	case outbox.KindPersistTaxTx, outbox.KindPersistBetTx:
		var r recordclient.TransactionRecord
		if err := e.Decode(&r); err != nil {
			return outbox.Permanent(err)
		}
		return replayError(c.recorder.RecordTransaction(ctx, r))
	case outbox.KindPersistBet:
		var r recordclient.BetRecord
		if err := e.Decode(&r); err != nil {
			return outbox.Permanent(err)
		}
		return replayError(c.recorder.RecordBet(ctx, r))
	case outbox.KindMarkRefund:
		var r recordclient.RefundRecord
		if err := e.Decode(&r); err != nil {
			return outbox.Permanent(err)
		}
		return replayError(c.recorder.MarkForRefund(ctx, r))
	case outbox.KindReconcileTax:
		var p ReconcilePayload
		if err := e.Decode(&p); err != nil {
			return outbox.Permanent(err)
		}
		return c.reconcileTax(ctx, e, p)
	case outbox.KindReconcileBet:
		var p ReconcilePayload
		if err := e.Decode(&p); err != nil {
			return outbox.Permanent(err)
		}
		return c.reconcileBet(ctx, e, p)
	default:
		return outbox.Permanent(fmt.Errorf("unknown outbox kind %q", e.Kind))
	}
}

// reconcileTax 税费回执超时：失败则无需记账；成功则下注从未提交，记录税费并登记退款
func (c *Coordinator) reconcileTax(ctx context.Context, e *outbox.Entry, p ReconcilePayload) error {
	log := c.logger.WithFields(logrus.Fields{"intent_id": p.IntentID, "tax_hash": p.TaxHash})
	rc, err := c.lookupReceipt(ctx, p.TaxHash)
	if err != nil {
		return c.unconfirmed(e, p.TaxHash, err)
	}
	if !rc.Succeeded() {
		log.Info("核对：税费交易失败，无需记账")
		return nil
	}
	log.Warn("核对：税费已扣但下注未提交，登记退款")
	// 退款登记不依赖税费交易记录的结果；两者都已存在时重放返回 409 视为成功
	taxErr := c.recorder.RecordTransaction(ctx, recordclient.TransactionRecord{
		UserAddress:     p.UserAddress,
		Type:            model.TxTypeEscrowTax,
		TransactionHash: p.TaxHash,
		ChainID:         p.ChainID,
		Value:           p.TaxAmount,
	})
	if taxErr != nil {
		log.WithError(taxErr).Error("核对：税费交易记录失败，仍登记退款")
	}
	refundErr := c.recorder.MarkForRefund(ctx, p.refund())
	return worseReplayError(taxErr, refundErr)
}

// worseReplayError 任一可重试则整体重试，否则返回第一个永久错误
func worseReplayError(errs ...error) error {
	var permanent error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !recordclient.IsPermanent(err) {
			return err
		}
		if permanent == nil {
			permanent = err
		}
	}
	return replayError(permanent)
}

// reconcileBet 下注回执超时：成功则补记下注，失败则登记退款
func (c *Coordinator) reconcileBet(ctx context.Context, e *outbox.Entry, p ReconcilePayload) error {
	log := c.logger.WithFields(logrus.Fields{"intent_id": p.IntentID, "bet_hash": p.BetHash})
	rc, err := c.lookupReceipt(ctx, p.BetHash)
	if err != nil {
		return c.unconfirmed(e, p.BetHash, err)
	}
	if !rc.Succeeded() {
		log.Warn("核对：下注交易失败，登记退款")
		return replayError(c.recorder.MarkForRefund(ctx, p.refund()))
	}
	log.Info("核对：下注成功，补记")
	err = c.recorder.RecordBet(ctx, recordclient.BetRecord{
		MarketID:           p.MarketID,
		UserAddress:        p.UserAddress,
		Prediction:         p.Prediction,
		Amount:             p.PoolAmount,
		TransactionHash:    p.BetHash,
		ChainID:            p.ChainID,
		TaxTransactionHash: p.TaxHash,
	})
	if err != nil {
		return replayError(err)
	}
	err = c.recorder.RecordTransaction(ctx, recordclient.TransactionRecord{
		UserAddress:     p.UserAddress,
		Type:            model.TxTypeBet,
		TransactionHash: p.BetHash,
		ChainID:         p.ChainID,
		Value:           p.PoolAmount,
	})
	return replayError(err)
}

// lookupReceipt 短时间查询回执，查不到交给 outbox 退避重试
func (c *Coordinator) lookupReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	wait := 3 * c.cfg.PollInterval
	if wait > c.cfg.ConfirmTimeout {
		wait = c.cfg.ConfirmTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return c.ledger.WaitForReceipt(wctx, hash, c.cfg.PollInterval)
}

func (c *Coordinator) unconfirmed(e *outbox.Entry, hash string, err error) error {
	if c.now().Sub(e.CreatedAt) > maxReconcileAge {
		return outbox.Permanent(fmt.Errorf("%s still unconfirmed after %s: %v", hash, maxReconcileAge, err))
	}
	return err
}

func replayError(err error) error {
	if err != nil && recordclient.IsPermanent(err) {
		return outbox.Permanent(err)
	}
	return err
}
