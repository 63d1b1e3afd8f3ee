// Package verify 实现交易验证网关：客户端上报的交易在落库前必须由服务端独立回链核实。
// 存在性、发送方、金额、接收方四项检查相互独立，任何一项失败都记为安全事件。
package verify

import (
	"context"
	"errors"
	"fmt"

	"PoolBet/internal/chain"
	"PoolBet/internal/metrics"
	"PoolBet/internal/model"

	"github.com/sirupsen/logrus"
)

// ChainReader 网关需要的只读链访问（chain.Registry 实现）
type ChainReader interface {
	Receipt(ctx context.Context, chainID int64, hash string) (*chain.Receipt, error)
	Transaction(ctx context.Context, chainID int64, hash string) (*chain.TxInfo, error)
}

// Gateway 无状态，可被多个请求并发使用
type Gateway struct {
	reader ChainReader
	logger *logrus.Logger
}

// NewGateway 创建验证网关
func NewGateway(reader ChainReader, logger *logrus.Logger) *Gateway {
	return &Gateway{reader: reader, logger: logger}
}

// VerifyExists 回执存在且 status=success 才算存在；revert 与不存在同等对待。
// err 仅表示节点不可用或链未配置，此时无法给出结论。
func (g *Gateway) VerifyExists(ctx context.Context, hash string, chainID int64) (bool, *chain.Receipt, error) {
	rc, err := g.reader.Receipt(ctx, chainID, hash)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			g.securityEvent(CheckExists, ReasonNotFound, hash, chainID, "success receipt", "absent")
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("verify exists: %w", err)
	}
	if !rc.Succeeded() {
		g.securityEvent(CheckExists, ReasonNotFound, hash, chainID, "success receipt", string(rc.Status))
		return false, nil, nil
	}
	return true, rc, nil
}

// VerifySender 比较交易发送方（均转小写，不做其它纠正）
func (g *Gateway) VerifySender(ctx context.Context, hash string, chainID int64, expectedSender string) (bool, string, error) {
	tx, ok, err := g.transaction(ctx, CheckSender, hash, chainID)
	if err != nil || !ok {
		return false, "", err
	}
	actual := chain.NormalizeAddress(tx.From)
	if actual != chain.NormalizeAddress(expectedSender) {
		g.securityEvent(CheckSender, ReasonSenderMismatch, hash, chainID, chain.NormalizeAddress(expectedSender), actual)
		return false, actual, nil
	}
	return true, actual, nil
}

// VerifyValue wei 金额严格相等，无容差
func (g *Gateway) VerifyValue(ctx context.Context, hash string, chainID int64, expectedWei string) (bool, string, error) {
	tx, ok, err := g.transaction(ctx, CheckValue, hash, chainID)
	if err != nil || !ok {
		return false, "", err
	}
	actual := tx.Value.String()
	expected, parseErr := chain.ParseWei(expectedWei)
	if parseErr != nil || expected.Cmp(tx.Value) != 0 {
		g.securityEvent(CheckValue, ReasonValueMismatch, hash, chainID, expectedWei, actual)
		return false, actual, nil
	}
	return true, actual, nil
}

// VerifyRecipient 校验交易接收方，用于税费必须打到托管地址的场景
func (g *Gateway) VerifyRecipient(ctx context.Context, hash string, chainID int64, expectedTo string) (bool, string, error) {
	tx, ok, err := g.transaction(ctx, CheckRecipient, hash, chainID)
	if err != nil || !ok {
		return false, "", err
	}
	actual := chain.NormalizeAddress(tx.To)
	if actual == "" || actual != chain.NormalizeAddress(expectedTo) {
		g.securityEvent(CheckRecipient, ReasonRecipientMismatch, hash, chainID, chain.NormalizeAddress(expectedTo), actual)
		return false, actual, nil
	}
	return true, actual, nil
}

// VerifyMarketResolved 检查已确认成功的回执：须含 contract 发出的 MarketResolved(marketID) 事件且结果一致。
// 事件缺失与结果不符都按 event_mismatch 记安全事件。
func (g *Gateway) VerifyMarketResolved(rc *chain.Receipt, hash string, chainID int64, contract, marketID string, expected model.Prediction) bool {
	result, found := rc.MarketResolution(contract, marketID)
	if !found {
		g.securityEvent(CheckEvent, ReasonEventMismatch, hash, chainID, "MarketResolved("+marketID+")", "absent")
		return false
	}
	if result != expected {
		g.securityEvent(CheckEvent, ReasonEventMismatch, hash, chainID, string(expected), string(result))
		return false
	}
	return true
}

func (g *Gateway) transaction(ctx context.Context, check Check, hash string, chainID int64) (*chain.TxInfo, bool, error) {
	tx, err := g.reader.Transaction(ctx, chainID, hash)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			g.securityEvent(check, ReasonNotFound, hash, chainID, "transaction body", "absent")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("verify %s: %w", check, err)
	}
	return tx, true, nil
}

func (g *Gateway) securityEvent(check Check, reason Reason, hash string, chainID int64, expected, actual string) {
	metrics.VerificationFailures.WithLabelValues(string(check), string(reason)).Inc()
	g.logger.WithFields(logrus.Fields{
		"event":    "security.verification_failed",
		"check":    check,
		"reason":   reason,
		"tx_hash":  hash,
		"chain_id": chainID,
		"expected": expected,
		"actual":   actual,
	}).Warn("transaction verification failed")
}
