package chain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/core"
)

// ErrorCategory 钱包/节点错误的固定分类，原始节点报错不直接暴露给用户
type ErrorCategory string

const (
	CategoryUserRejected      ErrorCategory = "user_rejected"
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryGas               ErrorCategory = "gas"
	CategoryNonce             ErrorCategory = "nonce"
	CategoryNetwork           ErrorCategory = "network"
	CategoryUnknown           ErrorCategory = "unknown"
)

// Message 面向用户的文案
func (c ErrorCategory) Message() string {
	switch c {
	case CategoryUserRejected:
		return "transaction was rejected in the wallet"
	case CategoryInsufficientFunds:
		return "insufficient funds for stake and gas"
	case CategoryGas:
		return "transaction would fail or ran out of gas"
	case CategoryNonce:
		return "wallet nonce out of sync, please retry"
	case CategoryNetwork:
		return "network unavailable, please retry"
	default:
		return "transaction could not be submitted"
	}
}

// ClassifyError 把 go-ethereum / RPC 报错归到固定分类
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, core.ErrInsufficientFunds), errors.Is(err, core.ErrInsufficientFundsForTransfer):
		return CategoryInsufficientFunds
	case errors.Is(err, core.ErrNonceTooLow), errors.Is(err, core.ErrNonceTooHigh):
		return CategoryNonce
	case errors.Is(err, core.ErrIntrinsicGas), errors.Is(err, core.ErrGasLimitReached):
		return CategoryGas
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	// RPC 报错多为字符串，无法 errors.Is
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"), strings.Contains(msg, "rejected by user"):
		return CategoryUserRejected
	case strings.Contains(msg, "insufficient funds"):
		return CategoryInsufficientFunds
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"), strings.Contains(msg, "replacement transaction underpriced"):
		return CategoryNonce
	case strings.Contains(msg, "gas"), strings.Contains(msg, "execution reverted"):
		return CategoryGas
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "dial rpc"), strings.Contains(msg, "eof"):
		return CategoryNetwork
	}
	return CategoryUnknown
}
