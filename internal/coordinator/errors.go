package coordinator

import (
	"errors"
	"fmt"

	"PoolBet/internal/chain"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrBelowMinimum        = errors.New("amount is below the minimum bet")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidTaxRate      = errors.New("tax rate out of range")
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrContractNotDeployed = errors.New("betting contract is not deployed on this chain")
	ErrIntentInFlight      = errors.New("a bet is already in progress")

	// ErrTaxFailed 税费交易上链但执行失败，资金未动
	ErrTaxFailed = errors.New("tax transfer failed")
	// ErrBetFailed 下注交易失败，税费已扣，已登记退款
	ErrBetFailed = errors.New("bet failed after tax was collected")
	// ErrConfirmationTimeout 等待回执超时，结果未知，交给 outbox 核对
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// Stage 出错所在阶段
type Stage string

const (
	StageTax Stage = "tax"
	StageBet Stage = "bet"
)

// WalletError 钱包/节点错误，只暴露固定分类
type WalletError struct {
	Stage    Stage
	Category chain.ErrorCategory
	cause    error
}

func newWalletError(stage Stage, err error) *WalletError {
	return &WalletError{Stage: stage, Category: chain.ClassifyError(err), cause: err}
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("%s transaction: %s", e.Stage, e.Category.Message())
}

func (e *WalletError) Unwrap() error { return e.cause }
