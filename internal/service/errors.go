package service

import (
	"errors"
	"fmt"

	"PoolBet/internal/repository"
)

var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrBetNotFound       = errors.New("bet not found")
	ErrAlreadyClaimed    = errors.New("bet already claimed")
	ErrNotOwner          = errors.New("caller does not own this bet")
	ErrMarketNotResolved = errors.New("market not resolved")
	ErrNothingToClaim    = errors.New("bet has no payout to claim")
	ErrResultConflict    = errors.New("market already resolved with a different result")
	ErrNotRefundable     = errors.New("bet is not awaiting refund")
	ErrNotEscrow         = errors.New("caller is not the escrow operator")
	ErrMarketExists      = errors.New("market already exists")
	ErrChainMismatch     = errors.New("market belongs to another chain")

	// ErrRefundAmountUnknown 税费交易未入审计日志，无法确定应退金额
	ErrRefundAmountUnknown = errors.New("tax transaction not recorded")

	// ErrChainMisconfigured 链已配置但缺少合约/托管地址，属于服务端问题
	ErrChainMisconfigured = errors.New("chain addresses not configured")
	// ErrLedgerUnavailable 节点不可用，无法给出验证结论，可稍后重试
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// DuplicateError 以交易哈希去重：不覆盖，返回已有记录 id
type DuplicateError struct {
	Kind       string // bet / transaction
	Hash       string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with transaction hash %s already recorded (id=%s)", e.Kind, e.Hash, e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return repository.ErrDuplicateHash }

// ValidationError 用户输入错误，原样返回给调用方
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
