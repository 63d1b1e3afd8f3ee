package chain

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrTxNotFound 节点查不到交易或回执（未上链/被丢弃/哈希伪造）
	ErrTxNotFound = errors.New("transaction not found")
	// ErrUnsupportedChain 未配置的 chainId
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrReceiptTimeout 在给定时间内没等到回执
	ErrReceiptTimeout = errors.New("receipt wait timed out")
)

// ReceiptStatus 回执状态
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Receipt 交易回执（只保留业务需要的字段）
type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	GasUsed     uint64
	BlockNumber uint64
	Logs        []*types.Log
}

// Succeeded 执行成功（非 revert）
func (r *Receipt) Succeeded() bool { return r != nil && r.Status == ReceiptSuccess }

// TxInfo 交易本体：发送方、接收方、金额（wei）
type TxInfo struct {
	Hash  string
	From  string
	To    string // 合约创建交易为空
	Value *big.Int
}

// IsHexAddress 严格校验：0x 前缀 + 40 位十六进制
func IsHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	return common.IsHexAddress(s)
}

// NormalizeAddress 统一小写，便于比较与存储
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsTxHash 0x + 64 位十六进制
func IsTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}

// NormalizeHash 统一小写
func NormalizeHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
