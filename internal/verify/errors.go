package verify

import "fmt"

// Check 哪一项检查
type Check string

const (
	CheckExists    Check = "exists"
	CheckSender    Check = "sender"
	CheckValue     Check = "value"
	CheckRecipient Check = "recipient"
	CheckChain     Check = "chain"
	CheckEvent     Check = "event"
)

// Reason 失败原因
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonSenderMismatch    Reason = "sender_mismatch"
	ReasonValueMismatch     Reason = "value_mismatch"
	ReasonRecipientMismatch Reason = "recipient_mismatch"
	ReasonUnsupportedChain  Reason = "unsupported_chain"
	ReasonEventMismatch     Reason = "event_mismatch"
)

// Remediation 客户端处理建议：只暴露建议，不暴露具体哪项检查失败
type Remediation string

const (
	RemediationRetry          Remediation = "retry"           // 可能尚未上链
	RemediationAbandon        Remediation = "abandon"         // 上报内容与链上不符，重试无意义
	RemediationContactSupport Remediation = "contact_support" // 资金可能已动，需要人工
)

// Error 验证失败。Error() 含细节，仅用于日志；对外统一用 PublicMessage。
type Error struct {
	Reason  Reason
	Hash    string
	ChainID int64
}

// PublicMessage 对外文案，不区分具体检查项
const PublicMessage = "could not verify transaction"

func (e *Error) Error() string {
	return fmt.Sprintf("verification failed: %s (tx=%s chain=%d)", e.Reason, e.Hash, e.ChainID)
}

// Remediation 按原因给出处理建议
func (e *Error) Remediation() Remediation {
	switch e.Reason {
	case ReasonNotFound:
		return RemediationRetry
	case ReasonValueMismatch, ReasonRecipientMismatch:
		return RemediationContactSupport
	default:
		return RemediationAbandon
	}
}

// NewError 构造验证失败错误
func NewError(reason Reason, hash string, chainID int64) *Error {
	return &Error{Reason: reason, Hash: hash, ChainID: chainID}
}
