package model

import (
	"time"

	"gorm.io/datatypes"
)

// Prediction 下注方向
type Prediction string

const (
	PredictionYes Prediction = "yes"
	PredictionNo  Prediction = "no"
)

func (p Prediction) Valid() bool { return p == PredictionYes || p == PredictionNo }

// TaxStatus 税费状态
type TaxStatus string

const (
	TaxStatusNone          TaxStatus = "none"
	TaxStatusPaid          TaxStatus = "paid"
	TaxStatusRefundPending TaxStatus = "refund_pending" // 已收税、未入池，待退款
	TaxStatusRefunded      TaxStatus = "refunded"       // 托管方已退回税费
)

// Bet 对应 bets 表，是链上下注的链下索引（不是资金真相来源）。
// TransactionHash 全局唯一：同一哈希的第二次上报一律拒绝，不合并。
// RefundEligible=true 时 Amount="0"、TransactionHash 即税费交易哈希，仅作审计记录。
type Bet struct {
	ID                    string     `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	MarketID              string     `gorm:"column:market_id;type:varchar(78);not null;index" json:"marketId"`
	UserAddress           string     `gorm:"column:user_address;type:varchar(42);not null;index" json:"userAddress"`
	Prediction            Prediction `gorm:"column:prediction;type:varchar(8);not null" json:"prediction"`
	Amount                string     `gorm:"column:amount;type:varchar(78);not null" json:"amount"` // wei，十进制字符串
	TransactionHash       string     `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex;not null" json:"transactionHash"`
	ChainID               int64      `gorm:"column:chain_id;not null;index" json:"chainId"`
	Timestamp             time.Time  `gorm:"column:timestamp;not null" json:"timestamp"`
	Claimed               bool       `gorm:"column:claimed;not null;default:false" json:"claimed"`
	ClaimTransactionHash  *string    `gorm:"column:claim_transaction_hash;type:varchar(66)" json:"claimTransactionHash,omitempty"`
	TaxTransactionHash    *string    `gorm:"column:tax_transaction_hash;type:varchar(66);index" json:"taxTransactionHash,omitempty"`
	TaxStatus             TaxStatus  `gorm:"column:tax_status;type:varchar(16);not null;default:'none'" json:"taxStatus"`
	RefundEligible        *bool      `gorm:"column:refund_eligible" json:"refundEligible,omitempty"`
	RefundTransactionHash *string    `gorm:"column:refund_transaction_hash;type:varchar(66)" json:"refundTransactionHash,omitempty"`
	CreatedAt             time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt             time.Time  `gorm:"column:updated_at" json:"updatedAt"`
}

func (Bet) TableName() string { return "bets" }

// IsRefundRecord 是否为待退税审计记录
func (b *Bet) IsRefundRecord() bool { return b.RefundEligible != nil && *b.RefundEligible }

// TransactionType 交易类型
type TransactionType string

const (
	TxTypeBet           TransactionType = "bet"
	TxTypeClaim         TransactionType = "claim"
	TxTypeCreateMarket  TransactionType = "create_market"
	TxTypeResolveMarket TransactionType = "resolve_market"
	TxTypeEscrowTax     TransactionType = "escrow_tax"
	TxTypeRefund        TransactionType = "refund" // 托管方退税，只由退款流程写入
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypeBet, TxTypeClaim, TxTypeCreateMarket, TxTypeResolveMarket, TxTypeEscrowTax:
		return true
	}
	return false
}

// CarriesValue claim/create_market/resolve_market 按设计为零值交易，不校验金额
func (t TransactionType) CarriesValue() bool {
	return t == TxTypeBet || t == TxTypeEscrowTax
}

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TxStatusPending TransactionStatus = "pending"
	TxStatusSuccess TransactionStatus = "success"
	TxStatusFailed  TransactionStatus = "failed"
)

// Transaction 对应 transactions 表，只追加的审计日志
type Transaction struct {
	ID              string            `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	UserAddress     string            `gorm:"column:user_address;type:varchar(42);not null;index" json:"userAddress"`
	Type            TransactionType   `gorm:"column:type;type:varchar(16);not null" json:"type"`
	TransactionHash string            `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex;not null" json:"transactionHash"`
	Status          TransactionStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'" json:"status"`
	ChainID         int64             `gorm:"column:chain_id;not null;index" json:"chainId"`
	Value           string            `gorm:"column:value;type:varchar(78);not null;default:'0'" json:"value"`
	GasUsed         *uint64           `gorm:"column:gas_used" json:"gasUsed,omitempty"`
	Metadata        datatypes.JSON    `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at" json:"createdAt"`
}

func (Transaction) TableName() string { return "transactions" }
