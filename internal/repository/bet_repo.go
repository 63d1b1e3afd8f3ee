package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PoolBet/internal/model"

	"gorm.io/gorm"
)

// ErrDuplicateHash 交易哈希已入库（由唯一索引原子保证，而非先查后写）
var ErrDuplicateHash = errors.New("transaction hash already recorded")

// BetRepository 下注记录持久化
type BetRepository interface {
	CreateBet(ctx context.Context, bet *model.Bet) error
	GetByTxHash(ctx context.Context, txHash string) (*model.Bet, error)
	GetByID(ctx context.Context, id string) (*model.Bet, error)
	// ListByUser 按时间倒序分页；limit<=0 取 100，上限 500
	ListByUser(ctx context.Context, userAddress string, offset, limit int) ([]*model.Bet, error)
	// ListRefundPending 已收税未入池、待退款的记录
	ListRefundPending(ctx context.Context, limit int) ([]*model.Bet, error)
	// MarkClaimed 条件更新 claimed=false -> true；返回 false 表示已被领取
	MarkClaimed(ctx context.Context, id, claimTxHash string) (bool, error)
	// MarkRefunded 条件更新 refund_pending -> refunded；返回 false 表示状态已变
	MarkRefunded(ctx context.Context, id, refundTxHash string) (bool, error)
}

// TransactionRepository 交易审计日志持久化（只追加）
type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx *model.Transaction) error
	GetByHash(ctx context.Context, txHash string) (*model.Transaction, error)
	ListByUser(ctx context.Context, userAddress string, limit int) ([]*model.Transaction, error)
}

type betRepository struct {
	db *gorm.DB
}

// NewBetRepository 创建下注仓储
func NewBetRepository(db *gorm.DB) BetRepository {
	return &betRepository{db: db}
}

// NewTransactionRepository 创建交易仓储
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *betRepository) CreateBet(ctx context.Context, bet *model.Bet) error {
	if err := r.db.WithContext(ctx).Create(bet).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("bet %s: %w", bet.TransactionHash, ErrDuplicateHash)
		}
		return err
	}
	return nil
}

func (r *betRepository) GetByTxHash(ctx context.Context, txHash string) (*model.Bet, error) {
	var b model.Bet
	if err := r.db.WithContext(ctx).Where("transaction_hash = ?", txHash).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *betRepository) GetByID(ctx context.Context, id string) (*model.Bet, error) {
	var b model.Bet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *betRepository) ListByUser(ctx context.Context, userAddress string, offset, limit int) ([]*model.Bet, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	var list []*model.Bet
	if err := r.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("timestamp DESC").Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *betRepository) ListRefundPending(ctx context.Context, limit int) ([]*model.Bet, error) {
	if limit <= 0 {
		limit = 500
	}
	var list []*model.Bet
	if err := r.db.WithContext(ctx).
		Where("tax_status = ?", model.TaxStatusRefundPending).
		Order("created_at ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *betRepository) MarkClaimed(ctx context.Context, id, claimTxHash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Bet{}).
		Where("id = ? AND claimed = ?", id, false).
		Updates(map[string]interface{}{
			"claimed":                true,
			"claim_transaction_hash": claimTxHash,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *betRepository) MarkRefunded(ctx context.Context, id, refundTxHash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Bet{}).
		Where("id = ? AND tax_status = ?", id, model.TaxStatusRefundPending).
		Updates(map[string]interface{}{
			"tax_status":              model.TaxStatusRefunded,
			"refund_transaction_hash": refundTxHash,
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type transactionRepository struct {
	db *gorm.DB
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("transaction %s: %w", tx.TransactionHash, ErrDuplicateHash)
		}
		return err
	}
	return nil
}

func (r *transactionRepository) GetByHash(ctx context.Context, txHash string) (*model.Transaction, error) {
	var t model.Transaction
	if err := r.db.WithContext(ctx).Where("transaction_hash = ?", txHash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userAddress string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []*model.Transaction
	if err := r.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// IsDuplicateKey 唯一约束冲突。开启 TranslateError 时为 gorm.ErrDuplicatedKey，
// 否则按 postgres(23505) / sqlite 的错误文本识别。
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsNotFound gorm 查无记录
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
