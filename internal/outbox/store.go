// Package outbox 客户端本地的持久化重试队列（BadgerDB）。
// 链上已成功、但记录服务暂不可达的写入先入队，由 Drain 反复投递直至成功。
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"PoolBet/internal/metrics"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind 条目类型
type Kind string

const (
	KindPersistTaxTx Kind = "persist_tax_tx" // escrow_tax 交易记录
	KindPersistBet   Kind = "persist_bet"    // 下注记录
	KindPersistBetTx Kind = "persist_bet_tx" // bet 交易记录
	KindMarkRefund   Kind = "mark_refund"    // 待退款记录
	KindReconcileTax Kind = "reconcile_tax"  // 税费回执超时，待核对
	KindReconcileBet Kind = "reconcile_bet"  // 下注回执超时，待核对
)

const (
	pendingPrefix = "outbox/pending/"
	deadPrefix    = "outbox/dead/"

	minBackoff = 5 * time.Second
	maxBackoff = 10 * time.Minute
)

// ErrPermanent 处理方判定不可重试（例如服务端明确拒绝），条目转入 dead
var ErrPermanent = errors.New("permanent failure")

// Permanent 包装为不可重试错误
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Entry 队列条目
type Entry struct {
	Key         string          `json:"key"`
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	NextAttempt time.Time       `json:"next_attempt"`
}

// Decode 解析载荷
func (e *Entry) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler 处理单个条目；返回 nil 即出队
type Handler func(ctx context.Context, e *Entry) error

// Store 基于 Badger 的队列
type Store struct {
	db     *badgerdb.DB
	logger *logrus.Logger
	now    func() time.Time
}

// Open dir 为空时使用内存模式（测试用）
func Open(dir string, logger *logrus.Logger) (*Store, error) {
	var opts badgerdb.Options
	if dir == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("创建 outbox 目录失败: %w", err)
		}
		opts = badgerdb.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil).
		WithNumMemtables(2).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(8 << 20).
		WithValueLogFileSize(16 << 20)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 outbox 失败: %w", err)
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	s.refreshGauge()
	return s, nil
}

// Close 关闭底层存储
func (s *Store) Close() error { return s.db.Close() }

// Enqueue 写入新条目，立即可被投递
func (s *Store) Enqueue(kind Kind, payload interface{}) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	now := s.now()
	e := &Entry{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		CreatedAt:   now,
		NextAttempt: now,
	}
	// 以创建时间作键前缀，遍历即按入队顺序
	e.Key = fmt.Sprintf("%s%020d/%s", pendingPrefix, now.UnixNano(), e.ID)
	if err := s.put(e); err != nil {
		return nil, err
	}
	s.refreshGauge()
	s.logger.WithFields(logrus.Fields{"id": e.ID, "kind": kind}).Info("outbox 入队")
	return e, nil
}

// Pending 所有待投递条目（含未到重试时间的），按入队顺序
func (s *Store) Pending() ([]*Entry, error) { return s.list(pendingPrefix) }

// Dead 不可重试的条目，需要人工处理
func (s *Store) Dead() ([]*Entry, error) { return s.list(deadPrefix) }

// Drain 投递所有到期条目。单个失败不影响其它条目。
func (s *Store) Drain(ctx context.Context, h Handler) (delivered, failed int, err error) {
	entries, err := s.Pending()
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		if e.NextAttempt.After(now) {
			continue
		}
		herr := h(ctx, e)
		switch {
		case herr == nil:
			if err := s.delete(e.Key); err != nil {
				return delivered, failed, err
			}
			delivered++
		case errors.Is(herr, ErrPermanent):
			if err := s.bury(e, herr); err != nil {
				return delivered, failed, err
			}
			failed++
		default:
			if err := s.retry(e, herr); err != nil {
				return delivered, failed, err
			}
			failed++
		}
	}
	s.refreshGauge()
	return delivered, failed, nil
}

// Run 按间隔 Drain，直到 ctx 取消
func (s *Store) Run(ctx context.Context, interval time.Duration, h Handler) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		delivered, failed, err := s.Drain(ctx, h)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("outbox drain 失败")
		} else if delivered+failed > 0 {
			s.logger.WithFields(logrus.Fields{"delivered": delivered, "failed": failed}).Info("outbox drain")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) retry(e *Entry, cause error) error {
	e.Attempts++
	e.LastError = cause.Error()
	e.NextAttempt = s.now().Add(backoff(e.Attempts))
	s.logger.WithError(cause).WithFields(logrus.Fields{
		"id":       e.ID,
		"kind":     e.Kind,
		"attempts": e.Attempts,
	}).Warn("outbox 投递失败，稍后重试")
	return s.put(e)
}

func (s *Store) bury(e *Entry, cause error) error {
	e.Attempts++
	e.LastError = cause.Error()
	oldKey := e.Key
	e.Key = deadPrefix + oldKey[len(pendingPrefix):]
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.logger.WithError(cause).WithFields(logrus.Fields{"id": e.ID, "kind": e.Kind}).Error("outbox 条目不可重试，转入 dead")
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete([]byte(oldKey)); err != nil {
			return err
		}
		return txn.Set([]byte(e.Key), raw)
	})
}

func (s *Store) put(e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(e.Key), raw)
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *Store) list(prefix string) ([]*Entry, error) {
	var out []*Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取 outbox 失败: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) refreshGauge() {
	entries, err := s.Pending()
	if err != nil {
		return
	}
	metrics.OutboxPending.Set(float64(len(entries)))
}

func backoff(attempts int) time.Duration {
	d := minBackoff
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
