// Package events 记录服务对外投递的业务事件（Kafka）
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// 事件类型
const (
	TypeBetRecorded       = "bet.recorded"
	TypeBetRefundRequired = "bet.refund_required"
	TypeBetRefunded       = "bet.refunded"
	TypeBetClaimed        = "bet.claimed"
	TypeMarketResolved    = "market.resolved"
)

// Event 事件载荷
type Event struct {
	Type               string `json:"type"`
	BetID              string `json:"bet_id,omitempty"`
	MarketID           string `json:"market_id"`
	UserAddress        string `json:"user_address,omitempty"`
	TransactionHash    string `json:"transaction_hash,omitempty"`
	TaxTransactionHash string `json:"tax_transaction_hash,omitempty"`
	Amount             string `json:"amount,omitempty"`
	Result             string `json:"result,omitempty"`
	ChainID            int64  `json:"chain_id,omitempty"`
	TsUnixMs           int64  `json:"ts_unix_ms"`
}

// Publisher 事件投递
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NewWriter brokers 为空时返回 nil
func NewWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
	}
}

// KafkaPublisher 以 market_id 为 key，保证同一盘口事件有序
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.TsUnixMs == 0 {
		e.TsUnixMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.MarketID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher 未配置 Kafka 时退化为写日志
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.WithFields(logrus.Fields{
		"event":    e.Type,
		"bet_id":   e.BetID,
		"market":   e.MarketID,
		"user":     e.UserAddress,
		"tx_hash":  e.TransactionHash,
		"chain_id": e.ChainID,
	}).Info("record event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// New 根据 brokers 选择实现
func New(brokers []string, topic string, logger *logrus.Logger) Publisher {
	if w := NewWriter(brokers, topic); w != nil {
		return NewKafkaPublisher(w)
	}
	logger.Warn("kafka brokers 未配置，记录事件只写日志")
	return NewLogPublisher(logger)
}
