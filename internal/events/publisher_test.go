package events

import (
	"context"
	"testing"

	"PoolBet/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToLogPublisher(t *testing.T) {
	p := New(nil, "bet_records", logging.Discard())
	_, ok := p.(*LogPublisher)
	assert.True(t, ok)
	require.NoError(t, p.Close())
}

func TestNewUsesKafkaWhenBrokersSet(t *testing.T) {
	p := New([]string{"localhost:9092"}, "bet_records", logging.Discard())
	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "bet_records", kp.writer.Topic)
	require.NoError(t, p.Close())
}

func TestLogPublisherWritesFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewLogPublisher(logger)

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeBetRefundRequired, MarketID: "3", TransactionHash: "0xabc"}))
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, TypeBetRefundRequired, entry.Data["event"])
	assert.Equal(t, "0xabc", entry.Data["tx_hash"])
}
