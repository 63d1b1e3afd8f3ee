package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"PoolBet/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refundPayload struct {
	TaxHash  string `json:"tax_hash"`
	MarketID string `json:"market_id"`
}

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestEnqueueAndDrainInOrder(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Enqueue(KindPersistTaxTx, refundPayload{TaxHash: "0x01"})
	require.NoError(t, err)
	*clock = clock.Add(time.Millisecond)
	_, err = s.Enqueue(KindMarkRefund, refundPayload{TaxHash: "0x01", MarketID: "7"})
	require.NoError(t, err)

	var seen []Kind
	delivered, failed, err := s.Drain(context.Background(), func(_ context.Context, e *Entry) error {
		seen = append(seen, e.Kind)
		if e.Kind == KindMarkRefund {
			var p refundPayload
			require.NoError(t, e.Decode(&p))
			assert.Equal(t, "7", p.MarketID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Zero(t, failed)
	assert.Equal(t, []Kind{KindPersistTaxTx, KindMarkRefund}, seen)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Enqueue(KindPersistBet, refundPayload{TaxHash: "0x02"})
	require.NoError(t, err)

	calls := 0
	flaky := func(_ context.Context, _ *Entry) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	_, failed, err := s.Drain(context.Background(), flaky)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// 未到重试时间不投递
	_, _, err = s.Drain(context.Background(), flaky)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "connection refused", pending[0].LastError)

	*clock = clock.Add(minBackoff)
	_, _, err = s.Drain(context.Background(), flaky)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	*clock = clock.Add(2 * minBackoff)
	delivered, _, err := s.Drain(context.Background(), flaky)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	pending, err = s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPermanentFailureMovesToDead(t *testing.T) {
	s, _ := newTestStore(t)
	e, err := s.Enqueue(KindReconcileBet, refundPayload{TaxHash: "0x03"})
	require.NoError(t, err)

	_, failed, err := s.Drain(context.Background(), func(context.Context, *Entry) error {
		return Permanent(errors.New("rejected by record service"))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	dead, err := s.Dead()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, e.ID, dead[0].ID)
	assert.Contains(t, dead[0].LastError, "rejected by record service")
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, minBackoff, backoff(1))
	assert.Equal(t, 2*minBackoff, backoff(2))
	assert.Equal(t, maxBackoff, backoff(50))
}
