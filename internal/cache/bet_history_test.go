package cache

import (
	"context"
	"testing"
	"time"

	"PoolBet/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisBetHistory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBetHistory(rdb, time.Minute), mr
}

func TestBetHistoryRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	user := "0xaaaa000000000000000000000000000000000001"

	_, hit, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, hit)

	bets := []*model.Bet{{ID: "b1", UserAddress: user, Amount: "990000000000000000", Prediction: model.PredictionYes}}
	require.NoError(t, c.Set(ctx, user, bets))
	assert.Equal(t, time.Minute, mr.TTL(key(user)))

	got, hit, err := c.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)

	require.NoError(t, c.Invalidate(ctx, user))
	_, hit, err = c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestBetHistoryCorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	user := "0xaaaa000000000000000000000000000000000001"
	require.NoError(t, mr.Set(key(user), "{not json"))

	_, hit, err := c.Get(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists(key(user)))
}

func TestBetHistoryExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	user := "0xaaaa000000000000000000000000000000000001"
	require.NoError(t, c.Set(ctx, user, []*model.Bet{{ID: "b1"}}))

	mr.FastForward(2 * time.Minute)
	_, hit, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, hit)
}
