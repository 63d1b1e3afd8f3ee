// Package cache 用户下注历史的 Redis 缓存。写路径每次落库后失效对应用户的键。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PoolBet/internal/model"

	"github.com/redis/go-redis/v9"
)

// BetHistoryCache 下注历史缓存
type BetHistoryCache interface {
	// Get 未命中返回 (nil, false, nil)
	Get(ctx context.Context, userAddress string) ([]*model.Bet, bool, error)
	Set(ctx context.Context, userAddress string, bets []*model.Bet) error
	Invalidate(ctx context.Context, userAddress string) error
}

// ConnectRedis 建立连接并 Ping
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisBetHistory 以 JSON 保存整个列表，TTL 兜底过期
type RedisBetHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBetHistory ttl<=0 时取 5 分钟
func NewRedisBetHistory(c *redis.Client, ttl time.Duration) *RedisBetHistory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisBetHistory{client: c, ttl: ttl}
}

func key(userAddress string) string { return "bets:history:" + userAddress }

func (r *RedisBetHistory) Get(ctx context.Context, userAddress string) ([]*model.Bet, bool, error) {
	b, err := r.client.Get(ctx, key(userAddress)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bets []*model.Bet
	if err := json.Unmarshal(b, &bets); err != nil {
		// 坏数据当作未命中，顺手删掉
		_ = r.client.Del(ctx, key(userAddress)).Err()
		return nil, false, nil
	}
	return bets, true, nil
}

func (r *RedisBetHistory) Set(ctx context.Context, userAddress string, bets []*model.Bet) error {
	b, err := json.Marshal(bets)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(userAddress), b, r.ttl).Err()
}

func (r *RedisBetHistory) Invalidate(ctx context.Context, userAddress string) error {
	return r.client.Del(ctx, key(userAddress)).Err()
}

// Noop 未配置 Redis 时使用：永远未命中
type Noop struct{}

func (Noop) Get(context.Context, string) ([]*model.Bet, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []*model.Bet) error         { return nil }
func (Noop) Invalidate(context.Context, string) error                { return nil }
