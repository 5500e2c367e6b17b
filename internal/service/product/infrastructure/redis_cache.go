package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/product/domain"
)

const (
	detailKeyPrefix = "product:detail:"
	rankingKey      = "product:ranking:sales"
)

// RedisProductCache 把商品详情以 JSON 形式缓存在 Redis 中
type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(client *redis.Client) *RedisProductCache {
	return &RedisProductCache{client: client}
}

func detailKey(id int64) string {
	return detailKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *RedisProductCache) Get(ctx context.Context, id int64) (*domain.Product, bool, error) {
	raw, err := c.client.GetClient().Get(ctx, detailKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisProductCache) Set(ctx context.Context, p *domain.Product, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.GetClient().Set(ctx, detailKey(p.ID), raw, ttl).Err()
}

func (c *RedisProductCache) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = detailKey(id)
	}
	return c.client.GetClient().Del(ctx, keys...).Err()
}

// RedisRanking 用一个 ZSET 维护累计销量
type RedisRanking struct {
	client *redis.Client
}

func NewRedisRanking(client *redis.Client) *RedisRanking {
	return &RedisRanking{client: client}
}

func (r *RedisRanking) IncrBy(ctx context.Context, productID, quantity int64) error {
	return r.client.GetClient().ZIncrBy(ctx, rankingKey, float64(quantity), strconv.FormatInt(productID, 10)).Err()
}

func (r *RedisRanking) Top(ctx context.Context, n int) ([]domain.RankEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := r.client.GetClient().ZRevRangeWithScores(ctx, rankingKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RankEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.RankEntry{ProductID: id, Sold: int64(z.Score)})
	}
	return out, nil
}

var (
	_ domain.Cache   = (*RedisProductCache)(nil)
	_ domain.Ranking = (*RedisRanking)(nil)
)
