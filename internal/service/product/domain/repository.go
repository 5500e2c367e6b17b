package domain

import (
	"context"
	"time"
)

// Repository 定义了商品聚合的持久化接口。
// Update 以读取时的 Version 为条件更新，版本不一致时返回 domain.ErrOptimisticLockConflict。
type Repository interface {
	Create(ctx context.Context, p *Product) error
	FindByID(ctx context.Context, id int64) (*Product, error)
	// FindByIDForUpdate 在支持的数据库上加行锁读取
	FindByIDForUpdate(ctx context.Context, id int64) (*Product, error)
	Update(ctx context.Context, p *Product) error
}

// Cache 是商品详情缓存
type Cache interface {
	Get(ctx context.Context, id int64) (*Product, bool, error)
	Set(ctx context.Context, p *Product, ttl time.Duration) error
	Delete(ctx context.Context, ids ...int64) error
}

// Ranking 维护商品销量排行
type Ranking interface {
	IncrBy(ctx context.Context, productID, quantity int64) error
	Top(ctx context.Context, n int) ([]RankEntry, error)
}
