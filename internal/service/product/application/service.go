// internal/service/product/application/service.go
package application

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/product/domain"
)

// Config 是商品服务的可调参数
type Config struct {
	LockTimeout time.Duration `yaml:"lockTimeout"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

// ProductService 提供库存变更、商品详情读写和销量排行
type ProductService struct {
	repo    domain.Repository
	cache   domain.Cache
	ranking domain.Ranking
	locks   *lock.Manager
	tx      shared.Transactor
	tracer  trace.Tracer
	cfg     Config
	loads   singleflight.Group
}

// NewProductService 创建商品服务。cache 和 ranking 可以为 nil，对应功能随之关闭
func NewProductService(repo domain.Repository, cache domain.Cache, ranking domain.Ranking,
	locks *lock.Manager, tx shared.Transactor, tracer trace.Tracer, cfg Config) *ProductService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &ProductService{repo: repo, cache: cache, ranking: ranking, locks: locks, tx: tx, tracer: tracer, cfg: cfg}
}

// StockKey 是保护商品库存的锁，下单流程与单品库存变更共用同一个 key
func (s *ProductService) StockKey(id int64) lock.Key {
	return s.locks.Keys().KeyOf(lock.DomainProduct, lock.ResourceStock, id)
}

// DetailKey 是商品详情缓存的读写锁
func (s *ProductService) DetailKey(id int64) lock.Key {
	return s.locks.Keys().KeyOf(lock.DomainProduct, lock.ResourceDetail, id)
}

// CreateProduct 新建商品
func (s *ProductService) CreateProduct(ctx context.Context, name string, price, stock int64) (*domain.Product, error) {
	p, err := domain.NewProduct(name, price, stock)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Int64("product_id", p.ID).Int64("stock", stock).Msg("Product created")
	return p, nil
}

// DecreaseStock 在库存锁内扣减单个商品的库存
func (s *ProductService) DecreaseStock(ctx context.Context, productID, quantity int64) (*domain.Product, error) {
	return s.changeStock(ctx, "ProductService.DecreaseStock", productID, func(p *domain.Product) error {
		return p.DecreaseStock(quantity)
	})
}

// IncreaseStock 在库存锁内增加单个商品的库存
func (s *ProductService) IncreaseStock(ctx context.Context, productID, quantity int64) (*domain.Product, error) {
	return s.changeStock(ctx, "ProductService.IncreaseStock", productID, func(p *domain.Product) error {
		return p.IncreaseStock(quantity)
	})
}

func (s *ProductService) changeStock(ctx context.Context, op string, productID int64, mutate func(*domain.Product) error) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	var out *domain.Product
	err := s.locks.WithLock(ctx, s.StockKey(productID), s.cfg.LockTimeout, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			p, err := s.repo.FindByIDForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			if err := mutate(p); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.Evict(ctx, productID)
	logger.Ctx(ctx).Info().Int64("product_id", productID).Int64("stock", out.Stock).Int64("version", out.Version).Msg("Stock changed")
	return out, nil
}

// DeductStocks 扣减一批商品的库存，同一商品的多行先合并。
// 调用方必须已经持有这些商品的库存锁，并处于事务中；任一商品失败时返回错误，由外层事务整体回滚。
// 返回的商品顺序与合并后的行一致（按商品 ID 升序）。
func (s *ProductService) DeductStocks(ctx context.Context, lines []domain.StockLine) ([]*domain.Product, error) {
	merged, err := domain.MergeLines(lines)
	if err != nil {
		return nil, err
	}
	products := make([]*domain.Product, 0, len(merged))
	for _, line := range merged {
		p, err := s.repo.FindByIDForUpdate(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if err := p.DecreaseStock(line.Quantity); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProduct 读取商品详情。缓存未命中时在读锁内回源并回填缓存，
// 同一商品的并发回源合并为一次。
func (s *ProductService) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	if s.cache != nil {
		p, ok, err := s.cache.Get(ctx, productID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("Product cache read failed")
		} else if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return p, nil
		}
	}

	// 合并后的回源不跟随任何一个调用方的取消，各调用方只按自己的 ctx 放弃等待
	ch := s.loads.DoChan(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.cfg.LockTimeout)
		defer cancel()
		return s.load(loadCtx, productID)
	})
	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			return nil, res.Err
		}
		return res.Val.(*domain.Product), nil
	}
}

func (s *ProductService) load(ctx context.Context, productID int64) (*domain.Product, error) {
	var p *domain.Product
	err := s.locks.WithReadLock(ctx, s.DetailKey(productID), s.cfg.LockTimeout, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.FindByID(ctx, productID); err != nil {
			return err
		}
		s.fill(ctx, p)
		return nil
	})
	if errors.Is(err, lock.ErrUnsupported) {
		// 锁后端不支持读写锁时直接读库，不回填缓存
		return s.repo.FindByID(ctx, productID)
	}
	return p, err
}

func (s *ProductService) fill(ctx context.Context, p *domain.Product) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, p, s.cfg.CacheTTL); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", p.ID).Msg("Product cache fill failed")
	}
}

// UpdateProduct 在写锁内修改名称和价格，提交后删除缓存
func (s *ProductService) UpdateProduct(ctx context.Context, productID int64, name string, price int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.UpdateProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	var out *domain.Product
	update := func(ctx context.Context) error {
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			p, err := s.repo.FindByIDForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			if err := p.UpdateInfo(name, price); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
		if err != nil {
			return err
		}
		// 仍持有写锁，读者无法在删除之后回填旧值
		s.Evict(ctx, productID)
		return nil
	}

	err := s.locks.WithWriteLock(ctx, s.DetailKey(productID), s.cfg.LockTimeout, update)
	if errors.Is(err, lock.ErrUnsupported) {
		err = s.locks.WithLock(ctx, s.DetailKey(productID), s.cfg.LockTimeout, update)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// Evict 删除商品详情缓存，失败只记录日志
func (s *ProductService) Evict(ctx context.Context, productIDs ...int64) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, productIDs...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Ints64("product_ids", productIDs).Msg("Product cache eviction failed")
	}
}

// RecordSales 把已完成订单的商品数量计入销量排行
func (s *ProductService) RecordSales(ctx context.Context, lines []domain.StockLine) error {
	if s.ranking == nil {
		return nil
	}
	for _, l := range lines {
		if err := s.ranking.IncrBy(ctx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// TopSelling 返回销量最高的 n 个商品
func (s *ProductService) TopSelling(ctx context.Context, n int) ([]domain.RankEntry, error) {
	if s.ranking == nil {
		return nil, nil
	}
	return s.ranking.Top(ctx, n)
}
