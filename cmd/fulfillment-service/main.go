// cmd/fulfillment-service/main.go
package main

import (
	"flag"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"fulfillment/internal/pkg/bootstrap"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/zookeeper"

	couponapp "fulfillment/internal/service/coupon/application"
	couponinfra "fulfillment/internal/service/coupon/infrastructure"
	"fulfillment/internal/service/coupon/infrastructure/rule"
	couponapi "fulfillment/internal/service/coupon/interfaces"
	orderapp "fulfillment/internal/service/order/application"
	orderdomain "fulfillment/internal/service/order/domain"
	orderinfra "fulfillment/internal/service/order/infrastructure"
	"fulfillment/internal/service/order/infrastructure/adapter"
	orderapi "fulfillment/internal/service/order/interfaces"
	pointapp "fulfillment/internal/service/point/application"
	pointinfra "fulfillment/internal/service/point/infrastructure"
	pointapi "fulfillment/internal/service/point/interfaces"
	productapp "fulfillment/internal/service/product/application"
	productdomain "fulfillment/internal/service/product/domain"
	productinfra "fulfillment/internal/service/product/infrastructure"
	productapi "fulfillment/internal/service/product/interfaces"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	configPath := flag.String("config", "configs/fulfillment.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel)

	// 1. 初始化核心技术组件
	db, err := database.Open(cfg.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if cfg.MySQL.AutoMigrate {
		if err := migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addrs != "" {
		if redisClient, err = redis.NewClient(cfg.Redis.Addrs); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis client")
		}
	}

	locks, closeLocker, err := newLockManager(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize lock backend")
	}

	tx := database.NewTransactor(db)
	tracer := otel.Tracer(cfg.Service.Name)

	// 2. 组装各业务服务
	var (
		cache   productdomain.Cache
		ranking productdomain.Ranking
	)
	if redisClient != nil {
		cache = productinfra.NewRedisProductCache(redisClient)
		ranking = productinfra.NewRedisRanking(redisClient)
	}
	products := productapp.NewProductService(productinfra.NewGormProductRepository(db), cache, ranking, locks, tx, tracer,
		productapp.Config{LockTimeout: cfg.Lock.DefaultTimeout, CacheTTL: cfg.Cache.ProductTTL})

	rules, err := rule.NewCELEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize coupon rule engine")
	}
	coupons := couponapp.NewCouponService(couponinfra.NewGormEventRepository(db), couponinfra.NewGormCouponUserRepository(db),
		rules, locks, tx, tracer, couponapp.Config{LockTimeout: cfg.Lock.DefaultTimeout})

	points := pointapp.NewPointService(pointinfra.NewGormPointRepository(db), pointinfra.NewGormHistoryRepository(db),
		locks, tx, tracer, pointapp.Config{LockTimeout: cfg.Lock.DefaultTimeout})

	// 3. 事件发布与消费：没有配置 Kafka 时事件只写日志，销量榜不更新
	var (
		publisher orderdomain.EventPublisher = orderinfra.LogEventPublisher{}
		workers   []bootstrap.Worker
		closers   []func() error
	)
	if len(cfg.Kafka.Brokers) > 0 {
		writer := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)
		publisher = orderinfra.NewKafkaEventPublisher(writer)
		closers = append(closers, writer.Close)

		reader := mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, cfg.Kafka.SalesGroupID)
		workers = append(workers, mq.NewConsumer("product-sales", reader, productapi.NewSalesHandler(products)).Run)
	}

	checkout := orderapp.NewCheckoutService(orderinfra.NewGormOrderRepository(db),
		adapter.NewInventoryAdapter(products), adapter.NewCouponAdapter(coupons), adapter.NewPointAdapter(points),
		publisher, locks, tx, tracer,
		orderapp.Config{Locks: cfg.Lock.Policy(), PublishTimeout: cfg.Order.PublishTimeout})

	// 4. 启动服务，阻塞直到收到退出信号
	err = bootstrap.StartService(bootstrap.AppInfo{
		Config: cfg,
		RegisterHandlers: func(app bootstrap.AppCtx) {
			orderapi.NewOrderHandler(checkout).RegisterRoutes(app.Mux)
			productapi.NewProductHandler(products).RegisterRoutes(app.Mux)
			couponapi.NewCouponHandler(coupons).RegisterRoutes(app.Mux)
			pointapi.NewPointHandler(points).RegisterRoutes(app.Mux)
		},
		Workers: workers,
		Cleanup: func() {
			for _, c := range closers {
				if err := c(); err != nil {
					log.Error().Err(err).Msg("failed to close kafka writer")
				}
			}
			closeLocker()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
}

func migrate(db *gorm.DB) error {
	for _, m := range []func(*gorm.DB) error{
		productinfra.AutoMigrate,
		couponinfra.AutoMigrate,
		pointinfra.AutoMigrate,
		orderinfra.AutoMigrate,
	} {
		if err := m(db); err != nil {
			return err
		}
	}
	return nil
}

// newLockManager 按 lock.backend 选择锁后端，返回的 close 函数用于关停时释放连接
func newLockManager(cfg *bootstrap.Config, redisClient *redis.Client) (*lock.Manager, func(), error) {
	opts := []lock.Option{lock.WithLease(cfg.Lock.Lease), lock.WithDefaultTimeout(cfg.Lock.DefaultTimeout)}
	keys := lock.NewKeyGenerator(cfg.Lock.Prefix)

	switch cfg.Lock.Backend {
	case bootstrap.LockBackendZookeeper:
		conn, err := zookeeper.Connect(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		locker, err := zookeeper.NewLocker(conn, cfg.Zookeeper.Root)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return lock.NewManager(locker, keys, opts...), conn.Close, nil
	default:
		locker, err := lock.NewRedisLocker(redisClient, cfg.Lock.RetryInterval)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewManager(locker, keys, opts...), func() {}, nil
	}
}
