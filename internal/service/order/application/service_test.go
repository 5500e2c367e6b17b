package application

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/redis"
	couponapp "fulfillment/internal/service/coupon/application"
	coupondomain "fulfillment/internal/service/coupon/domain"
	couponinfra "fulfillment/internal/service/coupon/infrastructure"
	"fulfillment/internal/service/coupon/infrastructure/rule"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/infrastructure"
	"fulfillment/internal/service/order/infrastructure/adapter"
	pointapp "fulfillment/internal/service/point/application"
	pointdomain "fulfillment/internal/service/point/domain"
	pointinfra "fulfillment/internal/service/point/infrastructure"
	productapp "fulfillment/internal/service/product/application"
	productdomain "fulfillment/internal/service/product/domain"
	productinfra "fulfillment/internal/service/product/infrastructure"
)

// recordingPublisher 记录事件，并在发布时回调 onPublish 以便检查发布时刻的系统状态
type recordingPublisher struct {
	mu        sync.Mutex
	events    []*shared.OrderCompleted
	err       error
	onPublish func(event *shared.OrderCompleted)
}

func (p *recordingPublisher) PublishOrderCompleted(_ context.Context, event *shared.OrderCompleted) error {
	if p.onPublish != nil {
		p.onPublish(event)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// concurrentWriterRepo 在加锁读取之后、版本化更新之前，让存储中的版本先前进一次，
// 等同于另一个绕过锁的写者抢先提交
type concurrentWriterRepo struct {
	*productinfra.GormProductRepository
	db    *gorm.DB
	armed atomic.Bool
}

func (r *concurrentWriterRepo) FindByIDForUpdate(ctx context.Context, id int64) (*productdomain.Product, error) {
	p, err := r.GormProductRepository.FindByIDForUpdate(ctx, id)
	if err != nil || !r.armed.CompareAndSwap(true, false) {
		return p, err
	}
	bump := database.Conn(ctx, r.db).Model(&productinfra.ProductModel{}).
		Where("id = ?", id).Update("version", gorm.Expr("version + 1"))
	return p, bump.Error
}

type CheckoutSuite struct {
	suite.Suite
	db        *gorm.DB
	mr        *miniredis.Miniredis
	locks     *lock.Manager
	products  *productapp.ProductService
	coupons   *couponapp.CouponService
	points    *pointapp.PointService
	orders    *infrastructure.GormOrderRepository
	publisher *recordingPublisher
	checkout  *CheckoutService
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	t := s.T()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	require.NoError(t, productinfra.AutoMigrate(db))
	require.NoError(t, couponinfra.AutoMigrate(db))
	require.NoError(t, pointinfra.AutoMigrate(db))
	require.NoError(t, infrastructure.AutoMigrate(db))
	s.db = db

	mr := miniredis.RunT(t)
	s.mr = mr
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	locker, err := lock.NewRedisLocker(client, 2*time.Millisecond)
	require.NoError(t, err)
	s.locks = lock.NewManager(locker, lock.NewKeyGenerator("test"))

	tx := database.NewTransactor(db)
	tracer := otel.Tracer("checkout-test")
	engine, err := rule.NewCELEngine()
	require.NoError(t, err)

	s.products = productapp.NewProductService(productinfra.NewGormProductRepository(db), productinfra.NewRedisProductCache(client),
		productinfra.NewRedisRanking(client), s.locks, tx, tracer, productapp.Config{})
	s.coupons = couponapp.NewCouponService(couponinfra.NewGormEventRepository(db), couponinfra.NewGormCouponUserRepository(db),
		engine, s.locks, tx, tracer, couponapp.Config{})
	s.points = pointapp.NewPointService(pointinfra.NewGormPointRepository(db), pointinfra.NewGormHistoryRepository(db),
		s.locks, tx, tracer, pointapp.Config{})
	s.orders = infrastructure.NewGormOrderRepository(db)
	s.publisher = &recordingPublisher{}
	s.checkout = NewCheckoutService(s.orders, adapter.NewInventoryAdapter(s.products), adapter.NewCouponAdapter(s.coupons),
		adapter.NewPointAdapter(s.points), s.publisher, s.locks, tx, tracer,
		Config{Locks: lock.TimeoutPolicy{First: 30 * time.Second, Following: 30 * time.Second}})
}

func (s *CheckoutSuite) product(price, stock int64) *productdomain.Product {
	p, err := s.products.CreateProduct(context.Background(), "item", price, stock)
	s.Require().NoError(err)
	return p
}

func (s *CheckoutSuite) coupon(userID, discount int64) *coupondomain.CouponUser {
	ctx := context.Background()
	e, err := s.coupons.CreateEvent(ctx, &couponapp.CreateEventRequest{
		Name: "promo", DiscountType: coupondomain.DiscountFixed, DiscountValue: discount,
		TotalIssueAmount: 10, ExpireAt: time.Now().Add(time.Hour),
	})
	s.Require().NoError(err)
	c, err := s.coupons.IssueCoupon(ctx, e.ID, userID)
	s.Require().NoError(err)
	return c
}

func (s *CheckoutSuite) stockOf(id int64) int64 {
	p, err := s.products.GetProduct(context.Background(), id)
	s.Require().NoError(err)
	return p.Stock
}

func (s *CheckoutSuite) orderCount() int64 {
	var n int64
	s.Require().NoError(s.db.Model(&infrastructure.OrderModel{}).Count(&n).Error)
	return n
}

func (s *CheckoutSuite) TestConcurrentOrdersNeverOversell() {
	ctx := context.Background()
	p := s.product(1000, 10)

	var ok, soldOut atomic.Int64
	var wg sync.WaitGroup
	for userID := int64(1); userID <= 50; userID++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{
				UserID: userID,
				Items:  []domain.LineItem{{ProductID: p.ID, Quantity: 1}},
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, productdomain.ErrStockUnderflow):
				soldOut.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}(userID)
	}
	wg.Wait()

	s.EqualValues(10, ok.Load())
	s.EqualValues(40, soldOut.Load())
	s.Zero(s.stockOf(p.ID))
	s.EqualValues(10, s.orderCount())
	s.Equal(10, s.publisher.count())
}

func (s *CheckoutSuite) TestOverlappingProductSetsDoNotDeadlock() {
	ctx := context.Background()
	a := s.product(100, 1000)
	b := s.product(100, 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// 一半请求按 [a, b] 列出商品，一半按 [b, a]
				items := []domain.LineItem{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
				if i%2 == 1 {
					items[0], items[1] = items[1], items[0]
				}
				_, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: int64(i + 1), Items: items})
				s.NoError(err)
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		s.FailNow("checkouts with overlapping product sets did not finish")
	}
	s.EqualValues(980, s.stockOf(a.ID))
	s.EqualValues(980, s.stockOf(b.ID))
}

func (s *CheckoutSuite) TestCouponDiscountAndSingleUse() {
	ctx := context.Background()
	p := s.product(3000, 5)
	c := s.coupon(7, 1000)

	order, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 7, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 2}}, CouponUserID: c.ID,
	})
	s.Require().NoError(err)
	s.EqualValues(6000, order.TotalAmount)
	s.EqualValues(1000, order.DiscountAmount)
	s.EqualValues(5000, order.FinalAmount)
	s.Require().Len(order.Discounts, 1)
	s.Equal(c.ID, order.Discounts[0].CouponUserID)

	stored, err := s.checkout.GetOrder(ctx, order.ID)
	s.Require().NoError(err)
	s.Len(stored.Items, 1)
	s.Require().NotNil(stored.Payment)
	s.Equal(domain.PaymentPending, stored.Payment.Status)

	_, err = s.checkout.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 7, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 1}}, CouponUserID: c.ID,
	})
	s.ErrorIs(err, coupondomain.ErrCouponAlreadyUsed)
	s.EqualValues(3, s.stockOf(p.ID), "stock decrement must roll back with the rejected coupon")
}

func (s *CheckoutSuite) TestFinalAmountInvalidRollsBackEverything() {
	ctx := context.Background()
	p := s.product(3000, 5)
	c := s.coupon(7, 5000)

	_, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 7, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 1}}, CouponUserID: c.ID,
	})
	s.ErrorIs(err, domain.ErrFinalAmountInvalid)
	s.False(shared.IsRetryable(err))

	s.EqualValues(5, s.stockOf(p.ID))
	used, err := s.coupons.GetCoupon(ctx, c.ID)
	s.Require().NoError(err)
	s.False(used.IsUsed())
	s.Zero(s.orderCount())
	s.Zero(s.publisher.count())

	// 锁都已释放
	plan := s.checkout.LockPlan(7, []int64{p.ID}, c.ID)
	for _, k := range plan.Keys() {
		h, err := s.locks.TryLock(ctx, k, 50*time.Millisecond)
		s.Require().NoError(err, "lock %s still held", k)
		s.NoError(s.locks.Unlock(ctx, h))
	}
}

// heldLockKeys 返回 Redis 中仍然存在的锁 key
func (s *CheckoutSuite) heldLockKeys() []string {
	var held []string
	for _, k := range s.mr.Keys() {
		if strings.HasPrefix(k, "test:") {
			held = append(held, k)
		}
	}
	return held
}

func (s *CheckoutSuite) TestVersionConflictIsRetryableAndRollsBackEverything() {
	ctx := context.Background()
	p := s.product(1000, 5)
	c := s.coupon(7, 100)

	repo := &concurrentWriterRepo{GormProductRepository: productinfra.NewGormProductRepository(s.db), db: s.db}
	repo.armed.Store(true)
	tx := database.NewTransactor(s.db)
	tracer := otel.Tracer("checkout-test")
	products := productapp.NewProductService(repo, nil, nil, s.locks, tx, tracer, productapp.Config{})
	racing := NewCheckoutService(s.orders, adapter.NewInventoryAdapter(products), adapter.NewCouponAdapter(s.coupons),
		adapter.NewPointAdapter(s.points), s.publisher, s.locks, tx, tracer,
		Config{Locks: lock.TimeoutPolicy{First: 30 * time.Second, Following: 30 * time.Second}})

	_, err := racing.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 7, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 2}}, CouponUserID: c.ID,
	})
	s.Require().Error(err)
	s.ErrorIs(err, shared.ErrOptimisticLockConflict)
	s.NotErrorIs(err, lock.ErrLockAcquisitionFailed)
	s.True(shared.IsRetryable(err))
	s.Empty(s.heldLockKeys())

	stored, err := productinfra.NewGormProductRepository(s.db).FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.EqualValues(5, stored.Stock)
	s.Zero(stored.Version, "the concurrent bump rolls back with the checkout transaction")
	coupon, err := s.coupons.GetCoupon(ctx, c.ID)
	s.Require().NoError(err)
	s.False(coupon.IsUsed())
	s.Zero(s.orderCount())
	s.Zero(s.publisher.count())

	// 冲突只发生一次，重试成功
	order, err := racing.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 7, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 2}}, CouponUserID: c.ID,
	})
	s.Require().NoError(err)
	s.EqualValues(1900, order.FinalAmount)
	s.EqualValues(3, s.stockOf(p.ID))
}

func (s *CheckoutSuite) TestPointPayment() {
	ctx := context.Background()
	p := s.product(1500, 5)
	req := &CreateOrderRequest{UserID: 3, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 2}}, PaymentMethod: "POINT"}

	_, err := s.checkout.CreateOrder(ctx, req)
	s.ErrorIs(err, pointdomain.ErrInsufficientPoint)
	s.EqualValues(5, s.stockOf(p.ID))

	_, err = s.points.ChargePoint(ctx, 3, 5000)
	s.Require().NoError(err)
	order, err := s.checkout.CreateOrder(ctx, req)
	s.Require().NoError(err)
	s.Equal(domain.PaymentPaid, order.Payment.Status)

	balance, err := s.points.GetPoint(ctx, 3)
	s.Require().NoError(err)
	s.EqualValues(2000, balance.Amount)

	history, err := s.points.History(ctx, 3, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	s.Equal(order.ID, history[0].OrderID)
}

func (s *CheckoutSuite) TestEventPublishedOnlyAfterCommitAndUnlock() {
	ctx := context.Background()
	p := s.product(100, 5)

	var checked atomic.Bool
	s.publisher.onPublish = func(event *shared.OrderCompleted) {
		// 事件发布时订单必须已经可见，且锁已经释放
		_, err := s.orders.FindByID(context.Background(), event.OrderID)
		s.NoError(err)
		h, err := s.locks.TryLock(context.Background(), s.products.StockKey(p.ID), 50*time.Millisecond)
		if s.NoError(err) {
			s.NoError(s.locks.Unlock(context.Background(), h))
		}
		checked.Store(true)
	}

	_, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 1}}})
	s.Require().NoError(err)
	s.True(checked.Load())
}

func (s *CheckoutSuite) TestPublishFailureDoesNotRollBack() {
	ctx := context.Background()
	p := s.product(100, 5)
	s.publisher.err = errors.New("broker down")

	order, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 1}}})
	s.Require().NoError(err)
	_, err = s.orders.FindByID(ctx, order.ID)
	s.NoError(err)
	s.EqualValues(4, s.stockOf(p.ID))
}

func (s *CheckoutSuite) TestLockTimeoutIsRetryableAndLeavesNothingHeld() {
	ctx := context.Background()
	p := s.product(100, 5)

	held, err := s.locks.TryLock(ctx, s.products.StockKey(p.ID), time.Second)
	s.Require().NoError(err)

	short := NewCheckoutService(s.orders, adapter.NewInventoryAdapter(s.products), adapter.NewCouponAdapter(s.coupons),
		adapter.NewPointAdapter(s.points), s.publisher, s.locks, database.NewTransactor(s.db), otel.Tracer("checkout-test"),
		Config{Locks: lock.TimeoutPolicy{First: time.Second, Following: 50 * time.Millisecond}})
	_, err = short.CreateOrder(ctx, &CreateOrderRequest{UserID: 9, Items: []domain.LineItem{{ProductID: p.ID, Quantity: 1}}})
	s.ErrorIs(err, lock.ErrLockAcquisitionFailed)
	s.True(shared.IsRetryable(err))
	s.Zero(s.publisher.count())

	// 已经拿到的用户锁必须被释放
	h, err := s.locks.TryLock(ctx, s.points.BalanceKey(9), 50*time.Millisecond)
	s.Require().NoError(err)
	s.NoError(s.locks.Unlock(ctx, h))
	s.NoError(s.locks.Unlock(ctx, held))
	s.EqualValues(5, s.stockOf(p.ID))
}

func (s *CheckoutSuite) TestRejectsInvalidRequests() {
	ctx := context.Background()
	_, err := s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1})
	s.ErrorIs(err, domain.ErrEmptyOrder)
	_, err = s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 0, Items: []domain.LineItem{{ProductID: 1, Quantity: 1}}})
	s.ErrorIs(err, domain.ErrInvalidUser)
	_, err = s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1, Items: []domain.LineItem{{ProductID: 1, Quantity: 1}}, PaymentMethod: "CARD"})
	s.ErrorIs(err, domain.ErrInvalidPaymentMethod)
	_, err = s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1, Items: []domain.LineItem{{ProductID: 1, Quantity: 1}}, CouponUserID: -7})
	s.ErrorIs(err, domain.ErrInvalidCoupon)
	s.Zero(s.orderCount())
	_, err = s.checkout.CreateOrder(ctx, &CreateOrderRequest{UserID: 1, Items: []domain.LineItem{{ProductID: 404, Quantity: 1}}})
	s.ErrorIs(err, shared.ErrNotFound)
}

func TestLockPlan_UserThenSortedProductsThenCoupon(t *testing.T) {
	keys := lock.NewKeyGenerator("lock")
	svc := &CheckoutService{inventory: fakeInventory{keys}, coupons: fakeCoupons{keys}, points: fakePoints{keys}}

	plan := svc.LockPlan(5, []int64{30, 4, 30, 12}, 8)
	assert.Equal(t, []lock.Key{
		"lock:user:point:5",
		"lock:product:stock:12",
		"lock:product:stock:30",
		"lock:product:stock:4",
		"lock:coupon:issued:8",
	}, plan.Keys())

	assert.Len(t, svc.LockPlan(5, []int64{1}, 0).Keys(), 2, "no coupon key without a coupon")
}
