// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/port"
)

// Config 是下单流程的可调参数
type Config struct {
	Locks          lock.TimeoutPolicy `yaml:"locks"`
	PublishTimeout time.Duration      `yaml:"publishTimeout"`
}

// CheckoutService 编排下单：按 用户 → 商品（排序）→ 优惠券 的固定顺序加锁，
// 在一个事务内完成库存、优惠券、积分、订单和支付记录的写入，提交并释放锁之后再发布事件。
type CheckoutService struct {
	orders    domain.OrderRepository
	inventory port.Inventory
	coupons   port.Coupons
	points    port.Points
	publisher domain.EventPublisher
	locks     *lock.Manager
	tx        shared.Transactor
	tracer    trace.Tracer
	cfg       Config
	now       func() time.Time
}

func NewCheckoutService(orders domain.OrderRepository, inventory port.Inventory, coupons port.Coupons, points port.Points,
	publisher domain.EventPublisher, locks *lock.Manager, tx shared.Transactor, tracer trace.Tracer, cfg Config) *CheckoutService {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &CheckoutService{
		orders:    orders,
		inventory: inventory,
		coupons:   coupons,
		points:    points,
		publisher: publisher,
		locks:     locks,
		tx:        tx,
		tracer:    tracer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// LockPlan 返回一次下单需要的全部锁。
// 用户锁固定在最前，商品库存锁在中间且按 key 排序，优惠券锁固定在最后。
// 任何需要同时持有这几类锁的代码都必须遵守同样的相对顺序。
func (s *CheckoutService) LockPlan(userID int64, productIDs []int64, couponUserID int64) *lock.Plan {
	stock := make([]lock.Key, 0, len(productIDs))
	for _, id := range productIDs {
		stock = append(stock, s.inventory.StockKey(id))
	}
	plan := lock.NewPlan().Then(s.points.BalanceKey(userID)).Then(stock...)
	if couponUserID > 0 {
		plan.Then(s.coupons.UsageKey(couponUserID))
	}
	return plan
}

// CreateOrder 是下单用例的入口。
// 锁获取失败和乐观锁冲突原样返回给调用方，由调用方决定是否重试；业务规则错误会回滚整个事务。
func (s *CheckoutService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.CreateOrder")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("order.lines", len(req.Items)),
		attribute.Int64("coupon.id", req.CouponUserID),
	)

	if req.UserID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	// 0 表示不使用优惠券
	if req.CouponUserID < 0 {
		return nil, fmt.Errorf("%w: coupon %d", domain.ErrInvalidCoupon, req.CouponUserID)
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	productIDs, err := domain.ValidateLines(req.Items)
	if err != nil {
		return nil, err
	}

	plan := s.LockPlan(req.UserID, productIDs, req.CouponUserID)
	attempt := domain.NewAttempt()
	checkoutPhases.WithLabelValues(string(domain.PhaseLocking)).Inc()

	var order *domain.Order
	err = s.locks.WithPlan(ctx, plan, s.cfg.Locks, func(ctx context.Context) error {
		s.advance(ctx, attempt, domain.PhaseLocked)
		s.advance(ctx, attempt, domain.PhaseTransacting)
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			o, err := s.checkout(ctx, req.UserID, method, req.Items, req.CouponUserID)
			if err != nil {
				return err
			}
			order = o
			return nil
		})
		if err != nil {
			s.advance(ctx, attempt, domain.PhaseRolledBack)
			return err
		}
		s.advance(ctx, attempt, domain.PhaseCommitted)
		return nil
	})
	if attempt.Phase() == domain.PhaseLocking {
		s.advance(ctx, attempt, domain.PhaseLockTimeout)
	} else {
		s.advance(ctx, attempt, domain.PhaseUnlocked)
	}

	if err != nil {
		checkoutDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logFailure(ctx, req, attempt, err)
		return nil, err
	}
	checkoutDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	// 以下步骤都发生在提交之后，失败不影响已经落库的订单
	s.inventory.Invalidate(ctx, productIDs...)
	s.publish(ctx, order)

	logger.Ctx(ctx).Info().
		Int64("order_id", order.ID).
		Int64("user_id", order.UserID).
		Int64("final_amount", order.FinalAmount).
		Int("locks", plan.Len()).
		Msg("Order completed")
	return order, nil
}

// checkout 在全部锁和事务之内执行，任何错误都会让外层事务回滚
func (s *CheckoutService) checkout(ctx context.Context, userID int64, method domain.PaymentMethod,
	lines []domain.LineItem, couponUserID int64) (*domain.Order, error) {
	priced, err := s.inventory.Deduct(ctx, lines)
	if err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(priced))
	for _, p := range priced {
		items = append(items, domain.OrderItem{ProductID: p.ProductID, Quantity: p.Quantity, UnitPrice: p.UnitPrice})
	}

	now := s.now()
	o, err := domain.NewOrder(userID, method, items, now)
	if err != nil {
		return nil, err
	}

	if couponUserID > 0 {
		r, err := s.coupons.Redeem(ctx, couponUserID, userID, o.TotalAmount, o.ItemCount())
		if err != nil {
			return nil, err
		}
		o.ApplyDiscount(domain.OrderDiscount{CouponUserID: r.CouponUserID, CouponEventID: r.CouponEventID, Amount: r.Amount})
	}

	// 所有优惠都确定之后才校验应付金额
	if err := o.Finalize(); err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	payment := o.AttachPayment(now)
	if method == domain.PaymentPoint {
		if err := s.points.Deduct(ctx, userID, o.FinalAmount, o.ID); err != nil {
			return nil, err
		}
	}
	if err := s.orders.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder 读取订单及其明细
func (s *CheckoutService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

func (s *CheckoutService) advance(ctx context.Context, a *domain.Attempt, next domain.Phase) {
	if err := a.Advance(next); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Checkout phase bookkeeping out of sync")
		return
	}
	checkoutPhases.WithLabelValues(string(next)).Inc()
}

// publish 使用独立于请求的 context，请求取消不影响已提交订单的事件发布
func (s *CheckoutService) publish(ctx context.Context, o *domain.Order) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	event := o.CompletedEvent()
	if err := s.publisher.PublishOrderCompleted(pubCtx, event); err != nil {
		eventPublishFailures.Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", event.EventID).
			Int64("order_id", o.ID).
			Msg("Failed to publish OrderCompleted after commit")
	}
}

func (s *CheckoutService) logFailure(ctx context.Context, req *CreateOrderRequest, a *domain.Attempt, err error) {
	var ev *zerolog.Event
	switch {
	case errors.Is(err, lock.ErrLockAcquisitionFailed), errors.Is(err, shared.ErrOptimisticLockConflict):
		ev = logger.Ctx(ctx).Warn()
	case errors.Is(err, lock.ErrInvalidPlan):
		ev = logger.Ctx(ctx).Error()
	default:
		ev = logger.Ctx(ctx).Info()
	}
	ev.Err(err).
		Int64("user_id", req.UserID).
		Str("phase", string(a.Phase())).
		Bool("retryable", shared.IsRetryable(err)).
		Msg("Checkout failed")
}
