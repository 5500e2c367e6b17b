// internal/service/coupon/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/coupon/domain"
)

// Config 是优惠券服务的可调参数
type Config struct {
	LockTimeout time.Duration `yaml:"lockTimeout"`
}

// CouponService 定义了发券和核销的业务用例
type CouponService struct {
	events  domain.EventRepository
	coupons domain.CouponUserRepository
	rules   domain.ConditionEvaluator
	locks   *lock.Manager
	tx      shared.Transactor
	tracer  trace.Tracer
	cfg     Config
	now     func() time.Time
}

// NewCouponService 创建一个新的优惠券服务实例
func NewCouponService(events domain.EventRepository, coupons domain.CouponUserRepository, rules domain.ConditionEvaluator,
	locks *lock.Manager, tx shared.Transactor, tracer trace.Tracer, cfg Config) *CouponService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	return &CouponService{
		events:  events,
		coupons: coupons,
		rules:   rules,
		locks:   locks,
		tx:      tx,
		tracer:  tracer,
		cfg:     cfg,
		now:     time.Now,
	}
}

// PoolKey 是发券活动库存的锁
func (s *CouponService) PoolKey(eventID int64) lock.Key {
	return s.locks.Keys().KeyOf(lock.DomainCoupon, lock.ResourceCouponEvent, eventID)
}

// UsageKey 是单张用户优惠券核销的锁，下单流程与单独核销共用
func (s *CouponService) UsageKey(couponUserID int64) lock.Key {
	return s.locks.Keys().KeyOf(lock.DomainCoupon, lock.ResourceCouponUser, couponUserID)
}

// CreateEvent 创建发券活动，条件表达式在创建时就要能编译
func (s *CouponService) CreateEvent(ctx context.Context, req *CreateEventRequest) (*domain.CouponEvent, error) {
	if err := s.rules.Validate(req.Condition); err != nil {
		return nil, err
	}
	e, err := domain.NewCouponEvent(req.Name, req.DiscountType, req.DiscountValue, req.TotalIssueAmount, req.ExpireAt, req.Condition)
	if err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Int64("event_id", e.ID).Int64("total", e.TotalIssueAmount).Msg("Coupon event created")
	return e, nil
}

// GetEvent 读取发券活动
func (s *CouponService) GetEvent(ctx context.Context, eventID int64) (*domain.CouponEvent, error) {
	return s.events.FindByID(ctx, eventID)
}

// GetCoupon 读取用户优惠券
func (s *CouponService) GetCoupon(ctx context.Context, couponUserID int64) (*domain.CouponUser, error) {
	return s.coupons.FindByID(ctx, couponUserID)
}

// IssueCoupon 在活动锁内发一张券给用户，每个用户每个活动只能领一张
func (s *CouponService) IssueCoupon(ctx context.Context, eventID, userID int64) (*domain.CouponUser, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.IssueCoupon")
	defer span.End()
	span.SetAttributes(attribute.Int64("coupon.event_id", eventID), attribute.Int64("user.id", userID))

	var issued *domain.CouponUser
	err := s.locks.WithLock(ctx, s.PoolKey(eventID), s.cfg.LockTimeout, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			event, err := s.events.FindByIDForUpdate(ctx, eventID)
			if err != nil {
				return err
			}
			exists, err := s.coupons.ExistsByEventAndUser(ctx, eventID, userID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: event %d user %d", domain.ErrCouponAlreadyIssued, eventID, userID)
			}
			c, err := event.Issue(userID, s.now())
			if err != nil {
				return err
			}
			if err := s.events.Update(ctx, event); err != nil {
				return err
			}
			if err := s.coupons.Create(ctx, c); err != nil {
				return err
			}
			issued = c
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	logger.Ctx(ctx).Info().Int64("event_id", eventID).Int64("user_id", userID).Int64("coupon_id", issued.ID).Msg("Coupon issued")
	return issued, nil
}

// UseCoupon 在券锁内单独核销一张券
func (s *CouponService) UseCoupon(ctx context.Context, couponUserID, userID int64) (*domain.CouponUser, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.UseCoupon")
	defer span.End()
	span.SetAttributes(attribute.Int64("coupon.id", couponUserID), attribute.Int64("user.id", userID))

	var used *domain.CouponUser
	err := s.locks.WithLock(ctx, s.UsageKey(couponUserID), s.cfg.LockTimeout, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			c, err := s.coupons.FindByIDForUpdate(ctx, couponUserID)
			if err != nil {
				return err
			}
			if err := c.Use(userID, s.now()); err != nil {
				return err
			}
			if err := s.coupons.Update(ctx, c); err != nil {
				return err
			}
			used = c
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	logger.Ctx(ctx).Info().Int64("coupon_id", couponUserID).Int64("user_id", userID).Msg("Coupon used")
	return used, nil
}

// ApplyCoupon 在下单事务中核销优惠券并计算优惠金额。
// 调用方必须已经持有 UsageKey(couponUserID) 并处于事务中。
func (s *CouponService) ApplyCoupon(ctx context.Context, couponUserID int64, fact domain.Fact) (*Applied, error) {
	c, err := s.coupons.FindByIDForUpdate(ctx, couponUserID)
	if err != nil {
		return nil, err
	}
	event, err := s.events.FindByID(ctx, c.CouponEventID)
	if err != nil {
		return nil, err
	}
	if err := c.Use(fact.UserID, s.now()); err != nil {
		return nil, err
	}
	ok, err := s.rules.Evaluate(event.Condition, fact)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 外层事务回滚，c 的内存修改不会落库
		return nil, fmt.Errorf("%w: coupon %d condition %q", domain.ErrCouponNotApplicable, couponUserID, event.Condition)
	}
	if err := s.coupons.Update(ctx, c); err != nil {
		return nil, err
	}
	return &Applied{Coupon: c, Event: event, Discount: event.Discount(fact.Total)}, nil
}
