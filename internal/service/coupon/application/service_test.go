package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/coupon/domain"
	"fulfillment/internal/service/coupon/infrastructure"
	"fulfillment/internal/service/coupon/infrastructure/rule"
)

type CouponServiceSuite struct {
	suite.Suite
	svc     *CouponService
	events  *infrastructure.GormEventRepository
	coupons *infrastructure.GormCouponUserRepository
	tx      *database.Transactor
}

func TestCouponServiceSuite(t *testing.T) {
	suite.Run(t, new(CouponServiceSuite))
}

func (s *CouponServiceSuite) SetupTest() {
	t := s.T()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "coupon.db"))
	require.NoError(t, err)
	require.NoError(t, infrastructure.AutoMigrate(db))

	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	locker, err := lock.NewRedisLocker(client, 2*time.Millisecond)
	require.NoError(t, err)
	engine, err := rule.NewCELEngine()
	require.NoError(t, err)

	s.events = infrastructure.NewGormEventRepository(db)
	s.coupons = infrastructure.NewGormCouponUserRepository(db)
	s.tx = database.NewTransactor(db)
	s.svc = NewCouponService(s.events, s.coupons, engine, lock.NewManager(locker, lock.NewKeyGenerator("test")),
		s.tx, otel.Tracer("coupon-test"), Config{LockTimeout: 30 * time.Second})
}

func (s *CouponServiceSuite) createEvent(total int64, condition string) *domain.CouponEvent {
	e, err := s.svc.CreateEvent(context.Background(), &CreateEventRequest{
		Name:             fmt.Sprintf("event-%d", total),
		DiscountType:     domain.DiscountFixed,
		DiscountValue:    1000,
		TotalIssueAmount: total,
		ExpireAt:         time.Now().Add(time.Hour),
		Condition:        condition,
	})
	s.Require().NoError(err)
	return e
}

func (s *CouponServiceSuite) TestIssueCoupon_PoolNeverOverIssued() {
	ctx := context.Background()
	event := s.createEvent(10, "")

	var ok, exhausted atomic.Int64
	var wg sync.WaitGroup
	for userID := int64(1); userID <= 100; userID++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := s.svc.IssueCoupon(ctx, event.ID, userID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrCouponPoolExhausted):
				exhausted.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}(userID)
	}
	wg.Wait()

	s.EqualValues(10, ok.Load())
	s.EqualValues(90, exhausted.Load())

	stored, err := s.events.FindByID(ctx, event.ID)
	s.Require().NoError(err)
	s.Zero(stored.LeftIssueAmount)
	s.EqualValues(10, stored.Version)

	n, err := s.coupons.CountByEvent(ctx, event.ID)
	s.Require().NoError(err)
	s.EqualValues(10, n)
}

func (s *CouponServiceSuite) TestIssueCoupon_OnePerUser() {
	ctx := context.Background()
	event := s.createEvent(5, "")

	_, err := s.svc.IssueCoupon(ctx, event.ID, 1)
	s.Require().NoError(err)
	_, err = s.svc.IssueCoupon(ctx, event.ID, 1)
	s.ErrorIs(err, domain.ErrCouponAlreadyIssued)

	stored, err := s.events.FindByID(ctx, event.ID)
	s.Require().NoError(err)
	s.EqualValues(4, stored.LeftIssueAmount, "a rejected issuance must not consume the pool")

	_, err = s.svc.IssueCoupon(ctx, 404, 1)
	s.ErrorIs(err, domain.ErrCouponEventNotFound)
	s.ErrorIs(err, shared.ErrNotFound)
}

func (s *CouponServiceSuite) TestUseCoupon_ConcurrentUseSucceedsOnce() {
	ctx := context.Background()
	event := s.createEvent(1, "")
	c, err := s.svc.IssueCoupon(ctx, event.ID, 7)
	s.Require().NoError(err)

	var ok, used atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.UseCoupon(ctx, c.ID, 7)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrCouponAlreadyUsed):
				used.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, ok.Load())
	s.EqualValues(19, used.Load())

	stored, err := s.coupons.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.True(stored.IsUsed())
	s.EqualValues(1, stored.Version)
}

func (s *CouponServiceSuite) TestUseCoupon_WrongOwner() {
	ctx := context.Background()
	event := s.createEvent(1, "")
	c, err := s.svc.IssueCoupon(ctx, event.ID, 7)
	s.Require().NoError(err)

	_, err = s.svc.UseCoupon(ctx, c.ID, 8)
	s.ErrorIs(err, domain.ErrCouponNotOwned)
}

func (s *CouponServiceSuite) TestVersionCheck_RejectsStaleWriter() {
	ctx := context.Background()
	event := s.createEvent(1, "")
	c, err := s.svc.IssueCoupon(ctx, event.ID, 7)
	s.Require().NoError(err)

	// 绕过分布式锁的两个写者，只有先提交的那个能成功
	a, err := s.coupons.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	b, err := s.coupons.FindByID(ctx, c.ID)
	s.Require().NoError(err)

	s.Require().NoError(a.Use(7, time.Now()))
	s.Require().NoError(s.coupons.Update(ctx, a))
	s.Require().NoError(b.Use(7, time.Now()))
	err = s.coupons.Update(ctx, b)
	s.ErrorIs(err, shared.ErrOptimisticLockConflict)
	s.True(shared.IsRetryable(err))
}

func (s *CouponServiceSuite) TestApplyCoupon_ConditionAndRollback() {
	ctx := context.Background()
	event := s.createEvent(2, "total >= 5000")
	c, err := s.svc.IssueCoupon(ctx, event.ID, 3)
	s.Require().NoError(err)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := s.svc.ApplyCoupon(ctx, c.ID, domain.Fact{Total: 4000, ItemCount: 1, UserID: 3})
		return err
	})
	s.ErrorIs(err, domain.ErrCouponNotApplicable)
	stored, err := s.coupons.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.False(stored.IsUsed())

	var applied *Applied
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		applied, err = s.svc.ApplyCoupon(ctx, c.ID, domain.Fact{Total: 6000, ItemCount: 1, UserID: 3})
		return err
	})
	s.Require().NoError(err)
	s.EqualValues(1000, applied.Discount)
	s.True(applied.Coupon.IsUsed())
}

func (s *CouponServiceSuite) TestCreateEvent_RejectsBadCondition() {
	_, err := s.svc.CreateEvent(context.Background(), &CreateEventRequest{
		Name: "bad", DiscountType: domain.DiscountFixed, DiscountValue: 1, TotalIssueAmount: 1, Condition: "total +",
	})
	s.ErrorIs(err, domain.ErrInvalidCouponEvent)
}
