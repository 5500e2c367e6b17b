// internal/service/point/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/point/domain"
)

// Config 是积分服务的可调参数
type Config struct {
	LockTimeout time.Duration `yaml:"lockTimeout"`
}

// PointService 管理用户积分余额
type PointService struct {
	points  domain.Repository
	history domain.HistoryRepository
	locks   *lock.Manager
	tx      shared.Transactor
	tracer  trace.Tracer
	cfg     Config
}

func NewPointService(points domain.Repository, history domain.HistoryRepository, locks *lock.Manager,
	tx shared.Transactor, tracer trace.Tracer, cfg Config) *PointService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	return &PointService{points: points, history: history, locks: locks, tx: tx, tracer: tracer, cfg: cfg}
}

// BalanceKey 是用户积分余额的锁，也是下单流程最先获取的用户锁
func (s *PointService) BalanceKey(userID int64) lock.Key {
	return s.locks.Keys().KeyOf(lock.DomainUser, lock.ResourcePoint, userID)
}

// ChargePoint 在用户锁内充值，账户不存在时自动开户
func (s *PointService) ChargePoint(ctx context.Context, userID, amount int64) (*domain.UserPoint, error) {
	return s.locked(ctx, "PointService.ChargePoint", userID, func(ctx context.Context) (*domain.UserPoint, error) {
		p, err := s.account(ctx, userID, true)
		if err != nil {
			return nil, err
		}
		if err := p.Charge(amount); err != nil {
			return nil, err
		}
		return p, s.save(ctx, p, domain.HistoryCharge, amount, 0)
	})
}

// UsePoint 在用户锁内扣减积分
func (s *PointService) UsePoint(ctx context.Context, userID, amount int64) (*domain.UserPoint, error) {
	return s.locked(ctx, "PointService.UsePoint", userID, func(ctx context.Context) (*domain.UserPoint, error) {
		return s.DeductPoint(ctx, userID, amount, 0)
	})
}

// DeductPoint 扣减积分并记录流水。
// 调用方必须已经持有 BalanceKey(userID) 并处于事务中。
func (s *PointService) DeductPoint(ctx context.Context, userID, amount, orderID int64) (*domain.UserPoint, error) {
	p, err := s.account(ctx, userID, false)
	if errors.Is(err, domain.ErrAccountNotFound) {
		// 没有账户等同于余额为 0
		p = domain.NewUserPoint(userID)
		return nil, p.Use(amount)
	}
	if err != nil {
		return nil, err
	}
	if err := p.Use(amount); err != nil {
		return nil, err
	}
	return p, s.save(ctx, p, domain.HistoryUse, amount, orderID)
}

// GetPoint 返回用户当前余额，没有账户时余额为 0
func (s *PointService) GetPoint(ctx context.Context, userID int64) (*domain.UserPoint, error) {
	p, err := s.points.FindByUserID(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.NewUserPoint(userID), nil
	}
	return p, err
}

// History 返回最近的积分流水
func (s *PointService) History(ctx context.Context, userID int64, limit int) ([]*domain.PointHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.ListByUser(ctx, userID, limit)
}

func (s *PointService) locked(ctx context.Context, op string, userID int64,
	fn func(ctx context.Context) (*domain.UserPoint, error)) (*domain.UserPoint, error) {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	var out *domain.UserPoint
	err := s.locks.WithLock(ctx, s.BalanceKey(userID), s.cfg.LockTimeout, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			p, err := fn(ctx)
			if err != nil {
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
	logger.Ctx(ctx).Info().Str("op", op).Int64("user_id", userID).Int64("balance", out.Amount).Msg("Point balance changed")
	return out, nil
}

func (s *PointService) account(ctx context.Context, userID int64, create bool) (*domain.UserPoint, error) {
	p, err := s.points.FindByUserIDForUpdate(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) && create {
		p = domain.NewUserPoint(userID)
		if err := s.points.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return p, err
}

func (s *PointService) save(ctx context.Context, p *domain.UserPoint, typ domain.HistoryType, amount, orderID int64) error {
	if err := s.points.Update(ctx, p); err != nil {
		return err
	}
	return s.history.Append(ctx, &domain.PointHistory{
		UserID:       p.UserID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: p.Amount,
		OrderID:      orderID,
		CreatedAt:    time.Now(),
	})
}
