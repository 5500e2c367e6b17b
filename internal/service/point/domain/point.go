// internal/service/point/domain/point.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	shared "fulfillment/domain"
)

var (
	ErrAccountNotFound   = fmt.Errorf("point account %w", shared.ErrNotFound)
	ErrInsufficientPoint = errors.New("insufficient point balance")
	ErrInvalidAmount     = errors.New("point amount must be positive")
)

// UserPoint 是用户积分余额，每个用户一行
type UserPoint struct {
	ID        int64
	UserID    int64
	Amount    int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserPoint 创建一个零余额的积分账户
func NewUserPoint(userID int64) *UserPoint {
	now := time.Now()
	return &UserPoint{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// Charge 充值
func (p *UserPoint) Charge(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	p.Amount += amount
	p.UpdatedAt = time.Now()
	return nil
}

// Use 扣减积分，余额不足时整体拒绝
func (p *UserPoint) Use(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if p.Amount < amount {
		return fmt.Errorf("%w: user %d has %d, requested %d", ErrInsufficientPoint, p.UserID, p.Amount, amount)
	}
	p.Amount -= amount
	p.UpdatedAt = time.Now()
	return nil
}

// HistoryType 是积分流水的类型
type HistoryType string

const (
	HistoryCharge HistoryType = "CHARGE"
	HistoryUse    HistoryType = "USE"
)

// PointHistory 是只追加的积分流水
type PointHistory struct {
	ID           int64
	UserID       int64
	Type         HistoryType
	Amount       int64
	BalanceAfter int64
	OrderID      int64 // 下单扣减时关联的订单，充值为 0
	CreatedAt    time.Time
}

// Repository 是积分账户的持久化接口，Update 按版本号条件更新
type Repository interface {
	Create(ctx context.Context, p *UserPoint) error
	FindByUserID(ctx context.Context, userID int64) (*UserPoint, error)
	FindByUserIDForUpdate(ctx context.Context, userID int64) (*UserPoint, error)
	Update(ctx context.Context, p *UserPoint) error
}

// HistoryRepository 保存积分流水
type HistoryRepository interface {
	Append(ctx context.Context, h *PointHistory) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*PointHistory, error)
}
