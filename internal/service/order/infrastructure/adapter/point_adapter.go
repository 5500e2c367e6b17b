package adapter

import (
	"context"

	"fulfillment/internal/pkg/lock"
	pointapp "fulfillment/internal/service/point/application"
)

// PointAdapter 实现了 port.Points 接口。
type PointAdapter struct {
	points *pointapp.PointService
}

func NewPointAdapter(points *pointapp.PointService) *PointAdapter {
	return &PointAdapter{points: points}
}

func (a *PointAdapter) BalanceKey(userID int64) lock.Key {
	return a.points.BalanceKey(userID)
}

func (a *PointAdapter) Deduct(ctx context.Context, userID, amount, orderID int64) error {
	_, err := a.points.DeductPoint(ctx, userID, amount, orderID)
	return err
}
