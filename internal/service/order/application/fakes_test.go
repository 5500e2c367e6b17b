package application

import (
	"context"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/port"
)

type fakeInventory struct{ keys lock.KeyGenerator }

func (f fakeInventory) StockKey(id int64) lock.Key {
	return f.keys.KeyOf(lock.DomainProduct, lock.ResourceStock, id)
}
func (fakeInventory) Deduct(context.Context, []domain.LineItem) ([]port.PricedLine, error) {
	return nil, nil
}
func (fakeInventory) Invalidate(context.Context, ...int64) {}

type fakeCoupons struct{ keys lock.KeyGenerator }

func (f fakeCoupons) UsageKey(id int64) lock.Key {
	return f.keys.KeyOf(lock.DomainCoupon, lock.ResourceCouponUser, id)
}
func (fakeCoupons) Redeem(context.Context, int64, int64, int64, int64) (*port.Redemption, error) {
	return nil, nil
}

type fakePoints struct{ keys lock.KeyGenerator }

func (f fakePoints) BalanceKey(userID int64) lock.Key {
	return f.keys.KeyOf(lock.DomainUser, lock.ResourcePoint, userID)
}
func (fakePoints) Deduct(context.Context, int64, int64, int64) error { return nil }
