package adapter

import (
	"context"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/order/port"
	couponapp "fulfillment/internal/service/coupon/application"
	coupondomain "fulfillment/internal/service/coupon/domain"
)

// CouponAdapter 实现了 port.Coupons 接口。
type CouponAdapter struct {
	coupons *couponapp.CouponService
}

func NewCouponAdapter(coupons *couponapp.CouponService) *CouponAdapter {
	return &CouponAdapter{coupons: coupons}
}

func (a *CouponAdapter) UsageKey(couponUserID int64) lock.Key {
	return a.coupons.UsageKey(couponUserID)
}

func (a *CouponAdapter) Redeem(ctx context.Context, couponUserID, userID, total, itemCount int64) (*port.Redemption, error) {
	applied, err := a.coupons.ApplyCoupon(ctx, couponUserID, coupondomain.Fact{Total: total, ItemCount: itemCount, UserID: userID})
	if err != nil {
		return nil, err
	}
	return &port.Redemption{
		CouponUserID:  applied.Coupon.ID,
		CouponEventID: applied.Event.ID,
		Amount:        applied.Discount,
	}, nil
}
