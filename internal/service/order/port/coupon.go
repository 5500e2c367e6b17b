package port

import (
	"context"

	"fulfillment/internal/pkg/lock"
)

// Redemption 是核销一张优惠券得到的抵扣
type Redemption struct {
	CouponUserID  int64
	CouponEventID int64
	Amount        int64
}

// Coupons 是优惠券服务的出站端口。
type Coupons interface {
	UsageKey(couponUserID int64) lock.Key
	// Redeem 核销优惠券并按订单总额计算抵扣，调用方持有 UsageKey 并处于事务中
	Redeem(ctx context.Context, couponUserID, userID, total, itemCount int64) (*Redemption, error)
}
