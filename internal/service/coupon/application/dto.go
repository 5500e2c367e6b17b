package application

import (
	"time"

	"fulfillment/internal/service/coupon/domain"
)

// CreateEventRequest 是创建发券活动的入参
type CreateEventRequest struct {
	Name             string              `json:"name"`
	DiscountType     domain.DiscountType `json:"discountType"`
	DiscountValue    int64               `json:"discountValue"`
	TotalIssueAmount int64               `json:"totalIssueAmount"`
	ExpireAt         time.Time           `json:"expireAt"`
	Condition        string              `json:"condition"`
}

// Applied 是下单时核销优惠券的结果
type Applied struct {
	Coupon   *domain.CouponUser
	Event    *domain.CouponEvent
	Discount int64
}
