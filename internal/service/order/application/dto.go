// internal/service/order/application/dto.go
package application

import "fulfillment/internal/service/order/domain"

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	UserID        int64             `json:"userId"`
	Items         []domain.LineItem `json:"items"`
	CouponUserID  int64             `json:"couponUserId"`  // 0 表示不使用优惠券
	PaymentMethod string            `json:"paymentMethod"` // POINT 或 EXTERNAL，空值为 EXTERNAL
}
