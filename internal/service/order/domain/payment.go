package domain

import "time"

// PaymentStatus 是支付记录的状态
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING" // 等待外部渠道支付
	PaymentPaid    PaymentStatus = "PAID"    // 已用积分支付
)

// Payment 是订单的支付记录
type Payment struct {
	ID             int64
	OrderID        int64
	UserID         int64
	Method         PaymentMethod
	Amount         int64
	TransactionKey string
	Status         PaymentStatus
	CreatedAt      time.Time
}
