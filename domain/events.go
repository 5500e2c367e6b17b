package domain

import "time"

// TopicOrderCompleted 是订单完成事件所在的 Kafka 主题
const TopicOrderCompleted = "order-completed-topic"

// OrderCompleted 在下单事务提交之后发布，一个订单只发布一次
type OrderCompleted struct {
	EventID        string               `json:"eventId"`
	OrderID        int64                `json:"orderId"`
	UserID         int64                `json:"userId"`
	Items          []OrderCompletedItem `json:"items"`
	CouponUserID   int64                `json:"couponUserId,omitempty"`
	TotalAmount    int64                `json:"totalAmount"`
	DiscountAmount int64                `json:"discountAmount"`
	FinalAmount    int64                `json:"finalAmount"`
	PaymentMethod  string               `json:"paymentMethod"`
	CompletedAt    time.Time            `json:"completedAt"`
}

type OrderCompletedItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
}
