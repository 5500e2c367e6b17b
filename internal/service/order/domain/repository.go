// internal/service/order/domain/repository.go
package domain

import (
	"context"

	shared "fulfillment/domain"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 在当前事务中写入订单、订单行和优惠记录，回填 ID
	Create(ctx context.Context, order *Order) error
	// CreatePayment 写入支付记录
	CreatePayment(ctx context.Context, payment *Payment) error
	// FindByID 根据 ID 查找订单及其明细
	FindByID(ctx context.Context, id int64) (*Order, error)
}

// EventPublisher 发布订单领域事件，只能在事务提交之后调用
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, event *shared.OrderCompleted) error
}
