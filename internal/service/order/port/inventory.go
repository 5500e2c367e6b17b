package port

import (
	"context"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/order/domain"
)

// PricedLine 是扣减库存后带上单价的订单行
type PricedLine struct {
	ProductID int64
	Quantity  int64
	UnitPrice int64
}

// Inventory 是库存服务的出站端口。
type Inventory interface {
	// StockKey 返回保护该商品库存的锁
	StockKey(productID int64) lock.Key
	// Deduct 扣减库存并返回单价。调用方持有全部库存锁并处于事务中；
	// 任一商品不足时返回错误，由外层事务回滚全部扣减。
	Deduct(ctx context.Context, lines []domain.LineItem) ([]PricedLine, error)
	// Invalidate 在事务提交后让读缓存失效
	Invalidate(ctx context.Context, productIDs ...int64)
}
