package adapter

import (
	"context"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/port"
	productapp "fulfillment/internal/service/product/application"
	productdomain "fulfillment/internal/service/product/domain"
)

// InventoryAdapter 实现了 port.Inventory 接口。
// 库存与订单共用同一个数据库，直接进程内调用才能落在同一个事务里。
type InventoryAdapter struct {
	products *productapp.ProductService
}

// NewInventoryAdapter 创建一个新的库存服务适配器。
func NewInventoryAdapter(products *productapp.ProductService) *InventoryAdapter {
	return &InventoryAdapter{products: products}
}

func (a *InventoryAdapter) StockKey(productID int64) lock.Key {
	return a.products.StockKey(productID)
}

func (a *InventoryAdapter) Deduct(ctx context.Context, lines []domain.LineItem) ([]port.PricedLine, error) {
	stockLines := make([]productdomain.StockLine, 0, len(lines))
	for _, l := range lines {
		stockLines = append(stockLines, productdomain.StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	merged, err := productdomain.MergeLines(stockLines)
	if err != nil {
		return nil, err
	}
	products, err := a.products.DeductStocks(ctx, merged)
	if err != nil {
		return nil, err
	}
	priced := make([]port.PricedLine, len(merged))
	for i, l := range merged {
		priced[i] = port.PricedLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: products[i].Price}
	}
	return priced, nil
}

func (a *InventoryAdapter) Invalidate(ctx context.Context, productIDs ...int64) {
	a.products.Evict(ctx, productIDs...)
}
