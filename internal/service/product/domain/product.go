// internal/service/product/domain/product.go
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	shared "fulfillment/domain"
)

var (
	ErrProductNotFound = fmt.Errorf("product %w", shared.ErrNotFound)
	ErrStockUnderflow  = errors.New("insufficient stock")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("invalid product")
)

// Product 是商品聚合，Version 在每次成功持久化后递增
type Product struct {
	ID        int64
	Name      string
	Price     int64 // 单价，最小货币单位
	Stock     int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProduct 创建一个新商品
func NewProduct(name string, price, stock int64) (*Product, error) {
	if name == "" || price < 0 || stock < 0 {
		return nil, fmt.Errorf("%w: name=%q price=%d stock=%d", ErrInvalidProduct, name, price, stock)
	}
	now := time.Now()
	return &Product{Name: name, Price: price, Stock: stock, CreatedAt: now, UpdatedAt: now}, nil
}

// DecreaseStock 扣减库存。库存不足时整体拒绝，不会扣成负数
func (p *Product) DecreaseStock(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.Stock < quantity {
		return fmt.Errorf("%w: product %d has %d, requested %d", ErrStockUnderflow, p.ID, p.Stock, quantity)
	}
	p.Stock -= quantity
	p.UpdatedAt = time.Now()
	return nil
}

// IncreaseStock 增加库存
func (p *Product) IncreaseStock(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.UpdatedAt = time.Now()
	return nil
}

// UpdateInfo 修改名称和价格
func (p *Product) UpdateInfo(name string, price int64) error {
	if name == "" || price < 0 {
		return fmt.Errorf("%w: name=%q price=%d", ErrInvalidProduct, name, price)
	}
	p.Name = name
	p.Price = price
	p.UpdatedAt = time.Now()
	return nil
}

// StockLine 是一次扣减请求中的一行
type StockLine struct {
	ProductID int64
	Quantity  int64
}

// MergeLines 合并同一商品的多行，结果按商品 ID 升序
func MergeLines(lines []StockLine) ([]StockLine, error) {
	merged := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		merged[l.ProductID] += l.Quantity
	}
	out := make([]StockLine, 0, len(merged))
	for id, qty := range merged {
		out = append(out, StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// RankEntry 是销量排行中的一项
type RankEntry struct {
	ProductID int64
	Sold      int64
}
