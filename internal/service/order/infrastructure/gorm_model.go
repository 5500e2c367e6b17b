package infrastructure

import (
	"time"

	"fulfillment/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	OrderNo        string `gorm:"size:36;not null;uniqueIndex"`
	UserID         int64  `gorm:"not null;index"`
	State          string `gorm:"size:16;not null"`
	PaymentMethod  string `gorm:"size:16;not null"`
	TotalAmount    int64  `gorm:"not null"`
	DiscountAmount int64  `gorm:"not null"`
	FinalAmount    int64  `gorm:"not null"`
	CreatedAt      time.Time

	Items     []OrderItemModel     `gorm:"foreignKey:OrderID"`
	Discounts []OrderDiscountModel `gorm:"foreignKey:OrderID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应数据库中的 order_items 表
type OrderItemModel struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	OrderID   int64 `gorm:"not null;index"`
	ProductID int64 `gorm:"not null"`
	Quantity  int64 `gorm:"not null"`
	UnitPrice int64 `gorm:"not null"`
	Amount    int64 `gorm:"not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

// OrderDiscountModel 对应数据库中的 order_discounts 表
type OrderDiscountModel struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	OrderID       int64 `gorm:"not null;index"`
	CouponUserID  int64 `gorm:"not null"`
	CouponEventID int64 `gorm:"not null"`
	Amount        int64 `gorm:"not null"`
}

func (OrderDiscountModel) TableName() string { return "order_discounts" }

// PaymentModel 对应数据库中的 payments 表
type PaymentModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	OrderID        int64  `gorm:"not null;uniqueIndex"`
	UserID         int64  `gorm:"not null"`
	Method         string `gorm:"size:16;not null"`
	Amount         int64  `gorm:"not null"`
	TransactionKey string `gorm:"size:36;not null;uniqueIndex"`
	Status         string `gorm:"size:16;not null"`
	CreatedAt      time.Time
}

func (PaymentModel) TableName() string { return "payments" }

func fromDomainOrder(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		UserID:         o.UserID,
		State:          string(o.State),
		PaymentMethod:  string(o.PaymentMethod),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		CreatedAt:      o.CreatedAt,
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, OrderItemModel{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Amount: it.Amount})
	}
	for _, d := range o.Discounts {
		m.Discounts = append(m.Discounts, OrderDiscountModel{CouponUserID: d.CouponUserID, CouponEventID: d.CouponEventID, Amount: d.Amount})
	}
	return m
}

func toDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:             m.ID,
		OrderNo:        m.OrderNo,
		UserID:         m.UserID,
		State:          domain.State(m.State),
		PaymentMethod:  domain.PaymentMethod(m.PaymentMethod),
		TotalAmount:    m.TotalAmount,
		DiscountAmount: m.DiscountAmount,
		FinalAmount:    m.FinalAmount,
		CreatedAt:      m.CreatedAt,
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID: it.ID, OrderID: it.OrderID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Amount: it.Amount,
		})
	}
	for _, d := range m.Discounts {
		o.Discounts = append(o.Discounts, domain.OrderDiscount{
			ID: d.ID, OrderID: d.OrderID, CouponUserID: d.CouponUserID, CouponEventID: d.CouponEventID, Amount: d.Amount,
		})
	}
	return o
}

func toDomainPayment(m *PaymentModel) *domain.Payment {
	return &domain.Payment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		UserID:         m.UserID,
		Method:         domain.PaymentMethod(m.Method),
		Amount:         m.Amount,
		TransactionKey: m.TransactionKey,
		Status:         domain.PaymentStatus(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}
