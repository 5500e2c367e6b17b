package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// AutoMigrate 创建或更新订单相关的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &OrderItemModel{}, &OrderDiscountModel{}, &PaymentModel{})
}

// Create 连同订单行和优惠记录一起写入（GORM 会级联创建 has-many 关联）
func (r *GormOrderRepository) Create(ctx context.Context, o *domain.Order) error {
	m := fromDomainOrder(o)
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create order")
	}
	o.ID = m.ID
	for i := range o.Items {
		o.Items[i].ID, o.Items[i].OrderID = m.Items[i].ID, m.ID
	}
	for i := range o.Discounts {
		o.Discounts[i].ID, o.Discounts[i].OrderID = m.Discounts[i].ID, m.ID
	}
	return nil
}

func (r *GormOrderRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	m := &PaymentModel{
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Method:         string(p.Method),
		Amount:         p.Amount,
		TransactionKey: p.TransactionKey,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
	}
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create payment")
	}
	p.ID = m.ID
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var m OrderModel
	q := database.Conn(ctx, r.db)
	if err := q.Preload("Items").Preload("Discounts").Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, database.TranslateError(err, "find order")
	}
	o := toDomainOrder(&m)

	var pm PaymentModel
	err := database.Conn(ctx, r.db).Where("order_id = ?", id).First(&pm).Error
	switch {
	case err == nil:
		o.Payment = toDomainPayment(&pm)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, database.TranslateError(err, "find payment")
	}
	return o, nil
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)
