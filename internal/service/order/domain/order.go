// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	shared "fulfillment/domain"
)

var (
	ErrOrderNotFound        = fmt.Errorf("order %w", shared.ErrNotFound)
	ErrInvalidUser          = errors.New("invalid user")
	ErrEmptyOrder           = errors.New("order has no items")
	ErrInvalidLineItem      = errors.New("invalid order line")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidCoupon        = errors.New("invalid coupon")
	// ErrFinalAmountInvalid 表示扣除全部优惠后应付金额不为正
	ErrFinalAmountInvalid = errors.New("final amount must be positive")
)

// PaymentMethod 是订单的支付方式
type PaymentMethod string

const (
	PaymentPoint    PaymentMethod = "POINT"    // 在下单事务内扣减积分
	PaymentExternal PaymentMethod = "EXTERNAL" // 生成待支付记录，由外部渠道完成
)

// ParsePaymentMethod 空值默认为 EXTERNAL
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case "":
		return PaymentExternal, nil
	case PaymentPoint, PaymentExternal:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
}

// LineItem 是下单请求中的一行
type LineItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

// ValidateLines 检查下单行，返回去重后的商品 ID
func ValidateLines(lines []LineItem) ([]int64, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidLineItem, l.ProductID, l.Quantity)
		}
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}
	return ids, nil
}

// Order 是订单聚合的根实体，创建后只追加不修改
type Order struct {
	ID             int64
	OrderNo        string
	UserID         int64
	State          State
	PaymentMethod  PaymentMethod
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
	Items          []OrderItem
	Discounts      []OrderDiscount
	Payment        *Payment
	CreatedAt      time.Time
}

// OrderItem 是订单行，价格取下单时的商品单价
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int64
	UnitPrice int64
	Amount    int64
}

// OrderDiscount 记录一张优惠券在订单上的抵扣
type OrderDiscount struct {
	ID            int64
	OrderID       int64
	CouponUserID  int64
	CouponEventID int64
	Amount        int64
}

// 工厂函数: NewOrder 根据已扣减库存的订单行创建订单并计算总额
func NewOrder(userID int64, method PaymentMethod, items []OrderItem, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	o := &Order{
		OrderNo:       uuid.NewString(),
		UserID:        userID,
		State:         StatePending,
		PaymentMethod: method,
		Items:         make([]OrderItem, 0, len(items)),
		CreatedAt:     now,
	}
	var count int64
	for _, it := range items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d price %d", ErrInvalidLineItem, it.ProductID, it.Quantity, it.UnitPrice)
		}
		// 金额和件数都不允许溢出 int64
		if it.UnitPrice > math.MaxInt64/it.Quantity {
			return nil, fmt.Errorf("%w: product %d amount overflows", ErrInvalidLineItem, it.ProductID)
		}
		it.Amount = it.UnitPrice * it.Quantity
		if o.TotalAmount > math.MaxInt64-it.Amount || count > math.MaxInt64-it.Quantity {
			return nil, fmt.Errorf("%w: order total overflows at product %d", ErrInvalidLineItem, it.ProductID)
		}
		o.TotalAmount += it.Amount
		count += it.Quantity
		o.Items = append(o.Items, it)
	}
	return o, nil
}

// ItemCount 返回商品总件数
func (o *Order) ItemCount() int64 {
	var n int64
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// ApplyDiscount 追加一条优惠记录
func (o *Order) ApplyDiscount(d OrderDiscount) {
	o.Discounts = append(o.Discounts, d)
	o.DiscountAmount += d.Amount
}

// Finalize 在所有优惠都确定之后计算应付金额，应付金额必须为正
func (o *Order) Finalize() error {
	final := o.TotalAmount - o.DiscountAmount
	if final <= 0 {
		return fmt.Errorf("%w: total %d discount %d", ErrFinalAmountInvalid, o.TotalAmount, o.DiscountAmount)
	}
	o.FinalAmount = final
	o.State = StateCompleted
	return nil
}

// AttachPayment 根据支付方式生成支付记录，必须在 Finalize 之后调用
func (o *Order) AttachPayment(now time.Time) *Payment {
	status := PaymentPending
	if o.PaymentMethod == PaymentPoint {
		status = PaymentPaid
	}
	o.Payment = &Payment{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Method:         o.PaymentMethod,
		Amount:         o.FinalAmount,
		TransactionKey: uuid.NewString(),
		Status:         status,
		CreatedAt:      now,
	}
	return o.Payment
}

// CompletedEvent 生成订单完成事件
func (o *Order) CompletedEvent() *shared.OrderCompleted {
	e := &shared.OrderCompleted{
		EventID:        uuid.NewString(),
		OrderID:        o.ID,
		UserID:         o.UserID,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		PaymentMethod:  string(o.PaymentMethod),
		CompletedAt:    o.CreatedAt,
		Items:          make([]shared.OrderCompletedItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		e.Items = append(e.Items, shared.OrderCompletedItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	for _, d := range o.Discounts {
		e.CouponUserID = d.CouponUserID
	}
	return e
}
