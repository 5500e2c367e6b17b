// internal/service/coupon/domain/coupon.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	shared "fulfillment/domain"
)

var (
	ErrCouponNotFound      = fmt.Errorf("coupon %w", shared.ErrNotFound)
	ErrCouponEventNotFound = fmt.Errorf("coupon event %w", shared.ErrNotFound)
	ErrCouponPoolExhausted = errors.New("coupon pool exhausted")
	ErrCouponAlreadyIssued = errors.New("coupon already issued to user")
	ErrCouponAlreadyUsed   = errors.New("coupon already used")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponNotOwned      = errors.New("coupon not owned by user")
	ErrCouponNotApplicable = errors.New("coupon not applicable to order")
	ErrInvalidCouponEvent  = errors.New("invalid coupon event")
)

// DiscountType 定义了优惠的计算方式
type DiscountType string

const (
	DiscountFixed DiscountType = "FIXED" // 固定金额
	DiscountRate  DiscountType = "RATE"  // 按百分比
)

// CouponEvent 是一次发券活动，LeftIssueAmount 是剩余可发数量。
// 整个生命周期内发出的券数不会超过 TotalIssueAmount。
type CouponEvent struct {
	ID               int64
	Name             string
	DiscountType     DiscountType
	DiscountValue    int64
	TotalIssueAmount int64
	LeftIssueAmount  int64
	ExpireAt         time.Time
	// Condition 是 CEL 表达式，可用变量 total、itemCount、userId；为空表示无门槛
	Condition string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCouponEvent 创建一个发券活动，剩余数量等于总量
func NewCouponEvent(name string, typ DiscountType, value, total int64, expireAt time.Time, condition string) (*CouponEvent, error) {
	if name == "" || total <= 0 {
		return nil, fmt.Errorf("%w: name=%q total=%d", ErrInvalidCouponEvent, name, total)
	}
	switch typ {
	case DiscountFixed:
		if value <= 0 {
			return nil, fmt.Errorf("%w: fixed discount %d", ErrInvalidCouponEvent, value)
		}
	case DiscountRate:
		if value <= 0 || value > 100 {
			return nil, fmt.Errorf("%w: rate discount %d", ErrInvalidCouponEvent, value)
		}
	default:
		return nil, fmt.Errorf("%w: discount type %q", ErrInvalidCouponEvent, typ)
	}
	now := time.Now()
	return &CouponEvent{
		Name:             name,
		DiscountType:     typ,
		DiscountValue:    value,
		TotalIssueAmount: total,
		LeftIssueAmount:  total,
		ExpireAt:         expireAt,
		Condition:        condition,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Issue 从池子里发出一张券给 userID
func (e *CouponEvent) Issue(userID int64, now time.Time) (*CouponUser, error) {
	if !e.ExpireAt.IsZero() && now.After(e.ExpireAt) {
		return nil, fmt.Errorf("%w: event %d", ErrCouponExpired, e.ID)
	}
	if e.LeftIssueAmount <= 0 {
		return nil, fmt.Errorf("%w: event %d", ErrCouponPoolExhausted, e.ID)
	}
	e.LeftIssueAmount--
	e.UpdatedAt = now
	return &CouponUser{
		CouponEventID: e.ID,
		UserID:        userID,
		ExpireAt:      e.ExpireAt,
		IssuedAt:      now,
	}, nil
}

// Discount 计算订单总额 total 上的优惠金额。
// 按比例的优惠向下取整；结果不会被截断到 total 以内，最终金额是否合法由下单流程校验。
func (e *CouponEvent) Discount(total int64) int64 {
	switch e.DiscountType {
	case DiscountFixed:
		return e.DiscountValue
	case DiscountRate:
		return decimal.NewFromInt(total).
			Mul(decimal.NewFromInt(e.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
	default:
		return 0
	}
}

// CouponUser 代表一个用户持有的一张具体的优惠券。
// UsedAt 为 nil 表示未使用，从 nil 变为非 nil 最多发生一次。
type CouponUser struct {
	ID            int64
	CouponEventID int64
	UserID        int64
	ExpireAt      time.Time
	IssuedAt      time.Time
	UsedAt        *time.Time
	Version       int64
}

// IsUsed 判断优惠券是否已经核销
func (c *CouponUser) IsUsed() bool {
	return c.UsedAt != nil
}

// Use 核销优惠券
func (c *CouponUser) Use(userID int64, now time.Time) error {
	if c.UserID != userID {
		return fmt.Errorf("%w: coupon %d", ErrCouponNotOwned, c.ID)
	}
	if c.UsedAt != nil {
		return fmt.Errorf("%w: coupon %d at %s", ErrCouponAlreadyUsed, c.ID, c.UsedAt.Format(time.RFC3339))
	}
	if !c.ExpireAt.IsZero() && now.After(c.ExpireAt) {
		return fmt.Errorf("%w: coupon %d", ErrCouponExpired, c.ID)
	}
	c.UsedAt = &now
	return nil
}

// Fact 是评估优惠券使用条件时的订单事实
type Fact struct {
	Total     int64
	ItemCount int64
	UserID    int64
}

// ConditionEvaluator 评估 CouponEvent.Condition
type ConditionEvaluator interface {
	// Validate 检查表达式能否编译且结果为 bool
	Validate(condition string) error
	Evaluate(condition string, fact Fact) (bool, error)
}
