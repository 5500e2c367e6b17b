package infrastructure

import (
	"database/sql"
	"time"

	"fulfillment/internal/service/coupon/domain"
)

// CouponEventModel 对应数据库中的 coupon_events 表
type CouponEventModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"size:128;not null"`
	DiscountType     string `gorm:"size:16;not null"`
	DiscountValue    int64  `gorm:"not null"`
	TotalIssueAmount int64  `gorm:"not null"`
	LeftIssueAmount  int64  `gorm:"not null;check:chk_coupon_events_left,left_issue_amount >= 0"`
	ExpireAt         sql.NullTime
	Condition        string `gorm:"type:text"`
	Version          int64  `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定 GORM 应该使用的表名
func (CouponEventModel) TableName() string {
	return "coupon_events"
}

// CouponUserModel 对应数据库中的 coupon_users 表，同一活动每个用户只有一张
type CouponUserModel struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	CouponEventID int64 `gorm:"not null;uniqueIndex:idx_coupon_users_event_user"`
	UserID        int64 `gorm:"not null;uniqueIndex:idx_coupon_users_event_user;index"`
	ExpireAt      sql.NullTime
	IssuedAt      time.Time
	UsedAt        sql.NullTime
	Version       int64 `gorm:"not null;default:0"`
}

// TableName 指定 GORM 应该使用的表名
func (CouponUserModel) TableName() string {
	return "coupon_users"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func toDomainEvent(m *CouponEventModel) *domain.CouponEvent {
	e := &domain.CouponEvent{
		ID:               m.ID,
		Name:             m.Name,
		DiscountType:     domain.DiscountType(m.DiscountType),
		DiscountValue:    m.DiscountValue,
		TotalIssueAmount: m.TotalIssueAmount,
		LeftIssueAmount:  m.LeftIssueAmount,
		Condition:        m.Condition,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.ExpireAt.Valid {
		e.ExpireAt = m.ExpireAt.Time
	}
	return e
}

func fromDomainEvent(e *domain.CouponEvent) *CouponEventModel {
	return &CouponEventModel{
		ID:               e.ID,
		Name:             e.Name,
		DiscountType:     string(e.DiscountType),
		DiscountValue:    e.DiscountValue,
		TotalIssueAmount: e.TotalIssueAmount,
		LeftIssueAmount:  e.LeftIssueAmount,
		ExpireAt:         nullTime(e.ExpireAt),
		Condition:        e.Condition,
		Version:          e.Version,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func toDomainCoupon(m *CouponUserModel) *domain.CouponUser {
	c := &domain.CouponUser{
		ID:            m.ID,
		CouponEventID: m.CouponEventID,
		UserID:        m.UserID,
		IssuedAt:      m.IssuedAt,
		Version:       m.Version,
	}
	if m.ExpireAt.Valid {
		c.ExpireAt = m.ExpireAt.Time
	}
	if m.UsedAt.Valid {
		usedAt := m.UsedAt.Time
		c.UsedAt = &usedAt
	}
	return c
}

func fromDomainCoupon(c *domain.CouponUser) *CouponUserModel {
	m := &CouponUserModel{
		ID:            c.ID,
		CouponEventID: c.CouponEventID,
		UserID:        c.UserID,
		ExpireAt:      nullTime(c.ExpireAt),
		IssuedAt:      c.IssuedAt,
		Version:       c.Version,
	}
	if c.UsedAt != nil {
		m.UsedAt = sql.NullTime{Time: *c.UsedAt, Valid: true}
	}
	return m
}
