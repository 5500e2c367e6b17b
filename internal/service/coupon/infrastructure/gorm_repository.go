package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/coupon/domain"
)

func lockingQuery(ctx context.Context, db *gorm.DB) *gorm.DB {
	q := database.Conn(ctx, db)
	if database.IsMySQL(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// GormEventRepository 是 domain.EventRepository 的 GORM 实现
type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) Create(ctx context.Context, e *domain.CouponEvent) error {
	m := fromDomainEvent(e)
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create coupon event")
	}
	e.ID = m.ID
	return nil
}

func (r *GormEventRepository) FindByID(ctx context.Context, id int64) (*domain.CouponEvent, error) {
	return r.find(database.Conn(ctx, r.db), id)
}

func (r *GormEventRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.CouponEvent, error) {
	return r.find(lockingQuery(ctx, r.db), id)
}

func (r *GormEventRepository) find(q *gorm.DB, id int64) (*domain.CouponEvent, error) {
	var m CouponEventModel
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponEventNotFound
		}
		return nil, database.TranslateError(err, "find coupon event")
	}
	return toDomainEvent(&m), nil
}

// Update 只写回会变化的剩余数量，版本号不一致时拒绝
func (r *GormEventRepository) Update(ctx context.Context, e *domain.CouponEvent) error {
	res := database.Conn(ctx, r.db).Model(&CouponEventModel{}).
		Where("id = ? AND version = ?", e.ID, e.Version).
		Updates(map[string]interface{}{
			"left_issue_amount": e.LeftIssueAmount,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return database.TranslateError(res.Error, "update coupon event")
	}
	if res.RowsAffected == 0 {
		return database.VersionConflict("coupon_event", e.ID, e.Version)
	}
	e.Version++
	return nil
}

// GormCouponUserRepository 是 domain.CouponUserRepository 的 GORM 实现
type GormCouponUserRepository struct {
	db *gorm.DB
}

func NewGormCouponUserRepository(db *gorm.DB) *GormCouponUserRepository {
	return &GormCouponUserRepository{db: db}
}

func (r *GormCouponUserRepository) Create(ctx context.Context, c *domain.CouponUser) error {
	m := fromDomainCoupon(c)
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create coupon user")
	}
	c.ID = m.ID
	return nil
}

func (r *GormCouponUserRepository) FindByID(ctx context.Context, id int64) (*domain.CouponUser, error) {
	return r.find(database.Conn(ctx, r.db), id)
}

func (r *GormCouponUserRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.CouponUser, error) {
	return r.find(lockingQuery(ctx, r.db), id)
}

func (r *GormCouponUserRepository) find(q *gorm.DB, id int64) (*domain.CouponUser, error) {
	var m CouponUserModel
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, database.TranslateError(err, "find coupon user")
	}
	return toDomainCoupon(&m), nil
}

func (r *GormCouponUserRepository) ExistsByEventAndUser(ctx context.Context, eventID, userID int64) (bool, error) {
	var n int64
	err := database.Conn(ctx, r.db).Model(&CouponUserModel{}).
		Where("coupon_event_id = ? AND user_id = ?", eventID, userID).
		Count(&n).Error
	if err != nil {
		return false, database.TranslateError(err, "count coupon user")
	}
	return n > 0, nil
}

func (r *GormCouponUserRepository) CountByEvent(ctx context.Context, eventID int64) (int64, error) {
	var n int64
	err := database.Conn(ctx, r.db).Model(&CouponUserModel{}).Where("coupon_event_id = ?", eventID).Count(&n).Error
	if err != nil {
		return 0, database.TranslateError(err, "count coupon users")
	}
	return n, nil
}

// Update 写回核销时间，版本号不一致时拒绝
func (r *GormCouponUserRepository) Update(ctx context.Context, c *domain.CouponUser) error {
	usedAt := sql.NullTime{}
	if c.UsedAt != nil {
		usedAt = sql.NullTime{Time: *c.UsedAt, Valid: true}
	}
	res := database.Conn(ctx, r.db).Model(&CouponUserModel{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"used_at": usedAt,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return database.TranslateError(res.Error, "update coupon user")
	}
	if res.RowsAffected == 0 {
		return database.VersionConflict("coupon_user", c.ID, c.Version)
	}
	c.Version++
	return nil
}

// AutoMigrate 创建或更新优惠券相关的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CouponEventModel{}, &CouponUserModel{})
}

var (
	_ domain.EventRepository      = (*GormEventRepository)(nil)
	_ domain.CouponUserRepository = (*GormCouponUserRepository)(nil)
)
