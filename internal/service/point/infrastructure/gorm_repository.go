package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/point/domain"
)

// UserPointModel 对应数据库中的 user_points 表
type UserPointModel struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"not null;uniqueIndex"`
	Amount    int64 `gorm:"not null;check:chk_user_points_amount,amount >= 0"`
	Version   int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (UserPointModel) TableName() string {
	return "user_points"
}

// PointHistoryModel 对应数据库中的 point_histories 表
type PointHistoryModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"not null;index"`
	Type         string `gorm:"size:16;not null"`
	Amount       int64  `gorm:"not null"`
	BalanceAfter int64  `gorm:"not null"`
	OrderID      int64
	CreatedAt    time.Time
}

// TableName 指定 GORM 应该使用的表名
func (PointHistoryModel) TableName() string {
	return "point_histories"
}

// AutoMigrate 创建或更新积分相关的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserPointModel{}, &PointHistoryModel{})
}

// GormPointRepository 是 domain.Repository 的 GORM 实现
type GormPointRepository struct {
	db *gorm.DB
}

func NewGormPointRepository(db *gorm.DB) *GormPointRepository {
	return &GormPointRepository{db: db}
}

func (r *GormPointRepository) Create(ctx context.Context, p *domain.UserPoint) error {
	m := &UserPointModel{UserID: p.UserID, Amount: p.Amount, Version: p.Version, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create user point")
	}
	p.ID = m.ID
	return nil
}

func (r *GormPointRepository) FindByUserID(ctx context.Context, userID int64) (*domain.UserPoint, error) {
	return r.find(database.Conn(ctx, r.db), userID)
}

func (r *GormPointRepository) FindByUserIDForUpdate(ctx context.Context, userID int64) (*domain.UserPoint, error) {
	q := database.Conn(ctx, r.db)
	if database.IsMySQL(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(q, userID)
}

func (r *GormPointRepository) find(q *gorm.DB, userID int64) (*domain.UserPoint, error) {
	var m UserPointModel
	if err := q.Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, database.TranslateError(err, "find user point")
	}
	return &domain.UserPoint{
		ID:        m.ID,
		UserID:    m.UserID,
		Amount:    m.Amount,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// Update 以读取时的版本号为条件写回余额
func (r *GormPointRepository) Update(ctx context.Context, p *domain.UserPoint) error {
	res := database.Conn(ctx, r.db).Model(&UserPointModel{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"amount":     p.Amount,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return database.TranslateError(res.Error, "update user point")
	}
	if res.RowsAffected == 0 {
		return database.VersionConflict("user_point", p.ID, p.Version)
	}
	p.Version++
	return nil
}

// GormHistoryRepository 是 domain.HistoryRepository 的 GORM 实现
type GormHistoryRepository struct {
	db *gorm.DB
}

func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	return &GormHistoryRepository{db: db}
}

func (r *GormHistoryRepository) Append(ctx context.Context, h *domain.PointHistory) error {
	m := &PointHistoryModel{
		UserID:       h.UserID,
		Type:         string(h.Type),
		Amount:       h.Amount,
		BalanceAfter: h.BalanceAfter,
		OrderID:      h.OrderID,
		CreatedAt:    h.CreatedAt,
	}
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "append point history")
	}
	h.ID = m.ID
	return nil
}

// ListByUser 按时间倒序返回最近的流水
func (r *GormHistoryRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.PointHistory, error) {
	var models []PointHistoryModel
	err := database.Conn(ctx, r.db).Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, database.TranslateError(err, "list point history")
	}
	out := make([]*domain.PointHistory, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.PointHistory{
			ID:           m.ID,
			UserID:       m.UserID,
			Type:         domain.HistoryType(m.Type),
			Amount:       m.Amount,
			BalanceAfter: m.BalanceAfter,
			OrderID:      m.OrderID,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

var (
	_ domain.Repository        = (*GormPointRepository)(nil)
	_ domain.HistoryRepository = (*GormHistoryRepository)(nil)
)
