package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/product/domain"
)

// GormProductRepository 是 domain.Repository 的 GORM 实现
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository 创建一个新的 GORM 仓储实例
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// AutoMigrate 创建或更新 products 表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProductModel{})
}

func (r *GormProductRepository) Create(ctx context.Context, p *domain.Product) error {
	m := fromDomain(p)
	if err := database.Conn(ctx, r.db).Create(m).Error; err != nil {
		return database.TranslateError(err, "create product")
	}
	p.ID = m.ID
	p.CreatedAt, p.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (r *GormProductRepository) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	return r.find(database.Conn(ctx, r.db), id)
}

// FindByIDForUpdate 在 MySQL 上使用 SELECT ... FOR UPDATE，其他方言退化为普通读取
func (r *GormProductRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	q := database.Conn(ctx, r.db)
	if database.IsMySQL(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(q, id)
}

func (r *GormProductRepository) find(q *gorm.DB, id int64) (*domain.Product, error) {
	var m ProductModel
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, database.TranslateError(err, "find product")
	}
	return toDomain(&m), nil
}

// Update 以读取时的版本号为条件写回，成功后 p.Version 加一
func (r *GormProductRepository) Update(ctx context.Context, p *domain.Product) error {
	res := database.Conn(ctx, r.db).Model(&ProductModel{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"name":       p.Name,
			"price":      p.Price,
			"stock":      p.Stock,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return database.TranslateError(res.Error, "update product")
	}
	if res.RowsAffected == 0 {
		return database.VersionConflict("product", p.ID, p.Version)
	}
	p.Version++
	return nil
}

var _ domain.Repository = (*GormProductRepository)(nil)
