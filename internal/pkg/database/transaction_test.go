package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fulfillment/domain"
)

type counter struct {
	ID    int64 `gorm:"primaryKey"`
	Value int64
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&counter{}))
	require.NoError(t, db.Create(&counter{ID: 1}).Error)
	return db
}

func TestWithinTransaction_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	tx := NewTransactor(db)
	boom := errors.New("boom")

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		require.NoError(t, Conn(ctx, db).Model(&counter{}).Where("id = ?", 1).Update("value", 42).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var c counter
	require.NoError(t, db.First(&c, 1).Error)
	assert.Zero(t, c.Value)
}

func TestWithinTransaction_JoinsOuter(t *testing.T) {
	db := openTestDB(t)
	tx := NewTransactor(db)

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		// 内层复用外层事务，单连接池下也不会自锁
		return tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return Conn(ctx, db).Model(&counter{}).Where("id = ?", 1).Update("value", 7).Error
		})
	})
	require.NoError(t, err)

	var c counter
	require.NoError(t, db.First(&c, 1).Error)
	assert.EqualValues(t, 7, c.Value)
	assert.False(t, InTransaction(context.Background()))
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, TranslateError(nil, "x"))
	assert.ErrorIs(t, TranslateError(gorm.ErrRecordNotFound, "find"), domain.ErrNotFound)
	assert.ErrorIs(t, TranslateError(&mysql.MySQLError{Number: 1213}, "update"), domain.ErrOptimisticLockConflict)
	assert.ErrorIs(t, TranslateError(&mysql.MySQLError{Number: 1205}, "update"), domain.ErrOptimisticLockConflict)

	other := &mysql.MySQLError{Number: 1062}
	err := TranslateError(other, "insert")
	assert.False(t, errors.Is(err, domain.ErrOptimisticLockConflict))
	assert.ErrorIs(t, err, other)
}

func TestVersionConflict(t *testing.T) {
	err := VersionConflict("product", 1, 3)
	assert.ErrorIs(t, err, domain.ErrOptimisticLockConflict)
	assert.True(t, domain.IsRetryable(err))
}

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(Config{Host: "db", Port: 3306, User: "app", Password: "p@ss", Name: "shop"})
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.True(t, cfg.ParseTime)

	assert.Equal(t, "raw", BuildDSN(Config{DSN: "raw"}))
}
