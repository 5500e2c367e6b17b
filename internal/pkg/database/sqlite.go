package database

import (
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// OpenSQLite 打开一个文件型 SQLite 数据库。
// SQLite 只允许一个写者，连接池固定为 1，事务之间在连接池上排队。
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 NewGormLogger(0),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(1)
	log.Debug().Str("path", path).Msg("Opened SQLite database.")
	return db, nil
}

// IsMySQL 判断当前连接是否为 MySQL，行锁等方言特性只在 MySQL 上启用
func IsMySQL(db *gorm.DB) bool {
	return db.Dialector.Name() == "mysql"
}
