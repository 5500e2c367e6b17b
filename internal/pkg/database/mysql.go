// internal/pkg/database/mysql.go
package database

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config 是数据库连接配置。DSN 非空时优先使用 DSN。
// Driver 为 sqlite 时 DSN 是数据库文件路径，只用于本地运行和测试。
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	SlowThreshold   time.Duration `yaml:"slowThreshold"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

// BuildDSN 用驱动自带的 Config 拼接 DSN，避免手写转义
func BuildDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Name
	c.ParseTime = true
	c.Loc = time.Local
	c.Params = map[string]string{"charset": "utf8mb4"}
	// 行锁等待超过这个时间由数据库报错，而不是无限等待
	c.Params["innodb_lock_wait_timeout"] = "10"
	return c.FormatDSN()
}

// Open 按 Driver 打开对应的数据库
func Open(cfg Config) (*gorm.DB, error) {
	switch cfg.Driver {
	case "", "mysql":
		return OpenMySQL(cfg)
	case "sqlite":
		return OpenSQLite(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenMySQL 打开 GORM 连接并设置连接池
func OpenMySQL(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(BuildDSN(cfg)), &gorm.Config{
		Logger:                 NewGormLogger(cfg.SlowThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := ConfigurePool(db, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("host", cfg.Host).Str("db", cfg.Name).Msg("✅ Connected to MySQL.")
	return db, nil
}

// ConfigurePool 设置底层 sql.DB 连接池参数
func ConfigurePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// NewGormLogger 返回一个只记录慢查询和错误的 GORM logger
func NewGormLogger(slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return gormlogger.New(&log.Logger, gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
