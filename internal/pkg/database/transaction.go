// internal/pkg/database/transaction.go
package database

import (
	"context"
	stderrors "errors"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"fulfillment/domain"
)

type txKey struct{}

// Transactor 负责开启数据库事务，并把事务句柄放进 context。
// 仓储通过 Conn(ctx, db) 取到当前事务，从而参与同一个事务边界。
type Transactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTransaction 在一个事务中执行 fn。
// fn 返回错误或 panic 时整体回滚；ctx 中已经存在事务时直接复用，不开启嵌套事务。
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTransaction 判断 ctx 是否处于事务中
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// Conn 返回当前 ctx 对应的连接：事务中返回事务句柄，否则返回 db 本身
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// TranslateError 把驱动层错误翻译为领域错误。
// 死锁和行锁等待超时都说明存在未被分布式锁挡住的竞争，按乐观锁冲突处理，由调用方决定是否重试。
func TranslateError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(domain.ErrNotFound, msg)
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return errors.Wrapf(domain.ErrOptimisticLockConflict, "%s: mysql %d", msg, myErr.Number)
		}
	}
	return errors.Wrap(err, msg)
}
