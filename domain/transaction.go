package domain

import "context"

// Transactor 开启一个数据库事务边界。fn 内通过 ctx 访问同一个事务，
// fn 返回错误时整个事务回滚，不会留下部分修改。
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
