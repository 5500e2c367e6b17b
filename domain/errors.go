// Package domain 是各业务聚合共享的内核：通用错误、事务边界和跨服务的领域事件。
package domain

import "errors"

var (
	// ErrOptimisticLockConflict 表示提交时版本号与读取时不一致。
	// 说明分布式锁没有完全挡住竞争（例如锁租约提前过期），调用方可以重试整个请求。
	ErrOptimisticLockConflict = errors.New("optimistic lock conflict")

	// ErrNotFound 是仓储层找不到记录时的通用错误，各聚合会再包装成自己的 NotFound。
	ErrNotFound = errors.New("record not found")
)

// retryable 由可重试的错误类型实现（例如锁获取超时）
type retryable interface {
	Retryable() bool
}

// IsRetryable 判断一个错误是否值得调用方用相同的输入重试。
// 只有锁获取超时和乐观锁冲突是可重试的，业务规则错误不可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOptimisticLockConflict) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
