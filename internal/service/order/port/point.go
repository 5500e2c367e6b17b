package port

import (
	"context"

	"fulfillment/internal/pkg/lock"
)

// Points 是积分服务的出站端口。
type Points interface {
	// BalanceKey 同时充当下单流程的用户锁
	BalanceKey(userID int64) lock.Key
	// Deduct 扣减积分，调用方持有 BalanceKey 并处于事务中
	Deduct(ctx context.Context, userID, amount, orderID int64) error
}
