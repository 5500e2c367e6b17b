package lock

import (
	"context"
	"time"
)

// Mode 是锁模式
type Mode int

const (
	Exclusive Mode = iota // 互斥锁
	Read                  // 读写锁的共享端
	Write                 // 读写锁的独占端
)

func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Lease 代表后端上一次成功的加锁，持有到 Release 或租约过期为止
type Lease interface {
	Key() Key
	// Release 只释放自己持有的锁。锁已过期或已被释放时返回 nil。
	Release(ctx context.Context) error
}

// Locker 是锁存储后端（Redis、ZooKeeper）需要实现的接口。
// Acquire 阻塞到拿到锁或 ctx 结束；等待超时由调用方通过 ctx 的 deadline 控制。
// 读写锁与同名互斥锁是相互独立的两种原语。
type Locker interface {
	Acquire(ctx context.Context, key Key, mode Mode, lease time.Duration) (Lease, error)
}
