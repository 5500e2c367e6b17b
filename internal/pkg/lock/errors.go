package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockAcquisitionFailed 表示在超时时间内没有拿到锁，调用方可以重试
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")
	// ErrInvalidPlan 表示多键加锁的参数不合法（空键、重复键或与超时列表长度不一致）。
	// 键的顺序由调用方的 Plan 决定，这里不检查
	ErrInvalidPlan = errors.New("invalid lock plan")
	// ErrUnsupported 表示后端不支持请求的锁模式
	ErrUnsupported = errors.New("lock mode not supported by backend")
)

// AcquisitionError 描述一次失败的加锁
type AcquisitionError struct {
	Key     Key
	Mode    Mode
	Timeout time.Duration
	Cause   error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquire %s lock %q within %s", e.Mode, e.Key, e.Timeout)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrLockAcquisitionFailed
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }

// Retryable 锁超时是瞬时状态，换个时机重试整个请求即可
func (e *AcquisitionError) Retryable() bool { return true }
