package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fulfillment/internal/pkg/logger"
)

const (
	defaultLease          = 30 * time.Second
	defaultWaitTimeout    = 10 * time.Second
	defaultReleaseTimeout = 3 * time.Second
)

// Option 配置 Manager
type Option func(*Manager)

// WithLease 设置锁租约。持有者崩溃时锁会在租约到期后自动释放。
func WithLease(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// WithDefaultTimeout 设置未指定等待时间时使用的默认值
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// WithReleaseTimeout 设置释放锁时单次请求的超时
func WithReleaseTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.releaseTimeout = d
		}
	}
}

// Manager 是分布式锁管理器。
// 它从不在内部重试：等待超时以 *AcquisitionError 返回，重试策略属于调用方。
type Manager struct {
	locker         Locker
	keys           KeyGenerator
	lease          time.Duration
	defaultTimeout time.Duration
	releaseTimeout time.Duration
	tracer         trace.Tracer
}

func NewManager(locker Locker, keys KeyGenerator, opts ...Option) *Manager {
	m := &Manager{
		locker:         locker,
		keys:           keys,
		lease:          defaultLease,
		defaultTimeout: defaultWaitTimeout,
		releaseTimeout: defaultReleaseTimeout,
		tracer:         otel.Tracer("fulfillment/lock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keys 返回管理器使用的键生成器
func (m *Manager) Keys() KeyGenerator {
	return m.keys
}

// Handle 表示当前调用方持有 key 对应的锁，直到 Unlock 或租约过期
type Handle struct {
	key        Key
	mode       Mode
	lease      Lease
	acquiredAt time.Time
	released   atomic.Bool
}

func (h *Handle) Key() Key { return h.key }

// TryLock 在 timeout 内获取 key 的互斥锁，超时返回 *AcquisitionError，不会无限阻塞
func (m *Manager) TryLock(ctx context.Context, key Key, timeout time.Duration) (*Handle, error) {
	return m.acquire(ctx, key, Exclusive, timeout)
}

// Unlock 释放锁。重复释放、nil 或已过期的锁都是 no-op。
// 即使请求的 ctx 已经取消也会尝试释放。
func (m *Manager) Unlock(ctx context.Context, h *Handle) error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return nil
	}
	heldDuration.WithLabelValues(h.mode.String()).Observe(time.Since(h.acquiredAt).Seconds())

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
	defer cancel()
	if err := h.lease.Release(rctx); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", h.key.String()).
			Msg("failed to release lock, it will expire with its lease")
		return fmt.Errorf("release lock %q: %w", h.key, err)
	}
	return nil
}

// WithLock 持有单个互斥锁执行 fn
func (m *Manager) WithLock(ctx context.Context, key Key, timeout time.Duration, fn func(ctx context.Context) error) error {
	return m.WithOrderedLocks(ctx, []Key{key}, []time.Duration{timeout}, fn)
}

// WithOrderedLocks 按 keys 的顺序逐个加锁，每把锁使用 timeouts 中对应的等待时间。
// keys 必须已经按全局约定排好序。任意一把锁获取失败时，已拿到的锁按相反顺序释放，错误原样返回；
// 全部拿到后执行 fn，无论 fn 正常返回、返回错误还是 panic，都会按相反顺序释放所有锁。
func (m *Manager) WithOrderedLocks(ctx context.Context, keys []Key, timeouts []time.Duration, fn func(ctx context.Context) error) error {
	if err := validatePlan(keys, timeouts); err != nil {
		return err
	}
	return m.withLocks(ctx, keys, timeouts, Exclusive, fn)
}

// WithPlan 按 plan 的顺序加锁，等待时间由 policy 分配
func (m *Manager) WithPlan(ctx context.Context, plan *Plan, policy TimeoutPolicy, fn func(ctx context.Context) error) error {
	return m.WithOrderedLocks(ctx, plan.Keys(), policy.Timeouts(plan.Len()), fn)
}

// WithSameDomainLocks 为同一资源域下的多个 ID 生成键、排序后统一加锁
func (m *Manager) WithSameDomainLocks(ctx context.Context, domain, resourceType string, resourceIDs []string, timeout time.Duration, fn func(ctx context.Context) error) error {
	keys := m.keys.Keys(domain, resourceType, resourceIDs)
	timeouts := make([]time.Duration, len(keys))
	for i := range timeouts {
		timeouts[i] = timeout
	}
	return m.WithOrderedLocks(ctx, keys, timeouts, fn)
}

// WithReadLock 持有读锁执行 fn，多个读者可以同时持有
func (m *Manager) WithReadLock(ctx context.Context, key Key, timeout time.Duration, fn func(ctx context.Context) error) error {
	return m.withLocks(ctx, []Key{key}, []time.Duration{timeout}, Read, fn)
}

// WithWriteLock 持有写锁执行 fn，写者排斥所有读者和其他写者
func (m *Manager) WithWriteLock(ctx context.Context, key Key, timeout time.Duration, fn func(ctx context.Context) error) error {
	return m.withLocks(ctx, []Key{key}, []time.Duration{timeout}, Write, fn)
}

// withLocks 用显式的持有列表代替递归：成功的锁依次压入 held，退出时逆序弹出释放
func (m *Manager) withLocks(ctx context.Context, keys []Key, timeouts []time.Duration, mode Mode, fn func(ctx context.Context) error) error {
	held := make([]*Handle, 0, len(keys))
	defer func() {
		m.releaseAll(ctx, held)
	}()

	for i, key := range keys {
		h, err := m.acquire(ctx, key, mode, timeouts[i])
		if err != nil {
			return err
		}
		held = append(held, h)
	}
	return fn(ctx)
}

func (m *Manager) releaseAll(ctx context.Context, held []*Handle) {
	for i := len(held) - 1; i >= 0; i-- {
		// 释放失败已经记录日志，租约过期兜底
		_ = m.Unlock(ctx, held[i])
	}
}

func (m *Manager) acquire(ctx context.Context, key Key, mode Mode, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	ctx, span := m.tracer.Start(ctx, "lock.Acquire", trace.WithAttributes(
		attribute.String("lock.key", key.String()),
		attribute.String("lock.mode", mode.String()),
		attribute.Int64("lock.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	lease, err := m.locker.Acquire(waitCtx, key, mode, m.lease)
	if err != nil {
		acquireDuration.WithLabelValues(mode.String(), "failed").Observe(time.Since(start).Seconds())
		if errors.Is(err, ErrUnsupported) {
			span.RecordError(err)
			return nil, err
		}
		acquireFailures.WithLabelValues(mode.String()).Inc()

		aerr := &AcquisitionError{Key: key, Mode: mode, Timeout: timeout, Cause: err}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, "lock acquisition failed")
		logger.Ctx(ctx).Warn().Err(err).Str("key", key.String()).Str("mode", mode.String()).
			Dur("timeout", timeout).Msg("lock acquisition failed")
		return nil, aerr
	}
	acquireDuration.WithLabelValues(mode.String(), "acquired").Observe(time.Since(start).Seconds())

	return &Handle{key: key, mode: mode, lease: lease, acquiredAt: time.Now()}, nil
}

func validatePlan(keys []Key, timeouts []time.Duration) error {
	if len(keys) != len(timeouts) {
		return fmt.Errorf("%w: %d keys but %d timeouts", ErrInvalidPlan, len(keys), len(timeouts))
	}
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidPlan)
		}
		// 锁不可重入，同一个键出现两次会和自己死锁
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidPlan, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
