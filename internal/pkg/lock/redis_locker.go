package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"fulfillment/internal/pkg/redis"
)

const (
	releaseScriptName      = "lock_release"
	readAcquireScriptName  = "lock_read_acquire"
	readReleaseScriptName  = "lock_read_release"
	writeAcquireScriptName = "lock_write_acquire"

	defaultRetryInterval = 20 * time.Millisecond
	abandonTimeout       = time.Second
)

// RedisLocker 基于 Redis 的锁后端。
// 互斥锁使用 SET key token NX PX lease，释放时用 Lua 比对 token 后删除，只有持有者能释放。
// 读写锁使用一个写键和一个以过期时间为分数的读者有序集合，两者共享同一个 hash tag。
type RedisLocker struct {
	client        *redis.Client
	retryInterval time.Duration
}

// NewRedisLocker 创建 Redis 锁后端，并注册所需的 Lua 脚本
func NewRedisLocker(client *redis.Client, retryInterval time.Duration) (*RedisLocker, error) {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	scripts := map[string]string{
		releaseScriptName:      releaseScript,
		readAcquireScriptName:  readAcquireScript,
		readReleaseScriptName:  readReleaseScript,
		writeAcquireScriptName: writeAcquireScript,
	}
	for name, content := range scripts {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load lock script %s: %w", name, err)
		}
	}
	return &RedisLocker{client: client, retryInterval: retryInterval}, nil
}

// Acquire 轮询尝试加锁，直到成功或 ctx 结束
func (l *RedisLocker) Acquire(ctx context.Context, key Key, mode Mode, lease time.Duration) (Lease, error) {
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		ok, err := l.try(ctx, key, mode, token, lease)
		if err != nil {
			if ctx.Err() != nil {
				// 命令可能已经在 Redis 生效，只是回复晚于截止时间；按 token 撤销，避免锁一直挂到租约到期
				l.abandon(ctx, key, mode, token)
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			return &redisLease{locker: l, key: key, mode: mode, token: token}, nil
		}
		timer.Reset(l.backoff())
	}
}

func (l *RedisLocker) try(ctx context.Context, key Key, mode Mode, token string, lease time.Duration) (bool, error) {
	switch mode {
	case Exclusive:
		return l.client.GetClient().SetNX(ctx, key.String(), token, lease).Result()
	case Read:
		return l.runBool(ctx, readAcquireScriptName, rwKeys(key), token, lease.Milliseconds())
	case Write:
		return l.runBool(ctx, writeAcquireScriptName, rwKeys(key), token, lease.Milliseconds())
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupported, mode)
	}
}

func (l *RedisLocker) release(ctx context.Context, key Key, mode Mode, token string) error {
	var err error
	switch mode {
	case Exclusive:
		_, err = l.client.RunScript(ctx, releaseScriptName, []string{key.String()}, token)
	case Read:
		_, err = l.client.RunScript(ctx, readReleaseScriptName, rwKeys(key), token)
	case Write:
		_, err = l.client.RunScript(ctx, releaseScriptName, rwKeys(key)[:1], token)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, mode)
	}
	return err
}

func (l *RedisLocker) abandon(ctx context.Context, key Key, mode Mode, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	_ = l.release(releaseCtx, key, mode, token)
}

func (l *RedisLocker) runBool(ctx context.Context, script string, keys []string, args ...interface{}) (bool, error) {
	result, err := l.client.RunScript(ctx, script, keys, args...)
	if err != nil {
		return false, err
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from lock script %s: %T", script, result)
	}
	return code == 1, nil
}

// backoff 在重试间隔上加入抖动，避免等待者同时醒来
func (l *RedisLocker) backoff() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(l.retryInterval)/2 + 1))
	return l.retryInterval/2 + jitter
}

// rwKeys 返回读写锁的写键和读者集合，使用同一个 hash tag 保证在集群中落到同一个槽
func rwKeys(key Key) []string {
	tag := "{" + key.String() + "}"
	return []string{tag + ":rw:write", tag + ":rw:readers"}
}

type redisLease struct {
	locker *RedisLocker
	key    Key
	mode   Mode
	token  string
}

func (r *redisLease) Key() Key { return r.key }

func (r *redisLease) Release(ctx context.Context) error {
	return r.locker.release(ctx, r.key, r.mode, r.token)
}

// KEYS[1]: 锁键  ARGV[1]: 持有者 token
var releaseScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

// KEYS[1]: 写键  KEYS[2]: 读者集合  ARGV[1]: token  ARGV[2]: 租约毫秒
var readAcquireScript = `
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
local t = redis.call('time')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local lease = tonumber(ARGV[2])
redis.call('zremrangebyscore', KEYS[2], '-inf', now)
redis.call('zadd', KEYS[2], now + lease, ARGV[1])
if redis.call('pttl', KEYS[2]) < lease then
    redis.call('pexpire', KEYS[2], lease)
end
return 1
`

// KEYS[1]: 写键  KEYS[2]: 读者集合  ARGV[1]: token  ARGV[2]: 租约毫秒
var writeAcquireScript = `
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
local t = redis.call('time')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('zremrangebyscore', KEYS[2], '-inf', now)
if redis.call('zcard', KEYS[2]) > 0 then
    return 0
end
redis.call('set', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`

// KEYS[1]: 写键  KEYS[2]: 读者集合  ARGV[1]: token
var readReleaseScript = `
return redis.call('zrem', KEYS[2], ARGV[1])
`
