// Package lock 提供跨进程的分布式锁：键生成、单键锁、按序多键锁和读写锁。
//
// 多键加锁时所有调用方都必须按同一个全局顺序获取锁，否则会形成等待环导致死锁。
// 本包用 Sort 定义这个顺序（键字符串的字典序），Manager.WithOrderedLocks 只接受已经排好序的键。
package lock

import (
	"sort"
	"strconv"
	"strings"
)

// 资源域与资源类型。新的调用点需要锁住多种资源时，必须沿用 用户 → 商品 → 优惠券 的相对顺序。
const (
	DomainUser    = "user"
	DomainProduct = "product"
	DomainCoupon  = "coupon"

	ResourcePoint       = "point"
	ResourceStock       = "stock"
	ResourceDetail      = "detail"
	ResourceCouponEvent = "event"
	ResourceCouponUser  = "issued"
)

const defaultPrefix = "lock"

// Key 唯一标识一个可加锁的资源。只在需要时计算，不做持久化。
type Key string

func (k Key) String() string { return string(k) }

// KeyGenerator 把 (domain, resourceType, resourceID) 映射为锁键。
// 前缀通过配置传入，不依赖全局常量。
type KeyGenerator struct {
	prefix string
}

// NewKeyGenerator 创建键生成器，prefix 为空时使用 "lock"
func NewKeyGenerator(prefix string) KeyGenerator {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return KeyGenerator{prefix: escape(prefix)}
}

// Prefix 返回转义后的前缀
func (g KeyGenerator) Prefix() string {
	if g.prefix == "" {
		return defaultPrefix
	}
	return g.prefix
}

// Key 生成锁键，格式为 prefix:domain:resourceType:resourceID。
// 每一段都会转义分隔符，因此不同的三元组不会得到相同的键。
func (g KeyGenerator) Key(domain, resourceType, resourceID string) Key {
	var b strings.Builder
	b.Grow(len(g.Prefix()) + len(domain) + len(resourceType) + len(resourceID) + 3)
	b.WriteString(g.Prefix())
	b.WriteByte(':')
	b.WriteString(escape(domain))
	b.WriteByte(':')
	b.WriteString(escape(resourceType))
	b.WriteByte(':')
	b.WriteString(escape(resourceID))
	return Key(b.String())
}

// KeyOf 是数字 ID 的便捷版本
func (g KeyGenerator) KeyOf(domain, resourceType string, resourceID int64) Key {
	return g.Key(domain, resourceType, strconv.FormatInt(resourceID, 10))
}

// Keys 为同一资源域下的多个 ID 生成键，返回值已经过 Sort
func (g KeyGenerator) Keys(domain, resourceType string, resourceIDs []string) []Key {
	keys := make([]Key, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		keys = append(keys, g.Key(domain, resourceType, id))
	}
	return Sort(keys)
}

// Sort 返回去重后按字典序排列的新切片，不修改入参。
// 所有需要同时持有多把锁的调用方都必须先经过 Sort。
func Sort(keys []Key) []Key {
	out := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ':' 是段分隔符，'{' '}' 会被 Redis Cluster 当作 hash tag，'%' 是转义字符本身
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "{", "%7B", "}", "%7D")

func escape(s string) string {
	return keyEscaper.Replace(s)
}
