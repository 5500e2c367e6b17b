package lock

import "time"

// TimeoutPolicy 为按序加锁的每一把锁分配等待时间。
// 第一把锁是最容易排队的串行点，给更长的等待；之后的锁预期很快拿到。
// 这些数值只影响失败得快慢，正确性只依赖加锁顺序。
type TimeoutPolicy struct {
	First     time.Duration `yaml:"firstTimeout"`
	Following time.Duration `yaml:"followingTimeout"`
}

// DefaultTimeoutPolicy 第一把锁 30s，其余 10s
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{First: 30 * time.Second, Following: 10 * time.Second}
}

// Timeouts 返回与 n 把锁一一对应的等待时间
func (p TimeoutPolicy) Timeouts(n int) []time.Duration {
	def := DefaultTimeoutPolicy()
	first, following := p.First, p.Following
	if first <= 0 {
		first = def.First
	}
	if following <= 0 {
		following = def.Following
	}

	out := make([]time.Duration, n)
	for i := range out {
		if i == 0 {
			out[i] = first
		} else {
			out[i] = following
		}
	}
	return out
}

// Plan 是一次多键加锁的有序计划。
// 分组按添加顺序排列，组内的键排序去重；不同分组之间的相对顺序就是全局约定的资源类型顺序。
type Plan struct {
	keys []Key
}

// NewPlan 创建空计划
func NewPlan() *Plan {
	return &Plan{}
}

// Then 追加一组同类资源的键，组内按 Sort 排序
func (p *Plan) Then(keys ...Key) *Plan {
	for _, k := range Sort(keys) {
		if !p.contains(k) {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// Keys 返回计划中的键（获取顺序）
func (p *Plan) Keys() []Key {
	out := make([]Key, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *Plan) Len() int { return len(p.keys) }

func (p *Plan) contains(k Key) bool {
	for _, existing := range p.keys {
		if existing == k {
			return true
		}
	}
	return false
}
