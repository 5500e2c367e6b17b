// internal/service/order/domain/state.go
package domain

import "fmt"

// State 定义了订单的生命周期状态
type State string

const (
	StatePending   State = "PENDING"   // 正在下单事务中
	StateCompleted State = "COMPLETED" // 已落库，应付金额已确定
)

// Phase 是一次下单尝试所处的阶段
type Phase string

const (
	PhaseLocking     Phase = "LOCKING"
	PhaseLocked      Phase = "LOCKED"
	PhaseTransacting Phase = "TRANSACTING"
	PhaseCommitted   Phase = "COMMITTED"
	PhaseRolledBack  Phase = "ROLLED_BACK"
	PhaseUnlocked    Phase = "UNLOCKED"
	PhaseLockTimeout Phase = "LOCK_TIMEOUT"
)

var transitions = map[Phase][]Phase{
	PhaseLocking:     {PhaseLocked, PhaseLockTimeout},
	PhaseLocked:      {PhaseTransacting},
	PhaseTransacting: {PhaseCommitted, PhaseRolledBack},
	PhaseCommitted:   {PhaseUnlocked},
	PhaseRolledBack:  {PhaseUnlocked},
}

// Attempt 记录一次下单尝试的阶段流转。LOCK_TIMEOUT 和 UNLOCKED 是终态
type Attempt struct {
	phase   Phase
	history []Phase
}

// NewAttempt 从 LOCKING 开始
func NewAttempt() *Attempt {
	return &Attempt{phase: PhaseLocking, history: []Phase{PhaseLocking}}
}

func (a *Attempt) Phase() Phase { return a.phase }

// History 返回经历过的全部阶段
func (a *Attempt) History() []Phase {
	out := make([]Phase, len(a.history))
	copy(out, a.history)
	return out
}

// Advance 流转到下一个阶段，不允许的流转返回错误
func (a *Attempt) Advance(next Phase) error {
	for _, allowed := range transitions[a.phase] {
		if allowed == next {
			a.phase = next
			a.history = append(a.history, next)
			return nil
		}
	}
	return fmt.Errorf("illegal checkout transition %s -> %s", a.phase, next)
}
