// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"fulfillment/internal/service/coupon/domain"
)

// CELEngine 是 domain.ConditionEvaluator 的 CEL 实现。
// 编译好的程序按表达式文本缓存，同一个活动的条件只编译一次。
type CELEngine struct {
	env      *cel.Env
	programs sync.Map // string -> cel.Program
}

// NewCELEngine 声明可用的订单事实变量
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("total", cel.IntType),
		cel.Variable("itemCount", cel.IntType),
		cel.Variable("userId", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	return &CELEngine{env: env}, nil
}

func (e *CELEngine) program(condition string) (cel.Program, error) {
	if p, ok := e.programs.Load(condition); ok {
		return p.(cel.Program), nil
	}
	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCouponEvent, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: condition must be bool, got %v", domain.ErrInvalidCouponEvent, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programs.Store(condition, prg)
	return prg, nil
}

func (e *CELEngine) Validate(condition string) error {
	if condition == "" {
		return nil
	}
	_, err := e.program(condition)
	return err
}

// Evaluate 空条件恒为 true
func (e *CELEngine) Evaluate(condition string, fact domain.Fact) (bool, error) {
	if condition == "" {
		return true, nil
	}
	prg, err := e.program(condition)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"total":     fact.Total,
		"itemCount": fact.ItemCount,
		"userId":    fact.UserID,
	})
	if err != nil {
		return false, err
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("condition %q evaluated to %T", condition, out.Value())
	}
	return ok, nil
}

var _ domain.ConditionEvaluator = (*CELEngine)(nil)
