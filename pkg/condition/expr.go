package condition

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// EvalExpr evaluates a boolean expression string against the given
// environment using expr-lang. An empty expression is always true, so
// omitted guards never block a step.
func EvalExpr(code string, env map[string]any) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return true, nil
	}

	program, err := expr.Compile(code, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", code, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", code, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", code, output, output)
	}
	return result, nil
}

// EvalValue evaluates an arbitrary expression string against the given
// environment and returns its value. Used to resolve loop list sources.
func EvalValue(code string, env map[string]any) (any, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", code, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval expression %q: %w", code, err)
	}
	return output, nil
}
