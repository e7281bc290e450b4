// Package steps provides the built-in glue step handlers: variable
// assignment, logging output, timed waits and loop control. Hosts extend
// the set by registering their own handlers for additional kinds.
package steps

import (
	"context"
	"time"

	"github.com/spf13/cast"

	"github.com/ItsDalk-Lane/formflow/pkg/condition"
	"github.com/ItsDalk-Lane/formflow/pkg/engine"
	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// Builtin returns a registry pre-loaded with the built-in handlers.
func Builtin() *engine.Registry {
	reg := engine.NewRegistry()
	for _, h := range []engine.Handler{
		engine.HandlerFor(schema.KindSet, runSet),
		engine.HandlerFor(schema.KindOutput, runOutput),
		engine.HandlerFor(schema.KindWait, runWait),
		engine.HandlerFor(schema.KindBreak, runBreak),
		engine.HandlerFor(schema.KindContinue, runContinue),
	} {
		// Kinds are distinct constants; Register cannot fail here.
		_ = reg.Register(h)
	}
	return reg
}

// runSet assigns a value into the run state. `name` targets a variable,
// `field` targets a field by identity; `value` is a literal (loop-scope
// names substitute) and `value_expr` an expression over the merged
// environment.
func runSet(_ context.Context, step schema.Step, ec *engine.ExecutionContext) (engine.Outcome, error) {
	var value any
	if code := cast.ToString(step.With["value_expr"]); code != "" {
		v, err := condition.EvalValue(code, ec.Env())
		if err != nil {
			return engine.OutcomeProceed, engine.WrapError(engine.CodeStepFailed, step.ID, err)
		}
		value = v
	} else {
		value = ec.ResolveValue(step.With["value"])
	}

	if name := cast.ToString(step.With["name"]); name != "" {
		ec.State.Vars[name] = value
		return engine.OutcomeProceed, nil
	}
	if field := cast.ToString(step.With["field"]); field != "" {
		ec.State.Fields[field] = value
		return engine.OutcomeProceed, nil
	}
	return engine.OutcomeProceed, engine.Errorf(engine.CodeStepFailed, step.ID, "set step requires name or field")
}

// runOutput logs a message through the run's structured logger. The
// message resolves loop-scope names like condition values do.
func runOutput(_ context.Context, step schema.Step, ec *engine.ExecutionContext) (engine.Outcome, error) {
	msg := ec.ResolveValue(step.With["message"])
	ec.Logger.Info("output", "run_id", ec.RunID, "step", step.ID, "message", msg)
	return engine.OutcomeProceed, nil
}

// runWait sleeps for the configured duration, unwinding promptly on
// cancellation.
func runWait(ctx context.Context, step schema.Step, ec *engine.ExecutionContext) (engine.Outcome, error) {
	raw := cast.ToString(step.With["duration"])
	d, err := time.ParseDuration(raw)
	if err != nil {
		return engine.OutcomeProceed, engine.Errorf(engine.CodeStepFailed, step.ID, "invalid duration %q", raw)
	}
	select {
	case <-ctx.Done():
		return engine.OutcomeProceed, nil
	case <-time.After(d):
		return engine.OutcomeProceed, nil
	}
}

// runBreak requests termination of the innermost enclosing loop. Outside a
// loop it is a control-flow misuse error.
func runBreak(_ context.Context, step schema.Step, ec *engine.ExecutionContext) (engine.Outcome, error) {
	if ec.Loop == nil || !ec.Loop.CanBreak {
		return engine.OutcomeProceed, engine.Errorf(engine.CodeBreakOutsideLoop, step.ID, "break outside loop")
	}
	return engine.OutcomeBreak, nil
}

// runContinue skips to the next iteration of the innermost enclosing loop.
// Outside a loop it is a control-flow misuse error.
func runContinue(_ context.Context, step schema.Step, ec *engine.ExecutionContext) (engine.Outcome, error) {
	if ec.Loop == nil || !ec.Loop.CanContinue {
		return engine.OutcomeProceed, engine.Errorf(engine.CodeContinueOutsideLoop, step.ID, "continue outside loop")
	}
	return engine.OutcomeContinue, nil
}
