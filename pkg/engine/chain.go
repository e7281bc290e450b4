package engine

import (
	"context"
	"time"

	"github.com/ItsDalk-Lane/formflow/pkg/condition"
	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// runChain walks the step list in order. For each step: a set cancellation
// signal stops the chain silently with the remainder un-run; a false
// condition skips the step without side effects; otherwise the step is
// dispatched through the registry. Break/continue outcomes returned by a
// handler bubble up to the nearest enclosing loop; reaching a chain with
// no loop context they become misuse errors.
//
// The walk is an explicit loop, not handler-driven recursion, so long step
// lists cannot grow the call stack.
func (e *Engine) runChain(ctx context.Context, ec *ExecutionContext, steps []schema.Step) (Outcome, error) {
	for i := range steps {
		if ctx.Err() != nil {
			return OutcomeProceed, nil
		}
		step := steps[i]

		allowed, err := e.stepAllowed(ec, step)
		if err != nil {
			return OutcomeProceed, WrapError(CodeCondition, step.ID, err)
		}
		if !allowed {
			e.recordSkip(step)
			continue
		}

		if e.shouldDetach(ec, step) {
			e.bg.consumed = true
			rest := make([]schema.Step, len(steps)-i)
			copy(rest, steps[i:])
			go e.runDetached(ctx, ec, rest)
			return OutcomeProceed, nil
		}

		handler, ok := e.handlerFor(step.Kind)
		if !ok {
			return OutcomeProceed, Errorf(CodeUnregisteredKind, step.ID, "no handler registered for kind %q", step.Kind)
		}

		out, err := e.dispatch(ctx, ec, step, handler)
		if err != nil {
			return OutcomeProceed, err
		}
		switch out {
		case OutcomeBreak:
			if ec.Loop == nil || !ec.Loop.CanBreak {
				return OutcomeProceed, Errorf(CodeBreakOutsideLoop, step.ID, "break outside loop")
			}
			ec.Loop.BreakRequested = true
			return OutcomeBreak, nil
		case OutcomeContinue:
			if ec.Loop == nil || !ec.Loop.CanContinue {
				return OutcomeProceed, Errorf(CodeContinueOutsideLoop, step.ID, "continue outside loop")
			}
			ec.Loop.ContinueRequested = true
			return OutcomeContinue, nil
		}
	}
	return OutcomeProceed, nil
}

// stepAllowed evaluates the step's guards: the expression-string guard
// first, then the condition tree. Both default to true when absent.
func (e *Engine) stepAllowed(ec *ExecutionContext, step schema.Step) (bool, error) {
	if step.When != "" {
		ok, err := condition.EvalExpr(step.When, ec.Env())
		if err != nil || !ok {
			return false, err
		}
	}
	return condition.Match(step.Condition, ec.ResolveProperty, ec.ResolveValue)
}

// shouldDetach reports whether this step triggers background detachment:
// the per-run flag is set, no prior detachment happened, the chain is at
// root depth, and the step carries the designated long-running kind.
func (e *Engine) shouldDetach(ec *ExecutionContext, step schema.Step) bool {
	return e.bg != nil && !e.bg.consumed && ec.Loop == nil && step.Kind == e.bg.kind
}

// runDetached executes the remainder of a chain in the background. The
// original caller has already been signalled complete; failures travel on
// the failures channel instead of re-surfacing to the caller. The channel
// is closed when the tail finishes so callers can await completion.
//
// The detached tail and the caller share the run state without locking;
// writes here racing with caller-side reads are a documented hazard of
// enabling detachment.
func (e *Engine) runDetached(ctx context.Context, ec *ExecutionContext, steps []schema.Step) {
	defer close(e.bg.failures)
	out, err := e.runChain(ctx, ec, steps)
	if err == nil && out != OutcomeProceed {
		err = outcomeMisuseError("", out)
	}
	if err != nil {
		e.logger.Error("detached chain failed", "run_id", e.runID, "error", err)
		e.bg.failures <- err
	}
}

// dispatch runs one step through its handler, recording timing, trace and
// summary. Handler failures are wrapped with the step identity unless they
// already carry a flow error code.
func (e *Engine) dispatch(ctx context.Context, ec *ExecutionContext, step schema.Step, handler Handler) (Outcome, error) {
	stepCtx := ctx
	timeout := e.stepTimeout(step)
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := &StepResult{
		RunID:     e.runID,
		StepID:    step.ID,
		Kind:      step.Kind,
		StartedAt: time.Now(),
	}
	e.logger.Debug("step start", "run_id", e.runID, "step", step.ID, "kind", step.Kind)

	out, err := handler.Run(stepCtx, step, ec)

	result.EndedAt = time.Now()
	// A handler that unwinds cleanly on its deadline must still fail the
	// step; only cancellation of the whole run stays silent.
	if err == nil && timeout > 0 && ctx.Err() == nil {
		if stepCtx.Err() != nil || result.EndedAt.Sub(result.StartedAt) > timeout {
			err = Errorf(CodeStepTimeout, step.ID, "step exceeded timeout %s", timeout)
		}
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		e.logger.Warn("step failed", "run_id", e.runID, "step", step.ID, "error", err)
	} else {
		result.Status = StatusPassed
		e.logger.Debug("step done", "run_id", e.runID, "step", step.ID, "outcome", out.String())
	}
	e.record(result)

	if err != nil {
		return out, WrapError(CodeStepFailed, step.ID, err)
	}
	return out, nil
}

// recordSkip traces a condition-skipped step, mirroring executed steps so
// the trace shows every step the chain visited.
func (e *Engine) recordSkip(step schema.Step) {
	now := time.Now()
	e.logger.Debug("step skipped", "run_id", e.runID, "step", step.ID)
	e.record(&StepResult{
		RunID:     e.runID,
		StepID:    step.ID,
		Kind:      step.Kind,
		Status:    StatusSkipped,
		StartedAt: now,
		EndedAt:   now,
	})
}

func (e *Engine) record(result *StepResult) {
	e.summary.record(result.Status)
	if e.trace != nil {
		if err := e.trace.Write(result); err != nil {
			e.logger.Warn("write trace", "run_id", e.runID, "step", result.StepID, "error", err)
		}
	}
}

// stepTimeout returns the timeout for a step, falling back to flow
// defaults. Durations are validated at load time; unparsable values here
// mean no timeout.
func (e *Engine) stepTimeout(step schema.Step) time.Duration {
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil {
			return d
		}
	}
	if e.flow.Defaults != nil && e.flow.Defaults.Timeout != "" {
		if d, err := time.ParseDuration(e.flow.Defaults.Timeout); err == nil {
			return d
		}
	}
	return 0
}
