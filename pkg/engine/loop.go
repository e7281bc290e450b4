package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ItsDalk-Lane/formflow/pkg/condition"
	"github.com/ItsDalk-Lane/formflow/pkg/schema"
	"github.com/ItsDalk-Lane/formflow/pkg/scope"
)

// loopState tracks where a loop is in its lifecycle. The controller keeps
// it for logging; a run can only observe it through the error (or absence
// of one) the loop returns.
type loopState int

const (
	loopNotStarted loopState = iota
	loopIterating
	loopCompleted
	loopAborted
	loopFaulted
)

func (s loopState) String() string {
	switch s {
	case loopNotStarted:
		return "not_started"
	case loopIterating:
		return "iterating"
	case loopCompleted:
		return "completed"
	case loopAborted:
		return "aborted"
	case loopFaulted:
		return "faulted"
	}
	return fmt.Sprintf("loopState(%d)", int(s))
}

// loopController drives one loop step: it materializes or probes the
// iteration sequence per loop kind, runs the body chain per iteration
// with a fresh scope frame, and enforces the guards in a fixed order on
// every iteration boundary: cancellation, then loop timeout, then max
// iterations.
type loopController struct {
	eng  *Engine
	ec   *ExecutionContext
	step schema.Step
	cfg  *schema.Loop

	state   loopState
	started time.Time

	timeout     time.Duration
	iterTimeout time.Duration
	pageDelay   time.Duration

	strategy   schema.ErrorStrategy
	retries    int
	retryDelay time.Duration
}

// runLoop is the built-in handler body for loop steps.
func (e *Engine) runLoop(ctx context.Context, ec *ExecutionContext, step schema.Step) error {
	cfg := step.Loop
	if cfg == nil {
		return Errorf(CodeInvalidLoop, step.ID, "loop step carries no loop configuration")
	}
	lc := &loopController{eng: e, ec: ec, step: step, cfg: cfg, strategy: schema.ErrorStop}

	var err error
	if lc.timeout, err = parseLoopDuration(step.ID, "timeout", cfg.Timeout); err != nil {
		return err
	}
	if lc.iterTimeout, err = parseLoopDuration(step.ID, "iteration_timeout", cfg.IterationTimeout); err != nil {
		return err
	}
	if lc.pageDelay, err = parseLoopDuration(step.ID, "page_delay", cfg.PageDelay); err != nil {
		return err
	}
	if cfg.OnError != nil {
		if cfg.OnError.Strategy != "" {
			lc.strategy = cfg.OnError.Strategy
		}
		lc.retries = cfg.OnError.Retries
		if lc.retryDelay, err = parseLoopDuration(step.ID, "retry_delay", cfg.OnError.RetryDelay); err != nil {
			return err
		}
	}
	return lc.run(ctx)
}

func parseLoopDuration(stepID, field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, Errorf(CodeInvalidLoop, stepID, "invalid %s %q: %v", field, raw, err)
	}
	return d, nil
}

func (lc *loopController) run(ctx context.Context) error {
	lc.started = time.Now()
	lc.state = loopIterating
	lc.eng.logger.Debug("loop start", "run_id", lc.eng.runID, "step", lc.step.ID, "kind", lc.cfg.Kind)

	var err error
	switch lc.cfg.Kind {
	case schema.LoopList:
		var items []any
		if items, err = lc.resolveItems(); err == nil {
			err = lc.runItems(ctx, items)
		}
	case schema.LoopRange:
		var items []any
		if items, err = lc.expandRange(); err == nil {
			err = lc.runItems(ctx, items)
		}
	case schema.LoopWhile:
		err = lc.runWhile(ctx)
	case schema.LoopPages:
		err = lc.runPages(ctx)
	default:
		err = Errorf(CodeInvalidLoop, lc.step.ID, "unknown loop kind %q", lc.cfg.Kind)
	}

	if err != nil {
		lc.state = loopFaulted
	} else if lc.state != loopAborted {
		lc.state = loopCompleted
	}
	lc.eng.logger.Debug("loop done", "run_id", lc.eng.runID, "step", lc.step.ID, "state", lc.state.String())
	return err
}

// guard runs the iteration-boundary checks in their fixed order. A true
// halt with nil error is a silent stop (cancellation); timeout and max
// iteration overruns are faults.
func (lc *loopController) guard(ctx context.Context, iter int) (halt bool, err error) {
	if ctx.Err() != nil {
		lc.state = loopAborted
		return true, nil
	}
	if lc.timeout > 0 && time.Since(lc.started) > lc.timeout {
		return true, Errorf(CodeLoopTimeout, lc.step.ID, "loop exceeded timeout %s", lc.timeout)
	}
	if lc.cfg.MaxIterations > 0 && iter >= lc.cfg.MaxIterations {
		return true, Errorf(CodeMaxIterations, lc.step.ID, "loop reached max iterations %d", lc.cfg.MaxIterations)
	}
	return false, nil
}

// runItems drives list and range loops over a fully materialized sequence.
// Exhaustion is checked before the guards so a list of exactly
// max_iterations items completes cleanly.
func (lc *loopController) runItems(ctx context.Context, items []any) error {
	total := len(items)
	for i := 0; i < len(items); i++ {
		if halt, err := lc.guard(ctx, i); halt || err != nil {
			return err
		}
		vars := lc.frame(items[i], true, i, &total, 0)
		stop, err := lc.iteration(ctx, vars)
		if stop || err != nil {
			return err
		}
	}
	return nil
}

// runWhile re-evaluates the loop condition before every iteration, after
// the guards, against the state the previous iteration left behind.
func (lc *loopController) runWhile(ctx context.Context) error {
	for i := 0; ; i++ {
		if halt, err := lc.guard(ctx, i); halt || err != nil {
			return err
		}
		ok, err := lc.evalLoopCondition(lc.cfg.While, lc.cfg.WhileExpr)
		if err != nil {
			return WrapError(CodeCondition, lc.step.ID, err)
		}
		if !ok {
			return nil
		}
		vars := lc.frame(nil, false, i, nil, 0)
		stop, err := lc.iteration(ctx, vars)
		if stop || err != nil {
			return err
		}
	}
}

// runPages runs the body, advances the page counter, then asks has_next
// with the advanced page number visible. Pages start at 1. The optional
// inter-page delay observes cancellation.
func (lc *loopController) runPages(ctx context.Context) error {
	page := 1
	for i := 0; ; i++ {
		if halt, err := lc.guard(ctx, i); halt || err != nil {
			return err
		}
		vars := lc.frame(nil, false, i, nil, page)
		stop, err := lc.iteration(ctx, vars)
		if stop || err != nil {
			return err
		}

		page++
		lc.ec.Scopes.Push(scope.Frame{lc.pageVar(): page})
		ok, err := lc.evalLoopCondition(lc.cfg.HasNext, lc.cfg.HasNextExpr)
		lc.ec.Scopes.Pop()
		if err != nil {
			return WrapError(CodeCondition, lc.step.ID, err)
		}
		if !ok {
			return nil
		}

		if lc.pageDelay > 0 {
			select {
			case <-ctx.Done():
				lc.state = loopAborted
				return nil
			case <-time.After(lc.pageDelay):
			}
		}
	}
}

// iteration runs one body pass inside a fresh scope frame and loop
// context. It returns stop=true when the loop must terminate early
// (break) and a non-nil error for faults the error strategy did not
// absorb.
func (lc *loopController) iteration(ctx context.Context, vars scope.Frame) (stop bool, err error) {
	loopCtx := childLoopContext(lc.ec.Loop, vars)
	iterEC := lc.ec.withLoop(loopCtx)

	lc.ec.Scopes.Push(vars)
	defer lc.ec.Scopes.Pop()

	out, err := lc.attempt(ctx, iterEC)
	if err != nil {
		if lc.strategy == schema.ErrorContinue {
			lc.eng.logger.Warn("iteration failed, continuing",
				"run_id", lc.eng.runID, "step", lc.step.ID, "error", err)
			return false, nil
		}
		return true, err
	}
	if out == OutcomeBreak || loopCtx.BreakRequested {
		return true, nil
	}
	return false, nil
}

// attempt runs the body once, or under the retry strategy up to
// 1+retries times with a constant delay between attempts. Retry respects
// cancellation between attempts.
func (lc *loopController) attempt(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	if lc.strategy != schema.ErrorRetry || lc.retries <= 0 {
		return lc.runBody(ctx, ec)
	}

	var out Outcome
	operation := func() error {
		o, err := lc.runBody(ctx, ec)
		if err != nil {
			if isConfigError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = o
		return nil
	}

	var policy backoff.BackOff
	if lc.retryDelay > 0 {
		policy = backoff.NewConstantBackOff(lc.retryDelay)
	} else {
		policy = &backoff.ZeroBackOff{}
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(lc.retries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return OutcomeProceed, err
	}
	return out, nil
}

// isConfigError reports whether an error is a configuration fault. Those
// are deterministic and never worth retrying.
func isConfigError(err error) bool {
	return IsCode(err, CodeInvalidLoop) ||
		IsCode(err, CodeUnregisteredKind) ||
		IsCode(err, CodeBreakOutsideLoop) ||
		IsCode(err, CodeContinueOutsideLoop)
}

// runBody runs the body chain, bounding it with the per-iteration timeout
// when one is configured. A body that the deadline cut short, or that ran
// past it, faults with the iteration timeout code unless the whole run
// was cancelled.
func (lc *loopController) runBody(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	bodyCtx := ctx
	if lc.iterTimeout > 0 {
		var cancel context.CancelFunc
		bodyCtx, cancel = context.WithTimeout(ctx, lc.iterTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := lc.eng.runChain(bodyCtx, ec, lc.cfg.Steps)
	if err != nil {
		return out, err
	}
	if lc.iterTimeout > 0 && ctx.Err() == nil {
		if bodyCtx.Err() != nil || time.Since(start) > lc.iterTimeout {
			return OutcomeProceed, Errorf(CodeIterationTimeout, lc.step.ID,
				"iteration exceeded timeout %s", lc.iterTimeout)
		}
	}
	return out, nil
}

// evalLoopCondition evaluates a while/has_next condition: the expression
// string when present, otherwise the structured tree. Validation ensures
// at least one form exists.
func (lc *loopController) evalLoopCondition(node *schema.Condition, code string) (bool, error) {
	if code != "" {
		return condition.EvalExpr(code, lc.ec.Env())
	}
	if node != nil {
		return condition.Match(node, lc.ec.ResolveProperty, lc.ec.ResolveValue)
	}
	return false, nil
}

// resolveItems materializes the sequence of a list loop from the literal
// items or by evaluating the source expression against the run state.
func (lc *loopController) resolveItems() ([]any, error) {
	if len(lc.cfg.Items) > 0 {
		return lc.cfg.Items, nil
	}
	if lc.cfg.Source != "" {
		v, err := condition.EvalValue(lc.cfg.Source, lc.ec.Env())
		if err != nil {
			return nil, WrapError(CodeInvalidLoop, lc.step.ID, err)
		}
		items, err := coerceItems(v)
		if err != nil {
			return nil, Errorf(CodeInvalidLoop, lc.step.ID, "source %q: %v", lc.cfg.Source, err)
		}
		return items, nil
	}
	return nil, Errorf(CodeInvalidLoop, lc.step.ID, "list loop requires items or source")
}

// coerceItems turns an evaluated source value into an iterable slice.
// Strings split on commas with trimming; scalars are not iterable.
func coerceItems(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case string:
		parts := strings.Split(t, ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	}
	return nil, fmt.Errorf("value of type %T is not iterable", v)
}

// expandRange materializes a numeric range, inclusive of both bounds.
// Direction follows the bounds; the step magnitude applies either way. A
// missing step defaults to 1; an explicit zero step is a configuration
// fault.
func (lc *loopController) expandRange() ([]any, error) {
	step := 1
	if lc.cfg.Step != nil {
		step = *lc.cfg.Step
	}
	if step == 0 {
		return nil, Errorf(CodeInvalidLoop, lc.step.ID, "range step must not be zero")
	}
	if step < 0 {
		step = -step
	}
	var items []any
	if lc.cfg.Start <= lc.cfg.End {
		for v := lc.cfg.Start; v <= lc.cfg.End; v += step {
			items = append(items, v)
		}
	} else {
		for v := lc.cfg.Start; v >= lc.cfg.End; v -= step {
			items = append(items, v)
		}
	}
	return items, nil
}

// frame builds the per-iteration variable frame under the configured or
// default names.
func (lc *loopController) frame(item any, hasItem bool, idx int, total *int, page int) scope.Frame {
	f := scope.Frame{}
	if hasItem {
		f[nameOr(lc.cfg.As, "item")] = item
	}
	f[nameOr(lc.cfg.IndexAs, "index")] = idx
	f[nameOr(lc.cfg.IterationAs, "iteration")] = idx + 1
	if total != nil {
		f[nameOr(lc.cfg.TotalAs, "total")] = *total
	}
	if page > 0 {
		f[lc.pageVar()] = page
	}
	return f
}

func (lc *loopController) pageVar() string {
	return nameOr(lc.cfg.PageAs, "page")
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
