// Package engine executes workflow definitions: a sequential chain walk
// with per-step conditions, pluggable handler dispatch, four loop kinds
// with guard limits and error strategies, and optional background
// detachment at the root chain.
package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
	"github.com/ItsDalk-Lane/formflow/pkg/scope"
)

// backgroundState tracks the per-run detachment flag: which step kind
// detaches, whether a detachment already happened, and the channel that
// delivers failures from the detached tail.
type backgroundState struct {
	kind     schema.StepKind
	consumed bool
	failures chan error
}

// Engine runs one flow. An Engine is built per run; it is not safe for
// concurrent Run calls.
type Engine struct {
	flow     *schema.Flow
	registry *Registry
	loop     Handler
	logger   *slog.Logger
	host     any
	trace    *TraceWriter

	runID   string
	state   *RunState
	summary Summary
	bg      *backgroundState
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHost sets the opaque host handle passed through to handlers.
func WithHost(host any) Option {
	return func(e *Engine) { e.host = host }
}

// WithVars seeds named run-state variables before the flow's own vars.
func WithVars(vars map[string]any) Option {
	return func(e *Engine) {
		for k, v := range vars {
			e.state.Vars[k] = v
		}
	}
}

// WithFields seeds run-state fields addressed by stable identity.
func WithFields(fields map[string]any) Option {
	return func(e *Engine) {
		for k, v := range fields {
			e.state.Fields[k] = v
		}
	}
}

// WithTrace attaches a JSONL trace writer. The engine does not close it.
func WithTrace(tw *TraceWriter) Option {
	return func(e *Engine) { e.trace = tw }
}

// WithBackground enables background detachment: the first root-chain step
// of the given kind, once its condition passes, moves itself and every
// step after it to a goroutine while the caller is signalled complete.
// Failures from the detached tail arrive on Failures().
func WithBackground(kind schema.StepKind) Option {
	return func(e *Engine) {
		e.bg = &backgroundState{kind: kind, failures: make(chan error, 1)}
	}
}

// New builds an engine for one run of the given flow. Flow-level vars are
// copied into the run state first so options can override them. The loop
// handler is built in and bound to this engine, never written into the
// registry, so a host can build one registry and share it across runs;
// any other kind the flow uses must be registered before Run.
func New(fl *schema.Flow, reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		flow:     fl,
		registry: reg,
		logger:   slog.Default(),
		runID:    uuid.NewString(),
		state:    NewRunState(),
	}
	e.loop = HandlerFor(schema.KindLoop, func(ctx context.Context, step schema.Step, ec *ExecutionContext) (Outcome, error) {
		return OutcomeProceed, e.runLoop(ctx, ec, step)
	})
	for k, v := range fl.Vars {
		e.state.Vars[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// handlerFor resolves the handler for a step kind: the registry first, so
// a host may override the loop handler, then the engine's own loop
// controller.
func (e *Engine) handlerFor(kind schema.StepKind) (Handler, bool) {
	if h, ok := e.registry.Lookup(kind); ok {
		return h, true
	}
	if kind == schema.KindLoop {
		return e.loop, true
	}
	return nil, false
}

// validateKinds walks every step of the flow, including loop bodies, and
// fails fast if any step kind has no handler.
func (e *Engine) validateKinds() error {
	var bad error
	schema.WalkSteps(e.flow.Steps, func(step *schema.Step) {
		if bad != nil {
			return
		}
		if _, ok := e.handlerFor(step.Kind); !ok {
			bad = Errorf(CodeUnregisteredKind, step.ID, "no handler registered for kind %q", step.Kind)
		}
	})
	return bad
}

// RunID returns the identifier attached to every trace event of this run.
func (e *Engine) RunID() string { return e.runID }

// State returns the mutable run state.
func (e *Engine) State() *RunState { return e.state }

// Summary returns the step result counts accumulated so far.
func (e *Engine) Summary() Summary { return e.summary }

// Failures returns the channel carrying errors from a detached background
// tail, closed when the tail finishes. Nil when detachment is not enabled.
func (e *Engine) Failures() <-chan error {
	if e.bg == nil {
		return nil
	}
	return e.bg.failures
}

// Run executes the flow's root chain. Every step kind is checked against
// the registry before anything runs, so a flow naming an unregistered
// kind fails fast with zero side effects. A cancelled context stops the
// chain silently; errors carry FlowError codes.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		// If no step detached, the failures channel has no owner; close it
		// so callers awaiting background completion do not hang.
		if e.bg != nil && !e.bg.consumed {
			close(e.bg.failures)
		}
	}()

	if err := e.validateKinds(); err != nil {
		return err
	}

	ec := &ExecutionContext{
		RunID:  e.runID,
		Flow:   e.flow,
		State:  e.state,
		Scopes: scope.New(),
		Host:   e.host,
		Logger: e.logger,
	}

	e.logger.Info("run start", "run_id", e.runID, "flow", e.flow.Name)
	out, err := e.runChain(ctx, ec, e.flow.Steps)
	if err == nil && out != OutcomeProceed {
		// runChain converts these at the root already; this covers handlers
		// returning outcomes without going through a chain.
		err = outcomeMisuseError("", out)
	}
	if err != nil {
		e.logger.Error("run failed", "run_id", e.runID, "error", err)
		return err
	}
	e.logger.Info("run done", "run_id", e.runID,
		"total", e.summary.Total, "passed", e.summary.Passed,
		"failed", e.summary.Failed, "skipped", e.summary.Skipped)
	return nil
}
