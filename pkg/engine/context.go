package engine

import (
	"log/slog"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
	"github.com/ItsDalk-Lane/formflow/pkg/scope"
)

// RunState is the mutable state of one workflow run: two keyed maps, one
// addressed by stable field identity and one by user-facing variable name.
// It is owned by the run's caller for the duration of the run; steps read
// and write it in place.
type RunState struct {
	Fields map[string]any `json:"fields"`
	Vars   map[string]any `json:"vars"`
}

// NewRunState returns an empty run state.
func NewRunState() *RunState {
	return &RunState{
		Fields: make(map[string]any),
		Vars:   make(map[string]any),
	}
}

// LoopContext carries the control-flow metadata of one loop iteration.
// Instances form a singly linked stack via Parent; Depth increases by one
// per nesting level. Parent is a non-owning back-reference that lets an
// inner loop know it is nested; it is never used to mutate an ancestor.
type LoopContext struct {
	Variables         scope.Frame
	Depth             int
	CanBreak          bool
	CanContinue       bool
	BreakRequested    bool
	ContinueRequested bool
	Parent            *LoopContext
}

// childLoopContext creates the loop context of a nested iteration.
func childLoopContext(parent *LoopContext, vars scope.Frame) *LoopContext {
	depth := 1
	if parent != nil {
		depth = parent.Depth + 1
	}
	return &LoopContext{
		Variables:   vars,
		Depth:       depth,
		CanBreak:    true,
		CanContinue: true,
		Parent:      parent,
	}
}

// ExecutionContext is the bundle threaded by reference through a whole
// run: run state, workflow definition, scope stack, optional loop context
// and the opaque host handle. Cancellation travels on the context.Context
// passed to Run and the step handlers, readable but never settable by the
// engine.
type ExecutionContext struct {
	RunID  string
	Flow   *schema.Flow
	State  *RunState
	Scopes *scope.Stack
	Loop   *LoopContext

	// Host is the opaque collaborator handle (file storage, prompts,
	// outbound calls). The engine threads it through to handlers and
	// never inspects it.
	Host any

	Logger *slog.Logger
}

// withLoop returns a shallow copy bound to the given loop context. State,
// scope stack and host are shared with the parent.
func (ec *ExecutionContext) withLoop(lc *LoopContext) *ExecutionContext {
	child := *ec
	child.Loop = lc
	return &child
}

// ResolveProperty resolves a property reference: loop scope first
// (innermost frame wins), then run state variables, then fields.
func (ec *ExecutionContext) ResolveProperty(name string) (any, bool) {
	if v, ok := ec.Scopes.Value(name); ok {
		return v, true
	}
	if v, ok := ec.State.Vars[name]; ok {
		return v, true
	}
	if v, ok := ec.State.Fields[name]; ok {
		return v, true
	}
	return nil, false
}

// ResolveValue resolves a literal comparison value: a string that names a
// loop-scope binding is substituted with that binding, anything else
// passes through unchanged.
func (ec *ExecutionContext) ResolveValue(raw any) any {
	if name, ok := raw.(string); ok {
		if v, ok := ec.Scopes.Value(name); ok {
			return v
		}
	}
	return raw
}

// Env merges fields, variables and scope frames (innermost wins) into a
// single map for expression evaluation.
func (ec *ExecutionContext) Env() map[string]any {
	env := make(map[string]any, len(ec.State.Fields)+len(ec.State.Vars))
	for k, v := range ec.State.Fields {
		env[k] = v
	}
	for k, v := range ec.State.Vars {
		env[k] = v
	}
	return ec.Scopes.Flatten(env)
}
