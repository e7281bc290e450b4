package engine

import (
	"context"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// Handler executes all steps of one kind. Handlers are registered by the
// host; the engine has no compiled-in knowledge of concrete step kinds
// beyond the built-in loop controller.
type Handler interface {
	// Kind returns the step discriminant this handler accepts.
	Kind() schema.StepKind
	// Run executes the step. Blocking work must observe ctx and unwind
	// promptly once it is cancelled.
	Run(ctx context.Context, step schema.Step, ec *ExecutionContext) (Outcome, error)
}

// HandlerFor adapts a function to a Handler for the given kind.
func HandlerFor(kind schema.StepKind, fn func(ctx context.Context, step schema.Step, ec *ExecutionContext) (Outcome, error)) Handler {
	return funcHandler{kind: kind, fn: fn}
}

type funcHandler struct {
	kind schema.StepKind
	fn   func(ctx context.Context, step schema.Step, ec *ExecutionContext) (Outcome, error)
}

func (h funcHandler) Kind() schema.StepKind { return h.kind }

func (h funcHandler) Run(ctx context.Context, step schema.Step, ec *ExecutionContext) (Outcome, error) {
	return h.fn(ctx, step, ec)
}

// Registry maps step kinds to handlers. Lookup is O(1) by kind;
// registration order is preserved so validation reports are deterministic.
type Registry struct {
	handlers map[schema.StepKind]Handler
	order    []schema.StepKind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[schema.StepKind]Handler)}
}

// Register adds a handler. Registering a second handler for the same kind
// is a configuration error.
func (r *Registry) Register(h Handler) error {
	kind := h.Kind()
	if _, exists := r.handlers[kind]; exists {
		return Errorf(CodeUnregisteredKind, "", "handler for kind %q already registered", kind)
	}
	r.handlers[kind] = h
	r.order = append(r.order, kind)
	return nil
}

// Lookup returns the handler for a kind.
func (r *Registry) Lookup(kind schema.StepKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []schema.StepKind {
	out := make([]schema.StepKind, len(r.order))
	copy(out, r.order)
	return out
}
