// Package scope implements the stack of named-value frames that gives loop
// bodies access to per-iteration values, with innermost-wins lookup.
package scope

// Frame is one set of named values, typically the variables of a single
// loop iteration.
type Frame map[string]any

// Stack is a stack of frames searched from most-recently-pushed to oldest.
// It is shared, single-strand state within one run and must be popped
// exactly once for every push, including on error paths. It is not safe
// for concurrent use.
type Stack struct {
	frames []Frame
}

// New returns an empty stack.
func New() *Stack {
	return &Stack{}
}

// Push adds a frame on top of the stack.
func (s *Stack) Push(f Frame) {
	s.frames = append(s.frames, f)
}

// Pop removes and returns the top frame. The second return value is false
// when the stack is empty.
func (s *Stack) Pop() (Frame, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

// Value searches frames from innermost to outermost and returns the first
// binding for name.
func (s *Stack) Value(name string) (any, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// IsEmpty reports whether no frames are pushed.
func (s *Stack) IsEmpty() bool {
	return len(s.frames) == 0
}

// Depth returns the number of pushed frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Flatten overlays all frames oldest-to-newest into a single map, so that
// innermost bindings win. Used to build expression environments.
func (s *Stack) Flatten(into map[string]any) map[string]any {
	if into == nil {
		into = make(map[string]any)
	}
	for _, f := range s.frames {
		for k, v := range f {
			into[k] = v
		}
	}
	return into
}
