package engine

// Outcome is the control-flow result of a step or chain. Break and
// Continue are ordinary return values, not errors: they travel up the
// call stack until the nearest enclosing loop converts them into a
// control decision. Genuine failures use the error return instead.
type Outcome int

const (
	// OutcomeProceed continues with the next step.
	OutcomeProceed Outcome = iota
	// OutcomeBreak terminates the nearest enclosing loop.
	OutcomeBreak
	// OutcomeContinue ends the current iteration and proceeds to the
	// next guard check.
	OutcomeContinue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBreak:
		return "break"
	case OutcomeContinue:
		return "continue"
	default:
		return "proceed"
	}
}
