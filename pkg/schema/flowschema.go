// Package schema defines the Go struct types for the formflow workflow
// YAML schema and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Flow is the top-level document defining a workflow: an ordered list of
// typed steps executed sequentially with conditions and loops.
type Flow struct {
	APIVersion  string         `yaml:"apiVersion"            json:"apiVersion" jsonschema:"required,enum=flow/v1"`
	Name        string         `yaml:"name"                  json:"name"       jsonschema:"required"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]any `yaml:"vars,omitempty"        json:"vars,omitempty"`
	Defaults    *Defaults      `yaml:"defaults,omitempty"    json:"defaults,omitempty"`
	Steps       []Step         `yaml:"steps"                 json:"steps"      jsonschema:"required"`
}

// Defaults specifies default execution settings applied to all steps.
type Defaults struct {
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
}

// StepKind is the discriminant that selects the handler for a step.
type StepKind string

// Built-in step kinds. External handlers may register any other kind.
const (
	KindLoop     StepKind = "loop"
	KindSet      StepKind = "set"
	KindOutput   StepKind = "output"
	KindWait     StepKind = "wait"
	KindBreak    StepKind = "break"
	KindContinue StepKind = "continue"
)

// Step is one configured unit of work. Steps are defined at authoring time
// and never mutated during execution; the engine dispatches on Kind.
type Step struct {
	ID        string         `yaml:"id"                  json:"id"   jsonschema:"required"`
	Kind      StepKind       `yaml:"kind"                json:"kind" jsonschema:"required"`
	Title     string         `yaml:"title,omitempty"     json:"title,omitempty"`
	Condition *Condition     `yaml:"condition,omitempty" json:"condition,omitempty"`
	When      string         `yaml:"when,omitempty"      json:"when,omitempty"`
	Loop      *Loop          `yaml:"loop,omitempty"      json:"loop,omitempty"`
	With      map[string]any `yaml:"with,omitempty"      json:"with,omitempty"`
	Timeout   string         `yaml:"timeout,omitempty"   json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
}

// GroupOperator combines the children of a condition group.
type GroupOperator string

const (
	GroupAnd GroupOperator = "and"
	GroupOr  GroupOperator = "or"
)

// CompareOp is the comparison applied by a condition leaf.
type CompareOp string

const (
	OpEq          CompareOp = "eq"
	OpNeq         CompareOp = "neq"
	OpGt          CompareOp = "gt"
	OpGte         CompareOp = "gte"
	OpLt          CompareOp = "lt"
	OpLte         CompareOp = "lte"
	OpHasValue    CompareOp = "has_value"
	OpNoValue     CompareOp = "no_value"
	OpIn          CompareOp = "in"
	OpNotIn       CompareOp = "not_in"
	OpContainsAny CompareOp = "contains_any"
	OpLengthEq    CompareOp = "length_eq"
	OpLengthGt    CompareOp = "length_gt"
	OpLengthLt    CompareOp = "length_lt"
	OpMatches     CompareOp = "matches"
	OpBefore      CompareOp = "before"
	OpAfter       CompareOp = "after"
)

// FieldType selects the type-specific reader used to normalize both sides
// of a leaf comparison before the operator is applied.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeList    FieldType = "list"
	TypeDate    FieldType = "date"
)

// Condition is a node in a boolean expression tree: either a group
// (Operator + Children) or a leaf (Property + Op + Value). An empty group
// always matches, and a leaf with no property or no operator always
// matches — the permissive default is part of the contract.
type Condition struct {
	Operator GroupOperator `yaml:"operator,omitempty" json:"operator,omitempty" jsonschema:"enum=and,enum=or"`
	Children []*Condition  `yaml:"children,omitempty" json:"children,omitempty"`

	Property  string    `yaml:"property,omitempty"  json:"property,omitempty"`
	Op        CompareOp `yaml:"op,omitempty"        json:"op,omitempty"`
	Value     any       `yaml:"value,omitempty"     json:"value,omitempty"`
	Type      FieldType `yaml:"type,omitempty"      json:"type,omitempty" jsonschema:"enum=text,enum=number,enum=boolean,enum=list,enum=date"`
	Inclusive bool      `yaml:"inclusive,omitempty" json:"inclusive,omitempty"`
}

// IsGroup reports whether the node is a group rather than a leaf.
func (c *Condition) IsGroup() bool {
	return c != nil && (c.Operator != "" || len(c.Children) > 0)
}

// LoopKind selects the iteration source of a loop step.
type LoopKind string

const (
	LoopList  LoopKind = "list"
	LoopRange LoopKind = "range"
	LoopWhile LoopKind = "while"
	LoopPages LoopKind = "pages"
)

// ErrorStrategy is the per-loop policy applied when an iteration body fails.
type ErrorStrategy string

const (
	ErrorStop     ErrorStrategy = "stop"
	ErrorContinue ErrorStrategy = "continue"
	ErrorRetry    ErrorStrategy = "retry"
)

// ErrorPolicy configures the iteration error strategy for a loop.
type ErrorPolicy struct {
	Strategy   ErrorStrategy `yaml:"strategy,omitempty"    json:"strategy,omitempty" jsonschema:"enum=stop,enum=continue,enum=retry"`
	Retries    int           `yaml:"retries,omitempty"     json:"retries,omitempty"`
	RetryDelay string        `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
}

// Loop configures a loop step: the iteration source, per-iteration variable
// names, guard limits and the error policy. Steps is the loop body,
// executed once per iteration inside a fresh scope frame.
type Loop struct {
	Kind LoopKind `yaml:"kind" json:"kind" jsonschema:"required,enum=list,enum=range,enum=while,enum=pages"`

	// list
	Items  []any  `yaml:"items,omitempty"  json:"items,omitempty"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// range (Step nil means 1; an explicit 0 is a configuration error)
	Start int  `yaml:"start,omitempty" json:"start,omitempty"`
	End   int  `yaml:"end,omitempty"   json:"end,omitempty"`
	Step  *int `yaml:"step,omitempty"  json:"step,omitempty"`

	// while
	While     *Condition `yaml:"while,omitempty"      json:"while,omitempty"`
	WhileExpr string     `yaml:"while_expr,omitempty" json:"while_expr,omitempty"`

	// pages
	HasNext     *Condition `yaml:"has_next,omitempty"      json:"has_next,omitempty"`
	HasNextExpr string     `yaml:"has_next_expr,omitempty" json:"has_next_expr,omitempty"`
	PageDelay   string     `yaml:"page_delay,omitempty"    json:"page_delay,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`

	// per-iteration variable names (defaults: item/index/iteration/total/page)
	As          string `yaml:"as,omitempty"           json:"as,omitempty"`
	IndexAs     string `yaml:"index_as,omitempty"     json:"index_as,omitempty"`
	IterationAs string `yaml:"iteration_as,omitempty" json:"iteration_as,omitempty"`
	TotalAs     string `yaml:"total_as,omitempty"     json:"total_as,omitempty"`
	PageAs      string `yaml:"page_as,omitempty"      json:"page_as,omitempty"`

	// guards
	MaxIterations    int    `yaml:"max_iterations,omitempty"    json:"max_iterations,omitempty"`
	Timeout          string `yaml:"timeout,omitempty"           json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
	IterationTimeout string `yaml:"iteration_timeout,omitempty" json:"iteration_timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`

	OnError *ErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	Steps []Step `yaml:"steps" json:"steps" jsonschema:"required"`
}

// WalkSteps visits every step in the list depth-first, including loop
// bodies. Used by validation passes that must see all reachable steps.
func WalkSteps(steps []Step, fn func(*Step)) {
	for i := range steps {
		fn(&steps[i])
		if steps[i].Loop != nil {
			WalkSteps(steps[i].Loop.Steps, fn)
		}
	}
}

// LoadFile reads and parses a flow YAML file with strict unknown-field
// rejection. Returns the parsed Flow or an error.
func LoadFile(path string) (*Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flow: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a flow from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Flow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fl Flow
	if err := dec.Decode(&fl); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &fl, nil
}
