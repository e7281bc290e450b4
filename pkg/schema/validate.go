package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].loop")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a flow file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Flow, []*ValidationError) {
	fl, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return fl, Validate(fl)
}

// Validate runs the semantic and domain phases on an already-decoded flow.
func Validate(fl *Flow) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(fl)...)
	all = append(all, ValidateDomain(fl)...)
	return all
}

// validateSemantic validates the flow against the generated JSON Schema.
func validateSemantic(fl *Flow) []*ValidationError {
	semErr := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
	}

	data, err := json.Marshal(fl)
	if err != nil {
		return semErr(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semErr(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semErr(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("flow-v1.json", schemaDoc); err != nil {
		return semErr(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("flow-v1.json")
	if err != nil {
		return semErr(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return semErr(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(fl *Flow) []*ValidationError {
	var errs []*ValidationError

	if fl.APIVersion != "flow/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", fl.APIVersion, "flow/v1"),
			Severity: "error",
		})
	}

	if fl.Defaults != nil && fl.Defaults.Timeout != "" {
		errs = append(errs, checkDuration("defaults.timeout", fl.Defaults.Timeout)...)
	}

	seen := make(map[string]bool)
	var walk func(prefix string, steps []Step)
	walk = func(prefix string, steps []Step) {
		for i := range steps {
			step := &steps[i]
			path := fmt.Sprintf("%s[%d]", prefix, i)

			if step.ID == "" {
				errs = append(errs, domainErr(path+".id", "step id is required"))
			} else if seen[step.ID] {
				errs = append(errs, domainErr(path+".id", fmt.Sprintf("duplicate step id %q", step.ID)))
			} else {
				seen[step.ID] = true
			}

			if step.Kind == "" {
				errs = append(errs, domainErr(path+".kind", "step kind is required"))
			}
			if step.Timeout != "" {
				errs = append(errs, checkDuration(path+".timeout", step.Timeout)...)
			}

			errs = append(errs, validateCondition(path+".condition", step.Condition)...)

			if step.Kind == KindLoop && step.Loop == nil {
				errs = append(errs, domainErr(path+".loop", "loop step requires a loop configuration"))
			}
			if step.Kind != KindLoop && step.Loop != nil {
				errs = append(errs, domainErr(path+".loop", fmt.Sprintf("loop configuration is only valid on kind %q", KindLoop)))
			}
			if step.Loop != nil {
				errs = append(errs, validateLoop(path+".loop", step.Loop)...)
				walk(path+".loop.steps", step.Loop.Steps)
			}
		}
	}
	walk("steps", fl.Steps)

	return errs
}

func validateLoop(path string, lp *Loop) []*ValidationError {
	var errs []*ValidationError

	switch lp.Kind {
	case LoopList:
		if len(lp.Items) == 0 && lp.Source == "" {
			errs = append(errs, domainErr(path, "list loop requires items or source"))
		}
	case LoopRange:
		if lp.Step != nil && *lp.Step == 0 {
			errs = append(errs, domainErr(path+".step", "range step must not be zero"))
		}
	case LoopWhile:
		if lp.While == nil && lp.WhileExpr == "" {
			errs = append(errs, domainErr(path, "while loop requires while or while_expr"))
		}
	case LoopPages:
		if lp.HasNext == nil && lp.HasNextExpr == "" {
			errs = append(errs, domainErr(path, "pages loop requires has_next or has_next_expr"))
		}
	default:
		errs = append(errs, domainErr(path+".kind", fmt.Sprintf("unknown loop kind %q", lp.Kind)))
	}

	if len(lp.Steps) == 0 {
		errs = append(errs, domainErr(path+".steps", "loop body must contain at least one step"))
	}
	if lp.MaxIterations < 0 {
		errs = append(errs, domainErr(path+".max_iterations", "max_iterations must not be negative"))
	}
	for field, val := range map[string]string{
		".timeout":           lp.Timeout,
		".iteration_timeout": lp.IterationTimeout,
		".page_delay":        lp.PageDelay,
	} {
		if val != "" {
			errs = append(errs, checkDuration(path+field, val)...)
		}
	}
	if lp.OnError != nil {
		switch lp.OnError.Strategy {
		case "", ErrorStop, ErrorContinue, ErrorRetry:
		default:
			errs = append(errs, domainErr(path+".on_error.strategy", fmt.Sprintf("unknown error strategy %q", lp.OnError.Strategy)))
		}
		if lp.OnError.Retries < 0 {
			errs = append(errs, domainErr(path+".on_error.retries", "retries must not be negative"))
		}
		if lp.OnError.RetryDelay != "" {
			errs = append(errs, checkDuration(path+".on_error.retry_delay", lp.OnError.RetryDelay)...)
		}
	}
	errs = append(errs, validateCondition(path+".while", lp.While)...)
	errs = append(errs, validateCondition(path+".has_next", lp.HasNext)...)

	return errs
}

func validateCondition(path string, c *Condition) []*ValidationError {
	if c == nil {
		return nil
	}
	var errs []*ValidationError
	if c.IsGroup() {
		switch c.Operator {
		case GroupAnd, GroupOr:
		case "":
			errs = append(errs, domainErr(path+".operator", "condition group requires operator and/or"))
		default:
			errs = append(errs, domainErr(path+".operator", fmt.Sprintf("unknown group operator %q", c.Operator)))
		}
		for i, child := range c.Children {
			errs = append(errs, validateCondition(fmt.Sprintf("%s.children[%d]", path, i), child)...)
		}
	}
	return errs
}

func checkDuration(path, val string) []*ValidationError {
	if _, err := time.ParseDuration(val); err != nil {
		return []*ValidationError{domainErr(path, fmt.Sprintf("invalid duration %q", val))}
	}
	return nil
}

func domainErr(path, msg string) *ValidationError {
	return &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "error"}
}
