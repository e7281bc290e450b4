// Package condition evaluates boolean expression trees (AND/OR groups of
// type-aware leaf comparisons) against caller-supplied value resolvers.
//
// The evaluator is deliberately permissive: a nil node, an empty group and
// a leaf with a missing property or missing operator all match. This
// mirrors the authoring-time contract of the workflow format and is part
// of the documented behavior, not a gap to tighten.
package condition

import (
	"fmt"
	"regexp"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// PropertyResolver resolves a property reference to its current value.
// The engine's resolver checks loop scope first, then run state.
type PropertyResolver func(name string) (any, bool)

// ValueResolver resolves a literal comparison value, giving loop-scope
// bindings a chance to substitute the literal.
type ValueResolver func(raw any) any

// Match evaluates a condition tree. Group nodes combine children with
// and/or; leaf nodes resolve the property and comparison value, normalize
// both through the reader for the leaf's declared field type, and apply
// the operator.
func Match(node *schema.Condition, resolveProp PropertyResolver, resolveVal ValueResolver) (bool, error) {
	if node == nil {
		return true, nil
	}
	if node.IsGroup() {
		return matchGroup(node, resolveProp, resolveVal)
	}
	return matchLeaf(node, resolveProp, resolveVal)
}

func matchGroup(node *schema.Condition, resolveProp PropertyResolver, resolveVal ValueResolver) (bool, error) {
	if len(node.Children) == 0 {
		return true, nil
	}
	switch node.Operator {
	case schema.GroupOr:
		for _, child := range node.Children {
			ok, err := Match(child, resolveProp, resolveVal)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case schema.GroupAnd, "":
		// A group without an explicit operator combines conjunctively.
		for _, child := range node.Children {
			ok, err := Match(child, resolveProp, resolveVal)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown group operator %q", node.Operator)
	}
}

func matchLeaf(node *schema.Condition, resolveProp PropertyResolver, resolveVal ValueResolver) (bool, error) {
	// Permissive pass: leaves with no property or no operator match.
	if node.Property == "" || node.Op == "" {
		return true, nil
	}

	value, present := resolveProp(node.Property)

	switch node.Op {
	case schema.OpHasValue:
		return present && !isEmpty(value), nil
	case schema.OpNoValue:
		return !present || isEmpty(value), nil
	}

	cmp := node.Value
	if resolveVal != nil {
		cmp = resolveVal(cmp)
	}

	switch node.Op {
	case schema.OpEq, schema.OpNeq:
		eq := typedEquals(value, cmp, node.Type)
		if node.Op == schema.OpNeq {
			return !eq, nil
		}
		return eq, nil

	case schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		return compareNumeric(value, cmp, node.Op), nil

	case schema.OpIn:
		return listContains(toList(cmp), value), nil
	case schema.OpNotIn:
		return !listContains(toList(cmp), value), nil
	case schema.OpContainsAny:
		return listIntersects(toList(value), toList(cmp)), nil

	case schema.OpLengthEq, schema.OpLengthGt, schema.OpLengthLt:
		return compareLength(toList(value), cmp, node.Op), nil

	case schema.OpMatches:
		pattern := toText(cmp)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("compile pattern %q for property %q: %w", pattern, node.Property, err)
		}
		return re.MatchString(toText(value)), nil

	case schema.OpBefore, schema.OpAfter:
		return compareDates(value, cmp, node.Op, node.Inclusive), nil

	default:
		return false, fmt.Errorf("unknown comparison operator %q", node.Op)
	}
}
