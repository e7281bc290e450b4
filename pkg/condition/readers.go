package condition

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// Type-specific readers. Values arriving from YAML, host collaborators and
// loop scopes have loose types; each comparison normalizes both sides
// through the reader for the leaf's declared field type before the
// operator is applied. A value that cannot be coerced makes the leaf
// evaluate false rather than failing the run.

func toText(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func toNumber(v any) (float64, bool) {
	n, err := cast.ToFloat64E(v)
	return n, err == nil
}

func toBool(v any) (bool, bool) {
	b, err := cast.ToBoolE(v)
	return b, err == nil
}

// toList reads a value with list semantics: slices pass through element by
// element, a comma-separated string is split and trimmed, nil is empty,
// and any other scalar becomes a single-element list.
func toList(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, toText(item))
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		return []string{toText(v)}
	}
}

// dateLayouts are tried in order when reading date values.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func toDate(v any) (time.Time, bool) {
	switch vv := v.(type) {
	case time.Time:
		return vv, true
	case *time.Time:
		if vv == nil {
			return time.Time{}, false
		}
		return *vv, true
	}
	s := strings.TrimSpace(toText(v))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isEmpty(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(vv) == ""
	case []any:
		return len(vv) == 0
	case []string:
		return len(vv) == 0
	case map[string]any:
		return len(vv) == 0
	default:
		return false
	}
}

// typedEquals compares two values under the reader for the declared type.
func typedEquals(value, cmp any, ft schema.FieldType) bool {
	switch ft {
	case schema.TypeNumber:
		a, aok := toNumber(value)
		b, bok := toNumber(cmp)
		return aok && bok && a == b
	case schema.TypeBoolean:
		a, aok := toBool(value)
		b, bok := toBool(cmp)
		return aok && bok && a == b
	case schema.TypeList:
		a, b := toList(value), toList(cmp)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	case schema.TypeDate:
		a, aok := toDate(value)
		b, bok := toDate(cmp)
		return aok && bok && a.Equal(b)
	default:
		return toText(value) == toText(cmp)
	}
}

func compareNumeric(value, cmp any, op schema.CompareOp) bool {
	a, aok := toNumber(value)
	b, bok := toNumber(cmp)
	if !aok || !bok {
		return false
	}
	switch op {
	case schema.OpGt:
		return a > b
	case schema.OpGte:
		return a >= b
	case schema.OpLt:
		return a < b
	case schema.OpLte:
		return a <= b
	}
	return false
}

func compareLength(list []string, cmp any, op schema.CompareOp) bool {
	n, ok := toNumber(cmp)
	if !ok {
		return false
	}
	length := float64(len(list))
	switch op {
	case schema.OpLengthEq:
		return length == n
	case schema.OpLengthGt:
		return length > n
	case schema.OpLengthLt:
		return length < n
	}
	return false
}

func compareDates(value, cmp any, op schema.CompareOp, inclusive bool) bool {
	a, aok := toDate(value)
	b, bok := toDate(cmp)
	if !aok || !bok {
		return false
	}
	if inclusive && a.Equal(b) {
		return true
	}
	if op == schema.OpBefore {
		return a.Before(b)
	}
	return a.After(b)
}

func listContains(list []string, value any) bool {
	needle := toText(value)
	for _, item := range list {
		if item == needle {
			return true
		}
	}
	return false
}

func listIntersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, item := range b {
		set[item] = struct{}{}
	}
	for _, item := range a {
		if _, ok := set[item]; ok {
			return true
		}
	}
	return false
}
