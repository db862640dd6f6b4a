// Package filter evaluates attribute conditions against records. Evaluation
// never fails: an operator applied to a value type it does not understand
// simply does not match.
package filter

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
)

// Operator names a comparison applied between a record field and a value.
type Operator string

const (
	Equals             Operator = "equals"
	NotEquals          Operator = "notEquals"
	GreaterThan        Operator = "greaterThan"
	GreaterThanOrEqual Operator = "greaterThanOrEqual"
	LessThan           Operator = "lessThan"
	LessThanOrEqual    Operator = "lessThanOrEqual"
	Includes           Operator = "includes"
	IncludesAll        Operator = "includesAll"
	IncludesAny        Operator = "includesAny"
	StartsWith         Operator = "startsWith"
	EndsWith           Operator = "endsWith"
	Contains           Operator = "contains"
	Between            Operator = "between"
	In                 Operator = "in"
	NotIn              Operator = "notIn"
)

var operators = map[Operator]struct{}{
	Equals: {}, NotEquals: {},
	GreaterThan: {}, GreaterThanOrEqual: {}, LessThan: {}, LessThanOrEqual: {},
	Includes: {}, IncludesAll: {}, IncludesAny: {},
	StartsWith: {}, EndsWith: {}, Contains: {},
	Between: {}, In: {}, NotIn: {},
}

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if _, ok := operators[op]; !ok {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown filter operator %q", s)
	}
	return op, nil
}

// TakesSet reports whether the operator expects a sequence as its value.
func (op Operator) TakesSet() bool {
	switch op {
	case IncludesAll, IncludesAny, Between, In, NotIn:
		return true
	}
	return false
}

// Condition is a single (field, operator, value) predicate.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Evaluate reports whether record satisfies the condition. A field the record
// does not carry is treated as nil.
func Evaluate[R model.Record](record R, c Condition) bool {
	v, _ := record.Field(c.Field)
	return Match(v, c.Op, c.Value)
}

// All reports whether record satisfies every condition.
func All[R model.Record](record R, conds []Condition) bool {
	for _, c := range conds {
		if !Evaluate(record, c) {
			return false
		}
	}
	return true
}

// Match applies op between a field value and a comparison value.
func Match(field any, op Operator, value any) bool {
	switch op {
	case Equals:
		return Equal(field, value)
	case NotEquals:
		return !Equal(field, value)
	case GreaterThan:
		c, ok := Compare(field, value)
		return ok && c > 0
	case GreaterThanOrEqual:
		c, ok := Compare(field, value)
		return ok && c >= 0
	case LessThan:
		c, ok := Compare(field, value)
		return ok && c < 0
	case LessThanOrEqual:
		c, ok := Compare(field, value)
		return ok && c <= 0
	case Includes:
		items, ok := asSlice(field)
		return ok && contains(items, value)
	case IncludesAll:
		items, ok := asSlice(field)
		want, wok := asSlice(value)
		if !ok || !wok {
			return false
		}
		for _, w := range want {
			if !contains(items, w) {
				return false
			}
		}
		return true
	case IncludesAny:
		items, ok := asSlice(field)
		want, wok := asSlice(value)
		if !ok || !wok {
			return false
		}
		for _, w := range want {
			if contains(items, w) {
				return true
			}
		}
		return false
	case StartsWith, EndsWith, Contains:
		s, ok := field.(string)
		sub, sok := value.(string)
		if !ok || !sok {
			return false
		}
		switch op {
		case StartsWith:
			return strings.HasPrefix(s, sub)
		case EndsWith:
			return strings.HasSuffix(s, sub)
		default:
			return strings.Contains(s, sub)
		}
	case Between:
		n, ok := toFloat(field)
		bounds, bok := asSlice(value)
		if !ok || !bok || len(bounds) != 2 {
			return false
		}
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		return lok && hok && n >= lo && n <= hi
	case In:
		set, ok := asSlice(value)
		return ok && contains(set, field)
	case NotIn:
		set, ok := asSlice(value)
		return ok && !contains(set, field)
	default:
		return false
	}
}

// Equal compares two attribute values. Numbers compare by value across Go
// numeric types; other values compare only when their dynamic types match.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Compare orders two numbers or two strings. ok is false for any other
// combination.
func Compare(a, b any) (c int, ok bool) {
	if x, xok := toFloat(a); xok {
		y, yok := toFloat(b)
		if !yok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		case x == y:
			return 0, true
		}
		return 0, false // NaN
	}
	s, sok := a.(string)
	t, tok := b.(string)
	if !sok || !tok {
		return 0, false
	}
	return strings.Compare(s, t), true
}

func contains(items []any, v any) bool {
	for _, it := range items {
		if Equal(it, v) {
			return true
		}
	}
	return false
}

// asSlice exposes any slice or array as []any. Strings are not sequences.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
