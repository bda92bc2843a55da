package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator compares a resolved variable against a condition value.
type Operator string

const (
	OpEqualTo            Operator = "equal_to"
	OpNotEqualTo         Operator = "not_equal_to"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal_to"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal_to"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "does_not_contain"
	OpIn                 Operator = "in"
	OpIsTrue             Operator = "is_true"
	OpIsFalse            Operator = "is_false"
)

// Compare applies the operator to the resolved value and the condition
// value, coercing numerics so ints and floats compare cleanly.
func Compare(got any, op Operator, want any) (bool, error) {
	switch op {
	case OpEqualTo:
		return looseEqual(got, want), nil
	case OpNotEqualTo:
		return !looseEqual(got, want), nil
	case OpGreaterThan:
		return compareNumbers(got, want, func(a, b float64) bool { return a > b })
	case OpGreaterThanOrEqual:
		return compareNumbers(got, want, func(a, b float64) bool { return a >= b })
	case OpLessThan:
		return compareNumbers(got, want, func(a, b float64) bool { return a < b })
	case OpLessThanOrEqual:
		return compareNumbers(got, want, func(a, b float64) bool { return a <= b })
	case OpContains:
		return contains(got, want)
	case OpNotContains:
		ok, err := contains(got, want)
		return !ok, err
	case OpIn:
		return member(got, want)
	case OpIsTrue:
		b, ok := got.(bool)
		return ok && b, nil
	case OpIsFalse:
		b, ok := got.(bool)
		return ok && !b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func looseEqual(a, b any) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func compareNumbers(a, b any, cmp func(float64, float64) bool) (bool, error) {
	fa, ok := toFloat(a)
	if !ok {
		return false, fmt.Errorf("value %v is not numeric", a)
	}
	fb, ok := toFloat(b)
	if !ok {
		return false, fmt.Errorf("value %v is not numeric", b)
	}
	return cmp(fa, fb), nil
}

// contains supports string substring checks and membership of want in a
// resolved slice.
func contains(got, want any) (bool, error) {
	if s, ok := got.(string); ok {
		sub, ok := want.(string)
		if !ok {
			return false, fmt.Errorf("contains on string needs a string value, got %T", want)
		}
		return strings.Contains(s, sub), nil
	}
	items := reflect.ValueOf(got)
	if items.Kind() == reflect.Slice || items.Kind() == reflect.Array {
		for i := 0; i < items.Len(); i++ {
			if looseEqual(items.Index(i).Interface(), want) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("contains is not applicable to %T", got)
}

// member reports whether got is one of the values in want.
func member(got, want any) (bool, error) {
	items := reflect.ValueOf(want)
	if items.Kind() != reflect.Slice && items.Kind() != reflect.Array {
		return false, fmt.Errorf("in needs a list value, got %T", want)
	}
	for i := 0; i < items.Len(); i++ {
		if looseEqual(got, items.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
