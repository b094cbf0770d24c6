// Package condition evaluates stored field comparisons against live values.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported comparison operators. The set is closed; the catalog rejects
// anything else at definition-save time.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpGreater    = "greater_than"
	OpLess       = "less_than"
	OpIsEmpty    = "is_empty"
	OpIsNotEmpty = "is_not_empty"
)

// Operators lists every supported operator.
func Operators() []string {
	return []string{
		OpEquals, OpNotEquals, OpContains, OpIn, OpNotIn,
		OpGreater, OpLess, OpIsEmpty, OpIsNotEmpty,
	}
}

// Known reports whether the operator is part of the supported set.
func Known(operator string) bool {
	for _, op := range Operators() {
		if op == operator {
			return true
		}
	}

	return false
}

// Evaluate compares an actual value against an expected one. It is total:
// unknown operators evaluate to false instead of raising, so a stale
// definition can never crash a live execution. Numeric strings are compared
// numerically when both sides parse; everything else falls back to
// case-normalized string comparison.
func Evaluate(operator string, actual any, expected string) bool {
	actualStr := stringify(actual)

	switch operator {
	case OpEquals:
		return looseEquals(actualStr, expected)
	case OpNotEquals:
		return !looseEquals(actualStr, expected)
	case OpContains:
		return strings.Contains(strings.ToLower(actualStr), strings.ToLower(expected))
	case OpIn:
		return inList(actualStr, expected)
	case OpNotIn:
		return !inList(actualStr, expected)
	case OpGreater:
		a, b, ok := bothNumeric(actualStr, expected)
		return ok && a > b
	case OpLess:
		a, b, ok := bothNumeric(actualStr, expected)
		return ok && a < b
	case OpIsEmpty:
		return isEmpty(actual, actualStr)
	case OpIsNotEmpty:
		return !isEmpty(actual, actualStr)
	default:
		return false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func looseEquals(actual, expected string) bool {
	if a, b, ok := bothNumeric(actual, expected); ok {
		return a == b
	}

	return strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(expected))
}

func bothNumeric(actual, expected string) (float64, float64, bool) {
	a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(expected), 64)

	if errA != nil || errB != nil {
		return 0, 0, false
	}

	return a, b, true
}

// inList splits the expected value on commas, trims each entry and tests
// membership case-insensitively.
func inList(actual, expected string) bool {
	for _, entry := range strings.Split(expected, ",") {
		if strings.EqualFold(strings.TrimSpace(entry), strings.TrimSpace(actual)) {
			return true
		}
	}

	return false
}

func isEmpty(actual any, actualStr string) bool {
	if actual == nil {
		return true
	}

	return strings.TrimSpace(actualStr) == ""
}
