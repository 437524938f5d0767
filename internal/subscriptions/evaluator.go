package subscriptions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Condition operators, multi-character first so "<=" never splits as "<".
var operators = []string{"<=", ">=", "==", "!=", "<", ">"}

// condition is one parsed comparison: a field name, an operator, and a
// literal. The grammar is intentionally a single comparison with no nesting
// or boolean combinators.
type condition struct {
	field string
	op    string
	value any
}

// parseCondition splits "field op value" on the first operator found.
func parseCondition(expr string) (*condition, error) {
	for _, op := range operators {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		raw := strings.TrimSpace(expr[idx+len(op):])
		if field == "" || raw == "" {
			return nil, fmt.Errorf("condition %q: missing field or value", expr)
		}
		return &condition{field: field, op: op, value: parseLiteral(raw)}, nil
	}
	return nil, fmt.Errorf("condition %q: no operator found", expr)
}

// parseLiteral types a raw literal: quoted string, float if it has a decimal
// point, integer, or raw string as a last resort.
func parseLiteral(raw string) any {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	if strings.Contains(raw, ".") {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

// ValidateCondition reports whether expr is well-formed. Used at subscription
// creation so malformed conditions are rejected up front instead of silently
// never firing.
func ValidateCondition(expr string) error {
	_, err := parseCondition(expr)
	return err
}

// Evaluator evaluates condition expressions against fetched data records.
// Evaluation is fail-closed: any lookup, parse, or type problem yields false,
// never an error.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate reports whether data satisfies expr.
func (e *Evaluator) Evaluate(expr string, data map[string]any) bool {
	cond, err := parseCondition(expr)
	if err != nil {
		e.logger.Warn("malformed condition", "condition", expr, "error", err)
		return false
	}

	actual, ok := data[cond.field]
	if !ok {
		e.logger.Warn("condition field missing from data", "field", cond.field, "condition", expr)
		return false
	}

	if lhs, rhs, ok := numericPair(actual, cond.value); ok {
		return compareFloats(lhs, cond.op, rhs)
	}
	if lhs, ok := actual.(string); ok {
		if rhs, ok := cond.value.(string); ok {
			return compareStrings(lhs, cond.op, rhs)
		}
	}

	e.logger.Warn("type-incompatible comparison",
		"condition", expr,
		"data_type", fmt.Sprintf("%T", actual),
		"value_type", fmt.Sprintf("%T", cond.value))
	return false
}

// numericPair coerces both sides to float64 when both are numbers. Data
// records decoded from JSON carry float64 or json.Number; literals carry
// int64 or float64.
func numericPair(a, b any) (float64, float64, bool) {
	lhs, ok := toFloat(a)
	if !ok {
		return 0, 0, false
	}
	rhs, ok := toFloat(b)
	if !ok {
		return 0, 0, false
	}
	return lhs, rhs, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func compareFloats(lhs float64, op string, rhs float64) bool {
	switch op {
	case "<=":
		return lhs <= rhs
	case ">=":
		return lhs >= rhs
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case ">":
		return lhs > rhs
	}
	return false
}

func compareStrings(lhs, op, rhs string) bool {
	switch op {
	case "<=":
		return lhs <= rhs
	case ">=":
		return lhs >= rhs
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case ">":
		return lhs > rhs
	}
	return false
}
