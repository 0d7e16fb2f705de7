package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EvaluateCondition evaluates a step condition expression against an
// instance context. The grammar is a single comparison:
//
//	<field> <op> <value>
//
// where op is one of ==, !=, >, <, >=, <=, in. Values are JSON literals
// (numbers, true/false, "quoted strings", [arrays] for in); an unquoted
// bare word is treated as a string. A field missing from the context makes
// the condition false rather than failing the advance.
func EvaluateCondition(expr string, context map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	parts := strings.SplitN(expr, " ", 3)
	if len(parts) != 3 {
		return false, fmt.Errorf("condition %q: want <field> <op> <value>", expr)
	}
	field, op, rawValue := parts[0], parts[1], strings.TrimSpace(parts[2])

	actual, ok := context[field]
	if !ok {
		return false, nil
	}

	expected := parseLiteral(rawValue)

	switch op {
	case "==":
		return equalValues(actual, expected), nil
	case "!=":
		return !equalValues(actual, expected), nil
	case ">", "<", ">=", "<=":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("condition %q: %s requires numeric operands", expr, op)
		}
		switch op {
		case ">":
			return a > b, nil
		case "<":
			return a < b, nil
		case ">=":
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case "in":
		list, ok := expected.([]interface{})
		if !ok {
			return false, fmt.Errorf("condition %q: in requires a JSON array", expr)
		}
		for _, item := range list {
			if equalValues(actual, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
}

func parseLiteral(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func toFloat(v interface{}) (float64, bool) {
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
	}
	return 0, false
}

func equalValues(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
