package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition(t *testing.T) {
	ctx := map[string]interface{}{
		"amount":   1500.0,
		"severity": "high",
		"approved": true,
		"count":    3,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"numeric greater", "amount > 1000", true},
		{"numeric greater false", "amount > 2000", false},
		{"numeric less or equal", "count <= 3", true},
		{"string equality quoted", `severity == "high"`, true},
		{"string equality bare word", "severity == high", true},
		{"string inequality", `severity != "low"`, true},
		{"boolean equality", "approved == true", true},
		{"in list hit", `severity in ["high", "critical"]`, true},
		{"in list miss", `severity in ["low", "medium"]`, false},
		{"missing field is false", "owner == alice", false},
		{"empty expression is true", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionErrors(t *testing.T) {
	ctx := map[string]interface{}{"severity": "high", "amount": 10.0}

	tests := []struct {
		name string
		expr string
	}{
		{"malformed expression", "amount >"},
		{"unknown operator", "amount ~= 10"},
		{"non-numeric comparison", "severity > 5"},
		{"in without array", "severity in high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvaluateCondition(tt.expr, ctx)
			assert.Error(t, err)
		})
	}
}
