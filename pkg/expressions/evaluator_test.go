package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBool(t *testing.T) {
	e := NewEvaluator()
	rule := "lost_reason == null || stage == 'lost'"

	tests := []struct {
		name   string
		fields map[string]any
		want   bool
	}{
		{"open lead without reason", map[string]any{"stage": "new"}, true},
		{"lost lead with reason", map[string]any{"stage": "lost", "lost_reason": "price"}, true},
		{"open lead with reason", map[string]any{"stage": "qualified", "lost_reason": "price"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := RecordData(tt.fields)
			require.NoError(t, err)

			got, err := e.EvaluateBool(rule, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateBool_NumericComparison(t *testing.T) {
	e := NewEvaluator()
	data, err := RecordData(map[string]any{"probability": 40, "expected_revenue": json.Number("1200.50")})
	require.NoError(t, err)

	ok, err := e.EvaluateBool("probability <= `100` && expected_revenue > `0`", data)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_InvalidExpression(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("stage ==", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expression")
	assert.Error(t, e.Validate("[?"))
	assert.NoError(t, e.Validate("stage"))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy(0.0))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy([]any{1.0}))
}
