package decision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestUtilityWeights_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		input    UtilityWeights
		expected UtilityWeights
	}{
		{
			name:     "already normalized",
			input:    DefaultWeights,
			expected: DefaultWeights,
		},
		{
			name:     "scaled up",
			input:    UtilityWeights{SuccessProbability: 2, ResourceCost: 1, TimeEfficiency: 1},
			expected: UtilityWeights{SuccessProbability: 0.5, ResourceCost: 0.25, TimeEfficiency: 0.25},
		},
		{
			name:     "zero sum falls back to defaults",
			input:    UtilityWeights{},
			expected: DefaultWeights,
		},
		{
			name:     "negative sum falls back to defaults",
			input:    UtilityWeights{SuccessProbability: -1, ResourceCost: -1, TimeEfficiency: 0.5},
			expected: DefaultWeights,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Normalize()
			assert.InDelta(t, tt.expected.SuccessProbability, got.SuccessProbability, 1e-9)
			assert.InDelta(t, tt.expected.ResourceCost, got.ResourceCost, 1e-9)
			assert.InDelta(t, tt.expected.TimeEfficiency, got.TimeEfficiency, 1e-9)
		})
	}
}

func TestUtilityFunction_Evaluate(t *testing.T) {
	t.Parallel()

	uf := NewUtilityFunction(DefaultWeights)
	// 0.4*0.8 + 0.3*(1-0.2) + 0.3*0.6
	assert.InDelta(t, 0.74, uf.Evaluate(0.8, 0.2, 0.6), 1e-9)
	assert.Equal(t, 1.0, uf.Evaluate(5, -5, 5))
	assert.Equal(t, 0.0, uf.Evaluate(-5, 5, -5))
}

func TestUtilityFunction_EvaluateOption_Defaults(t *testing.T) {
	t.Parallel()

	uf := NewUtilityFunction(DefaultWeights)
	neutral := uf.Evaluate(0.5, 0.5, 0.5)

	assert.InDelta(t, neutral, uf.EvaluateOption(map[string]any{}), 1e-9)
	assert.InDelta(t, neutral, uf.EvaluateOption(map[string]any{
		FieldSuccessProbability: "high",
	}), 1e-9)

	mixed := uf.EvaluateOption(map[string]any{
		FieldSuccessProbability: json.Number("0.8"),
		FieldResourceCost:       float32(0.2),
		FieldTimeEfficiency:     1,
	})
	assert.InDelta(t, uf.Evaluate(0.8, 0.2, 1), mixed, 1e-6)
}

func TestUtilityFunction_Rank_StableOnTies(t *testing.T) {
	t.Parallel()

	uf := NewUtilityFunction(DefaultWeights)
	options := []map[string]any{
		{"name": "a"},
		{"name": "b", FieldSuccessProbability: 0.9},
		{"name": "c"},
	}

	ranked := uf.Rank(options)
	require.Len(t, ranked, 3)
	assert.Equal(t, 1, ranked[0].Index)
	assert.Equal(t, 0, ranked[1].Index)
	assert.Equal(t, 2, ranked[2].Index)
	assert.Equal(t, "b", ranked[0].Option["name"])
}

func TestWeightsForBias(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CostFocusedWeights, WeightsForBias("cost_focused"))
	assert.Equal(t, SpeedFocusedWeights, WeightsForBias("speed_focused"))
	assert.Equal(t, QualityFocusedWeights, WeightsForBias("quality_focused"))
	assert.Equal(t, BalancedWeights, WeightsForBias("anything"))
}

// TestProperty_NormalizedWeightsSumToOne 任意权重三元组归一化后和为 1，效用值落在 [0, 1]
func TestProperty_NormalizedWeightsSumToOne(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := UtilityWeights{
			SuccessProbability: rapid.Float64Range(0, 10).Draw(rt, "w1"),
			ResourceCost:       rapid.Float64Range(0, 10).Draw(rt, "w2"),
			TimeEfficiency:     rapid.Float64Range(0, 10).Draw(rt, "w3"),
		}
		uf := NewUtilityFunction(w)
		assert.InDelta(rt, 1.0, uf.Weights().Sum(), 1e-9)

		score := uf.Evaluate(
			rapid.Float64Range(-2, 2).Draw(rt, "sp"),
			rapid.Float64Range(-2, 2).Draw(rt, "cost"),
			rapid.Float64Range(-2, 2).Draw(rt, "te"),
		)
		assert.GreaterOrEqual(rt, score, 0.0)
		assert.LessOrEqual(rt, score, 1.0)
	})
}
