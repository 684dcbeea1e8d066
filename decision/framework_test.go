package decision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentcouncil/types"
)

func demoOptions() []map[string]any {
	return []map[string]any{
		{"name": "Cloud Scale-Up", FieldSuccessProbability: 0.85, FieldResourceCost: 0.8, FieldTimeEfficiency: 0.9, FieldComplexity: 0.3},
		{"name": "Optimize Existing", FieldSuccessProbability: 0.7, FieldResourceCost: 0.3, FieldTimeEfficiency: 0.5, FieldComplexity: 0.6},
		{"name": "Hybrid Approach", FieldSuccessProbability: 0.75, FieldResourceCost: 0.5, FieldTimeEfficiency: 0.7, FieldComplexity: 0.5},
	}
}

func TestFramework_LazyUtility(t *testing.T) {
	t.Parallel()

	f := NewFramework(nil, zaptest.NewLogger(t))
	uf := f.UtilityFunction("agent-1")
	assert.Same(t, uf, f.UtilityFunction("agent-1"))
	assert.Equal(t, DefaultWeights, uf.Weights())

	f.RegisterAgentUtility("agent-1", CostFocusedWeights)
	assert.InDelta(t, 0.6, f.UtilityFunction("agent-1").Weights().ResourceCost, 1e-9)
	assert.NotNil(t, f.Consensus())
}

func TestFramework_EvaluateOptions_BiasChangesRanking(t *testing.T) {
	t.Parallel()

	f := NewFramework(nil, nil)
	f.RegisterAgentUtility("cost", CostFocusedWeights)
	f.RegisterAgentUtility("speed", SpeedFocusedWeights)

	costRank := f.EvaluateOptions("cost", demoOptions())
	speedRank := f.EvaluateOptions("speed", demoOptions())

	assert.Equal(t, 1, costRank[0].Index, "cost focused agent prefers the cheap option")
	assert.Equal(t, 0, speedRank[0].Index, "speed focused agent prefers the fast option")
	for i := 1; i < len(costRank); i++ {
		assert.GreaterOrEqual(t, costRank[i-1].Score, costRank[i].Score)
	}
}

func TestFramework_MakeIndividualDecision(t *testing.T) {
	t.Parallel()

	f := NewFramework(nil, nil)

	_, err := f.MakeIndividualDecision("a", "ctx", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyOptions))
	assert.Equal(t, types.ErrEmptyOptions, types.GetErrorCode(err))

	d, err := f.MakeIndividualDecision("a", "ctx", demoOptions())
	require.NoError(t, err)
	assert.Equal(t, "Cloud Scale-Up", d.Option.Name)
	assert.Contains(t, d.Rationale, "Selected based on utility score")
	assert.Contains(t, d.Rationale, "margin:")

	single, err := f.MakeIndividualDecision("a", "ctx", []map[string]any{{}})
	require.NoError(t, err)
	assert.Equal(t, "Option 0", single.Option.Name)
	assert.NotContains(t, single.Rationale, "margin")
}

func TestFramework_SimulateOutcome(t *testing.T) {
	t.Parallel()

	f := NewFramework(nil, nil)
	opt := map[string]any{FieldSuccessProbability: 0.8, FieldResourceCost: 0.5, FieldComplexity: 0.5}

	base := f.SimulateOutcome(opt, SimulationContext{})
	assert.InDelta(t, 0.8*(1-0.15), base.EstimatedSuccess, 1e-9)
	assert.InDelta(t, 0.5, base.EstimatedCost, 1e-9)
	assert.InDelta(t, 5.0, base.EstimatedTime, 1e-9)
	assert.InDelta(t, 0.5*0.2, base.RiskLevel, 1e-9)

	adjusted := f.SimulateOutcome(opt, SimulationContext{TimePressure: true, ExtraResources: true})
	assert.InDelta(t, 0.72*(1-0.15), adjusted.EstimatedSuccess, 1e-9)
	assert.InDelta(t, 0.4, adjusted.EstimatedCost, 1e-9)
	assert.InDelta(t, 0.5*0.28, adjusted.RiskLevel, 1e-9)

	defaults := f.SimulateOutcome(map[string]any{}, SimulationContext{})
	assert.InDelta(t, 0.5*(1-0.15), defaults.EstimatedSuccess, 1e-9)
}

func TestFramework_CompareOptions(t *testing.T) {
	t.Parallel()

	f := NewFramework(nil, nil)

	cmp := f.CompareOptions("a", demoOptions())
	require.Len(t, cmp.Ranking, 3)
	assert.Equal(t, cmp.Ranking[0].Index, cmp.Recommended)
	assert.InDelta(t, cmp.Ranking[0].Score-cmp.Ranking[1].Score, cmp.Confidence, 1e-9)
	assert.NotZero(t, cmp.Ranking[0].Simulation.EstimatedTime)

	one := f.CompareOptions("a", demoOptions()[:1])
	assert.Equal(t, 0, one.Recommended)
	assert.Equal(t, 1.0, one.Confidence)

	none := f.CompareOptions("a", nil)
	assert.Equal(t, -1, none.Recommended)
	assert.Empty(t, none.Ranking)

	pressured := f.CompareOptions("a", demoOptions(), SimulationContext{TimePressure: true})
	assert.Less(t, pressured.Ranking[0].Simulation.EstimatedSuccess, cmp.Ranking[0].Simulation.EstimatedSuccess)
}
