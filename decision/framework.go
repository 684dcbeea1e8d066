package decision

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/types"
)

// 模拟推演的调整系数
const (
	timePressureSuccessFactor = 0.9
	extraResourcesCostFactor  = 0.8
	complexitySuccessPenalty  = 0.3
	complexityTimeUnits       = 10.0
)

// ScoredOption 评估结果（下标、得分、方案）
type ScoredOption = RankedOption

// IndividualDecision 单个智能体的独立决策
type IndividualDecision struct {
	Index     int          `json:"index"`
	Option    types.Option `json:"option"`
	Rationale string       `json:"rationale"`
}

// SimulationContext 模拟推演上下文
type SimulationContext struct {
	TimePressure   bool `json:"time_pressure"`
	ExtraResources bool `json:"extra_resources"`
}

// SimulatedOutcome 确定性的结果推演
type SimulatedOutcome struct {
	EstimatedSuccess float64 `json:"estimated_success"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedTime    float64 `json:"estimated_time"`
	RiskLevel        float64 `json:"risk_level"`
}

// ComparisonEntry 方案比较条目
type ComparisonEntry struct {
	Index      int              `json:"index"`
	Name       string           `json:"name"`
	Score      float64          `json:"score"`
	Simulation SimulatedOutcome `json:"simulation"`
}

// Comparison 方案比较结果
type Comparison struct {
	Ranking     []ComparisonEntry `json:"ranking"`
	Recommended int               `json:"recommended"`
	Confidence  float64           `json:"confidence"`
}

// Framework 决策框架：每个智能体一个效用函数，支持独立决策与集体表决
type Framework struct {
	mu        sync.RWMutex
	utilities map[string]*UtilityFunction
	consensus *ConsensusManager
	logger    *zap.Logger
}

// NewFramework 创建决策框架。consensus 为 nil 时使用默认参数创建。
func NewFramework(consensus *ConsensusManager, logger *zap.Logger) *Framework {
	if logger == nil {
		logger = zap.NewNop()
	}
	if consensus == nil {
		consensus = NewConsensusManager(DefaultConsensusConfig(), logger)
	}
	return &Framework{
		utilities: make(map[string]*UtilityFunction),
		consensus: consensus,
		logger:    logger.With(zap.String("component", "decision_framework")),
	}
}

// Consensus 返回共享的共识管理器
func (f *Framework) Consensus() *ConsensusManager {
	return f.consensus
}

// RegisterAgentUtility 注册（或替换）智能体的效用权重
func (f *Framework) RegisterAgentUtility(agentID string, weights UtilityWeights) {
	uf := NewUtilityFunction(weights)
	f.mu.Lock()
	f.utilities[agentID] = uf
	f.mu.Unlock()
	f.logger.Debug("utility registered",
		zap.String("agent_id", agentID),
		zap.Float64("w_success", uf.weights.SuccessProbability),
		zap.Float64("w_cost", uf.weights.ResourceCost),
		zap.Float64("w_time", uf.weights.TimeEfficiency))
}

// UtilityFunction 获取智能体的效用函数，不存在时按默认权重惰性创建
func (f *Framework) UtilityFunction(agentID string) *UtilityFunction {
	f.mu.RLock()
	uf, ok := f.utilities[agentID]
	f.mu.RUnlock()
	if ok {
		return uf
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if uf, ok = f.utilities[agentID]; ok {
		return uf
	}
	uf = NewUtilityFunction(DefaultWeights)
	f.utilities[agentID] = uf
	return uf
}

// EvaluateOptions 用智能体的效用函数为方案打分，按得分降序返回
func (f *Framework) EvaluateOptions(agentID string, options []map[string]any) []ScoredOption {
	return f.UtilityFunction(agentID).Rank(options)
}

// MakeIndividualDecision 基于效用最大化做出独立决策
func (f *Framework) MakeIndividualDecision(agentID, context string, options []map[string]any) (*IndividualDecision, error) {
	if len(options) == 0 {
		return nil, ErrEmptyOptions
	}

	ranked := f.EvaluateOptions(agentID, options)
	best := ranked[0]

	rationale := fmt.Sprintf("Selected based on utility score %.3f", best.Score)
	if len(ranked) > 1 {
		rationale += fmt.Sprintf(" (margin: %.3f)", best.Score-ranked[1].Score)
	}

	f.logger.Debug("individual decision",
		zap.String("agent_id", agentID),
		zap.String("context", context),
		zap.Int("selected", best.Index),
		zap.Float64("score", best.Score))

	return &IndividualDecision{
		Index: best.Index,
		Option: types.Option{
			ID:               stringField(best.Option, "id"),
			Name:             optionName(best.Option, best.Index),
			Description:      stringField(best.Option, "description"),
			Parameters:       best.Option,
			EstimatedUtility: best.Score,
		},
		Rationale: rationale,
	}, nil
}

// SimulateOutcome 对方案做确定性推演。
//
//	success = sp' * (1 - complexity*0.3)，时间压力下 sp' = sp*0.9
//	cost    = rc'，额外资源时 rc' = rc*0.8
//	time    = complexity * 10
//	risk    = complexity * (1 - sp')
func (f *Framework) SimulateOutcome(option map[string]any, sc SimulationContext) SimulatedOutcome {
	success := numberField(option, FieldSuccessProbability)
	complexity := numberFieldOr(option, FieldComplexity, neutralValue)
	cost := numberField(option, FieldResourceCost)

	if sc.TimePressure {
		success *= timePressureSuccessFactor
	}
	if sc.ExtraResources {
		cost *= extraResourcesCostFactor
	}

	return SimulatedOutcome{
		EstimatedSuccess: success * (1 - complexity*complexitySuccessPenalty),
		EstimatedCost:    cost,
		EstimatedTime:    complexity * complexityTimeUnits,
		RiskLevel:        complexity * (1 - success),
	}
}

// CompareOptions 排序并附带推演结果。confidence 为前两名的分差，只有一个方案时为 1。
// 没有方案时 Recommended 为 -1，Confidence 为 0。
func (f *Framework) CompareOptions(agentID string, options []map[string]any, sc ...SimulationContext) Comparison {
	var simCtx SimulationContext
	if len(sc) > 0 {
		simCtx = sc[0]
	}

	ranked := f.EvaluateOptions(agentID, options)
	cmp := Comparison{
		Ranking:     make([]ComparisonEntry, 0, len(ranked)),
		Recommended: -1,
	}
	for _, r := range ranked {
		cmp.Ranking = append(cmp.Ranking, ComparisonEntry{
			Index:      r.Index,
			Name:       optionName(r.Option, r.Index),
			Score:      r.Score,
			Simulation: f.SimulateOutcome(r.Option, simCtx),
		})
	}

	switch len(ranked) {
	case 0:
	case 1:
		cmp.Recommended = ranked[0].Index
		cmp.Confidence = 1.0
	default:
		cmp.Recommended = ranked[0].Index
		cmp.Confidence = ranked[0].Score - ranked[1].Score
	}
	return cmp
}

func optionName(option map[string]any, index int) string {
	if name := stringField(option, "name"); name != "" {
		return name
	}
	return fmt.Sprintf("Option %d", index)
}

func stringField(option map[string]any, key string) string {
	s, _ := option[key].(string)
	return s
}
