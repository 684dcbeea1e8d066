package decision

import (
	"encoding/json"
	"math"
	"sort"
)

// 方案字段名
const (
	FieldSuccessProbability = "success_probability"
	FieldResourceCost       = "resource_cost"
	FieldTimeEfficiency     = "time_efficiency"
	FieldComplexity         = "complexity"
)

// neutralValue 字段缺失或非数值时的默认取值
const neutralValue = 0.5

// UtilityWeights 效用权重向量
type UtilityWeights struct {
	SuccessProbability float64 `json:"success_probability" yaml:"success_probability"`
	ResourceCost       float64 `json:"resource_cost" yaml:"resource_cost"`
	TimeEfficiency     float64 `json:"time_efficiency" yaml:"time_efficiency"`
}

// 预设权重
var (
	DefaultWeights        = UtilityWeights{SuccessProbability: 0.4, ResourceCost: 0.3, TimeEfficiency: 0.3}
	BalancedWeights       = UtilityWeights{SuccessProbability: 0.34, ResourceCost: 0.33, TimeEfficiency: 0.33}
	CostFocusedWeights    = UtilityWeights{SuccessProbability: 0.2, ResourceCost: 0.6, TimeEfficiency: 0.2}
	SpeedFocusedWeights   = UtilityWeights{SuccessProbability: 0.2, ResourceCost: 0.2, TimeEfficiency: 0.6}
	QualityFocusedWeights = UtilityWeights{SuccessProbability: 0.6, ResourceCost: 0.2, TimeEfficiency: 0.2}
)

// WeightsForBias 按偏好名返回预设权重，未知偏好返回 BalancedWeights
func WeightsForBias(bias string) UtilityWeights {
	switch bias {
	case "cost_focused":
		return CostFocusedWeights
	case "speed_focused":
		return SpeedFocusedWeights
	case "quality_focused":
		return QualityFocusedWeights
	default:
		return BalancedWeights
	}
}

// Sum 权重之和
func (w UtilityWeights) Sum() float64 {
	return w.SuccessProbability + w.ResourceCost + w.TimeEfficiency
}

// Normalize 归一化为和为 1。和 <= 0（或非有限值）时回退到 DefaultWeights。
func (w UtilityWeights) Normalize() UtilityWeights {
	sum := w.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DefaultWeights
	}
	return UtilityWeights{
		SuccessProbability: w.SuccessProbability / sum,
		ResourceCost:       w.ResourceCost / sum,
		TimeEfficiency:     w.TimeEfficiency / sum,
	}
}

// UtilityFunction 多准则效用函数
type UtilityFunction struct {
	weights UtilityWeights
}

// NewUtilityFunction 使用归一化后的权重构造效用函数
func NewUtilityFunction(weights UtilityWeights) *UtilityFunction {
	return &UtilityFunction{weights: weights.Normalize()}
}

// Weights 返回归一化后的权重
func (u *UtilityFunction) Weights() UtilityWeights {
	return u.weights
}

// Evaluate 计算效用值，结果截断到 [0, 1]
func (u *UtilityFunction) Evaluate(successProbability, resourceCost, timeEfficiency float64) float64 {
	score := u.weights.SuccessProbability*successProbability +
		u.weights.ResourceCost*(1-resourceCost) +
		u.weights.TimeEfficiency*timeEfficiency
	return clamp01(score)
}

// EvaluateOption 从方案 map 中读取字段并计算效用
func (u *UtilityFunction) EvaluateOption(option map[string]any) float64 {
	return u.Evaluate(
		numberField(option, FieldSuccessProbability),
		numberField(option, FieldResourceCost),
		numberField(option, FieldTimeEfficiency),
	)
}

// RankedOption 排序结果
type RankedOption struct {
	Index  int            `json:"index"`
	Score  float64        `json:"score"`
	Option map[string]any `json:"option"`
}

// Rank 按效用降序排序，同分时保持原始顺序
func (u *UtilityFunction) Rank(options []map[string]any) []RankedOption {
	ranked := make([]RankedOption, len(options))
	for i, opt := range options {
		ranked[i] = RankedOption{Index: i, Score: u.EvaluateOption(opt), Option: opt}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// numberField 读取数值字段，缺失或非数值时返回 neutralValue
func numberField(option map[string]any, key string) float64 {
	v, ok := toFloat(option[key])
	if !ok {
		return neutralValue
	}
	return v
}

// numberFieldOr 读取数值字段，缺失时返回 fallback
func numberFieldOr(option map[string]any, key string, fallback float64) float64 {
	v, ok := toFloat(option[key])
	if !ok {
		return fallback
	}
	return v
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
