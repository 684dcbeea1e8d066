package resource

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/decision"
	"github.com/BaSui01/agentcouncil/types"
)

// CapabilityResourceAllocation 所有资源分配智能体共有的能力
const CapabilityResourceAllocation = "resource_allocation"

// 知识键
const (
	KnowledgeLastObservation = "last_observation"
	KnowledgeLastBroadcast   = "last_broadcast"
)

// 默认行为参数
const (
	DefaultObserveEvery = 50
	DefaultWorkMin      = 100 * time.Millisecond
	DefaultWorkMax      = 300 * time.Millisecond
)

// 投票阈值
const (
	strongSupport   = 0.6
	moderateSupport = 0.4
)

// Agent 资源分配智能体：按偏好权重评估方案、模拟执行任务、定期记录观察
type Agent struct {
	*agent.BaseAgent

	specialization string
	bias           string
	observeEvery   int
	workMin        time.Duration
	workMax        time.Duration
	agentOpts      []agent.Option
	expertise      float64
	id             string
	logger         *zap.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	idleCycles int
}

var _ agent.Behavior = (*Agent)(nil)

// Option 资源智能体选项
type Option func(*Agent)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSeed 固定随机源（专业度、工作时长、观察值）
func WithSeed(seed uint64) Option {
	return func(a *Agent) { a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithID 指定智能体 ID
func WithID(id string) Option {
	return func(a *Agent) { a.id = id }
}

// WithExpertise 指定专业度，覆盖随机值
func WithExpertise(expertise float64) Option {
	return func(a *Agent) { a.expertise = expertise }
}

// WithWorkDuration 设置模拟任务耗时区间
func WithWorkDuration(minDur, maxDur time.Duration) Option {
	return func(a *Agent) {
		if minDur >= 0 && maxDur >= minDur {
			a.workMin, a.workMax = minDur, maxDur
		}
	}
}

// WithObserveEvery 每 n 个空闲周期记录一次观察
func WithObserveEvery(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.observeEvery = n
		}
	}
}

// WithAgentOptions 透传给 BaseAgent 的选项
func WithAgentOptions(opts ...agent.Option) Option {
	return func(a *Agent) { a.agentOpts = append(a.agentOpts, opts...) }
}

// New 创建资源分配智能体。能力为 {specialization, resource_allocation}，
// 效用权重由 bias 决定（见 decision.WeightsForBias），专业度随机落在 [0.7, 1.0)。
func New(name string, role types.AgentRole, specialization, bias string, opts ...Option) *Agent {
	a := &Agent{
		specialization: specialization,
		bias:           bias,
		observeEvery:   DefaultObserveEvery,
		workMin:        DefaultWorkMin,
		workMax:        DefaultWorkMax,
		logger:         zap.NewNop(),
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.expertise <= 0 {
		a.expertise = 0.7 + a.rng.Float64()*0.3
	}

	a.BaseAgent = agent.NewBaseAgent(agent.Config{
		ID:           a.id,
		Name:         name,
		Role:         role,
		Capabilities: []string{specialization, CapabilityResourceAllocation},
		Expertise:    a.expertise,
		Weights:      decision.WeightsForBias(bias),
	}, a, a.logger, a.agentOpts...)
	a.logger = a.logger.With(zap.String("component", "resource_agent"), zap.String("agent", name))
	return a
}

// Specialization 专业领域
func (a *Agent) Specialization() string { return a.specialization }

// Bias 效用偏好
func (a *Agent) Bias() string { return a.bias }

// AutonomousCycle 每 observeEvery 个空闲周期记录一次系统负载观察
func (a *Agent) AutonomousCycle(context.Context) error {
	a.mu.Lock()
	a.idleCycles++
	due := a.idleCycles%a.observeEvery == 0
	load := 20 + a.rng.IntN(61)
	a.mu.Unlock()

	if due {
		a.UpdateKnowledge(KnowledgeLastObservation, fmt.Sprintf("%s observes system load: %d%%", a.Name(), load))
	}
	return nil
}

// IdleCycles 已执行的空闲周期数
func (a *Agent) IdleCycles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idleCycles
}

// ExecuteTask 模拟执行任务后写入成功结果
func (a *Agent) ExecuteTask(ctx context.Context, task *types.Task) error {
	a.logger.Info("executing task", zap.String("task_id", task.ID), zap.String("task", task.Name))

	timer := time.NewTimer(a.workDuration())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := task.Complete(types.TaskCompleted, map[string]any{"success": true, "agent": a.Name()}); err != nil {
		return err
	}
	a.logger.Info("task completed", zap.String("task_id", task.ID))
	return nil
}

func (a *Agent) workDuration() time.Duration {
	span := a.workMax - a.workMin
	if span <= 0 {
		return a.workMin
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workMin + time.Duration(a.rng.Int64N(int64(span)))
}

// EvaluateProposal 以自身效用函数为方案排序，按最佳得分决定支持强度
func (a *Agent) EvaluateProposal(_ context.Context, proposal *decision.Proposal) (decision.VoteType, int, string, error) {
	if len(proposal.Options) == 0 {
		return decision.VoteAbstain, 0, "No options provided", nil
	}
	fw := a.Framework()
	if fw == nil {
		return decision.VoteAbstain, 0, "No decision framework", nil
	}

	best := fw.EvaluateOptions(a.ID(), proposal.Options)[0]
	switch {
	case best.Score > strongSupport:
		return decision.VoteYes, best.Index, fmt.Sprintf("Strong support (utility=%.2f, bias=%s)", best.Score, a.bias), nil
	case best.Score > moderateSupport:
		return decision.VoteYes, best.Index, fmt.Sprintf("Moderate support (utility=%.2f)", best.Score), nil
	default:
		return decision.VoteNo, best.Index, fmt.Sprintf("Low utility (%.2f)", best.Score), nil
	}
}

// OnMessage 记录最近一次广播内容
func (a *Agent) OnMessage(_ context.Context, msg *collaboration.Message) error {
	if msg.Type == collaboration.MessageTypeBroadcast {
		a.UpdateKnowledge(KnowledgeLastBroadcast, msg.Payload)
	}
	return nil
}

// =============================================================================
// 👥 演示阵容
// =============================================================================

// Profile 演示阵容中一个智能体的描述
type Profile struct {
	Name           string          `yaml:"name" json:"name"`
	Role           types.AgentRole `yaml:"role" json:"role"`
	Specialization string          `yaml:"specialization" json:"specialization"`
	Bias           string          `yaml:"bias" json:"bias"`
}

// DefaultRoster 一名 leader、三名不同偏好的 worker、一名 observer
func DefaultRoster() []Profile {
	return []Profile{
		{Name: "Leader-1", Role: types.RoleLeader, Specialization: "strategy", Bias: "balanced"},
		{Name: "Worker-Cost", Role: types.RoleWorker, Specialization: "finance", Bias: "cost_focused"},
		{Name: "Worker-Speed", Role: types.RoleWorker, Specialization: "operations", Bias: "speed_focused"},
		{Name: "Worker-Quality", Role: types.RoleWorker, Specialization: "engineering", Bias: "quality_focused"},
		{Name: "Observer-1", Role: types.RoleObserver, Specialization: "analytics", Bias: "balanced"},
	}
}

// Build 按阵容创建智能体
func Build(roster []Profile, opts ...Option) []*Agent {
	agents := make([]*Agent, 0, len(roster))
	for _, s := range roster {
		agents = append(agents, New(s.Name, s.Role, s.Specialization, s.Bias, opts...))
	}
	return agents
}

// ScaleUpOptions 负载应对场景的候选方案
func ScaleUpOptions() []map[string]any {
	return []map[string]any{
		{"name": "Cloud Scale-Up", "description": "Increase cloud resources by 50%",
			decision.FieldSuccessProbability: 0.9, decision.FieldResourceCost: 0.8, decision.FieldTimeEfficiency: 0.9},
		{"name": "Optimize Existing", "description": "Optimize current infrastructure",
			decision.FieldSuccessProbability: 0.7, decision.FieldResourceCost: 0.3, decision.FieldTimeEfficiency: 0.4},
		{"name": "Hybrid Approach", "description": "Moderate scaling + optimization",
			decision.FieldSuccessProbability: 0.8, decision.FieldResourceCost: 0.5, decision.FieldTimeEfficiency: 0.6},
	}
}

// DeploymentOptions 发布策略场景的候选方案
func DeploymentOptions() []map[string]any {
	return []map[string]any{
		{"name": "Immediate Deploy",
			decision.FieldSuccessProbability: 0.6, decision.FieldResourceCost: 0.2, decision.FieldTimeEfficiency: 1.0},
		{"name": "Staged Rollout",
			decision.FieldSuccessProbability: 0.85, decision.FieldResourceCost: 0.4, decision.FieldTimeEfficiency: 0.5},
		{"name": "Full Testing First",
			decision.FieldSuccessProbability: 0.95, decision.FieldResourceCost: 0.6, decision.FieldTimeEfficiency: 0.3},
	}
}
