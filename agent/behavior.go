package agent

import (
	"context"

	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/decision"
	"github.com/BaSui01/agentcouncil/types"
)

// Behavior 具体智能体的可插拔行为。BaseAgent 按消息类型显式分派到这些钩子，
// 钩子返回的错误或 panic 都在循环边界被捕获。
type Behavior interface {
	// AutonomousCycle 空闲且本轮无消息时调用一次
	AutonomousCycle(ctx context.Context) error
	// ExecuteTask 执行被分配的任务，可修改任务状态与结果，可挂起
	ExecuteTask(ctx context.Context, task *types.Task) error
	// EvaluateProposal 评估提案，返回 (投票, 选择的方案下标, 理由)
	EvaluateProposal(ctx context.Context, proposal *decision.Proposal) (decision.VoteType, int, string, error)
	// OnMessage 处理非保留类型的消息
	OnMessage(ctx context.Context, msg *collaboration.Message) error
}

// AgentMetrics 智能体指标钩子
type AgentMetrics interface {
	RecordHookFailure(hook string)
	RecordStatusTransition(from, to string)
}

type nopAgentMetrics struct{}

func (nopAgentMetrics) RecordHookFailure(string)              {}
func (nopAgentMetrics) RecordStatusTransition(string, string) {}

// NopBehavior 所有钩子都不做任何事，弃权投票
type NopBehavior struct{}

func (NopBehavior) AutonomousCycle(context.Context) error                   { return nil }
func (NopBehavior) ExecuteTask(context.Context, *types.Task) error          { return nil }
func (NopBehavior) OnMessage(context.Context, *collaboration.Message) error { return nil }

func (NopBehavior) EvaluateProposal(context.Context, *decision.Proposal) (decision.VoteType, int, string, error) {
	return decision.VoteAbstain, 0, "no opinion", nil
}
