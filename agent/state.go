package agent

import (
	"fmt"

	"github.com/BaSui01/agentcouncil/types"
)

// RunState 定义智能体执行循环的状态
type RunState string

const (
	RunStateStopped RunState = "stopped" // 循环未运行
	RunStateRunning RunState = "running" // 循环运行中
)

// validTransitions 定义合法的状态转换。offline 在一个会话内是终态，
// 新会话由 Start 显式重置为 idle。
var validTransitions = map[types.AgentStatus][]types.AgentStatus{
	types.StatusIdle:    {types.StatusBusy, types.StatusOffline},
	types.StatusBusy:    {types.StatusIdle, types.StatusOffline},
	types.StatusOffline: {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to types.AgentStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From types.AgentStatus
	To   types.AgentStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}
