package agent

import (
	"net/http"

	"github.com/BaSui01/agentcouncil/types"
)

var (
	// ErrAgentNotConnected 未连接消息中心
	ErrAgentNotConnected = types.NewError(types.ErrAgentNotConnected, "agent not connected to a message hub")

	// ErrAgentRunning 执行循环已在运行
	ErrAgentRunning = types.NewError(types.ErrAgentRunning, "agent loop already running")

	// ErrAgentNotFound 智能体未注册
	ErrAgentNotFound = types.NewError(types.ErrUnknownTarget, "agent not found").WithHTTPStatus(http.StatusNotFound)

	// ErrDuplicateAgent 重复注册
	ErrDuplicateAgent = types.NewError(types.ErrInvalidRequest, "agent already registered").WithHTTPStatus(http.StatusConflict)

	// ErrNoEligibleVoters 没有符合条件的投票者
	ErrNoEligibleVoters = types.NewError(types.ErrNoEligibleVoters, "no eligible voters").WithHTTPStatus(http.StatusUnprocessableEntity)

	// ErrEngineHalted 紧急停止后拒绝新的操作
	ErrEngineHalted = types.NewError(types.ErrEngineHalted, "engine halted").WithHTTPStatus(http.StatusServiceUnavailable)

	// ErrEngineNotRunning 引擎未启动
	ErrEngineNotRunning = types.NewError(types.ErrServiceUnavailable, "engine not running").WithHTTPStatus(http.StatusServiceUnavailable)
)
