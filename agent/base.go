package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/decision"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/types"
)

// 循环节拍默认值
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultIdleYield    = 10 * time.Millisecond
)

// 钩子名称（用于日志和指标）
const (
	HookAutonomousCycle  = "autonomous_cycle"
	HookExecuteTask      = "execute_task"
	HookEvaluateProposal = "evaluate_proposal"
	HookOnMessage        = "on_message"
)

// RejectReasonMissingCapabilities 能力不匹配时 REJECT 的理由
const RejectReasonMissingCapabilities = "Missing required capabilities"

// Config 智能体配置
type Config struct {
	ID           string
	Name         string
	Role         types.AgentRole
	Capabilities []string
	Expertise    float64
	Weights      decision.UtilityWeights
	PollInterval time.Duration
	IdleYield    time.Duration
}

// Option 智能体选项
type Option func(*BaseAgent)

// WithAgentMetrics 设置指标钩子
func WithAgentMetrics(metrics AgentMetrics) Option {
	return func(a *BaseAgent) {
		if metrics != nil {
			a.metrics = metrics
		}
	}
}

// WithTiming 覆盖收件箱轮询超时与自主循环后的让出时间，非正值保持原设置
func WithTiming(pollInterval, idleYield time.Duration) Option {
	return func(a *BaseAgent) {
		if pollInterval > 0 {
			a.pollInterval = pollInterval
		}
		if idleYield > 0 {
			a.idleYield = idleYield
		}
	}
}

// BaseAgent 通用执行核心：收件箱轮询、按消息类型分派、空闲时自主循环。
// 身份只由自身循环和强制停止路径修改，对外只暴露快照。
type BaseAgent struct {
	mu       sync.RWMutex
	identity types.AgentIdentity
	runState RunState
	session  uint64
	cancel   context.CancelFunc
	current  *types.Task

	knowledgeMu sync.RWMutex
	knowledge   map[string]any

	behavior     Behavior
	weights      decision.UtilityWeights
	hub          *collaboration.MessageHub
	mailbox      *collaboration.Mailbox
	framework    *decision.Framework
	pollInterval time.Duration
	idleYield    time.Duration

	metrics AgentMetrics
	logger  *zap.Logger
}

// NewBaseAgent 创建智能体。behavior 为 nil 时使用 NopBehavior。
func NewBaseAgent(cfg Config, behavior Behavior, logger *zap.Logger, opts ...Option) *BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if behavior == nil {
		behavior = NopBehavior{}
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Role == "" {
		cfg.Role = types.RoleWorker
	}
	if cfg.Expertise <= 0 {
		cfg.Expertise = types.DefaultExpertise
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.IdleYield <= 0 {
		cfg.IdleYield = DefaultIdleYield
	}
	if cfg.Weights.Sum() <= 0 {
		cfg.Weights = decision.DefaultWeights
	}

	a := &BaseAgent{
		identity: types.AgentIdentity{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Role:           cfg.Role,
			Status:         types.StatusIdle,
			Capabilities:   slices.Clone(cfg.Capabilities),
			ExpertiseScore: cfg.Expertise,
		},
		runState:     RunStateStopped,
		knowledge:    make(map[string]any),
		behavior:     behavior,
		weights:      cfg.Weights,
		pollInterval: cfg.PollInterval,
		idleYield:    cfg.IdleYield,
		metrics:      nopAgentMetrics{},
		logger: logger.With(
			zap.String("component", "agent"),
			zap.String("agent_id", cfg.ID),
			zap.String("agent_name", cfg.Name),
		),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID 返回智能体 ID
func (a *BaseAgent) ID() string { return a.identity.ID }

// Name 返回智能体名称
func (a *BaseAgent) Name() string { return a.identity.Name }

// Role 返回角色
func (a *BaseAgent) Role() types.AgentRole { return a.identity.Role }

// Expertise 返回专业度（默认投票权重）
func (a *BaseAgent) Expertise() float64 { return a.identity.ExpertiseScore }

// Capabilities 返回能力集合副本
func (a *BaseAgent) Capabilities() []string { return slices.Clone(a.identity.Capabilities) }

// Identity 返回身份快照
func (a *BaseAgent) Identity() types.AgentIdentity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity.Clone()
}

// Status 返回当前状态
func (a *BaseAgent) Status() types.AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity.Status
}

// RunState 返回循环状态
func (a *BaseAgent) RunState() RunState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runState
}

// IsRunning 循环是否运行中
func (a *BaseAgent) IsRunning() bool {
	return a.RunState() == RunStateRunning
}

// CurrentTask 返回最近一次接受的任务
func (a *BaseAgent) CurrentTask() *types.Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Framework 返回所连接的决策框架
func (a *BaseAgent) Framework() *decision.Framework {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.framework
}

// Connect 连接消息中心与决策框架：注册收件箱和效用权重
func (a *BaseAgent) Connect(hub *collaboration.MessageHub, framework *decision.Framework) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hub = hub
	a.framework = framework
	a.mailbox = hub.Register(a.identity.ID)
	if framework != nil {
		framework.RegisterAgentUtility(a.identity.ID, a.weights)
	}
}

// setStatus 按转换表修改状态，非法转换被忽略并返回 false
func (a *BaseAgent) setStatus(to types.AgentStatus) bool {
	a.mu.Lock()
	from := a.identity.Status
	if from == to {
		a.mu.Unlock()
		return true
	}
	if !CanTransition(from, to) {
		a.mu.Unlock()
		a.logger.Debug("status transition ignored", zap.Error(ErrInvalidTransition{From: from, To: to}))
		return false
	}
	a.identity.Status = to
	a.mu.Unlock()

	a.metrics.RecordStatusTransition(string(from), string(to))
	return true
}

// =============================================================================
// 🔄 执行循环
// =============================================================================

// Start 开启新会话：状态重置为 idle，广播 AGENT_REGISTER，然后阻塞在执行循环中，
// 直到 Stop、收到 EMERGENCY_HALT 或 ctx 取消。
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.hub == nil {
		a.mu.Unlock()
		return ErrAgentNotConnected
	}
	if a.runState == RunStateRunning {
		a.mu.Unlock()
		return ErrAgentRunning
	}
	if err := ctx.Err(); err != nil {
		a.mu.Unlock()
		return err
	}
	loopCtx, cancel := context.WithCancel(ctxkeys.WithAgentID(ctx, a.identity.ID))
	a.cancel = cancel
	a.runState = RunStateRunning
	a.session++
	session := a.session
	prev := a.identity.Status
	a.identity.Status = types.StatusIdle
	payload := a.identity.ToMap()
	hub, mailbox := a.hub, a.mailbox
	a.mu.Unlock()
	defer cancel()

	if prev != types.StatusIdle {
		a.metrics.RecordStatusTransition(string(prev), string(types.StatusIdle))
	}

	if err := hub.Broadcast(loopCtx, a.ID(), collaboration.NewMessage(collaboration.MessageTypeAgentRegister, payload)); err != nil {
		a.logger.Warn("failed to announce registration", zap.Error(err))
	}
	a.logger.Info("agent started")

	a.run(loopCtx, mailbox)

	a.mu.Lock()
	if a.session == session {
		a.runState = RunStateStopped
	}
	a.mu.Unlock()
	a.logger.Info("agent loop exited")
	return nil
}

func (a *BaseAgent) run(ctx context.Context, mailbox *collaboration.Mailbox) {
	for ctx.Err() == nil && a.IsRunning() {
		msg, err := mailbox.Receive(ctx, a.pollInterval)
		switch {
		case err == nil:
			if halted := a.handleMessage(ctx, msg); halted {
				return
			}
			continue
		case errors.Is(err, collaboration.ErrReceiveTimeout):
		default:
			// ctx 取消
			return
		}

		if a.Status() != types.StatusIdle {
			continue
		}
		_ = a.runHook(HookAutonomousCycle, func() error {
			return a.behavior.AutonomousCycle(ctx)
		})
		if !sleepCtx(ctx, a.idleYield) {
			return
		}
	}
}

// Stop 结束当前会话：状态置为 offline，取消循环，并在循环运行中时广播 AGENT_DEREGISTER
func (a *BaseAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	wasRunning := a.runState == RunStateRunning
	a.runState = RunStateStopped
	prev := a.identity.Status
	a.identity.Status = types.StatusOffline
	cancel := a.cancel
	hub := a.hub
	a.mu.Unlock()

	if prev != types.StatusOffline {
		a.metrics.RecordStatusTransition(string(prev), string(types.StatusOffline))
	}
	if cancel != nil {
		cancel()
	}
	if !wasRunning || hub == nil {
		return nil
	}

	msg := collaboration.NewMessage(collaboration.MessageTypeAgentDeregister, map[string]any{"agent_id": a.ID()})
	if err := hub.Broadcast(ctx, a.ID(), msg); err != nil && !errors.Is(err, collaboration.ErrHubStopped) {
		return fmt.Errorf("announce deregistration: %w", err)
	}
	a.logger.Info("agent stopped")
	return nil
}

// handleMessage 按类型分派，返回 true 表示循环应退出
func (a *BaseAgent) handleMessage(ctx context.Context, msg *collaboration.Message) bool {
	switch msg.Type {
	case collaboration.MessageTypeEmergencyHalt:
		a.logger.Warn("emergency halt received", zap.String("msg_id", msg.ID))
		if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("stop after halt failed", zap.Error(err))
		}
		return true
	case collaboration.MessageTypeTaskAssign:
		a.handleTaskAssign(ctx, msg)
	case collaboration.MessageTypeProposal:
		a.handleProposal(ctx, msg)
	case collaboration.MessageTypeStateUpdate:
		a.handleStateUpdate(msg)
	default:
		_ = a.runHook(HookOnMessage, func() error {
			return a.behavior.OnMessage(ctx, msg)
		})
	}
	return false
}

func (a *BaseAgent) handleTaskAssign(ctx context.Context, msg *collaboration.Message) {
	task, ok := types.TaskFromPayload(msg.Payload)
	if !ok {
		a.logger.Warn("task assignment without a task", zap.String("msg_id", msg.ID))
		a.reply(ctx, msg, collaboration.MessageTypeReject, "", map[string]any{"reason": "Invalid task payload"})
		return
	}
	topic := "task." + task.ID

	if missing := a.Identity().MissingCapabilities(task.RequiredCapabilities); len(missing) > 0 {
		a.logger.Info("rejecting task, missing capabilities",
			zap.String("task_id", task.ID),
			zap.Strings("missing", missing))
		a.reply(ctx, msg, collaboration.MessageTypeReject, topic, map[string]any{
			"reason":  RejectReasonMissingCapabilities,
			"task_id": task.ID,
			"missing": missing,
		})
		return
	}
	if err := task.SetStatus(types.TaskInProgress); err != nil {
		a.reply(ctx, msg, collaboration.MessageTypeReject, topic, map[string]any{
			"reason":  err.Error(),
			"task_id": task.ID,
		})
		return
	}

	a.mu.Lock()
	a.current = task
	a.mu.Unlock()
	a.setStatus(types.StatusBusy)

	err := a.runHook(HookExecuteTask, func() error {
		return a.behavior.ExecuteTask(ctx, task)
	})
	if !task.Status().IsTerminal() {
		if err != nil {
			_ = task.Complete(types.TaskFailed, map[string]any{"error": err.Error()})
		} else {
			_ = task.Complete(types.TaskCompleted, nil)
		}
	}
	a.setStatus(types.StatusIdle)

	replyType := collaboration.MessageTypeTaskComplete
	if task.Status() == types.TaskFailed {
		replyType = collaboration.MessageTypeTaskFailed
	}
	a.reply(ctx, msg, replyType, topic, map[string]any{
		"task_id": task.ID,
		"status":  string(task.Status()),
		"result":  task.Result(),
	})
}

func (a *BaseAgent) handleProposal(ctx context.Context, msg *collaboration.Message) {
	proposal, ok := decision.ProposalFromPayload(msg.Payload)
	if !ok {
		a.logger.Warn("proposal message without proposal id", zap.String("msg_id", msg.ID))
		return
	}

	var (
		vote      decision.VoteType
		option    int
		rationale string
	)
	err := a.runHook(HookEvaluateProposal, func() error {
		var hookErr error
		vote, option, rationale, hookErr = a.behavior.EvaluateProposal(ctx, proposal)
		return hookErr
	})
	if err != nil {
		vote, option, rationale = decision.VoteAbstain, 0, "error: "+err.Error()
	}

	a.reply(ctx, msg, collaboration.MessageTypeVote, collaboration.VoteTopic(proposal.ID), map[string]any{
		"proposal_id":     proposal.ID,
		"vote":            string(vote),
		"selected_option": option,
		"rationale":       rationale,
		"weight":          a.Expertise(),
	})
}

func (a *BaseAgent) handleStateUpdate(msg *collaboration.Message) {
	state, ok := msg.Payload["state"].(map[string]any)
	if !ok {
		return
	}
	a.knowledgeMu.Lock()
	maps.Copy(a.knowledge, state)
	a.knowledgeMu.Unlock()
}

// reply 回复消息的发送方；系统发出的消息回复到 SystemRecipient
func (a *BaseAgent) reply(ctx context.Context, to *collaboration.Message, msgType collaboration.MessageType, topic string, payload map[string]any) {
	recipient := to.SenderID
	if recipient == "" {
		recipient = collaboration.SystemRecipient
	}
	msg := collaboration.NewMessage(msgType, payload)
	msg.Topic = topic
	msg.CorrelationID = to.ID
	if err := a.messageHub().SendDirect(ctx, a.ID(), recipient, msg); err != nil {
		a.logger.Warn("failed to send reply",
			zap.String("type", string(msgType)),
			zap.String("to", recipient),
			zap.Error(err))
	}
}

// runHook 调用钩子并捕获错误与 panic，循环不会因此退出
func (a *BaseAgent) runHook(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", hook, r)
		}
		if err != nil {
			a.metrics.RecordHookFailure(hook)
			a.logger.Error("hook failed", zap.String("hook", hook), zap.Error(err))
		}
	}()
	return fn()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// =============================================================================
// 📚 本地知识与消息辅助
// =============================================================================

// UpdateKnowledge 更新本地知识
func (a *BaseAgent) UpdateKnowledge(key string, value any) {
	a.knowledgeMu.Lock()
	a.knowledge[key] = value
	a.knowledgeMu.Unlock()
}

// Knowledge 读取本地知识
func (a *BaseAgent) Knowledge(key string) (any, bool) {
	a.knowledgeMu.RLock()
	defer a.knowledgeMu.RUnlock()
	v, ok := a.knowledge[key]
	return v, ok
}

// KnowledgeSnapshot 返回本地知识副本
func (a *BaseAgent) KnowledgeSnapshot() map[string]any {
	a.knowledgeMu.RLock()
	defer a.knowledgeMu.RUnlock()
	return maps.Clone(a.knowledge)
}

// Send 向另一个智能体发送消息
func (a *BaseAgent) Send(ctx context.Context, recipientID string, msgType collaboration.MessageType, payload map[string]any) error {
	hub := a.messageHub()
	if hub == nil {
		return ErrAgentNotConnected
	}
	return hub.SendDirect(ctx, a.ID(), recipientID, collaboration.NewMessage(msgType, payload))
}

// Broadcast 向所有其他智能体广播
func (a *BaseAgent) Broadcast(ctx context.Context, msgType collaboration.MessageType, payload map[string]any) error {
	hub := a.messageHub()
	if hub == nil {
		return ErrAgentNotConnected
	}
	return hub.Broadcast(ctx, a.ID(), collaboration.NewMessage(msgType, payload))
}

func (a *BaseAgent) messageHub() *collaboration.MessageHub {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hub
}
