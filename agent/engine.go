package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/decision"
	"github.com/BaSui01/agentcouncil/types"
)

const instrumentationName = "github.com/BaSui01/agentcouncil/agent"

// DefaultHaltGracePeriod 紧急停止时等待循环自行退出的时间
const DefaultHaltGracePeriod = 2 * time.Second

// 任务分配结果（指标标签）
const (
	AssignResultAssigned    = "assigned"
	AssignResultNoCandidate = "no_candidate"
	AssignResultUnknown     = "unknown_target"
	AssignResultHalted      = "halted"
)

// KnowledgeSink 共享知识库中引擎需要的部分
type KnowledgeSink interface {
	decision.DecisionSink
	UpdateWorldState(ctx context.Context, key string, value any, source string) error
	UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error
}

// EngineMetrics 引擎指标钩子。实现若同时满足 collaboration.HubMetrics
// 或 decision.ConsensusMetrics，也会接入消息中心和共识管理器。
type EngineMetrics interface {
	RecordTaskAssignment(result string)
	RecordDecision(passed bool)
	SetRegisteredAgents(n int)
}

type nopEngineMetrics struct{}

func (nopEngineMetrics) RecordTaskAssignment(string) {}
func (nopEngineMetrics) RecordDecision(bool)         {}
func (nopEngineMetrics) SetRegisteredAgents(int)     {}

// EngineConfig 引擎参数
type EngineConfig struct {
	MailboxSize      int
	AuditLimit       int
	VoteTimeout      time.Duration
	DefaultThreshold float64
	HaltGracePeriod  time.Duration
}

// DefaultEngineConfig 返回默认引擎参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MailboxSize:      collaboration.DefaultMailboxSize,
		AuditLimit:       collaboration.DefaultAuditLimit,
		VoteTimeout:      decision.DefaultVoteTimeout,
		DefaultThreshold: decision.DefaultThreshold,
		HaltGracePeriod:  DefaultHaltGracePeriod,
	}
}

// EngineOption 引擎选项
type EngineOption func(*engineOptions)

type engineOptions struct {
	knowledge KnowledgeSink
	metrics   EngineMetrics
}

// WithKnowledgeSink 设置共享知识库
func WithKnowledgeSink(sink KnowledgeSink) EngineOption {
	return func(o *engineOptions) { o.knowledge = sink }
}

// WithEngineMetrics 设置指标钩子
func WithEngineMetrics(metrics EngineMetrics) EngineOption {
	return func(o *engineOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

type agentLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine 编排引擎：智能体注册表、执行循环生命周期、任务分配、协作决策和紧急停止。
// 消息中心、共识管理器和决策框架都由引擎持有。
type Engine struct {
	mu     sync.RWMutex
	agents map[string]*BaseAgent
	order  []string
	loops  map[string]*agentLoop

	rootCtx    context.Context
	rootCancel context.CancelFunc

	running    atomic.Bool
	killSwitch atomic.Bool

	hub       *collaboration.MessageHub
	consensus *decision.ConsensusManager
	framework *decision.Framework
	knowledge KnowledgeSink

	cfg     EngineConfig
	metrics EngineMetrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewEngine 创建编排引擎
func NewEngine(cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HaltGracePeriod <= 0 {
		cfg.HaltGracePeriod = DefaultHaltGracePeriod
	}
	o := engineOptions{metrics: nopEngineMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	hubOpts := []collaboration.HubOption{
		collaboration.WithMailboxSize(cfg.MailboxSize),
	}
	if cfg.AuditLimit != 0 {
		hubOpts = append(hubOpts, collaboration.WithAuditLimit(cfg.AuditLimit))
	}
	if hm, ok := o.metrics.(collaboration.HubMetrics); ok {
		hubOpts = append(hubOpts, collaboration.WithHubMetrics(hm))
	}

	var consensusOpts []decision.ConsensusOption
	if o.knowledge != nil {
		consensusOpts = append(consensusOpts, decision.WithDecisionSink(o.knowledge))
	}
	if cm, ok := o.metrics.(decision.ConsensusMetrics); ok {
		consensusOpts = append(consensusOpts, decision.WithConsensusMetrics(cm))
	}

	consensus := decision.NewConsensusManager(decision.ConsensusConfig{
		DefaultThreshold: cfg.DefaultThreshold,
		VoteTimeout:      cfg.VoteTimeout,
	}, logger, consensusOpts...)

	return &Engine{
		agents:    make(map[string]*BaseAgent),
		loops:     make(map[string]*agentLoop),
		hub:       collaboration.NewMessageHub(logger, hubOpts...),
		consensus: consensus,
		framework: decision.NewFramework(consensus, logger),
		knowledge: o.knowledge,
		cfg:       cfg,
		metrics:   o.metrics,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "engine")),
	}
}

// Hub 返回消息中心
func (e *Engine) Hub() *collaboration.MessageHub { return e.hub }

// Framework 返回决策框架
func (e *Engine) Framework() *decision.Framework { return e.framework }

// Consensus 返回共识管理器
func (e *Engine) Consensus() *decision.ConsensusManager { return e.consensus }

// IsRunning 引擎是否运行中
func (e *Engine) IsRunning() bool { return e.running.Load() }

// IsHalted 是否已触发紧急停止
func (e *Engine) IsHalted() bool { return e.killSwitch.Load() }

// =============================================================================
// 📋 注册表
// =============================================================================

// RegisterAgent 注册智能体并连接消息中心与决策框架
func (e *Engine) RegisterAgent(a *BaseAgent) error {
	if a == nil {
		return types.NewValidationError(types.ErrInvalidRequest, "agent is nil")
	}
	e.mu.Lock()
	if _, exists := e.agents[a.ID()]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	e.agents[a.ID()] = a
	e.order = append(e.order, a.ID())
	n := len(e.agents)
	e.mu.Unlock()

	a.Connect(e.hub, e.framework)
	e.metrics.SetRegisteredAgents(n)
	e.logger.Info("agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("name", a.Name()),
		zap.String("role", string(a.Role())))
	return nil
}

// DeregisterAgent 停止并移除智能体，收件箱随之注销
func (e *Engine) DeregisterAgent(ctx context.Context, agentID string) bool {
	e.mu.Lock()
	a, ok := e.agents[agentID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.agents, agentID)
	e.order = slices.DeleteFunc(e.order, func(id string) bool { return id == agentID })
	loop := e.loops[agentID]
	delete(e.loops, agentID)
	n := len(e.agents)
	e.mu.Unlock()

	if err := a.Stop(ctx); err != nil {
		e.logger.Warn("stop during deregistration failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	if loop != nil {
		loop.cancel()
	}
	e.hub.Deregister(agentID)
	e.metrics.SetRegisteredAgents(n)
	e.logger.Info("agent deregistered", zap.String("agent_id", agentID))
	return true
}

// Agent 按 ID 查找智能体
func (e *Engine) Agent(agentID string) (*BaseAgent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[agentID]
	return a, ok
}

// Agents 按注册顺序返回全部智能体
func (e *Engine) Agents() []*BaseAgent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*BaseAgent, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.agents[id])
	}
	return out
}

func (e *Engine) filterAgents(keep func(*BaseAgent) bool) []*BaseAgent {
	var out []*BaseAgent
	for _, a := range e.Agents() {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// AgentsByRole 按角色筛选
func (e *Engine) AgentsByRole(role types.AgentRole) []*BaseAgent {
	return e.filterAgents(func(a *BaseAgent) bool { return a.Role() == role })
}

// IdleAgents 当前空闲的智能体
func (e *Engine) IdleAgents() []*BaseAgent {
	return e.filterAgents(func(a *BaseAgent) bool { return a.Status() == types.StatusIdle })
}

// AgentsWithCapability 具备指定能力的智能体
func (e *Engine) AgentsWithCapability(capability string) []*BaseAgent {
	return e.filterAgents(func(a *BaseAgent) bool { return slices.Contains(a.Capabilities(), capability) })
}

// =============================================================================
// 🔄 生命周期
// =============================================================================

// Start 启动引擎。执行循环派生自 ctx 的无取消副本，由 Stop 统一结束。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return nil
	}
	e.rootCtx, e.rootCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.killSwitch.Store(false)
	e.hub.Start()
	e.running.Store(true)
	e.logger.Info("engine started", zap.Int("agents", len(e.agents)))
	return nil
}

// StartAgent 在独立 goroutine 中启动单个智能体的执行循环
func (e *Engine) StartAgent(agentID string) error {
	if e.killSwitch.Load() {
		return ErrEngineHalted
	}
	if !e.running.Load() {
		return ErrEngineNotRunning
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if loop, ok := e.loops[agentID]; ok {
		select {
		case <-loop.done:
		default:
			return nil
		}
	}

	loopCtx, cancel := context.WithCancel(e.rootCtx)
	loop := &agentLoop{cancel: cancel, done: make(chan struct{})}
	e.loops[agentID] = loop
	go func() {
		defer close(loop.done)
		defer cancel()
		if err := a.Start(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("agent loop did not start", zap.String("agent_id", agentID), zap.Error(err))
		}
	}()
	return nil
}

// StartAllAgents 启动所有已注册智能体
func (e *Engine) StartAllAgents() error {
	var errs []error
	for _, a := range e.Agents() {
		if err := e.StartAgent(a.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop 停止全部智能体，等待循环退出，把身份快照写入知识库，然后停止消息中心。
// ctx 到期时不再等待剩余循环，其余清理照常进行。
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	loops := e.loops
	e.loops = make(map[string]*agentLoop)
	rootCancel := e.rootCancel
	e.mu.Unlock()

	// 先取消循环上下文，尚未调度的 Start 会直接返回
	for _, loop := range loops {
		loop.cancel()
	}

	agents := e.Agents()
	for _, a := range agents {
		if err := a.Stop(ctx); err != nil {
			e.logger.Warn("agent stop failed", zap.String("agent_id", a.ID()), zap.Error(err))
		}
	}

	var waitErr error
	for id, loop := range loops {
		if waitErr == nil {
			select {
			case <-loop.done:
				continue
			case <-ctx.Done():
				waitErr = fmt.Errorf("waiting for agent loops: %w", ctx.Err())
			}
		}
		select {
		case <-loop.done:
		default:
			e.logger.Warn("agent loop abandoned", zap.String("agent_id", id))
		}
	}

	persistCtx := context.WithoutCancel(ctx)
	for _, a := range agents {
		if n := e.hub.Drain(a.ID()); n > 0 {
			e.logger.Debug("discarded queued messages", zap.String("agent_id", a.ID()), zap.Int("count", n))
		}
		e.persistIdentity(persistCtx, a)
	}

	e.hub.Stop()
	if rootCancel != nil {
		rootCancel()
	}
	e.running.Store(false)
	e.logger.Info("engine stopped")
	return waitErr
}

func (e *Engine) persistIdentity(ctx context.Context, a *BaseAgent) {
	if e.knowledge == nil {
		return
	}
	if err := e.knowledge.UpdateAgentState(ctx, a.ID(), a.Identity().ToMap()); err != nil {
		e.logger.Warn("failed to persist agent state", zap.String("agent_id", a.ID()), zap.Error(err))
	}
}

// EmergencyHalt 置位停止开关，广播 EMERGENCY_HALT，宽限期后强制停止
func (e *Engine) EmergencyHalt(ctx context.Context, reason string) error {
	e.killSwitch.Store(true)
	e.logger.Warn("emergency halt", zap.String("reason", reason))

	halt := collaboration.NewMessage(collaboration.MessageTypeEmergencyHalt, map[string]any{"reason": reason})
	if err := e.hub.Broadcast(ctx, "", halt); err != nil {
		e.logger.Warn("halt broadcast failed", zap.Error(err))
	}

	e.mu.RLock()
	loops := make([]*agentLoop, 0, len(e.loops))
	for _, loop := range e.loops {
		loops = append(loops, loop)
	}
	e.mu.RUnlock()

	grace := time.NewTimer(e.cfg.HaltGracePeriod)
	defer grace.Stop()
wait:
	for _, loop := range loops {
		select {
		case <-loop.done:
		case <-grace.C:
			e.logger.Warn("halt grace period elapsed, forcing stop")
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	// 强制停止同样受宽限期约束，忽略 ctx 的任务不会阻塞停止
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.HaltGracePeriod)
	defer cancel()
	if err := e.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// =============================================================================
// 📦 任务分配
// =============================================================================

// AssignTask 把任务分配给指定智能体，或自动挑选专业度最高的空闲且能力匹配者
// （平局取注册顺序靠前者）。发送 TASK_ASSIGN 后立即返回，不等待执行结果。
func (e *Engine) AssignTask(ctx context.Context, task *types.Task, targetID string) bool {
	if task == nil {
		return false
	}
	if e.killSwitch.Load() {
		e.metrics.RecordTaskAssignment(AssignResultHalted)
		return false
	}

	var target *BaseAgent
	if targetID != "" {
		a, ok := e.Agent(targetID)
		if !ok {
			e.logger.Warn("task target not registered", zap.String("task_id", task.ID), zap.String("target", targetID))
			e.metrics.RecordTaskAssignment(AssignResultUnknown)
			return false
		}
		target = a
	} else {
		target = e.selectAssignee(task)
		if target == nil {
			e.logger.Info("no idle agent can take task",
				zap.String("task_id", task.ID),
				zap.Strings("required", task.RequiredCapabilities))
			e.metrics.RecordTaskAssignment(AssignResultNoCandidate)
			return false
		}
	}

	task.Assign(target.ID())
	msg := collaboration.NewMessage(collaboration.MessageTypeTaskAssign, map[string]any{"task": task})
	msg.Topic = "task." + task.ID
	if err := e.hub.SendDirect(ctx, "", target.ID(), msg); err != nil {
		e.logger.Warn("task assignment not delivered", zap.String("task_id", task.ID), zap.Error(err))
	}
	e.metrics.RecordTaskAssignment(AssignResultAssigned)
	e.logger.Info("task assigned", zap.String("task_id", task.ID), zap.String("agent_id", target.ID()))
	return true
}

func (e *Engine) selectAssignee(task *types.Task) *BaseAgent {
	var best *BaseAgent
	for _, a := range e.IdleAgents() {
		if len(a.Identity().MissingCapabilities(task.RequiredCapabilities)) > 0 {
			continue
		}
		if best == nil || a.Expertise() > best.Expertise() {
			best = a
		}
	}
	return best
}

// =============================================================================
// 🗳️ 协作决策
// =============================================================================

// DecisionRequest 协作决策请求
type DecisionRequest struct {
	Description        string           `json:"description"`
	Options            []map[string]any `json:"options"`
	VoterRole          types.AgentRole  `json:"voter_role,omitempty"`
	RequiredCapability string           `json:"required_capability,omitempty"`
	Threshold          *float64         `json:"threshold,omitempty"`
	TaskID             string           `json:"task_id,omitempty"`
	Deadline           *time.Time       `json:"deadline,omitempty"`
}

// DecisionResult 协作决策结果
type DecisionResult struct {
	ProposalID    string          `json:"proposal_id,omitempty"`
	Passed        bool            `json:"passed"`
	WinningOption int             `json:"winning_option"`
	Tally         decision.Tally  `json:"tally"`
	Decision      *types.Decision `json:"decision,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// RunCollaborativeDecision 以消息往返完成一轮表决：提案人广播 PROPOSAL，
// 各投票者在自己的循环中评估并回复 VOTE，超时未回复者记为弃权。
func (e *Engine) RunCollaborativeDecision(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	if e.killSwitch.Load() {
		return nil, ErrEngineHalted
	}

	voters := e.filterAgents(func(a *BaseAgent) bool {
		if req.VoterRole != "" && a.Role() != req.VoterRole {
			return false
		}
		return req.RequiredCapability == "" || slices.Contains(a.Capabilities(), req.RequiredCapability)
	})
	if len(voters) == 0 {
		return &DecisionResult{WinningOption: -1, Error: ErrNoEligibleVoters.Message}, ErrNoEligibleVoters
	}

	proposer := voters[0]
	if leaders := e.AgentsByRole(types.RoleLeader); len(leaders) > 0 {
		proposer = leaders[0]
	}

	var popts []decision.ProposalOption
	if req.Threshold != nil {
		popts = append(popts, decision.WithThreshold(*req.Threshold))
	}
	if req.TaskID != "" {
		popts = append(popts, decision.WithTaskID(req.TaskID))
	}
	if req.Deadline != nil {
		popts = append(popts, decision.WithDeadline(*req.Deadline))
	}
	proposal, err := e.consensus.CreateProposal(proposer.ID(), req.Description, req.Options, popts...)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "engine.collaborative_decision",
		trace.WithAttributes(
			attribute.String("proposal.id", proposal.ID),
			attribute.String("proposer.id", proposer.ID()),
			attribute.Int("voters", len(voters)),
		))
	defer span.End()

	collector := newVoteCollector(proposal.ID)
	subID := e.hub.Subscribe(collaboration.VoteTopic(proposal.ID), collector.handle)
	defer e.hub.Unsubscribe(subID)

	e.publishProposal(ctx, proposal, proposer, voters)

	roster := make([]decision.Voter, 0, len(voters))
	for _, v := range voters {
		roster = append(roster, decision.Voter{ID: v.ID(), Weight: v.Expertise()})
	}
	d, err := e.consensus.RunVotingRound(ctx, proposal, roster, collector.wait)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tally, _ := e.consensus.Tally(proposal.ID)
	result := &DecisionResult{
		ProposalID:    proposal.ID,
		Passed:        tally.WouldPass,
		WinningOption: tally.WinningOption,
		Tally:         tally,
		Decision:      d,
	}
	e.metrics.RecordDecision(result.Passed)
	span.SetAttributes(attribute.Bool("passed", result.Passed), attribute.Int("winning_option", result.WinningOption))
	e.logger.Info("collaborative decision finished",
		zap.String("proposal_id", proposal.ID),
		zap.Bool("passed", result.Passed),
		zap.Int("winning_option", result.WinningOption),
		zap.Float64("yes_ratio", tally.YesRatio))
	return result, nil
}

// publishProposal 由提案人广播；广播不回送发送方，提案人若也投票则再单独投递一份
func (e *Engine) publishProposal(ctx context.Context, proposal *decision.Proposal, proposer *BaseAgent, voters []*BaseAgent) {
	topic := collaboration.ProposalTopic(proposal.ID)

	msg := collaboration.NewMessage(collaboration.MessageTypeProposal, proposal.ToMap())
	msg.Topic = topic
	if err := e.hub.Broadcast(ctx, proposer.ID(), msg); err != nil {
		e.logger.Warn("proposal broadcast failed", zap.String("proposal_id", proposal.ID), zap.Error(err))
	}

	if !slices.Contains(voters, proposer) {
		return
	}
	self := collaboration.NewMessage(collaboration.MessageTypeProposal, proposal.ToMap())
	self.Topic = topic
	if err := e.hub.SendDirect(ctx, proposer.ID(), proposer.ID(), self); err != nil {
		e.logger.Warn("proposal self-delivery failed", zap.String("proposal_id", proposal.ID), zap.Error(err))
	}
}

// =============================================================================
// 🌐 共享状态与观测
// =============================================================================

// PublishState 写入共享世界状态并广播 STATE_UPDATE
func (e *Engine) PublishState(ctx context.Context, state map[string]any, source string) error {
	if e.knowledge != nil {
		for k, v := range state {
			if err := e.knowledge.UpdateWorldState(ctx, k, v, source); err != nil {
				return fmt.Errorf("update world state %q: %w", k, err)
			}
		}
	}
	return e.hub.Broadcast(ctx, "", collaboration.NewMessage(collaboration.MessageTypeStateUpdate, map[string]any{
		"state":  state,
		"source": source,
	}))
}

// MessageLog 返回最近 limit 条审计消息，<= 0 返回全部
func (e *Engine) MessageLog(limit int) []*collaboration.Message {
	return e.hub.MessageLog(limit)
}

// Decisions 返回已记录的决策
func (e *Engine) Decisions() []*types.Decision {
	return e.consensus.DecisionLog()
}

// Status 引擎状态快照
type Status struct {
	Running          bool           `json:"running"`
	KillSwitch       bool           `json:"kill_switch"`
	TotalAgents      int            `json:"total_agents"`
	AgentsByRole     map[string]int `json:"agents_by_role"`
	AgentsByStatus   map[string]int `json:"agents_by_status"`
	MessageBusAgents int            `json:"message_bus_agents"`
	DecisionsMade    int            `json:"decisions_made"`
}

// Status 返回当前状态快照
func (e *Engine) Status() Status {
	s := Status{
		Running:          e.running.Load(),
		KillSwitch:       e.killSwitch.Load(),
		AgentsByRole:     make(map[string]int),
		AgentsByStatus:   make(map[string]int),
		MessageBusAgents: e.hub.AgentCount(),
		DecisionsMade:    e.consensus.DecisionCount(),
	}
	for _, role := range []types.AgentRole{types.RoleLeader, types.RoleWorker, types.RoleObserver} {
		s.AgentsByRole[string(role)] = 0
	}
	for _, st := range []types.AgentStatus{types.StatusIdle, types.StatusBusy, types.StatusOffline} {
		s.AgentsByStatus[string(st)] = 0
	}
	for _, a := range e.Agents() {
		s.TotalAgents++
		s.AgentsByRole[string(a.Role())]++
		s.AgentsByStatus[string(a.Status())]++
	}
	return s
}
