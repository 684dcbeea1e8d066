package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/knowledge"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🏛️ 编排引擎 Handler
// =============================================================================

// Council 处理器依赖的引擎能力，*agent.Engine 满足该接口
type Council interface {
	Start(ctx context.Context) error
	StartAllAgents() error
	Status() agent.Status
	IsHalted() bool
	Agents() []*agent.BaseAgent
	Agent(agentID string) (*agent.BaseAgent, bool)
	AssignTask(ctx context.Context, task *types.Task, targetID string) bool
	RunCollaborativeDecision(ctx context.Context, req agent.DecisionRequest) (*agent.DecisionResult, error)
	PublishState(ctx context.Context, state map[string]any, source string) error
	EmergencyHalt(ctx context.Context, reason string) error
	MessageLog(limit int) []*collaboration.Message
	Decisions() []*types.Decision
	Hub() *collaboration.MessageHub
}

// StreamMetrics 消息流连接数指标
type StreamMetrics interface {
	StreamClientConnected()
	StreamClientDisconnected()
}

type nopStreamMetrics struct{}

func (nopStreamMetrics) StreamClientConnected()    {}
func (nopStreamMetrics) StreamClientDisconnected() {}

const (
	// defaultMessageLimit GET /api/v1/messages 缺省条数
	defaultMessageLimit = 100
	// streamBuffer 单个流客户端的待发送队列，满时丢弃
	streamBuffer = 256
	// streamWriteTimeout 单条消息写出时限
	streamWriteTimeout = 5 * time.Second
)

// CouncilHandler 引擎状态、任务、决策、停止与消息流端点
type CouncilHandler struct {
	council   Council
	knowledge knowledge.Store
	metrics   StreamMetrics
	logger    *zap.Logger
}

// CouncilOption 配置 CouncilHandler
type CouncilOption func(*CouncilHandler)

// WithKnowledgeStore 启用 /api/v1/knowledge 端点
func WithKnowledgeStore(store knowledge.Store) CouncilOption {
	return func(h *CouncilHandler) { h.knowledge = store }
}

// WithStreamMetrics 记录消息流连接数
func WithStreamMetrics(m StreamMetrics) CouncilOption {
	return func(h *CouncilHandler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewCouncilHandler 创建处理器
func NewCouncilHandler(council Council, logger *zap.Logger, opts ...CouncilOption) *CouncilHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &CouncilHandler{
		council: council,
		metrics: nopStreamMetrics{},
		logger:  logger.With(zap.String("component", "council_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 把全部路由挂到 mux 上
func (h *CouncilHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", h.HandleStatus)
	mux.HandleFunc("GET /api/v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.HandleGetAgent)
	mux.HandleFunc("POST /api/v1/tasks", h.HandleAssignTask)
	mux.HandleFunc("GET /api/v1/decisions", h.HandleListDecisions)
	mux.HandleFunc("POST /api/v1/decisions", h.HandleDecide)
	mux.HandleFunc("POST /api/v1/state", h.HandlePublishState)
	mux.HandleFunc("POST /api/v1/halt", h.HandleHalt)
	mux.HandleFunc("POST /api/v1/resume", h.HandleResume)
	mux.HandleFunc("GET /api/v1/messages", h.HandleMessages)
	mux.HandleFunc("GET /api/v1/messages/stream", h.HandleStream)
	if h.knowledge != nil {
		mux.HandleFunc("GET /api/v1/knowledge/world", h.HandleWorldState)
		mux.HandleFunc("GET /api/v1/knowledge/decisions", h.HandleKnowledgeDecisions)
		mux.HandleFunc("GET /api/v1/knowledge/agents", h.HandleAgentStates)
	}
}

// =============================================================================
// 📋 查询
// =============================================================================

// AgentView 智能体对外视图
type AgentView struct {
	types.AgentIdentity
	Running     bool   `json:"running"`
	CurrentTask string `json:"current_task,omitempty"`
}

func viewOf(a *agent.BaseAgent) AgentView {
	v := AgentView{AgentIdentity: a.Identity(), Running: a.IsRunning()}
	if t := a.CurrentTask(); t != nil {
		v.CurrentTask = t.ID
	}
	return v
}

// HandleStatus GET /api/v1/status
func (h *CouncilHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.council.Status())
}

// HandleListAgents GET /api/v1/agents
func (h *CouncilHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.council.Agents()
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, viewOf(a))
	}
	WriteSuccess(w, views)
}

// HandleGetAgent GET /api/v1/agents/{id}
func (h *CouncilHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.council.Agent(r.PathValue("id"))
	if !ok {
		WriteError(w, agent.ErrAgentNotFound, h.logger)
		return
	}
	WriteSuccess(w, viewOf(a))
}

// HandleMessages GET /api/v1/messages?limit=N，limit=0 返回全部审计消息
func (h *CouncilHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultMessageLimit)
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.council.MessageLog(limit))
}

// HandleListDecisions GET /api/v1/decisions
func (h *CouncilHandler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.council.Decisions())
}

// =============================================================================
// 📦 任务与决策
// =============================================================================

// TaskRequest POST /api/v1/tasks 请求体
type TaskRequest struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	Priority             *int           `json:"priority,omitempty"`
	Constraints          map[string]any `json:"constraints,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	TargetAgent          string         `json:"target_agent,omitempty"`
}

// TaskResponse 分配结果
type TaskResponse struct {
	Task       *types.Task `json:"task"`
	AssignedTo []string    `json:"assigned_to"`
}

// HandleAssignTask POST /api/v1/tasks：分配成功返回 202，执行结果经消息流观察
func (h *CouncilHandler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteError(w, types.NewValidationError(types.ErrInvalidRequest, "task name is required"), h.logger)
		return
	}

	task := types.NewTask(req.Name, req.RequiredCapabilities...)
	task.Description = req.Description
	task.Deadline = req.Deadline
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	for k, v := range req.Constraints {
		task.Constraints[k] = v
	}

	if !h.council.AssignTask(r.Context(), task, req.TargetAgent) {
		switch {
		case h.council.IsHalted():
			WriteError(w, agent.ErrEngineHalted, h.logger)
		case req.TargetAgent != "":
			WriteError(w, agent.ErrAgentNotFound, h.logger)
		default:
			WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrCapabilityMismatch,
				"no idle agent has the required capabilities", h.logger)
		}
		return
	}
	WriteSuccessStatus(w, http.StatusAccepted, TaskResponse{Task: task, AssignedTo: task.AssignedAgents()})
}

// HandleDecide POST /api/v1/decisions：同步运行一轮协作决策
func (h *CouncilHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req agent.DecisionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	result, err := h.council.RunCollaborativeDecision(r.Context(), req)
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// StateRequest POST /api/v1/state 请求体
type StateRequest struct {
	State  map[string]any `json:"state"`
	Source string         `json:"source,omitempty"`
}

// HandlePublishState POST /api/v1/state
func (h *CouncilHandler) HandlePublishState(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.State) == 0 {
		WriteError(w, types.NewValidationError(types.ErrInvalidRequest, "state must not be empty"), h.logger)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	if err := h.council.PublishState(r.Context(), req.State, req.Source); err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"keys": len(req.State), "source": req.Source})
}

// =============================================================================
// 🛑 紧急停止
// =============================================================================

// HaltRequest POST /api/v1/halt 请求体
type HaltRequest struct {
	Reason string `json:"reason"`
}

// HandleHalt POST /api/v1/halt：阻塞直到全部智能体停止或宽限期结束
func (h *CouncilHandler) HandleHalt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	if err := h.council.EmergencyHalt(r.Context(), req.Reason); err != nil {
		h.logger.Warn("emergency halt finished with error", zap.Error(err))
	}
	WriteSuccess(w, h.council.Status())
}

// HandleResume POST /api/v1/resume：重新启动引擎与全部智能体
func (h *CouncilHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.council.Start(r.Context()); err != nil {
		writeErr(w, err, h.logger)
		return
	}
	if err := h.council.StartAllAgents(); err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.council.Status())
}

// =============================================================================
// 📡 消息流
// =============================================================================

// HandleStream GET /api/v1/messages/stream：把每条发布的消息以 JSON 文本帧推给客户端。
// 客户端读得慢时丢弃多出的消息，不阻塞消息中心。
func (h *CouncilHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	h.metrics.StreamClientConnected()
	defer h.metrics.StreamClientDisconnected()

	ctx := conn.CloseRead(r.Context())

	queue := make(chan *collaboration.Message, streamBuffer)
	hub := h.council.Hub()
	observerID := hub.Observe(func(msg *collaboration.Message) {
		select {
		case queue <- msg:
		default:
		}
	})
	defer hub.RemoveObserver(observerID)

	h.logger.Debug("stream client connected", zap.String("remote_addr", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-queue:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("stream write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// =============================================================================
// 🧠 知识库
// =============================================================================

// WorldStateResponse 世界状态查询结果
type WorldStateResponse struct {
	Version int64             `json:"version"`
	Entries []knowledge.Entry `json:"entries"`
}

// HandleWorldState GET /api/v1/knowledge/world?prefix=
func (h *CouncilHandler) HandleWorldState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.knowledge.Query(ctx, r.URL.Query().Get("prefix"))
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	version, err := h.knowledge.Version(ctx)
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, WorldStateResponse{Version: version, Entries: entries})
}

// HandleKnowledgeDecisions GET /api/v1/knowledge/decisions?limit=&task_id=
func (h *CouncilHandler) HandleKnowledgeDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	decisions, err := h.knowledge.DecisionLog(r.Context(), limit, r.URL.Query().Get("task_id"))
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, decisions)
}

// HandleAgentStates GET /api/v1/knowledge/agents
func (h *CouncilHandler) HandleAgentStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.knowledge.AllAgentStates(r.Context())
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, states)
}
