package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🏥 存活与就绪
// =============================================================================

// defaultPingTimeout 知识库 Ping 时限
const defaultPingTimeout = 3 * time.Second

// EngineReporter 就绪检查读取的引擎状态，*agent.Engine 满足该接口
type EngineReporter interface {
	IsRunning() bool
	IsHalted() bool
	Status() agent.Status
}

// Pinger 可探测连通性的依赖，knowledge.Store 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus 存活响应
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Readiness 就绪响应。引擎未运行、已紧急停止或知识库不可达时 Ready 为 false。
type Readiness struct {
	Ready     bool            `json:"ready"`
	Timestamp time.Time       `json:"timestamp"`
	Engine    *EngineState    `json:"engine,omitempty"`
	Knowledge *KnowledgeState `json:"knowledge,omitempty"`
}

// EngineState 就绪响应中的引擎部分
type EngineState struct {
	Running bool   `json:"running"`
	Halted  bool   `json:"halted"`
	Agents  int    `json:"agents"`
	Offline int    `json:"offline"`
	Reason  string `json:"reason,omitempty"`
}

// KnowledgeState 就绪响应中的知识库部分
type KnowledgeState struct {
	Reachable bool   `json:"reachable"`
	Latency   string `json:"latency"`
	Error     string `json:"error,omitempty"`
}

// HealthHandler 存活、就绪与版本端点
type HealthHandler struct {
	engine  EngineReporter
	store   Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// HealthOption 健康处理器选项
type HealthOption func(*HealthHandler)

// WithEngine 就绪检查纳入引擎状态
func WithEngine(engine EngineReporter) HealthOption {
	return func(h *HealthHandler) { h.engine = engine }
}

// WithStorePing 就绪检查纳入知识库连通性
func WithStorePing(store Pinger) HealthOption {
	return func(h *HealthHandler) { h.store = store }
}

// WithPingTimeout 设置知识库 Ping 时限
func WithPingTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHealthHandler 创建健康处理器
func NewHealthHandler(logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthHandler{
		timeout: defaultPingTimeout,
		logger:  logger.With(zap.String("component", "health")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth 处理 /health 与 /healthz，只说明进程在运行
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 处理 /ready 与 /readyz，未就绪返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	resp := h.readiness(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) readiness(ctx context.Context) Readiness {
	resp := Readiness{Ready: true, Timestamp: time.Now()}

	if h.engine != nil {
		st := h.engine.Status()
		es := &EngineState{
			Running: h.engine.IsRunning(),
			Halted:  h.engine.IsHalted(),
			Agents:  st.TotalAgents,
			Offline: st.AgentsByStatus[string(types.StatusOffline)],
		}
		switch {
		case es.Halted:
			es.Reason = "emergency halt"
		case !es.Running:
			es.Reason = "engine not running"
		}
		if es.Reason != "" {
			resp.Ready = false
			h.logger.Warn("engine not ready", zap.String("reason", es.Reason))
		}
		resp.Engine = es
	}

	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		start := time.Now()
		err := h.store.Ping(pingCtx)
		cancel()
		ks := &KnowledgeState{Reachable: err == nil, Latency: time.Since(start).String()}
		if err != nil {
			ks.Error = err.Error()
			resp.Ready = false
			h.logger.Warn("knowledge store unreachable", zap.Error(err))
		}
		resp.Knowledge = ks
	}
	return resp
}

// HandleVersion 处理 /version
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}
