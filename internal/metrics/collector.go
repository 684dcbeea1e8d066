// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时满足消息中心、智能体、共识与引擎的指标钩子接口
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	streamClients       prometheus.Gauge

	// 消息中心指标
	messagesPublished *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec

	// 智能体指标
	hookFailures          *prometheus.CounterVec
	agentStateTransitions *prometheus.CounterVec

	// 共识指标
	votesTotal          *prometheus.CounterVec
	voteTimeouts        prometheus.Counter
	votingRoundDuration *prometheus.HistogramVec

	// 引擎指标
	taskAssignments  *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec
	registeredAgents prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 创建指标收集器并注册到指定 Registerer
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.streamClients = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "message_stream_clients",
		Help:      "Number of connected message stream websocket clients",
	})

	// 消息中心指标
	c.messagesPublished = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages accepted by the hub",
		},
		[]string{"type"},
	)
	c.messagesDropped = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages that reached no mailbox",
		},
		[]string{"reason"},
	)

	// 智能体指标
	c.hookFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_hook_failures_total",
			Help:      "Total number of behavior hook errors and panics",
		},
		[]string{"hook"},
	)
	c.agentStateTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent status transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// 共识指标
	c.votesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of votes recorded",
		},
		[]string{"vote"},
	)
	c.voteTimeouts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vote_timeouts_total",
		Help:      "Total number of voters that did not answer in time",
	})
	c.votingRoundDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voting_round_duration_seconds",
			Help:      "Voting round duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)

	// 引擎指标
	c.taskAssignments = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_assignments_total",
			Help:      "Total number of task assignment attempts",
		},
		[]string{"result"},
	)
	c.decisionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborative_decisions_total",
			Help:      "Total number of collaborative decisions",
		},
		[]string{"passed"},
	)
	c.registeredAgents = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_agents",
		Help:      "Number of agents registered with the engine",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// StreamClientConnected 消息流客户端接入
func (c *Collector) StreamClientConnected() { c.streamClients.Inc() }

// StreamClientDisconnected 消息流客户端断开
func (c *Collector) StreamClientDisconnected() { c.streamClients.Dec() }

// =============================================================================
// 📨 消息中心
// =============================================================================

// RecordMessagePublished 记录被消息中心接受的消息
func (c *Collector) RecordMessagePublished(msgType string) {
	c.messagesPublished.WithLabelValues(msgType).Inc()
}

// RecordMessageDropped 记录未能投递的消息
func (c *Collector) RecordMessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// =============================================================================
// 🎭 智能体
// =============================================================================

// RecordHookFailure 记录钩子失败
func (c *Collector) RecordHookFailure(hook string) {
	c.hookFailures.WithLabelValues(hook).Inc()
}

// RecordStatusTransition 记录状态转换
func (c *Collector) RecordStatusTransition(from, to string) {
	c.agentStateTransitions.WithLabelValues(from, to).Inc()
}

// =============================================================================
// 🗳️ 共识
// =============================================================================

// RecordVote 记录一张选票
func (c *Collector) RecordVote(vote string) {
	c.votesTotal.WithLabelValues(vote).Inc()
}

// RecordVoteTimeout 记录超时弃权
func (c *Collector) RecordVoteTimeout() {
	c.voteTimeouts.Inc()
}

// RecordVotingRound 记录一轮投票
func (c *Collector) RecordVotingRound(result string, duration time.Duration) {
	c.votingRoundDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// =============================================================================
// ⚙️ 引擎
// =============================================================================

// RecordTaskAssignment 记录任务分配结果
func (c *Collector) RecordTaskAssignment(result string) {
	c.taskAssignments.WithLabelValues(result).Inc()
}

// RecordDecision 记录协作决策结果
func (c *Collector) RecordDecision(passed bool) {
	c.decisionsTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

// SetRegisteredAgents 设置已注册智能体数量
func (c *Collector) SetRegisteredAgents(n int) {
	c.registeredAgents.Set(float64(n))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
