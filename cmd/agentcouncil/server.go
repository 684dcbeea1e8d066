package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/resource"
	"github.com/BaSui01/agentcouncil/api/handlers"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/knowledge"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装引擎、知识库、指标、遥测与两个 HTTP 服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers
	store     knowledge.Store
	engine    *agent.Engine

	httpManager    *server.Manager
	metricsManager *server.Manager
	servers        *server.Group

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化全部组件并启动 HTTP 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWith(s.registry, "agentcouncil", s.logger)

	store, err := knowledge.NewStore(ctx, knowledgeConfig(s.cfg), s.logger)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	s.store = store

	if err := s.startEngine(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	s.httpManager = s.newAPIServer()
	s.metricsManager = s.newMetricsServer()
	s.servers = server.NewGroup(s.logger, s.httpManager, s.metricsManager)
	if err := s.servers.Start(); err != nil {
		return err
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.String("knowledge_backend", s.cfg.Knowledge.Backend),
		zap.Int("agents", len(s.engine.Agents())),
	)
	return nil
}

func (s *Server) startEngine(ctx context.Context) error {
	s.engine = agent.NewEngine(engineConfig(s.cfg.Engine), s.logger,
		agent.WithKnowledgeSink(s.store),
		agent.WithEngineMetrics(s.collector),
	)
	if err := s.engine.Start(ctx); err != nil {
		return err
	}

	roster := buildRoster(s.cfg, s.logger,
		agent.WithAgentMetrics(s.collector),
		agent.WithTiming(s.cfg.Engine.PollInterval, s.cfg.Engine.IdleYield),
	)
	for _, a := range roster {
		if err := s.engine.RegisterAgent(a.BaseAgent); err != nil {
			return err
		}
	}
	return s.engine.StartAllAgents()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger,
		handlers.WithEngine(s.engine),
		handlers.WithStorePing(s.store),
	)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewCouncilHandler(s.engine, s.logger,
		handlers.WithKnowledgeStore(s.store),
		handlers.WithStreamMetrics(s.collector),
	).Register(mux)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

func (s *Server) newAPIServer() *server.Manager {
	return server.NewManager("api", s.routes(), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
}

func (s *Server) newMetricsServer() *server.Manager {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待信号或服务器错误后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	reason := s.servers.Wait(ctx)
	s.logger.Info("shutdown requested", zap.String("reason", reason))
	s.Shutdown(context.Background())
}

// Shutdown 按依赖逆序关闭：HTTP 入口、引擎、知识库、遥测
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.servers != nil {
		if err := s.servers.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if s.engine != nil {
		if err := s.engine.Stop(shutdownCtx); err != nil {
			s.logger.Error("engine shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("knowledge store close error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}

// =============================================================================
// 🔧 配置转换
// =============================================================================

func engineConfig(c config.EngineConfig) agent.EngineConfig {
	return agent.EngineConfig{
		MailboxSize:      c.MailboxSize,
		AuditLimit:       c.AuditLimit,
		VoteTimeout:      c.VoteTimeout,
		DefaultThreshold: c.DefaultThreshold,
		HaltGracePeriod:  c.HaltGracePeriod,
	}
}

func knowledgeConfig(cfg *config.Config) knowledge.Config {
	redisCfg := cache.DefaultConfig()
	redisCfg.Addr = cfg.Redis.Addr
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Knowledge.KeyPrefix != "" {
		redisCfg.KeyPrefix = cfg.Knowledge.KeyPrefix
	}

	pool := database.DefaultPoolConfig()
	if cfg.Database.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.Database.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}

	return knowledge.Config{
		Backend: cfg.Knowledge.Backend,
		Redis:   redisCfg,
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.DSN(),
		Pool:    pool,
	}
}

// buildRoster 按配置创建资源分配智能体，未配置时使用内置阵容
func buildRoster(cfg *config.Config, logger *zap.Logger, agentOpts ...agent.Option) []*resource.Agent {
	profiles := resource.DefaultRoster()
	if len(cfg.Agents) > 0 {
		profiles = make([]resource.Profile, 0, len(cfg.Agents))
		for _, a := range cfg.Agents {
			profiles = append(profiles, resource.Profile{
				Name:           a.Name,
				Role:           types.AgentRole(a.Role),
				Specialization: a.Specialization,
				Bias:           a.Bias,
			})
		}
	}
	return resource.Build(profiles,
		resource.WithLogger(logger),
		resource.WithAgentOptions(agentOpts...),
	)
}
