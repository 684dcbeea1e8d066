package server

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Group 同生命周期的一组服务器（API 端口与指标端口）
type Group struct {
	managers []*Manager
	logger   *zap.Logger
}

// NewGroup 创建服务器组，nil 成员被忽略
func NewGroup(logger *zap.Logger, managers ...*Manager) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		managers: slices.DeleteFunc(slices.Clone(managers), func(m *Manager) bool { return m == nil }),
		logger:   logger.With(zap.String("component", "server_group")),
	}
}

// Start 按顺序启动；任一失败时关闭已启动的成员
func (g *Group) Start() error {
	for i, m := range g.managers {
		if err := m.Start(); err != nil {
			for _, started := range g.managers[:i] {
				if serr := started.Shutdown(context.Background()); serr != nil {
					g.logger.Warn("rollback shutdown failed", zap.String("server", started.name), zap.Error(serr))
				}
			}
			return fmt.Errorf("start %s server: %w", m.name, err)
		}
	}
	return nil
}

// Wait 阻塞直到收到 SIGINT/SIGTERM、任一成员报告服务错误或 ctx 结束，返回触发原因
func (g *Group) Wait(ctx context.Context) string {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan string, len(g.managers))
	for _, m := range g.managers {
		go func() {
			select {
			case err := <-m.errCh:
				errs <- fmt.Sprintf("%s server error: %v", m.name, err)
			case <-sigCtx.Done():
			}
		}()
	}

	select {
	case reason := <-errs:
		return reason
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			return "context done"
		}
		return "signal received"
	}
}

// Shutdown 并发关闭全部成员，返回第一个错误
func (g *Group) Shutdown(ctx context.Context) error {
	var eg errgroup.Group
	for _, m := range g.managers {
		eg.Go(func() error { return m.Shutdown(ctx) })
	}
	return eg.Wait()
}

// Managers 返回成员
func (g *Group) Managers() []*Manager {
	return slices.Clone(g.managers)
}
