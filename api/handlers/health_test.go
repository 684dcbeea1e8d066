package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/knowledge"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

type stubEngine struct {
	running bool
	halted  bool
	status  agent.Status
}

func (s *stubEngine) IsRunning() bool      { return s.running }
func (s *stubEngine) IsHalted() bool       { return s.halted }
func (s *stubEngine) Status() agent.Status { return s.status }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func decodeReadiness(t *testing.T, w *httptest.ResponseRecorder) Readiness {
	t.Helper()
	var r Readiness
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return r
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), WithEngine(&stubEngine{halted: true}))

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, path, nil))

		// 存活探针不受引擎状态影响
		assert.Equal(t, http.StatusOK, w.Code)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	running := agent.Status{
		Running:        true,
		TotalAgents:    5,
		AgentsByStatus: map[string]int{"idle": 4, "busy": 1, "offline": 0},
	}
	storeDown := pingFunc(func(context.Context) error { return errors.New("redis unreachable") })

	tests := []struct {
		name           string
		opts           []HealthOption
		expectedStatus int
		check          func(*testing.T, Readiness)
	}{
		{
			name:           "nothing attached",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, r Readiness) {
				assert.True(t, r.Ready)
				assert.Nil(t, r.Engine)
				assert.Nil(t, r.Knowledge)
			},
		},
		{
			name: "engine running and store reachable",
			opts: []HealthOption{
				WithEngine(&stubEngine{running: true, status: running}),
				WithStorePing(knowledge.NewMemoryStore()),
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, r Readiness) {
				assert.True(t, r.Ready)
				require.NotNil(t, r.Engine)
				assert.Equal(t, 5, r.Engine.Agents)
				assert.Empty(t, r.Engine.Reason)
				require.NotNil(t, r.Knowledge)
				assert.True(t, r.Knowledge.Reachable)
			},
		},
		{
			name:           "engine halted",
			opts:           []HealthOption{WithEngine(&stubEngine{halted: true})},
			expectedStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, r Readiness) {
				assert.False(t, r.Ready)
				assert.True(t, r.Engine.Halted)
				assert.Equal(t, "emergency halt", r.Engine.Reason)
			},
		},
		{
			name:           "engine stopped",
			opts:           []HealthOption{WithEngine(&stubEngine{})},
			expectedStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, r Readiness) {
				assert.Equal(t, "engine not running", r.Engine.Reason)
			},
		},
		{
			name: "store unreachable",
			opts: []HealthOption{
				WithEngine(&stubEngine{running: true, status: running}),
				WithStorePing(storeDown),
			},
			expectedStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, r Readiness) {
				assert.False(t, r.Ready)
				assert.Empty(t, r.Engine.Reason)
				assert.False(t, r.Knowledge.Reachable)
				assert.Equal(t, "redis unreachable", r.Knowledge.Error)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop(), tt.opts...)
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.check(t, decodeReadiness(t, w))
		})
	}
}

func TestHealthHandler_PingTimeout(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHealthHandler(nil, WithStorePing(slow), WithPingTimeout(20*time.Millisecond))

	start := time.Now()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeReadiness(t, w).Knowledge.Error, "deadline exceeded")
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVersion("1.0.0", "2024-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2024-01-01T00:00:00Z", data["build_time"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestHealthHandler_ConcurrentReady(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(),
		WithEngine(&stubEngine{running: true}),
		WithStorePing(knowledge.NewMemoryStore()),
	)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}
