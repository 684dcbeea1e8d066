package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Engine.VoteTimeout = time.Second
	cfg.Engine.HaltGracePeriod = 500 * time.Millisecond
	cfg.Engine.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestEngineConfig(t *testing.T) {
	c := config.DefaultEngineConfig()
	got := engineConfig(c)
	assert.Equal(t, c.MailboxSize, got.MailboxSize)
	assert.Equal(t, c.AuditLimit, got.AuditLimit)
	assert.Equal(t, c.VoteTimeout, got.VoteTimeout)
	assert.Equal(t, c.DefaultThreshold, got.DefaultThreshold)
	assert.Equal(t, c.HaltGracePeriod, got.HaltGracePeriod)
}

func TestKnowledgeConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Knowledge.Backend = "sql"
	cfg.Knowledge.KeyPrefix = "council-test"
	cfg.Redis.Addr = "redis:6380"
	cfg.Redis.PoolSize = 0
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = "council.db"
	cfg.Database.MaxOpenConns = 7

	got := knowledgeConfig(cfg)
	assert.Equal(t, "sql", got.Backend)
	assert.Equal(t, "sqlite", got.Driver)
	assert.Equal(t, "council.db", got.DSN)
	assert.Equal(t, "redis:6380", got.Redis.Addr)
	assert.Equal(t, "council-test", got.Redis.KeyPrefix)
	assert.Positive(t, got.Redis.PoolSize, "zero pool size keeps the cache default")
	assert.Equal(t, 7, got.Pool.MaxOpenConns)
	assert.Equal(t, cfg.Database.MaxIdleConns, got.Pool.MaxIdleConns)
}

func TestBuildRoster(t *testing.T) {
	t.Run("default roster", func(t *testing.T) {
		roster := buildRoster(config.DefaultConfig(), zap.NewNop())
		require.Len(t, roster, 5)
		assert.Equal(t, "Leader-1", roster[0].Name())
		assert.Equal(t, types.RoleLeader, roster[0].Role())
	})

	t.Run("configured roster", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Agents = []config.AgentSpec{
			{Name: "Chair", Role: "leader", Specialization: "strategy", Bias: "balanced"},
			{Name: "Auditor", Role: "observer", Specialization: "finance", Bias: "cost_focused"},
		}
		roster := buildRoster(cfg, zap.NewNop())
		require.Len(t, roster, 2)
		assert.Equal(t, "Auditor", roster[1].Name())
		assert.Equal(t, types.RoleObserver, roster[1].Role())
		assert.Equal(t, "cost_focused", roster[1].Bias())
		assert.Contains(t, roster[1].Capabilities(), "finance")
	})
}

func startTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv := NewServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_StartAndServe(t *testing.T) {
	srv := startTestServer(t, testConfig())
	base := "http://" + srv.httpManager.Addr()

	assert.Equal(t, http.StatusOK, getJSON(t, base+"/health", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/ready", nil))

	var status struct {
		Success bool `json:"success"`
		Data    struct {
			Running     bool `json:"running"`
			TotalAgents int  `json:"total_agents"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/v1/status", &status))
	assert.True(t, status.Success)
	assert.True(t, status.Data.Running)
	assert.Equal(t, 5, status.Data.TotalAgents)

	var version struct {
		Data map[string]string `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/version", &version))
	assert.Equal(t, Version, version.Data["version"])

	resp, err := http.Get("http://" + srv.metricsManager.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentcouncil_registered_agents 5")
	assert.Contains(t, string(body), "agentcouncil_http_requests_total")
}

func TestServer_HaltMakesNotReady(t *testing.T) {
	srv := startTestServer(t, testConfig())
	base := "http://" + srv.httpManager.Addr()

	resp, err := http.Post(base+"/api/v1/halt", "application/json", bytes.NewBufferString(`{"reason":"test"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, base+"/ready", nil))

	resp, err = http.Post(base+"/api/v1/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/ready", nil))
}

func TestServer_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Knowledge.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	srv := startTestServer(t, cfg)
	base := "http://" + srv.httpManager.Addr()

	resp, err := http.Post(base+"/api/v1/state", "application/json",
		strings.NewReader(`{"state":{"load":0.7},"source":"sensor"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var world struct {
		Data struct {
			Version int64 `json:"version"`
			Entries []struct {
				Key   string `json:"key"`
				Value any    `json:"value"`
			} `json:"entries"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/v1/knowledge/world", &world))
	assert.Equal(t, int64(1), world.Data.Version)
	require.Len(t, world.Data.Entries, 1)
	assert.Equal(t, "load", world.Data.Entries[0].Key)
}

func TestServer_StartFailsOnUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Knowledge.Backend = "etcd"
	srv := NewServer(cfg, zap.NewNop())
	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "knowledge store")
	srv.Shutdown(context.Background())
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewServer(testConfig(), zap.NewNop())
	assert.NotPanics(t, func() { srv.Shutdown(context.Background()) })
}
