// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 100*time.Millisecond, cfg.Engine.PollInterval)
	assert.Equal(t, 1000, cfg.Engine.MailboxSize)
	assert.Equal(t, 10000, cfg.Engine.AuditLimit)
	assert.Equal(t, 30*time.Second, cfg.Engine.VoteTimeout)
	assert.Greater(t, cfg.Server.WriteTimeout, cfg.Engine.VoteTimeout)
	assert.Equal(t, 0.5, cfg.Engine.DefaultThreshold)

	assert.Equal(t, "memory", cfg.Knowledge.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.Agents)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Knowledge.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s

engine:
  vote_timeout: 2s
  default_threshold: 0.66
  mailbox_size: 50

knowledge:
  backend: redis

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"

agents:
  - name: Leader-1
    role: leader
    specialization: strategy
    bias: balanced
  - name: Worker-Cost
    role: worker
    specialization: finance
    bias: cost_focused
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Engine.VoteTimeout)
	assert.Equal(t, 0.66, cfg.Engine.DefaultThreshold)
	assert.Equal(t, 50, cfg.Engine.MailboxSize)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 10000, cfg.Engine.AuditLimit)

	assert.Equal(t, "redis", cfg.Knowledge.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, AgentSpec{Name: "Worker-Cost", Role: "worker", Specialization: "finance", Bias: "cost_focused"}, cfg.Agents[1])
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_SERVER_HTTP_PORT", "7777")
	t.Setenv("AGENTCOUNCIL_ENGINE_VOTE_TIMEOUT", "750ms")
	t.Setenv("AGENTCOUNCIL_ENGINE_DEFAULT_THRESHOLD", "0.8")
	t.Setenv("AGENTCOUNCIL_KNOWLEDGE_BACKEND", "sql")
	t.Setenv("AGENTCOUNCIL_DATABASE_DRIVER", "sqlite")
	t.Setenv("AGENTCOUNCIL_LOG_OUTPUT_PATHS", "stdout, /tmp/council.log")
	t.Setenv("AGENTCOUNCIL_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.VoteTimeout)
	assert.Equal(t, 0.8, cfg.Engine.DefaultThreshold)
	assert.Equal(t, "sql", cfg.Knowledge.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"stdout", "/tmp/council.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
engine:
  vote_timeout: 3s
  mailbox_size: 64
`)
	t.Setenv("AGENTCOUNCIL_SERVER_HTTP_PORT", "9999")
	t.Setenv("AGENTCOUNCIL_ENGINE_VOTE_TIMEOUT", "1s")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, time.Second, cfg.Engine.VoteTimeout)
	assert.Equal(t, 64, cfg.Engine.MailboxSize)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_KNOWLEDGE_BACKEND", "redis")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "redis", cfg.Knowledge.Backend)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_ENGINE_VOTE_TIMEOUT", "soon")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTCOUNCIL_ENGINE_VOTE_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: [invalid
  this is not valid yaml
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	path := writeConfig(t, "engine: [broken")
	assert.Panics(t, func() { MustLoad(path) })
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:    "invalid http port",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "threshold above one",
			modify:  func(c *Config) { c.Engine.DefaultThreshold = 1.5 },
			wantErr: "default_threshold",
		},
		{
			name:    "non positive vote timeout",
			modify:  func(c *Config) { c.Engine.VoteTimeout = 0 },
			wantErr: "vote_timeout",
		},
		{
			name: "write timeout shorter than vote timeout",
			modify: func(c *Config) {
				c.Server.WriteTimeout = 10 * time.Second
				c.Engine.VoteTimeout = 30 * time.Second
			},
			wantErr: "server.write_timeout",
		},
		{
			name:    "zero write timeout disables the check",
			modify:  func(c *Config) { c.Server.WriteTimeout = 0 },
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Knowledge.Backend = "etcd" },
			wantErr: "unknown knowledge backend",
		},
		{
			name: "sql backend with unknown driver",
			modify: func(c *Config) {
				c.Knowledge.Backend = "sql"
				c.Database.Driver = "oracle"
			},
			wantErr: "unknown database driver",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "unknown log level",
		},
		{
			name:    "agent with bad role",
			modify:  func(c *Config) { c.Agents = []AgentSpec{{Name: "x", Role: "king"}} },
			wantErr: `agents[0]: unknown role "king"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Log.Level = "loud"
	cfg.Agents = []AgentSpec{{Role: "worker"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "unknown log level")
	assert.Contains(t, err.Error(), "agents[0]: name is required")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "u", Password: "p", Name: "db", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=u password=p dbname=db sslmode=disable",
		},
		{
			name:   "mysql",
			config: DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "db"},
			want:   "u:p@tcp(h:3306)/db?parseTime=true",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: "sqlite", Name: "/data/council.db"},
			want:   "/data/council.db",
		},
		{
			name:   "unknown",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
