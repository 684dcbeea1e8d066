package knowledge

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/types"
)

// 后端名称
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// Entry 前缀查询结果
type Entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// WorldEntry 世界状态条目
type WorldEntry struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source,omitempty"`
}

// OntologyEntry 本体（概念定义）条目
type OntologyEntry struct {
	Data         map[string]any `json:"data"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// AgentStateEntry 智能体状态快照条目
type AgentStateEntry struct {
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LoggedDecision 带记录时间的决策
type LoggedDecision struct {
	*types.Decision
	LoggedAt time.Time `json:"logged_at"`
}

// Store 共享知识库：世界状态、本体、决策审计日志和智能体状态快照。
// 世界状态每次写入使版本号加一。
type Store interface {
	UpdateWorldState(ctx context.Context, key string, value any, source string) error
	WorldState(ctx context.Context, key string) (any, bool, error)
	FullWorldState(ctx context.Context) (map[string]any, error)
	// Query 按键前缀查询世界状态，结果按键排序
	Query(ctx context.Context, prefix string) ([]Entry, error)

	RegisterOntology(ctx context.Context, name string, ontology map[string]any) error
	Ontology(ctx context.Context, name string) (map[string]any, bool, error)

	LogDecision(ctx context.Context, decision *types.Decision) error
	// DecisionLog 返回最近 limit 条决策（<= 0 不限），taskID 非空时只看该任务
	DecisionLog(ctx context.Context, limit int, taskID string) ([]*types.Decision, error)

	UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error
	AgentState(ctx context.Context, agentID string) (map[string]any, bool, error)
	AllAgentStates(ctx context.Context) (map[string]map[string]any, error)

	Version(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config 后端选择与连接参数
type Config struct {
	Backend string
	Redis   cache.Config
	Driver  string
	DSN     string
	Pool    database.PoolConfig
}

// NewStore 按 Backend 创建知识库；空值使用内存后端
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		mgr, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			return nil, unavailable("connect redis", err)
		}
		return NewRedisStore(mgr, logger), nil
	case BackendSQL:
		pm, err := database.Open(cfg.Driver, cfg.DSN, cfg.Pool, logger)
		if err != nil {
			return nil, unavailable("open database", err)
		}
		store, err := NewSQLStore(ctx, pm, logger)
		if err != nil {
			_ = pm.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, types.NewValidationError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported knowledge backend %q (supported: memory, redis, sql)", cfg.Backend))
	}
}

func unavailable(op string, err error) error {
	return types.NewError(types.ErrStoreUnavailable, op+" failed").WithCause(err).WithRetryable(true)
}

// tail 返回按 taskID 过滤后的最后 limit 条
func tail(all []*types.Decision, limit int, taskID string) []*types.Decision {
	if taskID != "" {
		all = slices.DeleteFunc(slices.Clone(all), func(d *types.Decision) bool { return d.TaskID != taskID })
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all)
}

func sortEntries(entries []Entry) []Entry {
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return entries
}
