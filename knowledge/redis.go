package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/types"
)

// Redis 键布局：world/ontology/agents 为 hash，decisions 为 list，version 为计数器
const (
	redisKeyWorld     = "world"
	redisKeyOntology  = "ontology"
	redisKeyAgents    = "agents"
	redisKeyDecisions = "decisions"
	redisKeyVersion   = "version"
)

// RedisStore 基于 go-redis 的知识库，值以 JSON 存储
type RedisStore struct {
	mgr    *cache.Manager
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 使用已连接的管理器创建知识库，Close 会关闭该管理器
func NewRedisStore(mgr *cache.Manager, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{mgr: mgr, logger: logger.With(zap.String("component", "knowledge_redis"))}
}

func (s *RedisStore) client() (*redis.Client, error) {
	c, err := s.mgr.Client()
	if err != nil {
		return nil, unavailable("redis client", err)
	}
	return c, nil
}

// UpdateWorldState 在同一事务中写入哈希字段并 INCR 版本号
func (s *RedisStore) UpdateWorldState(ctx context.Context, key string, value any, source string) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	data, err := json.Marshal(WorldEntry{Value: value, UpdatedAt: time.Now().UTC(), Source: source})
	if err != nil {
		return fmt.Errorf("encode world state %q: %w", key, err)
	}
	_, err = c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.mgr.Key(redisKeyWorld), key, data)
		p.Incr(ctx, s.mgr.Key(redisKeyVersion))
		return nil
	})
	if err != nil {
		return unavailable("redis update world state", err)
	}
	return nil
}

// WorldState 读取单个键
func (s *RedisStore) WorldState(ctx context.Context, key string) (any, bool, error) {
	var e WorldEntry
	ok, err := s.hget(ctx, redisKeyWorld, key, &e)
	if !ok || err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (s *RedisStore) worldEntries(ctx context.Context) (map[string]WorldEntry, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	raw, err := c.HGetAll(ctx, s.mgr.Key(redisKeyWorld)).Result()
	if err != nil {
		return nil, unavailable("redis read world state", err)
	}
	out := make(map[string]WorldEntry, len(raw))
	for k, v := range raw {
		var e WorldEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("skipping undecodable world state entry", zap.String("key", k), zap.Error(err))
			continue
		}
		out[k] = e
	}
	return out, nil
}

// FullWorldState 以 HGETALL 读取全部世界状态
func (s *RedisStore) FullWorldState(ctx context.Context) (map[string]any, error) {
	entries, err := s.worldEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(entries))
	for k, e := range entries {
		out[k] = e.Value
	}
	return out, nil
}

// Query 读取整个哈希后按前缀过滤并排序
func (s *RedisStore) Query(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := s.worldEntries(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for k, e := range entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: e.Value})
		}
	}
	return sortEntries(out), nil
}

// RegisterOntology 注册或覆盖本体
func (s *RedisStore) RegisterOntology(ctx context.Context, name string, ontology map[string]any) error {
	return s.hset(ctx, redisKeyOntology, name, OntologyEntry{Data: ontology, RegisteredAt: time.Now().UTC()})
}

// Ontology 读取本体
func (s *RedisStore) Ontology(ctx context.Context, name string) (map[string]any, bool, error) {
	var e OntologyEntry
	ok, err := s.hget(ctx, redisKeyOntology, name, &e)
	if !ok || err != nil {
		return nil, false, err
	}
	return e.Data, true, nil
}

// LogDecision 以 RPUSH 追加决策
func (s *RedisStore) LogDecision(ctx context.Context, d *types.Decision) error {
	if d == nil {
		return nil
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	data, err := json.Marshal(LoggedDecision{Decision: d, LoggedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	if err := c.RPush(ctx, s.mgr.Key(redisKeyDecisions), data).Err(); err != nil {
		return unavailable("redis log decision", err)
	}
	return nil
}

// DecisionLog 读取最近 limit 条决策；按任务过滤时读取整个列表
func (s *RedisStore) DecisionLog(ctx context.Context, limit int, taskID string) ([]*types.Decision, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if taskID == "" && limit > 0 {
		start = -int64(limit)
	}
	raw, err := c.LRange(ctx, s.mgr.Key(redisKeyDecisions), start, -1).Result()
	if err != nil {
		return nil, unavailable("redis read decision log", err)
	}
	all := make([]*types.Decision, 0, len(raw))
	for _, v := range raw {
		var ld LoggedDecision
		if err := json.Unmarshal([]byte(v), &ld); err != nil || ld.Decision == nil {
			s.logger.Warn("skipping undecodable decision", zap.Error(err))
			continue
		}
		all = append(all, ld.Decision)
	}
	return tail(all, limit, taskID), nil
}

// UpdateAgentState 覆盖智能体状态快照
func (s *RedisStore) UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error {
	return s.hset(ctx, redisKeyAgents, agentID, AgentStateEntry{State: state, UpdatedAt: time.Now().UTC()})
}

// AgentState 读取智能体状态快照
func (s *RedisStore) AgentState(ctx context.Context, agentID string) (map[string]any, bool, error) {
	var e AgentStateEntry
	ok, err := s.hget(ctx, redisKeyAgents, agentID, &e)
	if !ok || err != nil {
		return nil, false, err
	}
	return e.State, true, nil
}

// AllAgentStates 读取全部智能体状态快照
func (s *RedisStore) AllAgentStates(ctx context.Context) (map[string]map[string]any, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	raw, err := c.HGetAll(ctx, s.mgr.Key(redisKeyAgents)).Result()
	if err != nil {
		return nil, unavailable("redis read agent states", err)
	}
	out := make(map[string]map[string]any, len(raw))
	for id, v := range raw {
		var e AgentStateEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("skipping undecodable agent state", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		out[id] = e.State
	}
	return out, nil
}

// Version 读取版本计数器，键不存在时为 0
func (s *RedisStore) Version(ctx context.Context) (int64, error) {
	c, err := s.client()
	if err != nil {
		return 0, err
	}
	v, err := c.Get(ctx, s.mgr.Key(redisKeyVersion)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("redis read version", err)
	}
	return v, nil
}

// Ping 探测 Redis 连通性
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.mgr.Ping(ctx); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

// Close 关闭连接池
func (s *RedisStore) Close() error {
	return s.mgr.Close()
}

func (s *RedisStore) hset(ctx context.Context, hash, field string, value any) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", hash, field, err)
	}
	if err := c.HSet(ctx, s.mgr.Key(hash), field, data).Err(); err != nil {
		return unavailable("redis write "+hash, err)
	}
	return nil
}

func (s *RedisStore) hget(ctx context.Context, hash, field string, dest any) (bool, error) {
	c, err := s.client()
	if err != nil {
		return false, err
	}
	raw, err := c.HGet(ctx, s.mgr.Key(hash), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("redis read "+hash, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", hash, field, err)
	}
	return true, nil
}
