package knowledge

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/types"
)

// Snapshot 内存知识库的完整快照，可直接 JSON 序列化
type Snapshot struct {
	Version     int64                      `json:"version"`
	Timestamp   time.Time                  `json:"timestamp"`
	WorldState  map[string]WorldEntry      `json:"world_state"`
	Ontologies  map[string]OntologyEntry   `json:"ontologies"`
	DecisionLog []LoggedDecision           `json:"decision_log"`
	AgentStates map[string]AgentStateEntry `json:"agent_states"`
}

// MemoryStore 进程内知识库
type MemoryStore struct {
	mu         sync.RWMutex
	world      map[string]WorldEntry
	ontologies map[string]OntologyEntry
	decisions  []LoggedDecision
	agents     map[string]AgentStateEntry
	version    int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存知识库
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		world:      make(map[string]WorldEntry),
		ontologies: make(map[string]OntologyEntry),
		agents:     make(map[string]AgentStateEntry),
	}
}

// UpdateWorldState 写入一个世界状态键并递增版本号
func (s *MemoryStore) UpdateWorldState(_ context.Context, key string, value any, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world[key] = WorldEntry{Value: value, UpdatedAt: time.Now().UTC(), Source: source}
	s.version++
	return nil
}

// WorldState 读取单个键，不存在时 ok 为 false
func (s *MemoryStore) WorldState(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.world[key]
	return e.Value, ok, nil
}

// FullWorldState 返回全部世界状态的值
func (s *MemoryStore) FullWorldState(context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.world))
	for k, e := range s.world {
		out[k] = e.Value
	}
	return out, nil
}

// Query 按键前缀查询，结果按键排序
func (s *MemoryStore) Query(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for k, e := range s.world {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: e.Value})
		}
	}
	return sortEntries(out), nil
}

// RegisterOntology 注册或覆盖本体，保存副本
func (s *MemoryStore) RegisterOntology(_ context.Context, name string, ontology map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ontologies[name] = OntologyEntry{Data: maps.Clone(ontology), RegisteredAt: time.Now().UTC()}
	return nil
}

// Ontology 返回本体副本
func (s *MemoryStore) Ontology(_ context.Context, name string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ontologies[name]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(e.Data), true, nil
}

// LogDecision 追加决策记录，nil 被忽略
func (s *MemoryStore) LogDecision(_ context.Context, d *types.Decision) error {
	if d == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, LoggedDecision{Decision: d, LoggedAt: time.Now().UTC()})
	return nil
}

// DecisionLog 按记录顺序返回最近 limit 条决策，taskID 非空时只取该任务的决策
func (s *MemoryStore) DecisionLog(_ context.Context, limit int, taskID string) ([]*types.Decision, error) {
	s.mu.RLock()
	all := make([]*types.Decision, len(s.decisions))
	for i, ld := range s.decisions {
		all[i] = ld.Decision
	}
	s.mu.RUnlock()
	return tail(all, limit, taskID), nil
}

// UpdateAgentState 覆盖智能体状态快照
func (s *MemoryStore) UpdateAgentState(_ context.Context, agentID string, state map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = AgentStateEntry{State: maps.Clone(state), UpdatedAt: time.Now().UTC()}
	return nil
}

// AgentState 返回智能体状态快照副本
func (s *MemoryStore) AgentState(_ context.Context, agentID string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.agents[agentID]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(e.State), true, nil
}

// AllAgentStates 返回全部智能体状态快照
func (s *MemoryStore) AllAgentStates(context.Context) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.agents))
	for id, e := range s.agents {
		out[id] = maps.Clone(e.State)
	}
	return out, nil
}

// Version 返回世界状态版本号，每次写入加一
func (s *MemoryStore) Version(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

// Ping 内存实现始终可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 内存实现无需释放资源
func (s *MemoryStore) Close() error { return nil }

// ExportSnapshot 导出完整快照
func (s *MemoryStore) ExportSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version:     s.version,
		Timestamp:   time.Now().UTC(),
		WorldState:  maps.Clone(s.world),
		Ontologies:  maps.Clone(s.ontologies),
		DecisionLog: append([]LoggedDecision(nil), s.decisions...),
		AgentStates: maps.Clone(s.agents),
	}
}

// ImportSnapshot 用快照整体替换当前内容
func (s *MemoryStore) ImportSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = snap.Version
	s.world = orEmpty(maps.Clone(snap.WorldState))
	s.ontologies = orEmpty(maps.Clone(snap.Ontologies))
	s.agents = orEmpty(maps.Clone(snap.AgentStates))
	s.decisions = append([]LoggedDecision(nil), snap.DecisionLog...)
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return make(map[string]V)
	}
	return m
}
