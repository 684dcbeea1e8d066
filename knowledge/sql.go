package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/types"
)

const sqlTxRetries = 3

// =============================================================================
// 🗄️ 表模型
// =============================================================================

type worldStateRow struct {
	Key       string `gorm:"column:state_key;primaryKey;size:255"`
	Value     string `gorm:"type:text"`
	Source    string `gorm:"size:255"`
	UpdatedAt time.Time
}

func (worldStateRow) TableName() string { return "knowledge_world_state" }

type ontologyRow struct {
	Name         string `gorm:"primaryKey;size:255"`
	Data         string `gorm:"type:text"`
	RegisteredAt time.Time
}

func (ontologyRow) TableName() string { return "knowledge_ontologies" }

type decisionRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	DecisionID string `gorm:"uniqueIndex;size:64"`
	TaskID     string `gorm:"index;size:255"`
	Payload    string `gorm:"type:text"`
	LoggedAt   time.Time
}

func (decisionRow) TableName() string { return "knowledge_decisions" }

type agentStateRow struct {
	AgentID   string `gorm:"primaryKey;size:255"`
	State     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (agentStateRow) TableName() string { return "knowledge_agent_states" }

type metaRow struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value int64
}

func (metaRow) TableName() string { return "knowledge_meta" }

const metaVersion = "world_version"

// SQLStore 基于 GORM 的知识库，支持 postgres / mysql / sqlite
type SQLStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 自动迁移表结构并返回知识库，Close 会关闭连接池
func NewSQLStore(ctx context.Context, pool *database.PoolManager, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := pool.DB().WithContext(ctx).AutoMigrate(
		&worldStateRow{}, &ontologyRow{}, &decisionRow{}, &agentStateRow{}, &metaRow{},
	)
	if err != nil {
		return nil, unavailable("migrate knowledge schema", err)
	}
	return &SQLStore{pool: pool, logger: logger.With(zap.String("component", "knowledge_sql"))}, nil
}

func (s *SQLStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// UpdateWorldState upsert 世界状态行并在同一事务中递增 meta 表版本号，冲突时重试
func (s *SQLStore) UpdateWorldState(ctx context.Context, key string, value any, source string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode world state %q: %w", key, err)
	}
	row := worldStateRow{Key: key, Value: string(data), Source: source, UpdatedAt: time.Now().UTC()}
	err = s.pool.WithTransactionRetry(ctx, sqlTxRetries, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		return bumpVersion(tx)
	})
	if err != nil {
		return unavailable("sql update world state", err)
	}
	return nil
}

func bumpVersion(tx *gorm.DB) error {
	res := tx.Model(&metaRow{}).Where("name = ?", metaVersion).
		UpdateColumn("value", gorm.Expr("value + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tx.Create(&metaRow{Name: metaVersion, Value: 1}).Error
	}
	return nil
}

// WorldState 读取单个键
func (s *SQLStore) WorldState(ctx context.Context, key string) (any, bool, error) {
	var row worldStateRow
	err := s.db(ctx).Where("state_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sql read world state", err)
	}
	var v any
	if err := json.Unmarshal([]byte(row.Value), &v); err != nil {
		return nil, false, fmt.Errorf("decode world state %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStore) worldRows(ctx context.Context, prefix string) ([]worldStateRow, error) {
	q := s.db(ctx).Order("state_key")
	if prefix != "" {
		q = q.Where("state_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%")
	}
	var rows []worldStateRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, unavailable("sql read world state", err)
	}
	return rows, nil
}

// FullWorldState 读取全部世界状态
func (s *SQLStore) FullWorldState(ctx context.Context) (map[string]any, error) {
	rows, err := s.worldRows(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		var v any
		if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
			s.logger.Warn("skipping undecodable world state entry", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		out[r.Key] = v
	}
	return out, nil
}

// Query 以转义后的 LIKE 前缀查询
func (s *SQLStore) Query(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.worldRows(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		// LIKE 在部分方言下大小写不敏感
		if !strings.HasPrefix(r.Key, prefix) {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
			continue
		}
		out = append(out, Entry{Key: r.Key, Value: v})
	}
	return sortEntries(out), nil
}

// RegisterOntology upsert 本体行
func (s *SQLStore) RegisterOntology(ctx context.Context, name string, ontology map[string]any) error {
	data, err := json.Marshal(ontology)
	if err != nil {
		return fmt.Errorf("encode ontology %q: %w", name, err)
	}
	row := ontologyRow{Name: name, Data: string(data), RegisteredAt: time.Now().UTC()}
	if err := s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return unavailable("sql register ontology", err)
	}
	return nil
}

// Ontology 读取本体
func (s *SQLStore) Ontology(ctx context.Context, name string) (map[string]any, bool, error) {
	var row ontologyRow
	err := s.db(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sql read ontology", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(row.Data), &m); err != nil {
		return nil, false, fmt.Errorf("decode ontology %q: %w", name, err)
	}
	return m, true, nil
}

// LogDecision 插入决策行
func (s *SQLStore) LogDecision(ctx context.Context, d *types.Decision) error {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	row := decisionRow{DecisionID: d.ID, TaskID: d.TaskID, Payload: string(data), LoggedAt: time.Now().UTC()}
	if err := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return unavailable("sql log decision", err)
	}
	return nil
}

// DecisionLog 按自增序号取最近 limit 条并以记录顺序返回
func (s *SQLStore) DecisionLog(ctx context.Context, limit int, taskID string) ([]*types.Decision, error) {
	q := s.db(ctx).Order("seq DESC")
	if taskID != "" {
		q = q.Where("task_id = ?", taskID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []decisionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, unavailable("sql read decision log", err)
	}
	out := make([]*types.Decision, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		var d types.Decision
		if err := json.Unmarshal([]byte(rows[i].Payload), &d); err != nil {
			s.logger.Warn("skipping undecodable decision", zap.Uint64("seq", rows[i].Seq), zap.Error(err))
			continue
		}
		out = append(out, &d)
	}
	return out, nil
}

// UpdateAgentState upsert 智能体状态行
func (s *SQLStore) UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode agent state %q: %w", agentID, err)
	}
	row := agentStateRow{AgentID: agentID, State: string(data), UpdatedAt: time.Now().UTC()}
	if err := s.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return unavailable("sql update agent state", err)
	}
	return nil
}

// AgentState 读取智能体状态
func (s *SQLStore) AgentState(ctx context.Context, agentID string) (map[string]any, bool, error) {
	var row agentStateRow
	err := s.db(ctx).Where("agent_id = ?", agentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sql read agent state", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(row.State), &m); err != nil {
		return nil, false, fmt.Errorf("decode agent state %q: %w", agentID, err)
	}
	return m, true, nil
}

// AllAgentStates 读取全部智能体状态
func (s *SQLStore) AllAgentStates(ctx context.Context) (map[string]map[string]any, error) {
	var rows []agentStateRow
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, unavailable("sql read agent states", err)
	}
	out := make(map[string]map[string]any, len(rows))
	for _, r := range rows {
		var m map[string]any
		if err := json.Unmarshal([]byte(r.State), &m); err != nil {
			s.logger.Warn("skipping undecodable agent state", zap.String("agent_id", r.AgentID), zap.Error(err))
			continue
		}
		out[r.AgentID] = m
	}
	return out, nil
}

// Version 读取 meta 表中的版本号，尚无写入时为 0
func (s *SQLStore) Version(ctx context.Context) (int64, error) {
	var row metaRow
	err := s.db(ctx).Where("name = ?", metaVersion).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("sql read version", err)
	}
	return row.Value, nil
}

// Ping 探测数据库连通性
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("sql ping", err)
	}
	return nil
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
