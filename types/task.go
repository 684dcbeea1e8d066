package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// DefaultTaskPriority 默认任务优先级
const DefaultTaskPriority = 5

// Task 任务。由请求方创建，由被分配的智能体修改，进入终态后不可再变。
type Task struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	Priority             int            `json:"priority"`
	Constraints          map[string]any `json:"constraints,omitempty"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`

	mu       sync.RWMutex
	assigned []string
	status   TaskStatus
	result   map[string]any
}

// NewTask 创建待处理任务
func NewTask(name string, required ...string) *Task {
	return &Task{
		ID:                   uuid.NewString(),
		Name:                 name,
		Priority:             DefaultTaskPriority,
		Constraints:          make(map[string]any),
		RequiredCapabilities: slices.Clone(required),
		CreatedAt:            time.Now(),
		status:               TaskPending,
	}
}

// Status 返回当前状态
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status == "" {
		return TaskPending
	}
	return t.status
}

// SetStatus 更新状态；终态任务拒绝任何修改
func (t *Task) SetStatus(status TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return NewError(ErrTaskFinalized, fmt.Sprintf("task %s already %s", t.ID, t.status))
	}
	t.status = status
	return nil
}

// Complete 写入结果并进入终态
func (t *Task) Complete(status TaskStatus, result map[string]any) error {
	if !status.IsTerminal() {
		return NewError(ErrInvalidTransition, fmt.Sprintf("%s is not a terminal task status", status))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return NewError(ErrTaskFinalized, fmt.Sprintf("task %s already %s", t.ID, t.status))
	}
	t.status = status
	t.result = maps.Clone(result)
	return nil
}

// Result 返回结果副本
func (t *Task) Result() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.result)
}

// Assign 追加被分配的智能体
func (t *Task) Assign(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assigned = append(t.assigned, agentID)
}

// AssignedAgents 返回分配列表副本
func (t *Task) AssignedAgents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.assigned)
}

// ToMap 转换为线上格式
func (t *Task) ToMap() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := map[string]any{
		"id":                    t.ID,
		"name":                  t.Name,
		"description":           t.Description,
		"priority":              t.Priority,
		"constraints":           maps.Clone(t.Constraints),
		"required_capabilities": slices.Clone(t.RequiredCapabilities),
		"assigned_agents":       slices.Clone(t.assigned),
		"status":                string(t.status),
		"result":                maps.Clone(t.result),
		"created_at":            t.CreatedAt,
	}
	if t.Deadline != nil {
		m["deadline"] = *t.Deadline
	}
	return m
}

// MarshalJSON 以线上格式序列化，包含状态和分配列表
func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToMap())
}

// TaskFromPayload 从消息载荷中取出任务。进程内传递时载荷直接持有 *Task，
// 否则按线上 map 格式重建。
func TaskFromPayload(payload map[string]any) (*Task, bool) {
	switch v := payload["task"].(type) {
	case *Task:
		return v, v != nil
	case map[string]any:
		t := &Task{status: TaskPending, Priority: DefaultTaskPriority}
		t.ID, _ = v["id"].(string)
		t.Name, _ = v["name"].(string)
		t.Description, _ = v["description"].(string)
		if p, ok := v["priority"].(int); ok {
			t.Priority = p
		} else if p, ok := v["priority"].(float64); ok {
			t.Priority = int(p)
		}
		t.RequiredCapabilities = stringSlice(v["required_capabilities"])
		if c, ok := v["constraints"].(map[string]any); ok {
			t.Constraints = c
		}
		return t, t.ID != ""
	default:
		return nil, false
	}
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return slices.Clone(s)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
