package types

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"
)

// Option 候选方案
type Option struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	EstimatedUtility float64        `json:"estimated_utility"`
}

// ToMap 展开为投票/评估使用的方案 map，Parameters 平铺到顶层
func (o Option) ToMap() map[string]any {
	m := maps.Clone(o.Parameters)
	if m == nil {
		m = make(map[string]any)
	}
	m["id"] = o.ID
	m["name"] = o.Name
	if o.Description != "" {
		m["description"] = o.Description
	}
	return m
}

// Decision 决策审计记录。追加写入，创建后不可变。
type Decision struct {
	ID                string            `json:"id"`
	ProposalID        string            `json:"proposal_id"`
	TaskID            string            `json:"task_id,omitempty"`
	ContextHash       string            `json:"context_hash"`
	OptionsConsidered []map[string]any  `json:"options_considered"`
	SelectedOption    map[string]any    `json:"selected_option,omitempty"`
	SelectedIndex     int               `json:"selected_index"`
	Rationale         string            `json:"rationale"`
	ConsensusScore    float64           `json:"consensus_score"`
	Votes             map[string]string `json:"votes"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Accepted 是否选出了方案
func (d *Decision) Accepted() bool {
	return d.SelectedIndex >= 0
}

// ContextHash 计算描述文本的短哈希
func ContextHash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:8])
}
