package decision

import (
	"maps"
	"slices"
	"time"
)

// VoteType 投票类型
type VoteType string

const (
	VoteYes     VoteType = "yes"
	VoteNo      VoteType = "no"
	VoteAbstain VoteType = "abstain"
)

// ParseVoteType 解析投票类型，无法识别的值视为弃权
func ParseVoteType(s string) VoteType {
	switch VoteType(s) {
	case VoteYes, VoteNo:
		return VoteType(s)
	default:
		return VoteAbstain
	}
}

// Proposal 待表决的提案。由 ConsensusManager 创建，之后只读。
type Proposal struct {
	ID                string           `json:"id"`
	ProposerID        string           `json:"proposer_id"`
	TaskID            string           `json:"task_id,omitempty"`
	Description       string           `json:"description"`
	Options           []map[string]any `json:"options"`
	RecommendedOption int              `json:"recommended_option"`
	Threshold         float64          `json:"threshold"`
	Deadline          *time.Time       `json:"deadline,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// ToMap 转换为 PROPOSAL 消息载荷
func (p *Proposal) ToMap() map[string]any {
	opts := make([]any, len(p.Options))
	for i, o := range p.Options {
		opts[i] = maps.Clone(o)
	}
	m := map[string]any{
		"proposal_id":        p.ID,
		"proposer_id":        p.ProposerID,
		"task_id":            p.TaskID,
		"description":        p.Description,
		"options":            opts,
		"recommended_option": p.RecommendedOption,
		"threshold":          p.Threshold,
	}
	if p.Deadline != nil {
		m["deadline"] = p.Deadline.Format(time.RFC3339Nano)
	}
	return m
}

// clone 返回只读视图使用的副本
func (p *Proposal) clone() *Proposal {
	cp := *p
	cp.Options = make([]map[string]any, len(p.Options))
	for i, o := range p.Options {
		cp.Options[i] = maps.Clone(o)
	}
	return &cp
}

// ProposalFromPayload 从 PROPOSAL 消息载荷重建提案视图
func ProposalFromPayload(payload map[string]any) (*Proposal, bool) {
	id, _ := payload["proposal_id"].(string)
	if id == "" {
		return nil, false
	}
	p := &Proposal{ID: id, RecommendedOption: 0}
	p.ProposerID, _ = payload["proposer_id"].(string)
	p.TaskID, _ = payload["task_id"].(string)
	p.Description, _ = payload["description"].(string)
	if th, ok := toFloat(payload["threshold"]); ok {
		p.Threshold = th
	}
	if rec, ok := toFloat(payload["recommended_option"]); ok {
		p.RecommendedOption = int(rec)
	}
	switch opts := payload["options"].(type) {
	case []map[string]any:
		p.Options = slices.Clone(opts)
	case []any:
		for _, o := range opts {
			if m, ok := o.(map[string]any); ok {
				p.Options = append(p.Options, m)
			}
		}
	}
	if s, ok := payload["deadline"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			p.Deadline = &t
		}
	}
	return p, true
}

// Vote 一张选票。同一 (提案, 投票者) 至多一张有效票。
type Vote struct {
	ID             string    `json:"id"`
	ProposalID     string    `json:"proposal_id"`
	VoterID        string    `json:"voter_id"`
	Vote           VoteType  `json:"vote"`
	SelectedOption int       `json:"selected_option"`
	Weight         float64   `json:"weight"`
	Rationale      string    `json:"rationale"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToMap 转换为 VOTE 消息载荷
func (v *Vote) ToMap() map[string]any {
	return map[string]any{
		"proposal_id":     v.ProposalID,
		"vote":            string(v.Vote),
		"selected_option": v.SelectedOption,
		"weight":          v.Weight,
		"rationale":       v.Rationale,
	}
}
