package types

import "slices"

// AgentRole 智能体角色
type AgentRole string

const (
	RoleLeader   AgentRole = "leader"
	RoleWorker   AgentRole = "worker"
	RoleObserver AgentRole = "observer"
)

// AgentStatus 智能体运行状态
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
)

// DefaultExpertise 默认专业度（即默认投票权重）
const DefaultExpertise = 1.0

// AgentIdentity 智能体身份信息
type AgentIdentity struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Role           AgentRole   `json:"role"`
	Status         AgentStatus `json:"status"`
	Capabilities   []string    `json:"capabilities"`
	ExpertiseScore float64     `json:"expertise_score"`
}

// HasCapability 检查是否具备某项能力
func (a AgentIdentity) HasCapability(capability string) bool {
	return slices.Contains(a.Capabilities, capability)
}

// MissingCapabilities 返回 required 中本身不具备的能力，保持 required 的顺序
func (a AgentIdentity) MissingCapabilities(required []string) []string {
	var missing []string
	for _, c := range required {
		if !a.HasCapability(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Clone 返回深拷贝
func (a AgentIdentity) Clone() AgentIdentity {
	a.Capabilities = slices.Clone(a.Capabilities)
	return a
}

// ToMap 转换为可广播的载荷
func (a AgentIdentity) ToMap() map[string]any {
	return map[string]any{
		"id":              a.ID,
		"name":            a.Name,
		"role":            string(a.Role),
		"status":          string(a.Status),
		"capabilities":    slices.Clone(a.Capabilities),
		"expertise_score": a.ExpertiseScore,
	}
}
