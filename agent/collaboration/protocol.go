package collaboration

import (
	"maps"
	"time"
)

// MessageType 消息类型标签
type MessageType string

// 协商消息
const (
	MessageTypeProposal        MessageType = "proposal"
	MessageTypeCounterProposal MessageType = "counter_proposal"
	MessageTypeAccept          MessageType = "accept"
	MessageTypeReject          MessageType = "reject"
	MessageTypeVote            MessageType = "vote"
)

// 系统消息
const (
	MessageTypeBroadcast     MessageType = "broadcast"
	MessageTypeStateUpdate   MessageType = "state_update"
	MessageTypeEmergencyHalt MessageType = "emergency_halt"
)

// 任务消息
const (
	MessageTypeTaskAssign   MessageType = "task_assign"
	MessageTypeTaskComplete MessageType = "task_complete"
	MessageTypeTaskFailed   MessageType = "task_failed"
)

// 生命周期消息
const (
	MessageTypeAgentRegister   MessageType = "agent_register"
	MessageTypeAgentDeregister MessageType = "agent_deregister"
	MessageTypeHeartbeat       MessageType = "heartbeat"
)

var knownMessageTypes = map[MessageType]struct{}{
	MessageTypeProposal: {}, MessageTypeCounterProposal: {}, MessageTypeAccept: {},
	MessageTypeReject: {}, MessageTypeVote: {}, MessageTypeBroadcast: {},
	MessageTypeStateUpdate: {}, MessageTypeEmergencyHalt: {}, MessageTypeTaskAssign: {},
	MessageTypeTaskComplete: {}, MessageTypeTaskFailed: {}, MessageTypeAgentRegister: {},
	MessageTypeAgentDeregister: {}, MessageTypeHeartbeat: {},
}

// Valid 是否为已知标签
func (t MessageType) Valid() bool {
	_, ok := knownMessageTypes[t]
	return ok
}

// 主题前缀
const (
	TopicProposalPrefix = "proposal."
	TopicVotePrefix     = "vote."
)

// ProposalTopic 提案广播主题
func ProposalTopic(proposalID string) string { return TopicProposalPrefix + proposalID }

// VoteTopic 提案投票回复主题
func VoteTopic(proposalID string) string { return TopicVotePrefix + proposalID }

// Message 智能体间消息。发布后不可变，审计日志保存其副本。
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	SenderID      string         `json:"sender_id,omitempty"`    // 空表示系统
	RecipientID   string         `json:"recipient_id,omitempty"` // 空表示广播
	Topic         string         `json:"topic,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewMessage 创建消息
func NewMessage(msgType MessageType, payload map[string]any) *Message {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Message{Type: msgType, Payload: payload}
}

// IsBroadcast 是否为广播消息
func (m *Message) IsBroadcast() bool {
	return m.RecipientID == ""
}

// Clone 浅拷贝消息及其载荷
func (m *Message) Clone() *Message {
	cp := *m
	cp.Payload = maps.Clone(m.Payload)
	return &cp
}

// ToMap 转换为线上格式
func (m *Message) ToMap() map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"type":      string(m.Type),
		"topic":     m.Topic,
		"payload":   maps.Clone(m.Payload),
		"timestamp": m.Timestamp.Format(time.RFC3339Nano),
	}
	out["sender_id"] = nilIfEmpty(m.SenderID)
	out["recipient_id"] = nilIfEmpty(m.RecipientID)
	out["correlation_id"] = nilIfEmpty(m.CorrelationID)
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
