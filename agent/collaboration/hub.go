package collaboration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/types"
)

// 默认容量
const (
	DefaultMailboxSize = 256
	DefaultAuditLimit  = 10000
)

var (
	// ErrHubStopped 消息中心已停止
	ErrHubStopped = types.NewError(types.ErrHubStopped, "message hub is stopped")
	// ErrReceiveTimeout 在等待时间内没有消息
	ErrReceiveTimeout = errors.New("receive timeout")
)

// Handler 主题订阅处理函数
type Handler func(ctx context.Context, msg *Message) error

// HubMetrics 消息中心指标钩子
type HubMetrics interface {
	RecordMessagePublished(msgType string)
	RecordMessageDropped(reason string)
}

type nopHubMetrics struct{}

func (nopHubMetrics) RecordMessagePublished(string) {}
func (nopHubMetrics) RecordMessageDropped(string)   {}

// SystemRecipient 系统方（引擎等非智能体发送者）的收件地址。
// 发往该地址的消息只进入审计日志和主题订阅，不投递到任何收件箱。
const SystemRecipient = "system"

// 投递失败原因
const (
	DropReasonMailboxFull = "mailbox_full"
	DropReasonNoRecipient = "no_recipient"
)

// Mailbox 单个智能体的有序收件箱
type Mailbox struct {
	agentID string
	ch      chan *Message
}

// AgentID 所属智能体
func (m *Mailbox) AgentID() string { return m.agentID }

// Len 当前排队消息数
func (m *Mailbox) Len() int { return len(m.ch) }

// Receive 在 timeout 内等待一条消息。超时返回 ErrReceiveTimeout，ctx 取消返回 ctx.Err()。
func (m *Mailbox) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-m.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReceive 非阻塞地取出一条消息
func (m *Mailbox) TryReceive() (*Message, bool) {
	select {
	case msg := <-m.ch:
		return msg, true
	default:
		return nil, false
	}
}

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// HubOption 消息中心选项
type HubOption func(*MessageHub)

// WithMailboxSize 设置收件箱容量
func WithMailboxSize(size int) HubOption {
	return func(h *MessageHub) {
		if size > 0 {
			h.mailboxSize = size
		}
	}
}

// WithAuditLimit 设置审计日志保留条数，<= 0 表示不限
func WithAuditLimit(limit int) HubOption {
	return func(h *MessageHub) { h.auditLimit = limit }
}

// WithHubMetrics 设置指标钩子
func WithHubMetrics(metrics HubMetrics) HubOption {
	return func(h *MessageHub) {
		if metrics != nil {
			h.metrics = metrics
		}
	}
}

// MessageHub 消息中心：每个智能体一个收件箱，附带主题订阅和有序审计日志。
// 收件箱表与审计日志只在本结构内部修改。
type MessageHub struct {
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
	log       []*Message
	running   bool

	subMu       sync.RWMutex
	subscribers map[string][]*subscription
	observers   map[string]func(*Message)

	mailboxSize int
	auditLimit  int
	metrics     HubMetrics
	logger      *zap.Logger
}

// NewMessageHub 创建消息中心
func NewMessageHub(logger *zap.Logger, opts ...HubOption) *MessageHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &MessageHub{
		mailboxes:   make(map[string]*Mailbox),
		subscribers: make(map[string][]*subscription),
		observers:   make(map[string]func(*Message)),
		running:     true,
		mailboxSize: DefaultMailboxSize,
		auditLimit:  DefaultAuditLimit,
		metrics:     nopHubMetrics{},
		logger:      logger.With(zap.String("component", "message_hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start 启动（或重新启动）消息中心
func (h *MessageHub) Start() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
}

// Stop 停止消息中心，之后的发布返回 ErrHubStopped
func (h *MessageHub) Stop() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	h.logger.Info("message hub stopped")
}

// IsRunning 是否运行中
func (h *MessageHub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Register 注册智能体并返回其收件箱，重复注册返回同一收件箱
func (h *MessageHub) Register(agentID string) *Mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()

	if mb, ok := h.mailboxes[agentID]; ok {
		return mb
	}
	mb := &Mailbox{agentID: agentID, ch: make(chan *Message, h.mailboxSize)}
	h.mailboxes[agentID] = mb
	return mb
}

// Deregister 移除智能体的收件箱，之后发给它的消息被丢弃但仍写入审计日志
func (h *MessageHub) Deregister(agentID string) {
	h.mu.Lock()
	delete(h.mailboxes, agentID)
	h.mu.Unlock()
}

// Drain 清空智能体收件箱中的积压消息，返回清除条数
func (h *MessageHub) Drain(agentID string) int {
	h.mu.RLock()
	mb, ok := h.mailboxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	n := 0
	for {
		if _, ok := mb.TryReceive(); !ok {
			return n
		}
		n++
	}
}

// IsRegistered 是否已注册
func (h *MessageHub) IsRegistered(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.mailboxes[agentID]
	return ok
}

// AgentCount 已注册智能体数
func (h *MessageHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes)
}

// SendDirect 点对点发送
func (h *MessageHub) SendDirect(ctx context.Context, senderID, recipientID string, msg *Message) error {
	if recipientID == "" {
		return fmt.Errorf("send direct: empty recipient")
	}
	msg.SenderID = senderID
	msg.RecipientID = recipientID
	return h.Publish(ctx, msg)
}

// Broadcast 广播给除发送方外的所有智能体
func (h *MessageHub) Broadcast(ctx context.Context, senderID string, msg *Message) error {
	msg.SenderID = senderID
	msg.RecipientID = ""
	return h.Publish(ctx, msg)
}

// Publish 发布消息：写入审计日志，投递到收件箱，再分发给主题订阅者和观察者。
// 收件箱已满或收件人不存在时只丢弃该份投递，不返回错误。
func (h *MessageHub) Publish(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubStopped
	}
	h.appendLogLocked(msg.Clone())
	h.deliverLocked(msg)
	h.mu.Unlock()

	h.metrics.RecordMessagePublished(string(msg.Type))

	if msg.Topic != "" {
		h.dispatchTopic(ctx, msg)
	}
	h.notifyObservers(msg)
	return nil
}

func (h *MessageHub) appendLogLocked(msg *Message) {
	h.log = append(h.log, msg)
	if h.auditLimit > 0 && len(h.log) > h.auditLimit {
		excess := len(h.log) - h.auditLimit
		clear(h.log[:excess])
		h.log = h.log[excess:]
	}
}

func (h *MessageHub) deliverLocked(msg *Message) {
	if msg.RecipientID == SystemRecipient {
		return
	}
	if !msg.IsBroadcast() {
		mb, ok := h.mailboxes[msg.RecipientID]
		if !ok {
			h.metrics.RecordMessageDropped(DropReasonNoRecipient)
			h.logger.Debug("recipient not registered, message dropped",
				zap.String("to", msg.RecipientID),
				zap.String("msg_id", msg.ID))
			return
		}
		h.enqueue(mb, msg)
		return
	}

	for id, mb := range h.mailboxes {
		if id == msg.SenderID {
			continue
		}
		h.enqueue(mb, msg)
	}
}

func (h *MessageHub) enqueue(mb *Mailbox, msg *Message) {
	select {
	case mb.ch <- msg:
	default:
		h.metrics.RecordMessageDropped(DropReasonMailboxFull)
		h.logger.Warn("mailbox full, message dropped",
			zap.String("to", mb.agentID),
			zap.String("msg_id", msg.ID),
			zap.String("type", string(msg.Type)))
	}
}

// =============================================================================
// 📣 主题订阅
// =============================================================================

// Subscribe 订阅主题，返回订阅 ID
func (h *MessageHub) Subscribe(topic string, handler Handler) string {
	sub := &subscription{id: uuid.NewString(), topic: topic, handler: handler}
	h.subMu.Lock()
	h.subscribers[topic] = append(h.subscribers[topic], sub)
	h.subMu.Unlock()
	return sub.id
}

// Unsubscribe 取消订阅
func (h *MessageHub) Unsubscribe(subscriptionID string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for topic, subs := range h.subscribers {
		for i, s := range subs {
			if s.id != subscriptionID {
				continue
			}
			subs = append(subs[:i:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(h.subscribers, topic)
			} else {
				h.subscribers[topic] = subs
			}
			return
		}
	}
}

// Observe 观察所有发布的消息（审计流），返回观察者 ID
func (h *MessageHub) Observe(fn func(*Message)) string {
	id := uuid.NewString()
	h.subMu.Lock()
	h.observers[id] = fn
	h.subMu.Unlock()
	return id
}

// RemoveObserver 移除观察者
func (h *MessageHub) RemoveObserver(id string) {
	h.subMu.Lock()
	delete(h.observers, id)
	h.subMu.Unlock()
}

func (h *MessageHub) dispatchTopic(ctx context.Context, msg *Message) {
	h.subMu.RLock()
	subs := append([]*subscription(nil), h.subscribers[msg.Topic]...)
	h.subMu.RUnlock()

	for _, s := range subs {
		h.safeHandle(ctx, s, msg)
	}
}

func (h *MessageHub) safeHandle(ctx context.Context, s *subscription, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked",
				zap.String("topic", s.topic),
				zap.String("msg_id", msg.ID),
				zap.Any("recover", r))
		}
	}()
	if err := s.handler(ctx, msg); err != nil {
		h.logger.Error("error in message handler",
			zap.String("topic", s.topic),
			zap.String("msg_id", msg.ID),
			zap.Error(err))
	}
}

func (h *MessageHub) notifyObservers(msg *Message) {
	h.subMu.RLock()
	observers := make([]func(*Message), 0, len(h.observers))
	for _, fn := range h.observers {
		observers = append(observers, fn)
	}
	h.subMu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("observer panicked", zap.Any("recover", r))
				}
			}()
			fn(msg.Clone())
		}()
	}
}

// MessageLog 返回最近 limit 条审计消息（按发布顺序），limit <= 0 返回全部
func (h *MessageHub) MessageLog(limit int) []*Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(h.log) {
		start = len(h.log) - limit
	}
	out := make([]*Message, 0, len(h.log)-start)
	for _, m := range h.log[start:] {
		out = append(out, m.Clone())
	}
	return out
}
