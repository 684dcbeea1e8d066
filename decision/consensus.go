package decision

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentcouncil/types"
)

const instrumentationName = "github.com/BaSui01/agentcouncil/decision"

// 默认表决参数
const (
	DefaultThreshold   = 0.5
	DefaultVoteTimeout = 30 * time.Second
)

// 弃权理由
const (
	RationaleTimeout   = "timeout"
	RationaleCancelled = "cancelled"
)

var (
	// ErrInvalidThreshold 阈值不在 [0, 1] 内
	ErrInvalidThreshold = types.NewValidationError(types.ErrInvalidThreshold, "threshold must be within [0, 1]")
	// ErrEmptyOptions 未提供任何方案
	ErrEmptyOptions = types.NewValidationError(types.ErrEmptyOptions, "no options provided")
	// ErrUnknownProposal 提案不存在
	ErrUnknownProposal = types.NewError(types.ErrUnknownProposal, "unknown proposal")
	// ErrProposalClosed 提案已关闭
	ErrProposalClosed = types.NewError(types.ErrProposalClosed, "proposal already closed")
)

// SessionState 表决会话状态
type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionClosed SessionState = "closed"
)

// SessionResult 表决结果
type SessionResult string

const (
	ResultAccepted SessionResult = "accepted"
	ResultRejected SessionResult = "rejected"
)

// SessionView 表决会话的只读快照
type SessionView struct {
	Proposal  *Proposal     `json:"proposal"`
	State     SessionState  `json:"state"`
	Result    SessionResult `json:"result,omitempty"`
	VoteCount int           `json:"vote_count"`
	CreatedAt time.Time     `json:"created_at"`
}

// Tally 计票快照
type Tally struct {
	ProposalID    string          `json:"proposal_id"`
	YesWeight     float64         `json:"yes_weight"`
	NoWeight      float64         `json:"no_weight"`
	AbstainWeight float64         `json:"abstain_weight"`
	TotalWeight   float64         `json:"total_weight"`
	YesRatio      float64         `json:"yes_ratio"`
	OptionVotes   map[int]float64 `json:"option_votes"`
	VoteCount     int             `json:"vote_count"`
	Threshold     float64         `json:"threshold"`
	WouldPass     bool            `json:"would_pass"`
	// LeadingOption 赞成权重最高的方案，平票取最小下标；无赞成票为 -1
	LeadingOption int `json:"leading_option"`
	// WinningOption 通过时等于 LeadingOption，否则为 -1
	WinningOption int `json:"winning_option"`
}

// Voter 参与表决的一方
type Voter struct {
	ID     string
	Weight float64
}

// VoteFunc 向单个投票者征集选票。ctx 带有该投票者的超时。
type VoteFunc func(ctx context.Context, voterID string, proposal *Proposal) (VoteType, int, string, error)

// DecisionSink 决策记录的外部落地（知识库/审计日志）
type DecisionSink interface {
	LogDecision(ctx context.Context, decision *types.Decision) error
}

// ConsensusMetrics 共识指标钩子
type ConsensusMetrics interface {
	RecordVote(vote string)
	RecordVoteTimeout()
	RecordVotingRound(result string, duration time.Duration)
}

type nopConsensusMetrics struct{}

func (nopConsensusMetrics) RecordVote(string)                       {}
func (nopConsensusMetrics) RecordVoteTimeout()                      {}
func (nopConsensusMetrics) RecordVotingRound(string, time.Duration) {}

// ConsensusConfig 共识参数
type ConsensusConfig struct {
	DefaultThreshold float64
	VoteTimeout      time.Duration
}

// DefaultConsensusConfig 返回默认共识参数
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{DefaultThreshold: DefaultThreshold, VoteTimeout: DefaultVoteTimeout}
}

// ConsensusOption 共识管理器选项
type ConsensusOption func(*ConsensusManager)

// WithDecisionSink 设置决策落地
func WithDecisionSink(sink DecisionSink) ConsensusOption {
	return func(m *ConsensusManager) { m.sink = sink }
}

// WithConsensusMetrics 设置指标钩子
func WithConsensusMetrics(metrics ConsensusMetrics) ConsensusOption {
	return func(m *ConsensusManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

type session struct {
	proposal  *Proposal
	votes     map[string]*Vote
	state     SessionState
	result    SessionResult
	createdAt time.Time
}

// ConsensusManager 管理提案生命周期、并发征票、加权计票与决策记录。
// 会话状态只由本结构持有，每次投票是一次加锁的 map 写入。
type ConsensusManager struct {
	mu        sync.Mutex
	sessions  map[string]*session
	decisions []*types.Decision

	cfg     ConsensusConfig
	sink    DecisionSink
	metrics ConsensusMetrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewConsensusManager 创建共识管理器
func NewConsensusManager(cfg ConsensusConfig, logger *zap.Logger, opts ...ConsensusOption) *ConsensusManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultThreshold < 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = DefaultThreshold
	}
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = DefaultVoteTimeout
	}
	m := &ConsensusManager{
		sessions: make(map[string]*session),
		cfg:      cfg,
		metrics:  nopConsensusMetrics{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "consensus")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProposalOption 提案选项
type ProposalOption func(*proposalSettings)

type proposalSettings struct {
	threshold   *float64
	taskID      string
	deadline    *time.Time
	recommended int
}

// WithThreshold 显式指定通过阈值（0 也是合法值）
func WithThreshold(threshold float64) ProposalOption {
	return func(s *proposalSettings) { s.threshold = &threshold }
}

// WithTaskID 关联任务
func WithTaskID(taskID string) ProposalOption {
	return func(s *proposalSettings) { s.taskID = taskID }
}

// WithDeadline 设置表决截止时间
func WithDeadline(deadline time.Time) ProposalOption {
	return func(s *proposalSettings) { s.deadline = &deadline }
}

// WithRecommendedOption 设置提案方推荐的方案
func WithRecommendedOption(index int) ProposalOption {
	return func(s *proposalSettings) { s.recommended = index }
}

// CreateProposal 创建提案并打开表决会话。参数非法时不做任何修改。
func (m *ConsensusManager) CreateProposal(proposerID, description string, options []map[string]any, opts ...ProposalOption) (*Proposal, error) {
	settings := proposalSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	threshold := m.cfg.DefaultThreshold
	if settings.threshold != nil {
		threshold = *settings.threshold
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if len(options) == 0 {
		return nil, ErrEmptyOptions
	}

	copied := make([]map[string]any, len(options))
	for i, o := range options {
		copied[i] = maps.Clone(o)
	}
	now := time.Now()
	p := &Proposal{
		ID:                uuid.NewString(),
		ProposerID:        proposerID,
		TaskID:            settings.taskID,
		Description:       description,
		Options:           copied,
		RecommendedOption: settings.recommended,
		Threshold:         threshold,
		Deadline:          settings.deadline,
		CreatedAt:         now,
	}

	m.mu.Lock()
	m.sessions[p.ID] = &session{
		proposal:  p,
		votes:     make(map[string]*Vote),
		state:     SessionOpen,
		createdAt: now,
	}
	m.mu.Unlock()

	m.logger.Debug("proposal created",
		zap.String("proposal_id", p.ID),
		zap.String("proposer_id", proposerID),
		zap.Int("options", len(copied)),
		zap.Float64("threshold", threshold))

	return p.clone(), nil
}

// CastVote 投票。会话不存在或已关闭时为空操作，返回 (nil, false)；
// 同一投票者的后一票覆盖前一票。
func (m *ConsensusManager) CastVote(proposalID, voterID string, vote VoteType, selectedOption int, weight float64, rationale string) (*Vote, bool) {
	m.mu.Lock()
	s, ok := m.sessions[proposalID]
	if !ok || s.state != SessionOpen {
		m.mu.Unlock()
		return nil, false
	}
	v := &Vote{
		ID:             uuid.NewString(),
		ProposalID:     proposalID,
		VoterID:        voterID,
		Vote:           vote,
		SelectedOption: selectedOption,
		Weight:         weight,
		Rationale:      rationale,
		Timestamp:      time.Now(),
	}
	s.votes[voterID] = v
	m.mu.Unlock()

	m.metrics.RecordVote(string(vote))
	cp := *v
	return &cp, true
}

// Tally 返回计票快照
func (m *ConsensusManager) Tally(proposalID string) (Tally, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[proposalID]
	if !ok {
		return Tally{}, false
	}
	return tallyLocked(s), true
}

func tallyLocked(s *session) Tally {
	t := Tally{
		ProposalID:    s.proposal.ID,
		OptionVotes:   make(map[int]float64),
		VoteCount:     len(s.votes),
		Threshold:     s.proposal.Threshold,
		LeadingOption: -1,
		WinningOption: -1,
	}
	for _, v := range s.votes {
		switch v.Vote {
		case VoteYes:
			t.YesWeight += v.Weight
			t.OptionVotes[v.SelectedOption] += v.Weight
		case VoteNo:
			t.NoWeight += v.Weight
		default:
			t.AbstainWeight += v.Weight
		}
	}
	t.TotalWeight = t.YesWeight + t.NoWeight + t.AbstainWeight
	if t.TotalWeight > 0 {
		t.YesRatio = t.YesWeight / t.TotalWeight
	}
	t.WouldPass = t.YesRatio >= t.Threshold

	best := 0.0
	for idx := range s.proposal.Options {
		w, ok := t.OptionVotes[idx]
		if !ok {
			continue
		}
		if t.LeadingOption < 0 || w > best {
			t.LeadingOption = idx
			best = w
		}
	}
	if t.WouldPass {
		t.WinningOption = t.LeadingOption
	}
	return t
}

// CloseVoting 关闭表决并生成决策记录。每个提案只生效一次，重复关闭返回 (nil, false)。
func (m *ConsensusManager) CloseVoting(ctx context.Context, proposalID string) (*types.Decision, bool) {
	m.mu.Lock()
	s, ok := m.sessions[proposalID]
	if !ok || s.state != SessionOpen {
		m.mu.Unlock()
		return nil, false
	}
	tally := tallyLocked(s)
	s.state = SessionClosed
	if tally.WouldPass {
		s.result = ResultAccepted
	} else {
		s.result = ResultRejected
	}
	d := buildDecision(s, tally)
	m.decisions = append(m.decisions, d)
	m.mu.Unlock()

	m.logger.Info("voting closed",
		zap.String("proposal_id", proposalID),
		zap.String("result", string(s.result)),
		zap.Float64("yes_ratio", tally.YesRatio),
		zap.Int("winning_option", tally.WinningOption))

	if m.sink != nil {
		if err := m.sink.LogDecision(ctx, d); err != nil {
			m.logger.Warn("failed to record decision", zap.String("proposal_id", proposalID), zap.Error(err))
		}
	}
	return d, true
}

func buildDecision(s *session, tally Tally) *types.Decision {
	p := s.proposal
	considered := make([]map[string]any, len(p.Options))
	for i, o := range p.Options {
		considered[i] = maps.Clone(o)
	}
	votes := make(map[string]string, len(s.votes))
	for voter, v := range s.votes {
		votes[voter] = string(v.Vote)
	}

	var rationale string
	if tally.WouldPass {
		rationale = fmt.Sprintf("Consensus reached with %.1f%% approval", tally.YesRatio*100)
	} else {
		rationale = fmt.Sprintf("Consensus not reached (%.1f%% < %.1f%%)", tally.YesRatio*100, tally.Threshold*100)
	}

	d := &types.Decision{
		ID:                uuid.NewString(),
		ProposalID:        p.ID,
		TaskID:            p.TaskID,
		ContextHash:       types.ContextHash(p.Description),
		OptionsConsidered: considered,
		SelectedIndex:     tally.WinningOption,
		Rationale:         rationale,
		ConsensusScore:    tally.YesRatio,
		Votes:             votes,
		Timestamp:         time.Now(),
	}
	if tally.WinningOption >= 0 {
		d.SelectedOption = maps.Clone(p.Options[tally.WinningOption])
	}
	return d
}

// Session 返回会话快照
func (m *ConsensusManager) Session(proposalID string) (SessionView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[proposalID]
	if !ok {
		return SessionView{}, false
	}
	return SessionView{
		Proposal:  s.proposal.clone(),
		State:     s.state,
		Result:    s.result,
		VoteCount: len(s.votes),
		CreatedAt: s.createdAt,
	}, true
}

// Vote 返回某投票者在提案中的当前选票
func (m *ConsensusManager) Vote(proposalID, voterID string) (*Vote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[proposalID]
	if !ok {
		return nil, false
	}
	v, ok := s.votes[voterID]
	if !ok {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// DecisionLog 返回决策日志副本
func (m *ConsensusManager) DecisionLog() []*types.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// DecisionCount 已记录的决策数
func (m *ConsensusManager) DecisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

// =============================================================================
// 🗳️ 表决轮次
// =============================================================================

// RunVotingRound 并发向所有投票者征票，每人独立限时。超时记为弃权（理由 "timeout"），
// 回调出错或 panic 记为弃权，单个投票者不会阻塞其他人。全部结束后恰好关闭一次。
func (m *ConsensusManager) RunVotingRound(ctx context.Context, proposal *Proposal, voters []Voter, fn VoteFunc) (*types.Decision, error) {
	if proposal == nil {
		return nil, ErrUnknownProposal
	}
	view, ok := m.Session(proposal.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProposal, proposal.ID)
	}
	if view.State != SessionOpen {
		return nil, fmt.Errorf("%w: %s", ErrProposalClosed, proposal.ID)
	}

	ctx, span := m.tracer.Start(ctx, "consensus.voting_round",
		trace.WithAttributes(
			attribute.String("proposal.id", proposal.ID),
			attribute.Int("voters", len(voters)),
			attribute.Float64("threshold", view.Proposal.Threshold),
		))
	defer span.End()

	start := time.Now()
	timeout := m.voterTimeout(view.Proposal)

	var g errgroup.Group
	for _, voter := range voters {
		g.Go(func() error {
			m.collectVote(ctx, view.Proposal, voter, timeout, fn)
			return nil // 单个投票者失败不终止整轮
		})
	}
	_ = g.Wait()

	d, closed := m.CloseVoting(ctx, proposal.ID)
	if !closed {
		// 轮次进行中被其他调用方关闭
		err := fmt.Errorf("%w: %s", ErrProposalClosed, proposal.ID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := string(ResultRejected)
	if d.ConsensusScore >= view.Proposal.Threshold {
		result = string(ResultAccepted)
	}
	m.metrics.RecordVotingRound(result, time.Since(start))
	span.SetAttributes(
		attribute.String("result", result),
		attribute.Float64("yes_ratio", d.ConsensusScore),
	)
	return d, nil
}

func (m *ConsensusManager) voterTimeout(p *Proposal) time.Duration {
	timeout := m.cfg.VoteTimeout
	if p.Deadline != nil {
		if remaining := time.Until(*p.Deadline); remaining < timeout {
			timeout = max(remaining, 0)
		}
	}
	return timeout
}

type voteOutcome struct {
	vote      VoteType
	option    int
	rationale string
	err       error
}

func (m *ConsensusManager) collectVote(ctx context.Context, p *Proposal, voter Voter, timeout time.Duration, fn VoteFunc) {
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan voteOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- voteOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		vt, opt, rationale, err := fn(vctx, voter.ID, p)
		ch <- voteOutcome{vote: vt, option: opt, rationale: rationale, err: err}
	}()

	select {
	case out := <-ch:
		switch {
		case out.err == nil:
			m.CastVote(p.ID, voter.ID, out.vote, out.option, voter.Weight, out.rationale)
		case errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil:
			m.abstainTimeout(p.ID, voter)
		case errors.Is(out.err, context.Canceled) && ctx.Err() != nil:
			m.CastVote(p.ID, voter.ID, VoteAbstain, 0, voter.Weight, RationaleCancelled)
		default:
			m.logger.Warn("vote callback failed",
				zap.String("proposal_id", p.ID),
				zap.String("voter_id", voter.ID),
				zap.Error(out.err))
			m.CastVote(p.ID, voter.ID, VoteAbstain, 0, voter.Weight, "error: "+out.err.Error())
		}
	case <-vctx.Done():
		if ctx.Err() != nil {
			m.CastVote(p.ID, voter.ID, VoteAbstain, 0, voter.Weight, RationaleCancelled)
			return
		}
		m.abstainTimeout(p.ID, voter)
	}
}

func (m *ConsensusManager) abstainTimeout(proposalID string, voter Voter) {
	m.metrics.RecordVoteTimeout()
	m.logger.Debug("vote timed out, abstaining",
		zap.String("proposal_id", proposalID),
		zap.String("voter_id", voter.ID))
	m.CastVote(proposalID, voter.ID, VoteAbstain, 0, voter.Weight, RationaleTimeout)
}
