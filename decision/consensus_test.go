package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentcouncil/types"
)

func newTestManager(t *testing.T, timeout time.Duration, opts ...ConsensusOption) *ConsensusManager {
	t.Helper()
	return NewConsensusManager(ConsensusConfig{DefaultThreshold: 0.5, VoteTimeout: timeout}, zaptest.NewLogger(t), opts...)
}

func twoOptions() []map[string]any {
	return []map[string]any{{"name": "A"}, {"name": "B"}}
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type recordingSink struct {
	mu        sync.Mutex
	decisions []*types.Decision
	err       error
}

func (s *recordingSink) LogDecision(_ context.Context, d *types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return s.err
}

type countingMetrics struct {
	votes    atomic.Int64
	timeouts atomic.Int64
	rounds   atomic.Int64
}

func (m *countingMetrics) RecordVote(string)                       { m.votes.Add(1) }
func (m *countingMetrics) RecordVoteTimeout()                      { m.timeouts.Add(1) }
func (m *countingMetrics) RecordVotingRound(string, time.Duration) { m.rounds.Add(1) }

// ---------------------------------------------------------------------------
// CreateProposal
// ---------------------------------------------------------------------------

func TestCreateProposal_Validation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)

	_, err := m.CreateProposal("p", "bad", twoOptions(), WithThreshold(1.5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidThreshold))

	_, err = m.CreateProposal("p", "bad", twoOptions(), WithThreshold(-0.1))
	assert.Equal(t, types.ErrInvalidThreshold, types.GetErrorCode(err))

	_, err = m.CreateProposal("p", "empty", nil)
	assert.True(t, errors.Is(err, ErrEmptyOptions))

	assert.Empty(t, m.DecisionLog())

	zero, err := m.CreateProposal("p", "zero threshold", twoOptions(), WithThreshold(0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero.Threshold)

	def, err := m.CreateProposal("p", "default", twoOptions(), WithTaskID("task-1"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, def.Threshold)
	assert.Equal(t, "task-1", def.TaskID)

	view, ok := m.Session(def.ID)
	require.True(t, ok)
	assert.Equal(t, SessionOpen, view.State)
}

// ---------------------------------------------------------------------------
// CastVote / Tally
// ---------------------------------------------------------------------------

func TestTally_ThreeEqualVoters(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	p, err := m.CreateProposal("leader", "deploy", twoOptions(), WithThreshold(0.5))
	require.NoError(t, err)

	m.CastVote(p.ID, "a", VoteYes, 0, 1, "")
	m.CastVote(p.ID, "b", VoteYes, 0, 1, "")
	m.CastVote(p.ID, "c", VoteNo, 0, 1, "")

	tally, ok := m.Tally(p.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.667, tally.YesRatio, 0.001)
	assert.True(t, tally.WouldPass)
	assert.Equal(t, 0, tally.WinningOption)
	assert.Equal(t, 3, tally.VoteCount)
}

func TestTally_RejectedHasNoWinner(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	p, err := m.CreateProposal("leader", "deploy", twoOptions(), WithThreshold(0.6))
	require.NoError(t, err)

	m.CastVote(p.ID, "a", VoteYes, 1, 0.34, "")
	m.CastVote(p.ID, "b", VoteNo, 0, 0.33, "")
	m.CastVote(p.ID, "c", VoteNo, 0, 0.33, "")

	tally, _ := m.Tally(p.ID)
	assert.InDelta(t, 0.34, tally.YesRatio, 1e-9)
	assert.False(t, tally.WouldPass)
	assert.Equal(t, 1, tally.LeadingOption)
	assert.Equal(t, -1, tally.WinningOption)

	d, ok := m.CloseVoting(context.Background(), p.ID)
	require.True(t, ok)
	assert.Nil(t, d.SelectedOption)
	assert.Equal(t, -1, d.SelectedIndex)
	assert.Contains(t, d.Rationale, "Consensus not reached (34.0% < 60.0%)")

	view, _ := m.Session(p.ID)
	assert.Equal(t, ResultRejected, view.Result)
}

func TestTally_TieBreaksToLowestIndex(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	p, err := m.CreateProposal("leader", "tie", []map[string]any{{"name": "A"}, {"name": "B"}, {"name": "C"}})
	require.NoError(t, err)

	m.CastVote(p.ID, "a", VoteYes, 2, 1, "")
	m.CastVote(p.ID, "b", VoteYes, 1, 1, "")

	tally, _ := m.Tally(p.ID)
	assert.Equal(t, 1, tally.WinningOption)
}

func TestCastVote_OverwritesPriorVote(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	p, err := m.CreateProposal("leader", "idempotence", twoOptions())
	require.NoError(t, err)

	m.CastVote(p.ID, "a", VoteYes, 0, 2, "first")
	v, ok := m.CastVote(p.ID, "a", VoteNo, 0, 2, "second")
	require.True(t, ok)
	assert.Equal(t, VoteNo, v.Vote)

	tally, _ := m.Tally(p.ID)
	assert.Equal(t, 1, tally.VoteCount)
	assert.Equal(t, 0.0, tally.YesWeight)
	assert.Equal(t, 2.0, tally.NoWeight)

	stored, ok := m.Vote(p.ID, "a")
	require.True(t, ok)
	assert.Equal(t, "second", stored.Rationale)
}

func TestCastVote_UnknownOrClosedIsNoop(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)

	v, ok := m.CastVote("missing", "a", VoteYes, 0, 1, "")
	assert.Nil(t, v)
	assert.False(t, ok)

	p, err := m.CreateProposal("leader", "closed", twoOptions())
	require.NoError(t, err)
	_, ok = m.CloseVoting(context.Background(), p.ID)
	require.True(t, ok)

	_, ok = m.CastVote(p.ID, "a", VoteYes, 0, 1, "")
	assert.False(t, ok)
	tally, _ := m.Tally(p.ID)
	assert.Zero(t, tally.VoteCount)
}

func TestCastVote_Concurrent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	p, err := m.CreateProposal("leader", "concurrent", twoOptions())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CastVote(p.ID, fmt.Sprintf("voter-%d", i), VoteYes, i%2, 1, "")
			_, _ = m.Tally(p.ID)
		}()
	}
	wg.Wait()

	tally, _ := m.Tally(p.ID)
	assert.Equal(t, 50, tally.VoteCount)
	assert.Equal(t, 50.0, tally.YesWeight)
	assert.Equal(t, 25.0, tally.OptionVotes[0])
}

// ---------------------------------------------------------------------------
// CloseVoting
// ---------------------------------------------------------------------------

func TestCloseVoting_Twice(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	m := newTestManager(t, time.Second, WithDecisionSink(sink))
	p, err := m.CreateProposal("leader", "twice", twoOptions(), WithTaskID("task-9"))
	require.NoError(t, err)
	m.CastVote(p.ID, "a", VoteYes, 1, 1, "")

	before, _ := m.Tally(p.ID)
	d, ok := m.CloseVoting(context.Background(), p.ID)
	require.True(t, ok)

	again, ok := m.CloseVoting(context.Background(), p.ID)
	assert.False(t, ok)
	assert.Nil(t, again)

	require.Len(t, m.DecisionLog(), 1)
	require.Len(t, sink.decisions, 1)
	assert.Equal(t, before.YesRatio, d.ConsensusScore)
	assert.Equal(t, before.WinningOption, d.SelectedIndex)
	assert.Equal(t, "B", d.SelectedOption["name"])
	assert.Equal(t, "task-9", d.TaskID)
	assert.Equal(t, types.ContextHash("twice"), d.ContextHash)
	assert.Equal(t, map[string]string{"a": "yes"}, d.Votes)
	assert.Contains(t, d.Rationale, "Consensus reached with 100.0% approval")
}

func TestCloseVoting_SinkErrorDoesNotFail(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("store down")}
	m := newTestManager(t, time.Second, WithDecisionSink(sink))
	p, err := m.CreateProposal("leader", "sink", twoOptions())
	require.NoError(t, err)

	_, ok := m.CloseVoting(context.Background(), p.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, m.DecisionCount())
}

// ---------------------------------------------------------------------------
// RunVotingRound
// ---------------------------------------------------------------------------

func TestRunVotingRound_TimeoutAbstains(t *testing.T) {
	t.Parallel()

	metrics := &countingMetrics{}
	m := newTestManager(t, 100*time.Millisecond, WithConsensusMetrics(metrics))
	p, err := m.CreateProposal("leader", "round", twoOptions())
	require.NoError(t, err)

	voters := []Voter{{ID: "fast", Weight: 1}, {ID: "slow", Weight: 2}, {ID: "broken", Weight: 1}, {ID: "panicky", Weight: 1}}
	fn := func(ctx context.Context, voterID string, _ *Proposal) (VoteType, int, string, error) {
		switch voterID {
		case "fast":
			return VoteYes, 0, "ok", nil
		case "slow":
			<-ctx.Done()
			return VoteYes, 0, "too late", ctx.Err()
		case "broken":
			return "", 0, "", errors.New("boom")
		default:
			panic("voter crashed")
		}
	}

	d, err := m.RunVotingRound(context.Background(), p, voters, fn)
	require.NoError(t, err)

	assert.Equal(t, "yes", d.Votes["fast"])
	assert.Equal(t, "abstain", d.Votes["slow"])
	assert.Equal(t, "abstain", d.Votes["broken"])
	assert.Equal(t, "abstain", d.Votes["panicky"])
	assert.InDelta(t, 0.2, d.ConsensusScore, 1e-9)

	slow, ok := m.Vote(p.ID, "slow")
	require.True(t, ok)
	assert.Equal(t, RationaleTimeout, slow.Rationale)
	assert.Equal(t, 2.0, slow.Weight)

	broken, _ := m.Vote(p.ID, "broken")
	assert.Equal(t, "error: boom", broken.Rationale)

	assert.Equal(t, int64(1), metrics.timeouts.Load())
	assert.Equal(t, int64(1), metrics.rounds.Load())

	view, _ := m.Session(p.ID)
	assert.Equal(t, SessionClosed, view.State)
	assert.Len(t, m.DecisionLog(), 1)
}

func TestRunVotingRound_TimeoutsRunConcurrently(t *testing.T) {
	t.Parallel()

	timeout := 150 * time.Millisecond
	m := newTestManager(t, timeout)
	p, err := m.CreateProposal("leader", "concurrency", twoOptions())
	require.NoError(t, err)

	voters := make([]Voter, 20)
	for i := range voters {
		voters[i] = Voter{ID: fmt.Sprintf("silent-%d", i), Weight: 1}
	}
	block := make(chan struct{})
	defer close(block)
	fn := func(ctx context.Context, _ string, _ *Proposal) (VoteType, int, string, error) {
		// ignores ctx on purpose
		<-block
		return VoteYes, 0, "", nil
	}

	start := time.Now()
	d, err := m.RunVotingRound(context.Background(), p, voters, fn)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, 5*timeout)
	assert.Equal(t, 0.0, d.ConsensusScore)
	for _, v := range d.Votes {
		assert.Equal(t, "abstain", v)
	}
	assert.Len(t, d.Votes, 20)
}

func TestRunVotingRound_DeadlineCapsTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, 10*time.Second)
	p, err := m.CreateProposal("leader", "deadline", twoOptions(), WithDeadline(time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)

	fn := func(ctx context.Context, _ string, _ *Proposal) (VoteType, int, string, error) {
		<-ctx.Done()
		return VoteAbstain, 0, "", ctx.Err()
	}

	start := time.Now()
	d, err := m.RunVotingRound(context.Background(), p, []Voter{{ID: "a", Weight: 1}}, fn)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "abstain", d.Votes["a"])
}

func TestRunVotingRound_ClosedOrUnknown(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Second)
	_, err := m.RunVotingRound(context.Background(), &Proposal{ID: "nope"}, nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownProposal))

	p, err := m.CreateProposal("leader", "closed", twoOptions())
	require.NoError(t, err)
	m.CloseVoting(context.Background(), p.ID)

	_, err = m.RunVotingRound(context.Background(), p, nil, nil)
	assert.True(t, errors.Is(err, ErrProposalClosed))
	assert.Len(t, m.DecisionLog(), 1)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// TestProperty_TallyYesRatio 任意投票集合：yes_ratio = yes/(yes+no+abstain)，would_pass 当且仅当 yes_ratio >= threshold
func TestProperty_TallyYesRatio(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("yes ratio and pass decision follow the weighted quorum", prop.ForAll(
		func(kinds []int, weights []float64, threshold float64) bool {
			m := NewConsensusManager(DefaultConsensusConfig(), nil)
			p, err := m.CreateProposal("p", "prop", twoOptions(), WithThreshold(threshold))
			if err != nil {
				return false
			}

			var yes, no, abstain float64
			n := min(len(kinds), len(weights))
			for i := 0; i < n; i++ {
				vt := []VoteType{VoteYes, VoteNo, VoteAbstain}[kinds[i]]
				m.CastVote(p.ID, fmt.Sprintf("v%d", i), vt, 0, weights[i], "")
				switch vt {
				case VoteYes:
					yes += weights[i]
				case VoteNo:
					no += weights[i]
				default:
					abstain += weights[i]
				}
			}

			tally, _ := m.Tally(p.ID)
			expected := 0.0
			if total := yes + no + abstain; total > 0 {
				expected = yes / total
			}
			if diff := tally.YesRatio - expected; diff > 1e-9 || diff < -1e-9 {
				return false
			}
			return tally.WouldPass == (tally.YesRatio >= threshold)
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.Float64Range(0, 5)),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
