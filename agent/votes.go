package agent

import (
	"context"
	"sync"

	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/decision"
)

type voteReply struct {
	vote      decision.VoteType
	option    int
	rationale string
}

// voteCollector 把 vote.<proposal> 主题上的 VOTE 回复分发给各投票者的等待方。
// 每个投票者一个容量为 1 的槽位，重复回复只保留第一条。
type voteCollector struct {
	proposalID string

	mu    sync.Mutex
	slots map[string]chan voteReply
}

func newVoteCollector(proposalID string) *voteCollector {
	return &voteCollector{proposalID: proposalID, slots: make(map[string]chan voteReply)}
}

func (c *voteCollector) slot(voterID string) chan voteReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.slots[voterID]
	if !ok {
		ch = make(chan voteReply, 1)
		c.slots[voterID] = ch
	}
	return ch
}

// handle 在消息中心的发布路径上同步调用，不能阻塞
func (c *voteCollector) handle(_ context.Context, msg *collaboration.Message) error {
	if msg.Type != collaboration.MessageTypeVote || msg.SenderID == "" {
		return nil
	}
	if pid, _ := msg.Payload["proposal_id"].(string); pid != c.proposalID {
		return nil
	}
	vote, _ := msg.Payload["vote"].(string)
	rationale, _ := msg.Payload["rationale"].(string)
	reply := voteReply{
		vote:      decision.ParseVoteType(vote),
		option:    intField(msg.Payload["selected_option"]),
		rationale: rationale,
	}
	select {
	case c.slot(msg.SenderID) <- reply:
	default:
	}
	return nil
}

// wait 满足 decision.VoteFunc，在 ctx 到期前等待该投票者的回复
func (c *voteCollector) wait(ctx context.Context, voterID string, _ *decision.Proposal) (decision.VoteType, int, string, error) {
	select {
	case r := <-c.slot(voterID):
		return r.vote, r.option, r.rationale, nil
	case <-ctx.Done():
		return "", 0, "", ctx.Err()
	}
}

func intField(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
