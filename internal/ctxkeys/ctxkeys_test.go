package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	tests := []struct {
		name string
		with func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}{
		{"request_id", WithRequestID, RequestID},
		{"trace_id", WithTraceID, TraceID},
		{"agent_id", WithAgentID, AgentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.get(context.Background())
			assert.False(t, ok)

			_, ok = tt.get(tt.with(context.Background(), ""))
			assert.False(t, ok, "empty value is treated as absent")

			v, ok := tt.get(tt.with(context.Background(), "abc"))
			assert.True(t, ok)
			assert.Equal(t, "abc", v)
		})
	}
}

func TestContextKeys_Independent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithAgentID(ctx, "agent-1")

	_, ok := TraceID(ctx)
	assert.False(t, ok)
	v, _ := RequestID(ctx)
	assert.Equal(t, "req-1", v)
	v, _ = AgentID(ctx)
	assert.Equal(t, "agent-1", v)
}
