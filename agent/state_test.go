package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agentcouncil/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.AgentStatus
		want     bool
	}{
		{types.StatusIdle, types.StatusBusy, true},
		{types.StatusIdle, types.StatusOffline, true},
		{types.StatusBusy, types.StatusIdle, true},
		{types.StatusBusy, types.StatusOffline, true},
		{types.StatusOffline, types.StatusIdle, false},
		{types.StatusOffline, types.StatusBusy, false},
		{types.AgentStatus("bogus"), types.StatusIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestErrInvalidTransition(t *testing.T) {
	err := ErrInvalidTransition{From: types.StatusOffline, To: types.StatusBusy}
	assert.Equal(t, "invalid status transition: offline -> busy", err.Error())
}
