package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreUnavailable, "redis down").
		WithCause(root).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)

	assert.Equal(t, ErrStoreUnavailable, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
	assert.Contains(t, err.Error(), "root")
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	sentinel := NewValidationError(ErrEmptyOptions, "no options provided")
	wrapped := fmt.Errorf("create proposal: %w", NewValidationError(ErrEmptyOptions, "other message"))

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, NewError(ErrInvalidThreshold, "x")))
	assert.True(t, IsErrorCode(wrapped, ErrEmptyOptions))
	assert.Equal(t, http.StatusBadRequest, sentinel.HTTPStatus)
}

func TestGetErrorCode_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

// ---------------------------------------------------------------------------
// Task
// ---------------------------------------------------------------------------

func TestTask_TerminalIsImmutable(t *testing.T) {
	t.Parallel()

	task := NewTask("allocate", "finance")
	assert.Equal(t, TaskPending, task.Status())
	require.NoError(t, task.SetStatus(TaskInProgress))
	require.NoError(t, task.Complete(TaskCompleted, map[string]any{"success": true}))

	err := task.SetStatus(TaskInProgress)
	require.Error(t, err)
	assert.Equal(t, ErrTaskFinalized, GetErrorCode(err))

	err = task.Complete(TaskFailed, nil)
	require.Error(t, err)
	assert.Equal(t, TaskCompleted, task.Status())
	assert.Equal(t, true, task.Result()["success"])
}

func TestTask_CompleteRejectsNonTerminal(t *testing.T) {
	t.Parallel()

	task := NewTask("x")
	err := task.Complete(TaskInProgress, nil)
	assert.Equal(t, ErrInvalidTransition, GetErrorCode(err))
	assert.Equal(t, TaskPending, task.Status())
}

func TestTaskFromPayload(t *testing.T) {
	t.Parallel()

	task := NewTask("direct", "a")
	got, ok := TaskFromPayload(map[string]any{"task": task})
	require.True(t, ok)
	assert.Same(t, task, got)

	wire, ok := TaskFromPayload(map[string]any{"task": map[string]any{
		"id":                    "t-1",
		"name":                  "wire",
		"priority":              float64(7),
		"required_capabilities": []any{"finance", "ops"},
	}})
	require.True(t, ok)
	assert.Equal(t, "t-1", wire.ID)
	assert.Equal(t, 7, wire.Priority)
	assert.Equal(t, []string{"finance", "ops"}, wire.RequiredCapabilities)
	assert.Equal(t, TaskPending, wire.Status())

	_, ok = TaskFromPayload(map[string]any{})
	assert.False(t, ok)
}

func TestAgentIdentity_MissingCapabilities(t *testing.T) {
	t.Parallel()

	id := AgentIdentity{Capabilities: []string{"finance", "resource_allocation"}}
	assert.Empty(t, id.MissingCapabilities([]string{"finance"}))
	assert.Equal(t, []string{"ops"}, id.MissingCapabilities([]string{"ops", "finance"}))
	assert.True(t, id.HasCapability("resource_allocation"))

	clone := id.Clone()
	clone.Capabilities[0] = "changed"
	assert.Equal(t, "finance", id.Capabilities[0])
}
