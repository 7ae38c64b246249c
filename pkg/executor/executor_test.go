package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_ReturnsCannedResult(t *testing.T) {
	m := NewMock()
	m.SetResult("task-1", Result{Outcome: OutcomeCompleted, Stage: "done"})

	result, err := m.Execute(context.Background(), "task-1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, []string{"task-1"}, m.Calls)
}

func TestMock_ReturnsCannedError(t *testing.T) {
	m := NewMock()
	wantErr := errors.New("boom")
	m.SetError("task-2", wantErr)

	_, err := m.Execute(context.Background(), "task-2", 0, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestMock_UnknownTaskErrors(t *testing.T) {
	m := NewMock()
	_, err := m.Execute(context.Background(), "unknown", 0, nil)
	assert.Error(t, err)
}

func TestFunc_AdaptsPlainFunction(t *testing.T) {
	var called bool
	var fn Func = func(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error) {
		called = true
		return Result{Outcome: OutcomePaused, PauseReason: "manual"}, nil
	}

	result, err := fn.Execute(context.Background(), "t", 1, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, OutcomePaused, result.Outcome)
}
