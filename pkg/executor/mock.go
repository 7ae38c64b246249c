package executor

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic Executor driven by a table of canned results per
// task id, used across the scheduler and pause/resume controller's tests.
type Mock struct {
	mu sync.Mutex

	Results map[string]Result
	Errors  map[string]error
	Calls   []string
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{
		Results: make(map[string]Result),
		Errors:  make(map[string]error),
	}
}

// SetResult registers the canned result returned for taskID.
func (m *Mock) SetResult(taskID string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[taskID] = result
}

// SetError registers the error returned for taskID instead of a result.
func (m *Mock) SetError(taskID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[taskID] = err
}

// Execute implements Executor by looking up the canned outcome for taskID.
func (m *Mock) Execute(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, taskID)

	if err, ok := m.Errors[taskID]; ok {
		return Result{}, err
	}
	if result, ok := m.Results[taskID]; ok {
		return result, nil
	}
	return Result{}, fmt.Errorf("executor: mock has no canned result for task %s", taskID)
}
