// Package store is the persistent, transactional, single-writer store for
// tasks, dependencies, checkpoints, gates, and idle tasks (spec.md §4.1).
// It is backed by an embedded ACID key-value engine (bbolt) with one
// bucket family per entity, following the teacher's storage layer
// (pkg/storage/boltdb.go): JSON-marshaled values, db.Update for writes,
// db.View for reads.
package store

import (
	"time"

	"github.com/joshuaaferguson/apex/pkg/types"
)

// Store is the full persistence contract used by the rest of the engine.
type Store interface {
	CreateTask(input types.TaskInput) (*types.Task, error)
	GetTask(id string) (*types.Task, error)
	UpdateTask(id string, fields TaskFieldSet) error
	UpdateTaskStatus(id string, status types.Status, stage string, message string) error
	ListTasks(filter types.TaskFilter) ([]*types.Task, error)
	GetReadyTasks(limit int, orderByPriority bool) ([]*types.Task, error)
	GetPausedTasksForResume() ([]*types.Task, error)
	FindHighestPriorityParentTask() (*types.Task, error)
	GetOrphanedTasks(staleness time.Duration) ([]*types.Task, error)
	DeleteTask(id string) error

	AppendLog(taskID string, entry types.LogEntry) error
	AppendArtifact(taskID string, artifact types.Artifact) error

	AddDependency(taskID, blockerID string) error
	RemoveDependency(taskID, blockerID string) error
	GetDependencies(taskID string) ([]string, error)
	GetDependents(blockerID string) ([]string, error)
	IsReady(taskID string) (bool, error)

	SaveCheckpoint(cp *types.Checkpoint) error
	GetLatestCheckpoint(taskID string) (*types.Checkpoint, error)
	ListCheckpoints(taskID string) ([]*types.Checkpoint, error)
	ListAllCheckpoints() ([]*types.Checkpoint, error)
	DeleteCheckpoint(checkpointID string) error
	DeleteAllCheckpoints(taskID string) error

	SetGate(gate *types.Gate) error
	GetGate(taskID, name string) (*types.Gate, error)
	ApproveGate(taskID, name, approver, comment string) error
	RejectGate(taskID, name, approver, comment string) error
	ListPendingGates() ([]*types.Gate, error)
	ListAllGates(taskID string) ([]*types.Gate, error)

	CreateIdleTask(it *types.IdleTask) error
	GetIdleTask(id string) (*types.IdleTask, error)
	ListIdleTasks() ([]*types.IdleTask, error)
	PromoteIdleTask(id, promotedTaskID string) error

	Close() error
}

// TaskFieldSet is a partial update for UpdateTask: only non-nil pointer
// fields are written. updatedAt is bumped automatically unless UpdatedAt
// is itself supplied.
type TaskFieldSet struct {
	Status      *types.Status
	Stage       *string
	StageIndex  *int
	RetryCount  *int
	ResumeAttempts *int

	CompletedAt *time.Time
	PausedAt    *time.Time
	ResumeAfter *time.Time
	UpdatedAt   *time.Time

	// ClearPausedAt/ClearResumeAfter distinguish "set to null" from "leave
	// unchanged" for nullable timestamp fields, since a nil pointer in Go
	// cannot itself express the former.
	ClearPausedAt    bool
	ClearResumeAfter bool

	PauseReason *types.PauseReason
	Error       *string

	InputTokens   *int64
	OutputTokens  *int64
	TotalTokens   *int64
	EstimatedCost *float64

	Workspace      *string
	SessionData    *types.SessionData
	LastCheckpoint *time.Time

	Priority *types.Priority
	Effort   *types.Effort
}
