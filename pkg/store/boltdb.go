package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/joshuaaferguson/apex/pkg/apexerr"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/types"
)

const (
	bucketTasks        = "tasks"
	bucketDependencies = "dependencies"
	bucketCheckpoints  = "checkpoints"
	bucketGates        = "gates"
	bucketIdleTasks    = "idle_tasks"
)

var allBuckets = []string{bucketTasks, bucketDependencies, bucketCheckpoints, bucketGates, bucketIdleTasks}

// BoltStore is the bbolt-backed implementation of Store, modeled on the
// teacher's BoltStore (pkg/storage/boltdb.go): one bucket per entity
// family, JSON-encoded values, db.Update for writes and db.View for reads.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) apex.db under dataDir, ensures
// every bucket exists, and runs the additive schema migration pass.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	path := dataDir + "/apex.db"
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &BoltStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate decode-patches every existing task document so newer fields
// (priority, effort, resumeAttempts, pause fields, ...) come back with
// their zero-value defaults instead of failing to unmarshal. bbolt has no
// ALTER TABLE, so this re-encode-on-open pass is the migration. Idempotent
// and safe to run on every start.
func (s *BoltStore) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTasks))
		return b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				log.WithComponent("store").Warn().Str("task_id", string(k)).
					Msg("skipping unreadable task row during migration")
				return nil
			}
			if t.MaxResumeAttempts == 0 {
				t.MaxResumeAttempts = 3
			}
			encoded, err := json.Marshal(t)
			if err != nil {
				return err
			}
			return b.Put(k, encoded)
		})
	})
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func depKey(taskID, blockerID string) []byte {
	return []byte(taskID + "|" + blockerID)
}

func splitDepKey(key []byte) (taskID, blockerID string) {
	parts := strings.SplitN(string(key), "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// dependenciesOf returns blocker ids for taskID, reading within tx.
func dependenciesOf(tx *bolt.Tx, taskID string) []string {
	b := tx.Bucket([]byte(bucketDependencies))
	prefix := []byte(taskID + "|")
	var out []string
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		_, blocker := splitDepKey(k)
		out = append(out, blocker)
	}
	return out
}

// wouldCycle reports whether adding taskID -> blockerID would close a
// cycle, by DFS from blockerID over existing dependency edges looking for
// a path back to taskID (mirrors the design note: "Store enforces on
// insert by traversing dependencies transitively before allowing the new
// edge").
func wouldCycle(tx *bolt.Tx, taskID, blockerID string) bool {
	if taskID == blockerID {
		return true
	}
	visited := map[string]bool{}
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == taskID {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range dependenciesOf(tx, node) {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(blockerID)
}

// CreateTask assigns an id if absent, initializes counters, inserts
// dependency edges atomically, and rejects cyclic dependency sets.
func (s *BoltStore) CreateTask(input types.TaskInput) (*types.Task, error) {
	now := time.Now().UTC()
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	t := &types.Task{
		ID:                id,
		ProjectPath:       input.ProjectPath,
		Workflow:          input.Workflow,
		ParentTaskID:      input.ParentTaskID,
		DependsOn:         append([]string(nil), input.DependsOn...),
		Priority:          input.Priority,
		Effort:            input.Effort,
		Autonomy:          input.Autonomy,
		Status:            types.StatusPending,
		MaxResumeAttempts: 3,
		Workspace:         input.Workspace,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Priority == "" {
		t.Priority = types.PriorityNormal
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, blocker := range t.DependsOn {
			if wouldCycle(tx, t.ID, blocker) {
				return apexerr.ErrInvalidDependency
			}
		}

		tasks := tx.Bucket([]byte(bucketTasks))
		if tasks.Get([]byte(id)) != nil {
			return apexerr.ErrAlreadyExists
		}

		deps := tx.Bucket([]byte(bucketDependencies))
		for _, blocker := range t.DependsOn {
			dep := types.Dependency{TaskID: t.ID, BlockerID: blocker, CreatedAt: now}
			encoded, err := json.Marshal(dep)
			if err != nil {
				return err
			}
			if err := deps.Put(depKey(t.ID, blocker), encoded); err != nil {
				return err
			}
		}

		if t.ParentTaskID != "" {
			if parentRaw := tasks.Get([]byte(t.ParentTaskID)); parentRaw != nil {
				var parent types.Task
				if err := json.Unmarshal(parentRaw, &parent); err == nil {
					parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
					encoded, err := json.Marshal(parent)
					if err != nil {
						return err
					}
					if err := tasks.Put([]byte(parent.ID), encoded); err != nil {
						return err
					}
				}
			}
		}

		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tasks.Put([]byte(id), encoded)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *BoltStore) getTaskTx(tx *bolt.Tx, id string) (*types.Task, error) {
	tasks := tx.Bucket([]byte(bucketTasks))
	raw := tasks.Get([]byte(id))
	if raw == nil {
		return nil, apexerr.ErrNotFound
	}
	var t types.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("store: decode task %s: %w", id, err)
	}
	t.BlockedBy = s.blockedByTx(tx, &t)
	return &t, nil
}

// blockedByTx computes the unresolved-dependency subset of DependsOn.
func (s *BoltStore) blockedByTx(tx *bolt.Tx, t *types.Task) []string {
	tasks := tx.Bucket([]byte(bucketTasks))
	var blocked []string
	for _, blockerID := range t.DependsOn {
		raw := tasks.Get([]byte(blockerID))
		if raw == nil {
			blocked = append(blocked, blockerID)
			continue
		}
		var blocker types.Task
		if err := json.Unmarshal(raw, &blocker); err != nil {
			blocked = append(blocked, blockerID)
			continue
		}
		if !blocker.Status.Terminal() {
			blocked = append(blocked, blockerID)
		}
	}
	return blocked
}

// GetTask eager-loads logs, artifacts, and the blockedBy set.
func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var t *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = s.getTaskTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTask applies a partial update; only supplied fields are written.
func (s *BoltStore) UpdateTask(id string, f TaskFieldSet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		raw := tasks.Get([]byte(id))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var t types.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}

		if f.Status != nil {
			t.Status = *f.Status
		}
		if f.Stage != nil {
			t.Stage = *f.Stage
		}
		if f.StageIndex != nil {
			t.StageIndex = *f.StageIndex
		}
		if f.RetryCount != nil {
			t.RetryCount = *f.RetryCount
		}
		if f.ResumeAttempts != nil {
			t.ResumeAttempts = *f.ResumeAttempts
		}
		if f.CompletedAt != nil {
			t.CompletedAt = f.CompletedAt
		}
		if f.PausedAt != nil {
			t.PausedAt = f.PausedAt
		}
		if f.ClearPausedAt {
			t.PausedAt = nil
		}
		if f.ResumeAfter != nil {
			t.ResumeAfter = f.ResumeAfter
		}
		if f.ClearResumeAfter {
			t.ResumeAfter = nil
		}
		if f.PauseReason != nil {
			t.PauseReason = *f.PauseReason
		}
		if f.Error != nil {
			t.Error = *f.Error
		}
		if f.InputTokens != nil {
			t.InputTokens = *f.InputTokens
		}
		if f.OutputTokens != nil {
			t.OutputTokens = *f.OutputTokens
		}
		if f.TotalTokens != nil {
			t.TotalTokens = *f.TotalTokens
		}
		if f.EstimatedCost != nil {
			t.EstimatedCost = *f.EstimatedCost
		}
		if f.Workspace != nil {
			t.Workspace = *f.Workspace
		}
		if f.SessionData != nil {
			t.SessionData = f.SessionData
		}
		if f.LastCheckpoint != nil {
			t.LastCheckpoint = f.LastCheckpoint
		}
		if f.Priority != nil {
			t.Priority = *f.Priority
		}
		if f.Effort != nil {
			t.Effort = *f.Effort
		}

		if f.UpdatedAt != nil {
			t.UpdatedAt = *f.UpdatedAt
		} else {
			t.UpdatedAt = time.Now().UTC()
		}

		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tasks.Put([]byte(id), encoded)
	})
}

// UpdateTaskStatus is the convenience wrapper with status-specific side
// effects described in spec.md §4.1.
func (s *BoltStore) UpdateTaskStatus(id string, status types.Status, stage string, message string) error {
	now := time.Now().UTC()
	f := TaskFieldSet{Status: &status, UpdatedAt: &now}
	if stage != "" {
		f.Stage = &stage
	}
	switch status {
	case types.StatusCompleted:
		f.CompletedAt = &now
	case types.StatusPaused:
		f.PausedAt = &now
		reason := types.PauseReason(message)
		f.PauseReason = &reason
	case types.StatusFailed, types.StatusCancelled:
		f.Error = &message
	}
	return s.UpdateTask(id, f)
}

// DeleteTask removes a task and cascades checkpoint deletion.
func (s *BoltStore) DeleteTask(id string) error {
	if err := s.DeleteAllCheckpoints(id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		if tasks.Get([]byte(id)) == nil {
			return apexerr.ErrNotFound
		}
		return tasks.Delete([]byte(id))
	})
}

// ListTasks supports status equality plus the canonical sort.
func (s *BoltStore) ListTasks(filter types.TaskFilter) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		return tasks.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if filter.HasStatus && t.Status != filter.Status {
				return nil
			}
			t.BlockedBy = s.blockedByTx(tx, &t)
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if filter.OrderByPriority {
		sort.Slice(out, func(i, j int) bool { return types.LessCanonical(out[i], out[j]) })
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetReadyTasks returns pending tasks with no unresolved dependency,
// ordered by the canonical sort when requested. limit<=0 means unbounded.
func (s *BoltStore) GetReadyTasks(limit int, orderByPriority bool) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		return tasks.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status != types.StatusPending {
				return nil
			}
			t.BlockedBy = s.blockedByTx(tx, &t)
			if len(t.BlockedBy) > 0 {
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if orderByPriority {
		sort.Slice(out, func(i, j int) bool { return types.LessCanonical(out[i], out[j]) })
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetPausedTasksForResume returns paused tasks with a resumable reason
// whose resumeAfter has elapsed (or is unset).
func (s *BoltStore) GetPausedTasksForResume() ([]*types.Task, error) {
	now := time.Now().UTC()
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		return tasks.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status != types.StatusPaused {
				return nil
			}
			if !types.ResumablePauseReasons[t.PauseReason] {
				return nil
			}
			if t.ResumeAfter != nil && t.ResumeAfter.After(now) {
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return types.LessCanonical(out[i], out[j]) })
	return out, nil
}

// FindHighestPriorityParentTask is GetPausedTasksForResume filtered to
// tasks with subtasks, returning only the single highest-priority match.
func (s *BoltStore) FindHighestPriorityParentTask() (*types.Task, error) {
	paused, err := s.GetPausedTasksForResume()
	if err != nil {
		return nil, err
	}
	var parents []*types.Task
	for _, t := range paused {
		if len(t.SubtaskIDs) > 0 {
			parents = append(parents, t)
		}
	}
	if len(parents) == 0 {
		return nil, nil
	}
	return parents[0], nil
}

// GetOrphanedTasks returns in-progress tasks whose updatedAt predates
// staleness, oldest first.
func (s *BoltStore) GetOrphanedTasks(staleness time.Duration) ([]*types.Task, error) {
	cutoff := time.Now().UTC().Add(-staleness)
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		return tasks.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status != types.StatusInProgress {
				return nil
			}
			if t.UpdatedAt.Before(cutoff) {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// AppendLog appends a log entry to a task's append-only log list.
func (s *BoltStore) AppendLog(taskID string, entry types.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		raw := tasks.Get([]byte(taskID))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var t types.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		t.Logs = append(t.Logs, entry)
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tasks.Put([]byte(taskID), encoded)
	})
}

// AppendArtifact appends an artifact to a task's append-only artifact list.
func (s *BoltStore) AppendArtifact(taskID string, artifact types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte(bucketTasks))
		raw := tasks.Get([]byte(taskID))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var t types.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = time.Now().UTC()
		}
		t.Artifacts = append(t.Artifacts, artifact)
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tasks.Put([]byte(taskID), encoded)
	})
}

// AddDependency inserts a task -> blockingTask edge, rejecting cycles
// (invariant I8: edges are immutable once accepted, so this is the only
// mutation path other than removal).
func (s *BoltStore) AddDependency(taskID, blockerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if wouldCycle(tx, taskID, blockerID) {
			return apexerr.ErrInvalidDependency
		}
		deps := tx.Bucket([]byte(bucketDependencies))
		dep := types.Dependency{TaskID: taskID, BlockerID: blockerID, CreatedAt: time.Now().UTC()}
		encoded, err := json.Marshal(dep)
		if err != nil {
			return err
		}
		return deps.Put(depKey(taskID, blockerID), encoded)
	})
}

// RemoveDependency deletes a task -> blockingTask edge.
func (s *BoltStore) RemoveDependency(taskID, blockerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		deps := tx.Bucket([]byte(bucketDependencies))
		return deps.Delete(depKey(taskID, blockerID))
	})
}

// GetDependencies returns the blocker ids for taskID.
func (s *BoltStore) GetDependencies(taskID string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		out = dependenciesOf(tx, taskID)
		return nil
	})
	return out, err
}

// GetDependents returns the task ids that depend on blockerID.
func (s *BoltStore) GetDependents(blockerID string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDependencies))
		return b.ForEach(func(k, v []byte) error {
			taskID, blocker := splitDepKey(k)
			if blocker == blockerID {
				out = append(out, taskID)
			}
			return nil
		})
	})
	return out, err
}

// IsReady reports whether taskID is pending with no unresolved blockers.
func (s *BoltStore) IsReady(taskID string) (bool, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return false, err
	}
	return t.Ready(), nil
}

func checkpointKey(checkpointID string) []byte { return []byte(checkpointID) }

// SaveCheckpoint writes a checkpoint document (ON CONFLICT UPDATE — the
// same checkpointId simply overwrites) and updates the task's
// lastCheckpoint hint.
func (s *BoltStore) SaveCheckpoint(cp *types.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		checkpoints := tx.Bucket([]byte(bucketCheckpoints))
		encoded, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if err := checkpoints.Put(checkpointKey(cp.CheckpointID), encoded); err != nil {
			return err
		}

		tasks := tx.Bucket([]byte(bucketTasks))
		raw := tasks.Get([]byte(cp.TaskID))
		if raw == nil {
			return nil
		}
		var t types.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		t.LastCheckpoint = &cp.CreatedAt
		encoded, err = json.Marshal(t)
		if err != nil {
			return err
		}
		return tasks.Put([]byte(cp.TaskID), encoded)
	})
}

// ListCheckpoints returns every checkpoint for taskID, ordered by creation
// time ascending.
func (s *BoltStore) ListCheckpoints(taskID string) ([]*types.Checkpoint, error) {
	var out []*types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		prefix := []byte(taskID + "-")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cp types.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				continue
			}
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAllCheckpoints returns every checkpoint across every task, for the
// periodic cleanup sweep.
func (s *BoltStore) ListAllCheckpoints() ([]*types.Checkpoint, error) {
	var out []*types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		return b.ForEach(func(k, v []byte) error {
			var cp types.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return nil
			}
			out = append(out, &cp)
			return nil
		})
	})
	return out, err
}

// GetLatestCheckpoint returns the most recently created checkpoint for
// taskID, or nil if none exist.
func (s *BoltStore) GetLatestCheckpoint(taskID string) (*types.Checkpoint, error) {
	all, err := s.ListCheckpoints(taskID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

// DeleteCheckpoint removes a single checkpoint by id.
func (s *BoltStore) DeleteCheckpoint(checkpointID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		return b.Delete(checkpointKey(checkpointID))
	})
}

// DeleteAllCheckpoints removes every checkpoint for taskID (used on task
// deletion, per the ownership rule that checkpoint deletion cascades with
// task deletion).
func (s *BoltStore) DeleteAllCheckpoints(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		prefix := []byte(taskID + "-")
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func gateKey(taskID, name string) []byte { return []byte(taskID + "|" + name) }

// SetGate creates or replaces a gate (unique on (taskId, name), so this is
// an upsert — idempotent-insert per spec.md §4.1 failure semantics).
func (s *BoltStore) SetGate(gate *types.Gate) error {
	if gate.RequiredAt.IsZero() {
		gate.RequiredAt = time.Now().UTC()
	}
	if gate.Status == "" {
		gate.Status = types.GateStatusPending
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGates))
		encoded, err := json.Marshal(gate)
		if err != nil {
			return err
		}
		return b.Put(gateKey(gate.TaskID, gate.Name), encoded)
	})
}

// GetGate returns a single gate by (taskId, name).
func (s *BoltStore) GetGate(taskID, name string) (*types.Gate, error) {
	var gate *types.Gate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGates))
		raw := b.Get(gateKey(taskID, name))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var g types.Gate
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		gate = &g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func (s *BoltStore) respondGate(taskID, name string, status types.GateStatus, approver, comment string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGates))
		raw := b.Get(gateKey(taskID, name))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var g types.Gate
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		if g.Status != types.GateStatusPending {
			return apexerr.ErrInvalidTransition
		}
		now := time.Now().UTC()
		g.Status = status
		g.RespondedAt = &now
		g.Approver = approver
		g.Comment = comment
		encoded, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return b.Put(gateKey(taskID, name), encoded)
	})
}

// ApproveGate transitions a pending gate to approved.
func (s *BoltStore) ApproveGate(taskID, name, approver, comment string) error {
	return s.respondGate(taskID, name, types.GateStatusApproved, approver, comment)
}

// RejectGate transitions a pending gate to rejected.
func (s *BoltStore) RejectGate(taskID, name, approver, comment string) error {
	return s.respondGate(taskID, name, types.GateStatusRejected, approver, comment)
}

// ListPendingGates returns every gate awaiting a response.
func (s *BoltStore) ListPendingGates() ([]*types.Gate, error) {
	var out []*types.Gate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGates))
		return b.ForEach(func(k, v []byte) error {
			var g types.Gate
			if err := json.Unmarshal(v, &g); err != nil {
				return nil
			}
			if g.Status == types.GateStatusPending {
				out = append(out, &g)
			}
			return nil
		})
	})
	return out, err
}

// ListAllGates returns every gate for taskID.
func (s *BoltStore) ListAllGates(taskID string) ([]*types.Gate, error) {
	var out []*types.Gate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketGates))
		prefix := []byte(taskID + "|")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var g types.Gate
			if err := json.Unmarshal(v, &g); err != nil {
				continue
			}
			out = append(out, &g)
		}
		return nil
	})
	return out, err
}

// CreateIdleTask inserts a new idle-task candidate.
func (s *BoltStore) CreateIdleTask(it *types.IdleTask) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketIdleTasks))
		encoded, err := json.Marshal(it)
		if err != nil {
			return err
		}
		return b.Put([]byte(it.ID), encoded)
	})
}

// GetIdleTask returns a single idle task by id.
func (s *BoltStore) GetIdleTask(id string) (*types.IdleTask, error) {
	var it *types.IdleTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketIdleTasks))
		raw := b.Get([]byte(id))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var v types.IdleTask
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		it = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// ListIdleTasks returns every idle task.
func (s *BoltStore) ListIdleTasks() ([]*types.IdleTask, error) {
	var out []*types.IdleTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketIdleTasks))
		return b.ForEach(func(k, v []byte) error {
			var it types.IdleTask
			if err := json.Unmarshal(v, &it); err != nil {
				return nil
			}
			out = append(out, &it)
			return nil
		})
	})
	return out, err
}

// PromoteIdleTask records the forward pointer to a promoted Task id.
func (s *BoltStore) PromoteIdleTask(id, promotedTaskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketIdleTasks))
		raw := b.Get([]byte(id))
		if raw == nil {
			return apexerr.ErrNotFound
		}
		var it types.IdleTask
		if err := json.Unmarshal(raw, &it); err != nil {
			return err
		}
		it.Implemented = true
		it.PromotedTaskID = promotedTaskID
		encoded, err := json.Marshal(it)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), encoded)
	})
}

var _ Store = (*BoltStore)(nil)
