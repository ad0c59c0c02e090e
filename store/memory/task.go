package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return archivist.ErrTaskAlreadyExists
	}
	m.tasks[key] = copyTask(t, true)
	return nil
}

// CreateChildTask persists child under parentID.
func (m *Store) CreateChildTask(_ context.Context, parentID id.TaskID, child *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.tasks[parentID.String()]
	if !ok {
		return archivist.ErrTaskNotFound
	}
	key := child.ID.String()
	if _, exists := m.tasks[key]; exists {
		return archivist.ErrTaskAlreadyExists
	}
	child.ParentID = parent.ID
	child.JobID = parent.JobID
	m.tasks[key] = copyTask(child, true)
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, archivist.ErrTaskNotFound
	}
	return copyTask(t, true), nil
}

// GetScript returns the script of a task.
func (m *Store) GetScript(_ context.Context, taskID id.TaskID) (*task.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, archivist.ErrTaskNotFound
	}
	if t.Script == nil {
		return &task.Script{}, nil
	}
	s := *t.Script
	return &s, nil
}

// GetWaitingTasks returns waiting tasks of dispatchable jobs ordered by
// job priority, then age.
func (m *Store) GetWaitingTasks(_ context.Context, limit int) ([]*task.DispatchTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	candidates := make([]*task.DispatchTask, 0)
	for _, t := range m.tasks {
		if t.State != task.StateWaiting {
			continue
		}
		j, ok := m.jobs[t.JobID.String()]
		if !ok || !j.Dispatchable(now) {
			continue
		}
		candidates = append(candidates, &task.DispatchTask{
			Task:           *copyTask(t, false),
			OrganizationID: j.OrganizationID,
			Priority:       j.Priority,
		})
	}

	// Sort: priority ASC, CreatedAt ASC, ID ASC.
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ListTasksByJob returns the tasks of a job in the given states.
func (m *Store) ListTasksByJob(_ context.Context, jobID id.JobID, states ...task.State) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Task
	for _, t := range m.tasks {
		if t.JobID != jobID {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, t.State) {
			continue
		}
		result = append(result, copyTask(t, false))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// SetState conditionally moves a task to state.
func (m *Store) SetState(_ context.Context, taskID id.TaskID, state task.State, expected ...task.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return false, archivist.ErrTaskNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, t.State) {
		return false, nil
	}

	now := m.now()
	t.State = state
	t.UpdatedAt = now
	switch {
	case state == task.StateRunning:
		t.TimeStarted = &now
		ping := now
		t.TimePing = &ping
	case state.Terminal():
		t.TimeStopped = &now
	}
	if !state.Dispatched() {
		t.HostEndpoint = ""
	}
	return true, nil
}

// SetHostEndpoint records the analyst a task was queued on.
func (m *Store) SetHostEndpoint(_ context.Context, taskID id.TaskID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return archivist.ErrTaskNotFound
	}
	now := m.now()
	t.HostEndpoint = endpoint
	t.TimePing = &now
	t.UpdatedAt = now
	return nil
}

// SetExitStatus records a task's exit status.
func (m *Store) SetExitStatus(_ context.Context, taskID id.TaskID, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return archivist.ErrTaskNotFound
	}
	s := status
	t.ExitStatus = &s
	return nil
}

// IncrementRetryCount bumps a task's retry count.
func (m *Store) IncrementRetryCount(_ context.Context, taskID id.TaskID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return 0, archivist.ErrTaskNotFound
	}
	t.RetryCount++
	return t.RetryCount, nil
}

// PingTask updates the ping time of a task still dispatched to endpoint.
func (m *Store) PingTask(_ context.Context, taskID id.TaskID, endpoint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return archivist.ErrTaskNotFound
	}
	if t.State.Dispatched() && t.HostEndpoint == endpoint {
		p := at
		t.TimePing = &p
	}
	return nil
}

// ListOrphanedTasks returns dispatched tasks with a stale ping.
func (m *Store) ListOrphanedTasks(_ context.Context, olderThan time.Time) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*task.Task
	for _, t := range m.tasks {
		if !t.State.Dispatched() {
			continue
		}
		if t.TimePing != nil && t.TimePing.Before(olderThan) {
			result = append(result, copyTask(t, false))
		}
	}
	return result, nil
}

func copyTask(t *task.Task, withScript bool) *task.Task {
	cp := *t
	if t.ExitStatus != nil {
		s := *t.ExitStatus
		cp.ExitStatus = &s
	}
	if t.TimeStarted != nil {
		v := *t.TimeStarted
		cp.TimeStarted = &v
	}
	if t.TimeStopped != nil {
		v := *t.TimeStopped
		cp.TimeStopped = &v
	}
	if t.TimePing != nil {
		v := *t.TimePing
		cp.TimePing = &v
	}
	cp.Script = nil
	if withScript && t.Script != nil {
		s := *t.Script
		cp.Script = &s
	}
	return &cp
}
