package memory

import (
	"context"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// CreateTaskErrors persists task error entries.
func (m *Store) CreateTaskErrors(_ context.Context, entries []*taskerror.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		cp := *e
		key := e.TaskID.String()
		m.taskErrors[key] = append(m.taskErrors[key], &cp)
	}
	return nil
}

// ListTaskErrors returns the errors of a task in insertion order.
func (m *Store) ListTaskErrors(_ context.Context, taskID id.TaskID) ([]*taskerror.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.taskErrors[taskID.String()]
	result := make([]*taskerror.Entry, 0, len(stored))
	for _, e := range stored {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// CountTaskErrors returns the number of errors recorded for a job.
func (m *Store) CountTaskErrors(_ context.Context, jobID id.JobID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, entries := range m.taskErrors {
		for _, e := range entries {
			if e.JobID == jobID {
				n++
			}
		}
	}
	return n, nil
}
