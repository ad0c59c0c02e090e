package memory

import (
	"context"
	"sort"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/id"
)

// UpdateAnalyst applies a heartbeat to an existing analyst.
func (m *Store) UpdateAnalyst(_ context.Context, spec *analyst.Spec, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analysts[spec.Endpoint]
	if !ok {
		return false, nil
	}
	a.State = analyst.StateUp
	a.Version = spec.Version
	a.TotalRAM = spec.TotalRAM
	a.FreeRAM = spec.FreeRAM
	a.FreeDisk = spec.FreeDisk
	a.Load = spec.Load
	a.TimePing = now
	return true, nil
}

// CreateAnalyst registers a new analyst.
func (m *Store) CreateAnalyst(_ context.Context, a *analyst.Analyst) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.analysts[a.Endpoint]; exists {
		return archivist.ErrAnalystExists
	}
	cp := *a
	m.analysts[a.Endpoint] = &cp
	return nil
}

// GetAnalyst returns the analyst at endpoint.
func (m *Store) GetAnalyst(_ context.Context, endpoint string) (*analyst.Analyst, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analysts[endpoint]
	if !ok {
		return nil, archivist.ErrAnalystNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAnalysts returns every analyst ordered by endpoint.
func (m *Store) ListAnalysts(_ context.Context) ([]*analyst.Analyst, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*analyst.Analyst, 0, len(m.analysts))
	for _, a := range m.analysts {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Endpoint < result[k].Endpoint
	})
	return result, nil
}

// SetAnalystLockState sets the maintenance flag.
func (m *Store) SetAnalystLockState(_ context.Context, endpoint string, state analyst.LockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analysts[endpoint]
	if !ok {
		return archivist.ErrAnalystNotFound
	}
	a.LockState = state
	return nil
}

// SetAnalystState sets the liveness state.
func (m *Store) SetAnalystState(_ context.Context, endpoint string, state analyst.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analysts[endpoint]
	if !ok {
		return archivist.ErrAnalystNotFound
	}
	a.State = state
	return nil
}

// SetAnalystTask records the task an analyst was given.
func (m *Store) SetAnalystTask(_ context.Context, endpoint string, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analysts[endpoint]
	if !ok {
		return archivist.ErrAnalystNotFound
	}
	a.TaskID = taskID
	return nil
}

// ClearAnalystTask clears the analyst's task if it is still taskID.
func (m *Store) ClearAnalystTask(_ context.Context, endpoint string, taskID id.TaskID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analysts[endpoint]
	if !ok || a.TaskID != taskID {
		return false, nil
	}
	a.TaskID = id.Nil
	return true, nil
}

// ListUnresponsiveAnalysts returns analysts in state with a heartbeat
// before olderThan.
func (m *Store) ListUnresponsiveAnalysts(_ context.Context, state analyst.State, olderThan time.Time) ([]*analyst.Analyst, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*analyst.Analyst
	for _, a := range m.analysts {
		if a.State == state && a.TimePing.Before(olderThan) {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].TimePing.Before(result[k].TimePing)
	})
	return result, nil
}
