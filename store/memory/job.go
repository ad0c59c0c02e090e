package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
)

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return archivist.ErrJobAlreadyExists
	}
	m.jobs[key] = copyJob(j)
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, archivist.ErrJobNotFound
	}
	return copyJob(j), nil
}

// ListJobs returns jobs in the given states, newest first.
func (m *Store) ListJobs(_ context.Context, states ...job.State) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if len(states) > 0 && !slices.Contains(states, j.State) {
			continue
		}
		result = append(result, copyJob(j))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result, nil
}

// SetJobState moves a job to state if its current state is expected.
func (m *Store) SetJobState(_ context.Context, jobID id.JobID, state job.State, expected ...job.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, archivist.ErrJobNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, j.State) {
		return false, nil
	}
	j.State = state
	j.UpdatedAt = m.now()
	return true, nil
}

// SetJobPaused sets the pause flag and expiry.
func (m *Store) SetJobPaused(_ context.Context, jobID id.JobID, paused bool, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return archivist.ErrJobNotFound
	}
	j.Paused = paused
	j.PausedUntil = nil
	if paused && until != nil {
		u := *until
		j.PausedUntil = &u
	}
	j.UpdatedAt = m.now()
	return nil
}

// MarkJobStarted records the first start time of a job.
func (m *Store) MarkJobStarted(_ context.Context, jobID id.JobID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return archivist.ErrJobNotFound
	}
	if j.TimeStarted == nil {
		t := at
		j.TimeStarted = &t
	}
	return nil
}

func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.PausedUntil != nil {
		u := *j.PausedUntil
		cp.PausedUntil = &u
	}
	if j.TimeStarted != nil {
		t := *j.TimeStarted
		cp.TimeStarted = &t
	}
	return &cp
}
