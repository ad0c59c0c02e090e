package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
)

const jobColumns = `
	id, name, organization_id, state, priority, paused, paused_until,
	max_retries, time_started, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO archivist_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Name, j.OrganizationID, string(j.State), j.Priority,
		j.Paused, nanosPtr(j.PausedUntil), j.MaxRetries, nanosPtr(j.TimeStarted),
		nanos(j.CreatedAt), nanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrJobAlreadyExists
		}
		return fmt.Errorf("archivist/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM archivist_jobs WHERE id = ?`, jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrJobNotFound
		}
		return nil, fmt.Errorf("archivist/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs in the given states, newest first.
func (s *Store) ListJobs(ctx context.Context, states ...job.State) ([]*job.Job, error) {
	where, args := inStates("state", states)
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM archivist_jobs WHERE `+where+` ORDER BY created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/sqlite: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// SetJobState moves a job to state if its current state is expected.
func (s *Store) SetJobState(ctx context.Context, jobID id.JobID, state job.State, expected ...job.State) (bool, error) {
	where, args := inStates("state", expected)
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE archivist_jobs SET state = ?, updated_at = ? WHERE id = ? AND `+where,
		append([]any{string(state), nanos(s.now()), jobID.String()}, args...)...,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: set job state: %w", err)
	}
	if affected(res) > 0 {
		return true, nil
	}
	return false, s.exists(ctx, "archivist_jobs", jobID, archivist.ErrJobNotFound)
}

// SetJobPaused sets the pause flag and expiry.
func (s *Store) SetJobPaused(ctx context.Context, jobID id.JobID, paused bool, until *time.Time) error {
	if !paused {
		until = nil
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE archivist_jobs SET paused = ?, paused_until = ?, updated_at = ? WHERE id = ?`,
		paused, nanosPtr(until), nanos(s.now()), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: set job paused: %w", err)
	}
	if affected(res) == 0 {
		return archivist.ErrJobNotFound
	}
	return nil
}

// MarkJobStarted records the first start time of a job.
func (s *Store) MarkJobStarted(ctx context.Context, jobID id.JobID, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE archivist_jobs SET time_started = COALESCE(time_started, ?) WHERE id = ?`,
		nanos(at), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: mark job started: %w", err)
	}
	if affected(res) == 0 {
		return archivist.ErrJobNotFound
	}
	return nil
}

// exists returns notFound unless table has a row with rowID.
func (s *Store) exists(ctx context.Context, table string, rowID id.ID, notFound error) error {
	var ok bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = ?)`, rowID.String(),
	).Scan(&ok)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: check %s: %w", table, err)
	}
	if !ok {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                    job.Job
		rawID, state         string
		pausedUntil, started sql.NullInt64
		created, updated     int64
	)
	err := row.Scan(
		&rawID, &j.Name, &j.OrganizationID, &state, &j.Priority, &j.Paused,
		&pausedUntil, &j.MaxRetries, &started, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", rawID, err)
	}
	j.State = job.State(state)
	j.PausedUntil = fromNullNanos(pausedUntil)
	j.TimeStarted = fromNullNanos(started)
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return &j, nil
}
