package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
)

const jobColumns = `
	id, name, organization_id, state, priority, paused, paused_until,
	max_retries, time_started, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO archivist_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.ID.String(), j.Name, j.OrganizationID, string(j.State), j.Priority,
		j.Paused, j.PausedUntil, j.MaxRetries, j.TimeStarted,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrJobAlreadyExists
		}
		return fmt.Errorf("archivist/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db(ctx).QueryRow(ctx,
		`SELECT `+jobColumns+` FROM archivist_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrJobNotFound
		}
		return nil, fmt.Errorf("archivist/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs in the given states, newest first.
func (s *Store) ListJobs(ctx context.Context, states ...job.State) ([]*job.Job, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+jobColumns+`
		FROM archivist_jobs
		WHERE cardinality($1::text[]) = 0 OR state = ANY($1)
		ORDER BY created_at DESC`,
		stateStrings(states),
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/postgres: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// SetJobState moves a job to state if its current state is expected.
func (s *Store) SetJobState(ctx context.Context, jobID id.JobID, state job.State, expected ...job.State) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_jobs SET state = $2, updated_at = $3
		WHERE id = $1 AND (cardinality($4::text[]) = 0 OR state = ANY($4))`,
		jobID.String(), string(state), s.now(), stateStrings(expected),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: set job state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.jobExists(ctx, jobID)
}

// SetJobPaused sets the pause flag and expiry.
func (s *Store) SetJobPaused(ctx context.Context, jobID id.JobID, paused bool, until *time.Time) error {
	if !paused {
		until = nil
	}
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_jobs SET paused = $2, paused_until = $3, updated_at = $4
		WHERE id = $1`,
		jobID.String(), paused, until, s.now(),
	)
	if err != nil {
		return fmt.Errorf("archivist/postgres: set job paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archivist.ErrJobNotFound
	}
	return nil
}

// MarkJobStarted records the first start time of a job.
func (s *Store) MarkJobStarted(ctx context.Context, jobID id.JobID, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_jobs SET time_started = COALESCE(time_started, $2)
		WHERE id = $1`,
		jobID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("archivist/postgres: mark job started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archivist.ErrJobNotFound
	}
	return nil
}

func (s *Store) jobExists(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.db(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM archivist_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("archivist/postgres: check job: %w", err)
	}
	if !exists {
		return archivist.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j     job.Job
		rawID string
		state string
	)
	err := row.Scan(
		&rawID, &j.Name, &j.OrganizationID, &state, &j.Priority,
		&j.Paused, &j.PausedUntil, &j.MaxRetries, &j.TimeStarted,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", rawID, err)
	}
	j.State = job.State(state)
	return &j, nil
}
