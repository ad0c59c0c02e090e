package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// CreateTaskErrors persists task error entries in one batch.
func (s *Store) CreateTaskErrors(ctx context.Context, entries []*taskerror.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		stack, err := toJSON(e.Stack)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO archivist_task_errors (
				id, task_id, job_id, asset_id, path, message, processor,
				fatal, phase, stack, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID.String(), e.TaskID.String(), e.JobID.String(), e.AssetID, e.Path,
			e.Message, e.Processor, e.Fatal, e.Phase, stack, e.CreatedAt,
		)
	}
	if err := s.db(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archivist/postgres: create task errors: %w", err)
	}
	return nil
}

// ListTaskErrors returns the errors of a task, oldest first.
func (s *Store) ListTaskErrors(ctx context.Context, taskID id.TaskID) ([]*taskerror.Entry, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT id, task_id, job_id, asset_id, path, message, processor,
			fatal, phase, stack, created_at
		FROM archivist_task_errors
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC`,
		taskID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: list task errors: %w", err)
	}
	defer rows.Close()

	var entries []*taskerror.Entry
	for rows.Next() {
		var (
			e                      taskerror.Entry
			rawID, rawTask, rawJob string
			stack                  []byte
		)
		if err := rows.Scan(
			&rawID, &rawTask, &rawJob, &e.AssetID, &e.Path, &e.Message, &e.Processor,
			&e.Fatal, &e.Phase, &stack, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("archivist/postgres: scan task error: %w", err)
		}
		if e.ID, err = id.ParseTaskErrorID(rawID); err != nil {
			return nil, fmt.Errorf("archivist/postgres: parse task error id %q: %w", rawID, err)
		}
		if e.TaskID, err = id.ParseTaskID(rawTask); err != nil {
			return nil, fmt.Errorf("archivist/postgres: parse task id %q: %w", rawTask, err)
		}
		if e.JobID, err = id.ParseJobID(rawJob); err != nil {
			return nil, fmt.Errorf("archivist/postgres: parse job id %q: %w", rawJob, err)
		}
		if len(stack) > 0 {
			if err := json.Unmarshal(stack, &e.Stack); err != nil {
				return nil, fmt.Errorf("archivist/postgres: decode stack: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: iterate task errors: %w", err)
	}
	return entries, nil
}

// CountTaskErrors returns the number of errors recorded for a job.
func (s *Store) CountTaskErrors(ctx context.Context, jobID id.JobID) (int64, error) {
	var n int64
	err := s.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM archivist_task_errors WHERE job_id = $1`,
		jobID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("archivist/postgres: count task errors: %w", err)
	}
	return n, nil
}
