package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// CreateTaskErrors persists task error entries in one transaction.
func (s *Store) CreateTaskErrors(ctx context.Context, entries []*taskerror.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			stack, err := toJSON(e.Stack)
			if err != nil {
				return err
			}
			_, err = s.conn(ctx).ExecContext(ctx, `
				INSERT INTO archivist_task_errors (
					id, task_id, job_id, asset_id, path, message, processor,
					fatal, phase, stack, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID.String(), e.TaskID.String(), e.JobID.String(), e.AssetID, e.Path,
				e.Message, e.Processor, e.Fatal, e.Phase, stack, nanos(e.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("archivist/sqlite: create task error: %w", err)
			}
		}
		return nil
	})
}

// ListTaskErrors returns the errors of a task, oldest first.
func (s *Store) ListTaskErrors(ctx context.Context, taskID id.TaskID) ([]*taskerror.Entry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, task_id, job_id, asset_id, path, message, processor,
			fatal, phase, stack, created_at
		FROM archivist_task_errors
		WHERE task_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		taskID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: list task errors: %w", err)
	}
	defer rows.Close()

	var entries []*taskerror.Entry
	for rows.Next() {
		var (
			e                      taskerror.Entry
			rawID, rawTask, rawJob string
			stack                  sql.NullString
			created                int64
		)
		if err := rows.Scan(
			&rawID, &rawTask, &rawJob, &e.AssetID, &e.Path, &e.Message, &e.Processor,
			&e.Fatal, &e.Phase, &stack, &created,
		); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: scan task error: %w", err)
		}
		if e.ID, err = id.ParseTaskErrorID(rawID); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: parse task error id %q: %w", rawID, err)
		}
		if e.TaskID, err = id.ParseTaskID(rawTask); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: parse task id %q: %w", rawTask, err)
		}
		if e.JobID, err = id.ParseJobID(rawJob); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: parse job id %q: %w", rawJob, err)
		}
		if stack.Valid {
			if err := json.Unmarshal([]byte(stack.String), &e.Stack); err != nil {
				return nil, fmt.Errorf("archivist/sqlite: decode stack: %w", err)
			}
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: iterate task errors: %w", err)
	}
	return entries, nil
}

// CountTaskErrors returns the number of errors recorded for a job.
func (s *Store) CountTaskErrors(ctx context.Context, jobID id.JobID) (int64, error) {
	var n int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archivist_task_errors WHERE job_id = ?`, jobID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("archivist/sqlite: count task errors: %w", err)
	}
	return n, nil
}

