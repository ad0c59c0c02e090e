package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// taskColumns omits the script, which only GetTask and GetScript load.
const taskColumns = `
	t.id, t.job_id, t.parent_id, t.name, t.state, t.host_endpoint,
	t.exit_status, t.retry_count, t.max_retries, t.time_started,
	t.time_stopped, t.time_ping, t.created_at, t.updated_at`

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	script, err := toJSON(t.Script)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO archivist_tasks (
			id, job_id, parent_id, name, state, host_endpoint, exit_status,
			retry_count, max_retries, time_started, time_stopped, time_ping,
			script, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.JobID.String(), t.ParentID.String(), t.Name, string(t.State),
		t.HostEndpoint, t.ExitStatus, t.RetryCount, t.MaxRetries,
		nanosPtr(t.TimeStarted), nanosPtr(t.TimeStopped), nanosPtr(t.TimePing),
		script, nanos(t.CreatedAt), nanos(t.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrTaskAlreadyExists
		}
		return fmt.Errorf("archivist/sqlite: create task: %w", err)
	}
	return nil
}

// CreateChildTask persists child under parentID, copying the parent's job.
func (s *Store) CreateChildTask(ctx context.Context, parentID id.TaskID, child *task.Task) error {
	script, err := toJSON(child.Script)
	if err != nil {
		return err
	}
	var rawJobID string
	err = s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO archivist_tasks (
			id, job_id, parent_id, name, state, retry_count, max_retries,
			script, created_at, updated_at
		)
		SELECT ?, p.job_id, p.id, ?, ?, ?, ?, ?, ?, ?
		FROM archivist_tasks p WHERE p.id = ?
		RETURNING job_id`,
		child.ID.String(), child.Name, string(child.State), child.RetryCount,
		child.MaxRetries, script, nanos(child.CreatedAt), nanos(child.UpdatedAt),
		parentID.String(),
	).Scan(&rawJobID)
	if err != nil {
		if isNoRows(err) {
			return archivist.ErrTaskNotFound
		}
		if isDuplicateKey(err) {
			return archivist.ErrTaskAlreadyExists
		}
		return fmt.Errorf("archivist/sqlite: create child task: %w", err)
	}
	jobID, err := id.ParseJobID(rawJobID)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: parse job id %q: %w", rawJobID, err)
	}
	child.JobID = jobID
	child.ParentID = parentID
	return nil
}

// GetTask retrieves a task by ID, script included.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var script sql.NullString
	t, err := scanTask(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+taskColumns+`, t.script FROM archivist_tasks t WHERE t.id = ?`,
		taskID.String(),
	), &script)
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrTaskNotFound
		}
		return nil, fmt.Errorf("archivist/sqlite: get task: %w", err)
	}
	if script.Valid {
		t.Script = &task.Script{}
		if err := json.Unmarshal([]byte(script.String), t.Script); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: decode script: %w", err)
		}
	}
	return t, nil
}

// GetScript returns the script of a task.
func (s *Store) GetScript(ctx context.Context, taskID id.TaskID) (*task.Script, error) {
	var raw sql.NullString
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT script FROM archivist_tasks WHERE id = ?`, taskID.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrTaskNotFound
		}
		return nil, fmt.Errorf("archivist/sqlite: get script: %w", err)
	}
	script := &task.Script{}
	if raw.Valid {
		if err := json.Unmarshal([]byte(raw.String), script); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: decode script: %w", err)
		}
	}
	return script, nil
}

// GetWaitingTasks returns waiting tasks of dispatchable jobs ordered by
// job priority, then age.
func (s *Store) GetWaitingTasks(ctx context.Context, limit int) ([]*task.DispatchTask, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+taskColumns+`, j.organization_id, j.priority
		FROM archivist_tasks t
		JOIN archivist_jobs j ON j.id = t.job_id
		WHERE t.state = 'waiting'
		  AND j.state = 'active'
		  AND (j.paused = 0 OR (j.paused_until IS NOT NULL AND j.paused_until <= ?))
		ORDER BY j.priority ASC, t.created_at ASC, t.id ASC
		LIMIT ?`,
		nanos(s.now()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: get waiting tasks: %w", err)
	}
	defer rows.Close()

	var result []*task.DispatchTask
	for rows.Next() {
		var (
			org      string
			priority int
		)
		t, scanErr := scanTask(rows, &org, &priority)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/sqlite: scan waiting task: %w", scanErr)
		}
		result = append(result, &task.DispatchTask{Task: *t, OrganizationID: org, Priority: priority})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: iterate waiting tasks: %w", err)
	}
	return result, nil
}

// ListTasksByJob returns the tasks of a job in the given states, oldest
// first.
func (s *Store) ListTasksByJob(ctx context.Context, jobID id.JobID, states ...task.State) ([]*task.Task, error) {
	where, args := inStates("t.state", states)
	return s.queryTasks(ctx, "list tasks by job",
		`SELECT `+taskColumns+` FROM archivist_tasks t
		WHERE t.job_id = ? AND `+where+` ORDER BY t.created_at ASC`,
		append([]any{jobID.String()}, args...)...,
	)
}

// SetState conditionally moves a task to state.
func (s *Store) SetState(ctx context.Context, taskID id.TaskID, state task.State, expected ...task.State) (bool, error) {
	where, args := inStates("state", expected)
	now := nanos(s.now())
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE archivist_tasks SET
			state = ?,
			updated_at = ?,
			time_started = CASE WHEN ? THEN ? ELSE time_started END,
			time_ping = CASE WHEN ? THEN ? ELSE time_ping END,
			time_stopped = CASE WHEN ? THEN ? ELSE time_stopped END,
			host_endpoint = CASE WHEN ? THEN host_endpoint ELSE '' END
		WHERE id = ? AND `+where,
		append([]any{
			string(state), now,
			state == task.StateRunning, now,
			state == task.StateRunning, now,
			state.Terminal(), now,
			state.Dispatched(),
			taskID.String(),
		}, args...)...,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: set task state: %w", err)
	}
	if affected(res) > 0 {
		return true, nil
	}
	return false, s.exists(ctx, "archivist_tasks", taskID, archivist.ErrTaskNotFound)
}

// SetHostEndpoint records the analyst a task was queued on.
func (s *Store) SetHostEndpoint(ctx context.Context, taskID id.TaskID, endpoint string) error {
	now := nanos(s.now())
	return s.updateTask(ctx, "set host endpoint",
		`UPDATE archivist_tasks SET host_endpoint = ?, time_ping = ?, updated_at = ? WHERE id = ?`,
		endpoint, now, now, taskID.String(),
	)
}

// SetExitStatus records a task's exit status.
func (s *Store) SetExitStatus(ctx context.Context, taskID id.TaskID, status int) error {
	return s.updateTask(ctx, "set exit status",
		`UPDATE archivist_tasks SET exit_status = ? WHERE id = ?`,
		status, taskID.String(),
	)
}

// IncrementRetryCount bumps a task's retry count.
func (s *Store) IncrementRetryCount(ctx context.Context, taskID id.TaskID) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx,
		`UPDATE archivist_tasks SET retry_count = retry_count + 1 WHERE id = ? RETURNING retry_count`,
		taskID.String(),
	).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return 0, archivist.ErrTaskNotFound
		}
		return 0, fmt.Errorf("archivist/sqlite: increment retry count: %w", err)
	}
	return n, nil
}

// PingTask updates the ping time of a task still dispatched to endpoint.
func (s *Store) PingTask(ctx context.Context, taskID id.TaskID, endpoint string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE archivist_tasks SET time_ping = ?
		WHERE id = ? AND host_endpoint = ? AND state IN ('queued', 'running')`,
		nanos(at), taskID.String(), endpoint,
	)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: ping task: %w", err)
	}
	if affected(res) > 0 {
		return nil
	}
	return s.exists(ctx, "archivist_tasks", taskID, archivist.ErrTaskNotFound)
}

// ListOrphanedTasks returns dispatched tasks with a stale ping.
func (s *Store) ListOrphanedTasks(ctx context.Context, olderThan time.Time) ([]*task.Task, error) {
	return s.queryTasks(ctx, "list orphaned tasks",
		`SELECT `+taskColumns+` FROM archivist_tasks t
		WHERE t.state IN ('queued', 'running') AND t.time_ping < ?
		ORDER BY t.time_ping ASC`,
		nanos(olderThan),
	)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/sqlite: %s: scan: %w", op, scanErr)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: %s: iterate: %w", op, err)
	}
	return tasks, nil
}

func (s *Store) updateTask(ctx context.Context, op, query string, args ...any) error {
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: %s: %w", op, err)
	}
	if affected(res) == 0 {
		return archivist.ErrTaskNotFound
	}
	return nil
}

// scanTask scans taskColumns followed by extra destinations.
func scanTask(row rowScanner, extra ...any) (*task.Task, error) {
	var (
		t                        task.Task
		rawID, rawJob, rawParent string
		state                    string
		exit                     sql.NullInt64
		started, stopped, pinged sql.NullInt64
		created, updated         int64
	)
	dest := []any{
		&rawID, &rawJob, &rawParent, &t.Name, &state, &t.HostEndpoint,
		&exit, &t.RetryCount, &t.MaxRetries, &started,
		&stopped, &pinged, &created, &updated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = id.ParseTaskID(rawID); err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", rawID, err)
	}
	if t.JobID, err = id.ParseJobID(rawJob); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", rawJob, err)
	}
	if t.ParentID, err = parseID(rawParent); err != nil {
		return nil, fmt.Errorf("parse parent id %q: %w", rawParent, err)
	}
	t.State = task.State(state)
	if exit.Valid {
		status := int(exit.Int64)
		t.ExitStatus = &status
	}
	t.TimeStarted = fromNullNanos(started)
	t.TimeStopped = fromNullNanos(stopped)
	t.TimePing = fromNullNanos(pinged)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}
