package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	_, err = s.db(ctx).Exec(ctx, `
		INSERT INTO archivist_tasks (
			id, job_id, parent_id, name, state, host_endpoint, exit_status,
			retry_count, max_retries, time_started, time_stopped, time_ping,
			script, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID.String(), t.JobID.String(), t.ParentID.String(), t.Name, string(t.State),
		t.HostEndpoint, t.ExitStatus, t.RetryCount, t.MaxRetries,
		t.TimeStarted, t.TimeStopped, t.TimePing, script,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrTaskAlreadyExists
		}
		return fmt.Errorf("archivist/postgres: create task: %w", err)
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
	err = s.db(ctx).QueryRow(ctx, `
		INSERT INTO archivist_tasks (
			id, job_id, parent_id, name, state, retry_count, max_retries,
			script, created_at, updated_at
		)
		SELECT $1, p.job_id, p.id, $3, $4, $5, $6, $7, $8, $9
		FROM archivist_tasks p WHERE p.id = $2
		RETURNING job_id`,
		child.ID.String(), parentID.String(), child.Name, string(child.State),
		child.RetryCount, child.MaxRetries, script, child.CreatedAt, child.UpdatedAt,
	).Scan(&rawJobID)
	if err != nil {
		if isNoRows(err) {
			return archivist.ErrTaskNotFound
		}
		if isDuplicateKey(err) {
			return archivist.ErrTaskAlreadyExists
		}
		return fmt.Errorf("archivist/postgres: create child task: %w", err)
	}
	jobID, err := id.ParseJobID(rawJobID)
	if err != nil {
		return fmt.Errorf("archivist/postgres: parse job id %q: %w", rawJobID, err)
	}
	child.JobID = jobID
	child.ParentID = parentID
	return nil
}

// GetTask retrieves a task by ID, script included.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var script []byte
	t, err := scanTask(s.db(ctx).QueryRow(ctx,
		`SELECT `+taskColumns+`, t.script FROM archivist_tasks t WHERE t.id = $1`,
		taskID.String(),
	), &script)
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrTaskNotFound
		}
		return nil, fmt.Errorf("archivist/postgres: get task: %w", err)
	}
	if len(script) > 0 {
		t.Script = &task.Script{}
		if err := json.Unmarshal(script, t.Script); err != nil {
			return nil, fmt.Errorf("archivist/postgres: decode script: %w", err)
		}
	}
	return t, nil
}

// GetScript returns the script of a task.
func (s *Store) GetScript(ctx context.Context, taskID id.TaskID) (*task.Script, error) {
	var raw []byte
	err := s.db(ctx).QueryRow(ctx,
		`SELECT script FROM archivist_tasks WHERE id = $1`,
		taskID.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrTaskNotFound
		}
		return nil, fmt.Errorf("archivist/postgres: get script: %w", err)
	}
	script := &task.Script{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, script); err != nil {
			return nil, fmt.Errorf("archivist/postgres: decode script: %w", err)
		}
	}
	return script, nil
}

// GetWaitingTasks returns waiting tasks of dispatchable jobs ordered by
// job priority, then age.
func (s *Store) GetWaitingTasks(ctx context.Context, limit int) ([]*task.DispatchTask, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+taskColumns+`, j.organization_id, j.priority
		FROM archivist_tasks t
		JOIN archivist_jobs j ON j.id = t.job_id
		WHERE t.state = 'waiting'
		  AND j.state = 'active'
		  AND (NOT j.paused OR (j.paused_until IS NOT NULL AND j.paused_until <= $1))
		ORDER BY j.priority ASC, t.created_at ASC, t.id ASC
		LIMIT NULLIF($2::int, 0)`,
		s.now(), max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: get waiting tasks: %w", err)
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
			return nil, fmt.Errorf("archivist/postgres: scan waiting task: %w", scanErr)
		}
		result = append(result, &task.DispatchTask{Task: *t, OrganizationID: org, Priority: priority})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: iterate waiting tasks: %w", err)
	}
	return result, nil
}

// ListTasksByJob returns the tasks of a job in the given states, oldest
// first.
func (s *Store) ListTasksByJob(ctx context.Context, jobID id.JobID, states ...task.State) ([]*task.Task, error) {
	return s.queryTasks(ctx, "list tasks by job", `
		SELECT `+taskColumns+` FROM archivist_tasks t
		WHERE t.job_id = $1 AND (cardinality($2::text[]) = 0 OR t.state = ANY($2))
		ORDER BY t.created_at ASC`,
		jobID.String(), stateStrings(states),
	)
}

// SetState conditionally moves a task to state.
func (s *Store) SetState(ctx context.Context, taskID id.TaskID, state task.State, expected ...task.State) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_tasks SET
			state = $2,
			updated_at = $3,
			time_started = CASE WHEN $4 THEN $3 ELSE time_started END,
			time_ping = CASE WHEN $4 THEN $3 ELSE time_ping END,
			time_stopped = CASE WHEN $5 THEN $3 ELSE time_stopped END,
			host_endpoint = CASE WHEN $6 THEN host_endpoint ELSE '' END
		WHERE id = $1 AND (cardinality($7::text[]) = 0 OR state = ANY($7))`,
		taskID.String(), string(state), s.now(),
		state == task.StateRunning, state.Terminal(), state.Dispatched(),
		stateStrings(expected),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: set task state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.taskExists(ctx, taskID)
}

// SetHostEndpoint records the analyst a task was queued on.
func (s *Store) SetHostEndpoint(ctx context.Context, taskID id.TaskID, endpoint string) error {
	now := s.now()
	return s.updateTask(ctx, "set host endpoint", `
		UPDATE archivist_tasks SET host_endpoint = $2, time_ping = $3, updated_at = $3
		WHERE id = $1`,
		taskID.String(), endpoint, now,
	)
}

// SetExitStatus records a task's exit status.
func (s *Store) SetExitStatus(ctx context.Context, taskID id.TaskID, status int) error {
	return s.updateTask(ctx, "set exit status",
		`UPDATE archivist_tasks SET exit_status = $2 WHERE id = $1`,
		taskID.String(), status,
	)
}

// IncrementRetryCount bumps a task's retry count.
func (s *Store) IncrementRetryCount(ctx context.Context, taskID id.TaskID) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `
		UPDATE archivist_tasks SET retry_count = retry_count + 1
		WHERE id = $1 RETURNING retry_count`,
		taskID.String(),
	).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return 0, archivist.ErrTaskNotFound
		}
		return 0, fmt.Errorf("archivist/postgres: increment retry count: %w", err)
	}
	return n, nil
}

// PingTask updates the ping time of a task still dispatched to endpoint.
func (s *Store) PingTask(ctx context.Context, taskID id.TaskID, endpoint string, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_tasks SET time_ping = $3
		WHERE id = $1 AND host_endpoint = $2 AND state IN ('queued', 'running')`,
		taskID.String(), endpoint, at,
	)
	if err != nil {
		return fmt.Errorf("archivist/postgres: ping task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.taskExists(ctx, taskID)
}

// ListOrphanedTasks returns dispatched tasks with a stale ping.
func (s *Store) ListOrphanedTasks(ctx context.Context, olderThan time.Time) ([]*task.Task, error) {
	return s.queryTasks(ctx, "list orphaned tasks", `
		SELECT `+taskColumns+` FROM archivist_tasks t
		WHERE t.state IN ('queued', 'running') AND t.time_ping < $1
		ORDER BY t.time_ping ASC`,
		olderThan,
	)
}

func (s *Store) queryTasks(ctx context.Context, op, sql string, args ...any) ([]*task.Task, error) {
	rows, err := s.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/postgres: %s: scan: %w", op, scanErr)
		}
		tasks = append(tasks, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: %s: iterate: %w", op, err)
	}
	return tasks, nil
}

func (s *Store) updateTask(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("archivist/postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return archivist.ErrTaskNotFound
	}
	return nil
}

func (s *Store) taskExists(ctx context.Context, taskID id.TaskID) error {
	var exists bool
	err := s.db(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM archivist_tasks WHERE id = $1)`,
		taskID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("archivist/postgres: check task: %w", err)
	}
	if !exists {
		return archivist.ErrTaskNotFound
	}
	return nil
}

// scanTask scans taskColumns followed by extra destinations.
func scanTask(row pgx.Row, extra ...any) (*task.Task, error) {
	var (
		t                        task.Task
		rawID, rawJob, rawParent string
		state                    string
	)
	dest := []any{
		&rawID, &rawJob, &rawParent, &t.Name, &state, &t.HostEndpoint,
		&t.ExitStatus, &t.RetryCount, &t.MaxRetries, &t.TimeStarted,
		&t.TimeStopped, &t.TimePing, &t.CreatedAt, &t.UpdatedAt,
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
	return &t, nil
}
