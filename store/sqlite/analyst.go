package sqlite

import (
	"context"
	"fmt"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/id"
)

const analystColumns = `
	id, endpoint, state, lock_state, task_id, version, total_ram,
	free_ram, free_disk, load, time_created, time_ping`

// UpdateAnalyst applies a heartbeat to an existing analyst. The lock
// state and the assigned task are left alone.
func (s *Store) UpdateAnalyst(ctx context.Context, spec *analyst.Spec, now time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE archivist_analysts SET
			state = 'up', version = ?, total_ram = ?, free_ram = ?,
			free_disk = ?, load = ?, time_ping = ?
		WHERE endpoint = ?`,
		spec.Version, spec.TotalRAM, spec.FreeRAM, spec.FreeDisk, spec.Load,
		nanos(now), spec.Endpoint,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: update analyst: %w", err)
	}
	return affected(res) > 0, nil
}

// CreateAnalyst registers a new analyst.
func (s *Store) CreateAnalyst(ctx context.Context, a *analyst.Analyst) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO archivist_analysts (`+analystColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Endpoint, string(a.State), string(a.LockState),
		a.TaskID.String(), a.Version, a.TotalRAM, a.FreeRAM, a.FreeDisk,
		a.Load, nanos(a.TimeCreated), nanos(a.TimePing),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrAnalystExists
		}
		return fmt.Errorf("archivist/sqlite: create analyst: %w", err)
	}
	return nil
}

// GetAnalyst returns the analyst at endpoint.
func (s *Store) GetAnalyst(ctx context.Context, endpoint string) (*analyst.Analyst, error) {
	a, err := scanAnalyst(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+analystColumns+` FROM archivist_analysts WHERE endpoint = ?`, endpoint,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrAnalystNotFound
		}
		return nil, fmt.Errorf("archivist/sqlite: get analyst: %w", err)
	}
	return a, nil
}

// ListAnalysts returns every analyst ordered by endpoint.
func (s *Store) ListAnalysts(ctx context.Context) ([]*analyst.Analyst, error) {
	return s.queryAnalysts(ctx, "list analysts",
		`SELECT `+analystColumns+` FROM archivist_analysts ORDER BY endpoint ASC`,
	)
}

// SetAnalystLockState sets the maintenance flag.
func (s *Store) SetAnalystLockState(ctx context.Context, endpoint string, state analyst.LockState) error {
	return s.updateAnalyst(ctx, "set analyst lock state",
		`UPDATE archivist_analysts SET lock_state = ? WHERE endpoint = ?`,
		string(state), endpoint,
	)
}

// SetAnalystState sets the liveness state.
func (s *Store) SetAnalystState(ctx context.Context, endpoint string, state analyst.State) error {
	return s.updateAnalyst(ctx, "set analyst state",
		`UPDATE archivist_analysts SET state = ? WHERE endpoint = ?`,
		string(state), endpoint,
	)
}

// SetAnalystTask records the task an analyst was given.
func (s *Store) SetAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) error {
	return s.updateAnalyst(ctx, "set analyst task",
		`UPDATE archivist_analysts SET task_id = ? WHERE endpoint = ?`,
		taskID.String(), endpoint,
	)
}

// ClearAnalystTask clears the analyst's task if it is still taskID.
func (s *Store) ClearAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE archivist_analysts SET task_id = '' WHERE endpoint = ? AND task_id = ?`,
		endpoint, taskID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: clear analyst task: %w", err)
	}
	return affected(res) > 0, nil
}

// ListUnresponsiveAnalysts returns analysts in state with a heartbeat
// before olderThan.
func (s *Store) ListUnresponsiveAnalysts(ctx context.Context, state analyst.State, olderThan time.Time) ([]*analyst.Analyst, error) {
	return s.queryAnalysts(ctx, "list unresponsive analysts",
		`SELECT `+analystColumns+` FROM archivist_analysts
		WHERE state = ? AND time_ping < ? ORDER BY time_ping ASC`,
		string(state), nanos(olderThan),
	)
}

func (s *Store) queryAnalysts(ctx context.Context, op, query string, args ...any) ([]*analyst.Analyst, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var result []*analyst.Analyst
	for rows.Next() {
		a, scanErr := scanAnalyst(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/sqlite: %s: scan: %w", op, scanErr)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: %s: iterate: %w", op, err)
	}
	return result, nil
}

func (s *Store) updateAnalyst(ctx context.Context, op, query string, args ...any) error {
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: %s: %w", op, err)
	}
	if affected(res) == 0 {
		return archivist.ErrAnalystNotFound
	}
	return nil
}

func scanAnalyst(row rowScanner) (*analyst.Analyst, error) {
	var (
		a                analyst.Analyst
		rawID, rawTask   string
		state, lockState string
		created, pinged  int64
	)
	err := row.Scan(
		&rawID, &a.Endpoint, &state, &lockState, &rawTask, &a.Version,
		&a.TotalRAM, &a.FreeRAM, &a.FreeDisk, &a.Load, &created, &pinged,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = id.ParseAnalystID(rawID); err != nil {
		return nil, fmt.Errorf("parse analyst id %q: %w", rawID, err)
	}
	if a.TaskID, err = parseID(rawTask); err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", rawTask, err)
	}
	a.State = analyst.State(state)
	a.LockState = analyst.LockState(lockState)
	a.TimeCreated = fromNanos(created)
	a.TimePing = fromNanos(pinged)
	return &a, nil
}
