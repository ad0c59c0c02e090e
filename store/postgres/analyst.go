package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_analysts SET
			state = 'up', version = $2, total_ram = $3, free_ram = $4,
			free_disk = $5, load = $6, time_ping = $7
		WHERE endpoint = $1`,
		spec.Endpoint, spec.Version, spec.TotalRAM, spec.FreeRAM,
		spec.FreeDisk, spec.Load, now,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: update analyst: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateAnalyst registers a new analyst.
func (s *Store) CreateAnalyst(ctx context.Context, a *analyst.Analyst) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO archivist_analysts (`+analystColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID.String(), a.Endpoint, string(a.State), string(a.LockState),
		a.TaskID.String(), a.Version, a.TotalRAM, a.FreeRAM, a.FreeDisk,
		a.Load, a.TimeCreated, a.TimePing,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return archivist.ErrAnalystExists
		}
		return fmt.Errorf("archivist/postgres: create analyst: %w", err)
	}
	return nil
}

// GetAnalyst returns the analyst at endpoint.
func (s *Store) GetAnalyst(ctx context.Context, endpoint string) (*analyst.Analyst, error) {
	a, err := scanAnalyst(s.db(ctx).QueryRow(ctx,
		`SELECT `+analystColumns+` FROM archivist_analysts WHERE endpoint = $1`,
		endpoint,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, archivist.ErrAnalystNotFound
		}
		return nil, fmt.Errorf("archivist/postgres: get analyst: %w", err)
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
		`UPDATE archivist_analysts SET lock_state = $2 WHERE endpoint = $1`,
		endpoint, string(state),
	)
}

// SetAnalystState sets the liveness state.
func (s *Store) SetAnalystState(ctx context.Context, endpoint string, state analyst.State) error {
	return s.updateAnalyst(ctx, "set analyst state",
		`UPDATE archivist_analysts SET state = $2 WHERE endpoint = $1`,
		endpoint, string(state),
	)
}

// SetAnalystTask records the task an analyst was given.
func (s *Store) SetAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) error {
	return s.updateAnalyst(ctx, "set analyst task",
		`UPDATE archivist_analysts SET task_id = $2 WHERE endpoint = $1`,
		endpoint, taskID.String(),
	)
}

// ClearAnalystTask clears the analyst's task if it is still taskID.
func (s *Store) ClearAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_analysts SET task_id = ''
		WHERE endpoint = $1 AND task_id = $2`,
		endpoint, taskID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: clear analyst task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUnresponsiveAnalysts returns analysts in state with a heartbeat
// before olderThan.
func (s *Store) ListUnresponsiveAnalysts(ctx context.Context, state analyst.State, olderThan time.Time) ([]*analyst.Analyst, error) {
	return s.queryAnalysts(ctx, "list unresponsive analysts", `
		SELECT `+analystColumns+` FROM archivist_analysts
		WHERE state = $1 AND time_ping < $2
		ORDER BY time_ping ASC`,
		string(state), olderThan,
	)
}

func (s *Store) queryAnalysts(ctx context.Context, op, sql string, args ...any) ([]*analyst.Analyst, error) {
	rows, err := s.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var result []*analyst.Analyst
	for rows.Next() {
		a, scanErr := scanAnalyst(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/postgres: %s: scan: %w", op, scanErr)
		}
		result = append(result, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: %s: iterate: %w", op, err)
	}
	return result, nil
}

func (s *Store) updateAnalyst(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("archivist/postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return archivist.ErrAnalystNotFound
	}
	return nil
}

func scanAnalyst(row pgx.Row) (*analyst.Analyst, error) {
	var (
		a                analyst.Analyst
		rawID, rawTask   string
		state, lockState string
	)
	err := row.Scan(
		&rawID, &a.Endpoint, &state, &lockState, &rawTask, &a.Version,
		&a.TotalRAM, &a.FreeRAM, &a.FreeDisk, &a.Load, &a.TimeCreated, &a.TimePing,
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
	return &a, nil
}
