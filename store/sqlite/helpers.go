package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports changes
	return n
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func nanosPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// parseID parses a stored ID column. Empty columns are the Nil ID.
func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

// toJSON encodes v for a TEXT column. A nil value is stored as NULL.
func toJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: encode json: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

// inStates renders "col IN (?, ...)" for states, or an always-true
// predicate when states is empty.
func inStates[S ~string](col string, states []S) (string, []any) {
	if len(states) == 0 {
		return "1 = 1", nil
	}
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ") + ")", args
}
