package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store         = (*Store)(nil)
	_ task.Store        = (*Store)(nil)
	_ taskerror.Store   = (*Store)(nil)
	_ analyst.Store     = (*Store)(nil)
	_ clusterlock.Store = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock replaces the time source used to stamp rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens or creates the database file at path with WAL journaling,
// foreign keys and a five second busy timeout.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archivist/sqlite: ping: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return New(db, opts...), nil
}

// New wraps an open database handle. Close closes db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := archivist.TxFrom(ctx); ok {
		if sqlTx, ok := tx.(*sql.Tx); ok {
			return sqlTx
		}
	}
	return s.db
}

// InTx runs fn inside one transaction. Store calls made with the context
// passed to fn join it.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := archivist.TxFrom(ctx); ok {
		if _, ok := tx.(*sql.Tx); ok {
			return fn(ctx)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archivist/sqlite: begin: %w", err)
	}
	if err := fn(archivist.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archivist/sqlite: commit: %w", err)
	}
	return nil
}

// Migrate runs all schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS archivist_migrations (
			name       TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", archivist.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM archivist_migrations WHERE name = ?)`, m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", archivist.ErrMigrationFailed, m.name, err)
		}
		if applied {
			continue
		}

		for _, stmt := range m.stmts {
			if _, err = s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: execute %s: %w", archivist.ErrMigrationFailed, m.name, err)
			}
		}
		if _, err = s.db.ExecContext(ctx,
			`INSERT INTO archivist_migrations (name, applied_at) VALUES (?, ?)`,
			m.name, s.now().UnixNano(),
		); err != nil {
			return fmt.Errorf("%w: record %s: %w", archivist.ErrMigrationFailed, m.name, err)
		}

		s.logger.Info("applied migration", slog.String("name", m.name))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
