package sqlite

// migration is one ordered schema change. Times are stored as unix
// nanoseconds so range predicates compare integers.
type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS archivist_jobs (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				organization_id TEXT NOT NULL DEFAULT '',
				state           TEXT NOT NULL DEFAULT 'active',
				priority        INTEGER NOT NULL DEFAULT 100,
				paused          INTEGER NOT NULL DEFAULT 0,
				paused_until    INTEGER,
				max_retries     INTEGER NOT NULL DEFAULT 3,
				time_started    INTEGER,
				created_at      INTEGER NOT NULL,
				updated_at      INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_jobs_state ON archivist_jobs (state)`,
		},
	},
	{
		name: "002_create_tasks",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS archivist_tasks (
				id            TEXT PRIMARY KEY,
				job_id        TEXT NOT NULL REFERENCES archivist_jobs(id) ON DELETE CASCADE,
				parent_id     TEXT NOT NULL DEFAULT '',
				name          TEXT NOT NULL,
				state         TEXT NOT NULL DEFAULT 'waiting',
				host_endpoint TEXT NOT NULL DEFAULT '',
				exit_status   INTEGER,
				retry_count   INTEGER NOT NULL DEFAULT 0,
				max_retries   INTEGER NOT NULL DEFAULT 3,
				time_started  INTEGER,
				time_stopped  INTEGER,
				time_ping     INTEGER,
				script        TEXT,
				created_at    INTEGER NOT NULL,
				updated_at    INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_tasks_state ON archivist_tasks (state, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_tasks_job ON archivist_tasks (job_id, state)`,
		},
	},
	{
		name: "003_create_task_errors",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS archivist_task_errors (
				id         TEXT PRIMARY KEY,
				task_id    TEXT NOT NULL,
				job_id     TEXT NOT NULL,
				asset_id   TEXT NOT NULL DEFAULT '',
				path       TEXT NOT NULL DEFAULT '',
				message    TEXT NOT NULL,
				processor  TEXT NOT NULL DEFAULT '',
				fatal      INTEGER NOT NULL DEFAULT 0,
				phase      TEXT NOT NULL DEFAULT '',
				stack      TEXT,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_task_errors_task ON archivist_task_errors (task_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_task_errors_job ON archivist_task_errors (job_id)`,
		},
	},
	{
		name: "004_create_analysts",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS archivist_analysts (
				endpoint     TEXT PRIMARY KEY,
				id           TEXT NOT NULL UNIQUE,
				state        TEXT NOT NULL DEFAULT 'up',
				lock_state   TEXT NOT NULL DEFAULT 'unlocked',
				task_id      TEXT NOT NULL DEFAULT '',
				version      TEXT NOT NULL DEFAULT '',
				total_ram    INTEGER NOT NULL DEFAULT 0,
				free_ram     INTEGER NOT NULL DEFAULT 0,
				free_disk    INTEGER NOT NULL DEFAULT 0,
				load         REAL NOT NULL DEFAULT 0,
				time_created INTEGER NOT NULL,
				time_ping    INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_analysts_ping ON archivist_analysts (state, time_ping)`,
		},
	},
	{
		name: "005_create_cluster_locks",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS archivist_cluster_locks (
				name              TEXT PRIMARY KEY,
				owner             TEXT NOT NULL,
				host              TEXT NOT NULL DEFAULT '',
				combine           INTEGER NOT NULL DEFAULT 0,
				hold_till_timeout INTEGER NOT NULL DEFAULT 0,
				combine_pending   INTEGER NOT NULL DEFAULT 0,
				locked_at         INTEGER NOT NULL,
				expires_at        INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_archivist_cluster_locks_expiry ON archivist_cluster_locks (expires_at)`,
		},
	},
}
