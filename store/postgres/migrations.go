package postgres

// migration is one ordered schema change. Applied migrations are recorded
// by name in archivist_migrations and never run twice.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS archivist_jobs (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				organization_id TEXT NOT NULL DEFAULT '',
				state           TEXT NOT NULL DEFAULT 'active',
				priority        INTEGER NOT NULL DEFAULT 100,
				paused          BOOLEAN NOT NULL DEFAULT FALSE,
				paused_until    TIMESTAMPTZ,
				max_retries     INTEGER NOT NULL DEFAULT 3,
				time_started    TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_archivist_jobs_state
				ON archivist_jobs (state);`,
	},
	{
		name: "002_create_tasks",
		sql: `
			CREATE TABLE IF NOT EXISTS archivist_tasks (
				id            TEXT PRIMARY KEY,
				job_id        TEXT NOT NULL REFERENCES archivist_jobs(id) ON DELETE CASCADE,
				parent_id     TEXT NOT NULL DEFAULT '',
				name          TEXT NOT NULL,
				state         TEXT NOT NULL DEFAULT 'waiting',
				host_endpoint TEXT NOT NULL DEFAULT '',
				exit_status   INTEGER,
				retry_count   INTEGER NOT NULL DEFAULT 0,
				max_retries   INTEGER NOT NULL DEFAULT 3,
				time_started  TIMESTAMPTZ,
				time_stopped  TIMESTAMPTZ,
				time_ping     TIMESTAMPTZ,
				script        JSONB,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_archivist_tasks_waiting
				ON archivist_tasks (created_at) WHERE state = 'waiting';
			CREATE INDEX IF NOT EXISTS idx_archivist_tasks_dispatched
				ON archivist_tasks (time_ping) WHERE state IN ('queued', 'running');
			CREATE INDEX IF NOT EXISTS idx_archivist_tasks_job
				ON archivist_tasks (job_id, state);`,
	},
	{
		name: "003_create_task_errors",
		sql: `
			CREATE TABLE IF NOT EXISTS archivist_task_errors (
				id         TEXT PRIMARY KEY,
				task_id    TEXT NOT NULL,
				job_id     TEXT NOT NULL,
				asset_id   TEXT NOT NULL DEFAULT '',
				path       TEXT NOT NULL DEFAULT '',
				message    TEXT NOT NULL,
				processor  TEXT NOT NULL DEFAULT '',
				fatal      BOOLEAN NOT NULL DEFAULT FALSE,
				phase      TEXT NOT NULL DEFAULT '',
				stack      JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_archivist_task_errors_task
				ON archivist_task_errors (task_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_archivist_task_errors_job
				ON archivist_task_errors (job_id);`,
	},
	{
		name: "004_create_analysts",
		sql: `
			CREATE TABLE IF NOT EXISTS archivist_analysts (
				endpoint     TEXT PRIMARY KEY,
				id           TEXT NOT NULL UNIQUE,
				state        TEXT NOT NULL DEFAULT 'up',
				lock_state   TEXT NOT NULL DEFAULT 'unlocked',
				task_id      TEXT NOT NULL DEFAULT '',
				version      TEXT NOT NULL DEFAULT '',
				total_ram    BIGINT NOT NULL DEFAULT 0,
				free_ram     BIGINT NOT NULL DEFAULT 0,
				free_disk    BIGINT NOT NULL DEFAULT 0,
				load         DOUBLE PRECISION NOT NULL DEFAULT 0,
				time_created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				time_ping    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_archivist_analysts_ping
				ON archivist_analysts (state, time_ping);`,
	},
	{
		name: "005_create_cluster_locks",
		sql: `
			CREATE TABLE IF NOT EXISTS archivist_cluster_locks (
				name              TEXT PRIMARY KEY,
				owner             TEXT NOT NULL,
				host              TEXT NOT NULL DEFAULT '',
				combine           BOOLEAN NOT NULL DEFAULT FALSE,
				hold_till_timeout BOOLEAN NOT NULL DEFAULT FALSE,
				combine_pending   BOOLEAN NOT NULL DEFAULT FALSE,
				locked_at         TIMESTAMPTZ NOT NULL,
				expires_at        TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_archivist_cluster_locks_expiry
				ON archivist_cluster_locks (expires_at);`,
	},
}

// tables lists every table in dependency order, children first.
var tables = []string{
	"archivist_task_errors",
	"archivist_tasks",
	"archivist_jobs",
	"archivist_analysts",
	"archivist_cluster_locks",
}
