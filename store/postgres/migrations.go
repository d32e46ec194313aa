package postgres

// migration is one named schema change, applied once and recorded in
// herald_migrations.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS herald_jobs (
				id                  TEXT PRIMARY KEY,
				transaction_id      TEXT NOT NULL,
				workflow            TEXT NOT NULL DEFAULT '',
				workflow_id         TEXT NOT NULL,
				environment_id      TEXT NOT NULL DEFAULT '',
				organization_id     TEXT NOT NULL DEFAULT '',
				subscriber_id       TEXT NOT NULL,
				step_index          INTEGER NOT NULL DEFAULT 0,
				step_type           TEXT NOT NULL,
				content             TEXT NOT NULL DEFAULT '',
				status              TEXT NOT NULL DEFAULT 'pending',
				payload             JSONB,
				digest              JSONB,
				digest_key_value    TEXT NOT NULL DEFAULT '',
				rearm_entry         TEXT NOT NULL DEFAULT '',
				last_error          TEXT NOT NULL DEFAULT '',
				provider_message_id TEXT NOT NULL DEFAULT '',
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			-- Window ownership: at most one delayed job per tuple. A
			-- concurrent second claim fails with unique_violation.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_jobs_open_window
				ON herald_jobs (workflow_id, subscriber_id, digest_key_value)
				WHERE status = 'delayed';

			CREATE INDEX IF NOT EXISTS idx_herald_jobs_transaction
				ON herald_jobs (transaction_id, subscriber_id);

			CREATE INDEX IF NOT EXISTS idx_herald_jobs_stuck
				ON herald_jobs (status, updated_at);
		`,
	},
	{
		name: "002_create_dlq",
		sql: `
			CREATE TABLE IF NOT EXISTS herald_dlq (
				id              TEXT PRIMARY KEY,
				job_id          TEXT NOT NULL,
				transaction_id  TEXT NOT NULL,
				workflow        TEXT NOT NULL DEFAULT '',
				subscriber_id   TEXT NOT NULL,
				step_index      INTEGER NOT NULL DEFAULT 0,
				step_type       TEXT NOT NULL,
				content         TEXT NOT NULL DEFAULT '',
				payload         JSONB,
				digest_events   JSONB,
				environment_id  TEXT NOT NULL DEFAULT '',
				organization_id TEXT NOT NULL DEFAULT '',
				error           TEXT NOT NULL DEFAULT '',
				failed_at       TIMESTAMPTZ NOT NULL,
				replayed_at     TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_herald_dlq_workflow
				ON herald_dlq (workflow, failed_at DESC);
		`,
	},
}
