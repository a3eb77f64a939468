package postgres

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT,
	display_name TEXT,
	is_admin BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL,
	label TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	repo_url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	project_id TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	state TEXT NOT NULL,
	container_id TEXT,
	volume_name TEXT,
	thread_id TEXT,
	image_name TEXT,
	image_digest TEXT,
	image_profile TEXT NOT NULL DEFAULT 'standard',
	runtime_metadata JSONB,
	last_active_at TIMESTAMPTZ NOT NULL,
	idle_expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workspaces_user_state ON workspaces(user_id, state);
CREATE INDEX IF NOT EXISTS idx_workspaces_cold_sweep ON workspaces(state, last_active_at) WHERE state = 'cold';

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	prompt TEXT NOT NULL,
	final_text TEXT,
	diff TEXT,
	test_output TEXT,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT,
	input_tokens INTEGER,
	output_tokens INTEGER,
	git_commit TEXT,
	image_name TEXT,
	image_digest TEXT,
	env_snapshot JSONB
);

CREATE INDEX IF NOT EXISTS idx_runs_project_started ON runs(project_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_user_started ON runs(user_id, started_at DESC);

CREATE TABLE IF NOT EXISTS evidence_bundles (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL UNIQUE REFERENCES runs(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	status TEXT NOT NULL,
	bundle_path TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bundles_ready_sweep ON evidence_bundles(status, created_at) WHERE status = 'ready';
`
