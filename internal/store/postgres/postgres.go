// Package postgres implements store.Store against PostgreSQL using
// database/sql with the pgx stdlib driver, following the same
// sql.Open("pgx", dsn) connection pattern used for the control plane's
// other Postgres-backed services.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kandev/sandboxctl/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every read/write
// helper below run against either a plain connection or an in-flight
// transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements store.Store against PostgreSQL.
type Store struct {
	db *sql.DB
	q  querier
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres, verifies connectivity, and creates the schema
// if it does not already exist.
func Open(dsn string, maxConns, minConns int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s := &Store{db: db, q: db}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func jsonOrNull(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, out *map[string]interface{}) {
	if len(data) == 0 {
		return
	}
	_ = json.Unmarshal(data, out)
}

// Projects

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, repo_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.UserID, p.Name, p.RepoURL, p.CreatedAt)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	p := &store.Project{}
	err := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, name, repo_url, created_at FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.RepoURL, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, name, repo_url, created_at FROM projects WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Project
	for rows.Next() {
		p := &store.Project{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.RepoURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Workspaces

const workspaceColumns = `id, user_id, project_id, state, container_id, volume_name, thread_id,
	image_name, image_digest, image_profile, runtime_metadata, last_active_at, idle_expires_at`

func scanWorkspace(row interface {
	Scan(dest ...interface{}) error
}) (*store.Workspace, error) {
	ws := &store.Workspace{}
	var metadata []byte
	err := row.Scan(&ws.ID, &ws.UserID, &ws.ProjectID, &ws.State, &ws.ContainerID, &ws.VolumeName,
		&ws.ThreadID, &ws.ImageName, &ws.ImageDigest, &ws.ImageProfile, &metadata, &ws.LastActiveAt, &ws.IdleExpiresAt)
	if err != nil {
		return nil, err
	}
	unmarshalJSON(metadata, &ws.RuntimeMetadata)
	return ws, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*store.Workspace, error) {
	ws, err := scanWorkspace(s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return ws, err
}

func (s *Store) GetOrCreateWorkspace(ctx context.Context, userID, projectID string) (*store.Workspace, bool, error) {
	ws, err := scanWorkspace(s.q.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE user_id = $1 AND project_id = $2`, userID, projectID))
	if err == nil {
		return ws, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	return nil, true, nil
}

// WithWorkspaceLock opens a transaction, row-locks (or confirms absence of)
// the workspace for (userID, projectID) via SELECT ... FOR UPDATE, and runs
// fn against a Store bound to that transaction. Locking a nonexistent row
// is achieved by taking a lock on the parent project row instead, which
// still serializes concurrent first-opens for the same project.
func (s *Store) WithWorkspaceLock(ctx context.Context, userID, projectID string, fn func(tx store.Store, ws *store.Workspace) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	if _, err := txn.ExecContext(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, projectID); err != nil {
		return fmt.Errorf("lock project: %w", err)
	}

	txStore := &Store{db: s.db, q: txn}

	row := txn.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE user_id = $1 AND project_id = $2 FOR UPDATE`, userID, projectID)
	ws, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		ws = nil
	} else if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}

	if err := fn(txStore, ws); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *store.Workspace) error {
	metadata, err := jsonOrNull(ws.RuntimeMetadata)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO workspaces (id, user_id, project_id, state, container_id, volume_name, thread_id,
			image_name, image_digest, image_profile, runtime_metadata, last_active_at, idle_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			container_id = EXCLUDED.container_id,
			volume_name = EXCLUDED.volume_name,
			thread_id = EXCLUDED.thread_id,
			image_name = EXCLUDED.image_name,
			image_digest = EXCLUDED.image_digest,
			image_profile = EXCLUDED.image_profile,
			runtime_metadata = EXCLUDED.runtime_metadata,
			last_active_at = EXCLUDED.last_active_at,
			idle_expires_at = EXCLUDED.idle_expires_at
	`, ws.ID, ws.UserID, ws.ProjectID, ws.State, ws.ContainerID, ws.VolumeName, ws.ThreadID,
		ws.ImageName, ws.ImageDigest, ws.ImageProfile, metadata, ws.LastActiveAt, ws.IdleExpiresAt)
	if err != nil {
		return err
	}
	_, err = res.RowsAffected()
	return err
}

func (s *Store) ListWarmWorkspacesForUser(ctx context.Context, userID, excludeProjectID string) ([]*store.Workspace, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE user_id = $1 AND state = 'warm' AND project_id != $2`,
		userID, excludeProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkspaces(rows)
}

func (s *Store) ListIdleWarmWorkspaces(ctx context.Context, asOf time.Time) ([]*store.Workspace, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE state = 'warm' AND idle_expires_at < $1 AND container_id IS NOT NULL`,
		asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkspaces(rows)
}

func (s *Store) ListStaleColdWorkspaces(ctx context.Context, cutoff time.Time) ([]*store.Workspace, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE state = 'cold' AND last_active_at < $1 AND volume_name IS NOT NULL`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkspaces(rows)
}

func scanWorkspaces(rows *sql.Rows) ([]*store.Workspace, error) {
	var out []*store.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Runs

const runColumns = `id, user_id, project_id, workspace_id, status, prompt, final_text, diff, test_output,
	error_message, started_at, finished_at, duration_ms, input_tokens, output_tokens, git_commit,
	image_name, image_digest, env_snapshot`

func scanRun(row interface{ Scan(dest ...interface{}) error }) (*store.Run, error) {
	r := &store.Run{}
	var envSnapshot []byte
	err := row.Scan(&r.ID, &r.UserID, &r.ProjectID, &r.WorkspaceID, &r.Status, &r.Prompt, &r.FinalText,
		&r.Diff, &r.TestOutput, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt, &r.DurationMs,
		&r.InputTokens, &r.OutputTokens, &r.GitCommit, &r.ImageName, &r.ImageDigest, &envSnapshot)
	if err != nil {
		return nil, err
	}
	unmarshalJSON(envSnapshot, &r.EnvSnapshot)
	return r, nil
}

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	envSnapshot, err := jsonOrNull(r.EnvSnapshot)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, r.ID, r.UserID, r.ProjectID, r.WorkspaceID, r.Status, r.Prompt, r.FinalText, r.Diff, r.TestOutput,
		r.ErrorMessage, r.StartedAt, r.FinishedAt, r.DurationMs, r.InputTokens, r.OutputTokens,
		r.GitCommit, r.ImageName, r.ImageDigest, envSnapshot)
	return err
}

func (s *Store) UpdateRun(ctx context.Context, r *store.Run) error {
	envSnapshot, err := jsonOrNull(r.EnvSnapshot)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE runs SET status=$1, final_text=$2, diff=$3, test_output=$4, error_message=$5,
			finished_at=$6, duration_ms=$7, input_tokens=$8, output_tokens=$9, git_commit=$10, env_snapshot=$11
		WHERE id = $12
	`, r.Status, r.FinalText, r.Diff, r.TestOutput, r.ErrorMessage, r.FinishedAt, r.DurationMs,
		r.InputTokens, r.OutputTokens, r.GitCommit, envSnapshot, r.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	r, err := scanRun(s.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRunsForProject(ctx context.Context, projectID string, limit int) ([]*store.Run, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT count(*) FROM runs WHERE user_id = $1 AND started_at >= $2`, userID, since).Scan(&count)
	return count, err
}

// Evidence bundles

const bundleColumns = `id, run_id, user_id, project_id, workspace_id, status, bundle_path, error_message, created_at, updated_at`

func scanBundle(row interface{ Scan(dest ...interface{}) error }) (*store.EvidenceBundle, error) {
	b := &store.EvidenceBundle{}
	err := row.Scan(&b.ID, &b.RunID, &b.UserID, &b.ProjectID, &b.WorkspaceID, &b.Status, &b.BundlePath,
		&b.ErrorMessage, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *Store) UpsertPendingBundle(ctx context.Context, b *store.EvidenceBundle) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO evidence_bundles (`+bundleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id) DO NOTHING
	`, b.ID, b.RunID, b.UserID, b.ProjectID, b.WorkspaceID, b.Status, b.BundlePath, b.ErrorMessage, b.CreatedAt, b.UpdatedAt)
	return err
}

func (s *Store) GetBundleByRunID(ctx context.Context, runID string) (*store.EvidenceBundle, error) {
	b, err := scanBundle(s.q.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM evidence_bundles WHERE run_id = $1`, runID))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBundle(ctx context.Context, b *store.EvidenceBundle) error {
	b.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE evidence_bundles SET status=$1, bundle_path=$2, error_message=$3, updated_at=$4 WHERE id = $5
	`, b.Status, b.BundlePath, b.ErrorMessage, b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListStaleReadyBundles(ctx context.Context, cutoff time.Time) ([]*store.EvidenceBundle, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+bundleColumns+` FROM evidence_bundles WHERE status = 'ready' AND created_at < $1 AND bundle_path IS NOT NULL`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.EvidenceBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
