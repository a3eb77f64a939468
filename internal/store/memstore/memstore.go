// Package memstore is an in-memory store.Store used by unit tests across
// the control plane, the same role MockAgentManagerClient plays for
// AgentClient in executor-style tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/sandboxctl/internal/store"
)

// Store is a sync.Mutex-guarded in-memory implementation of store.Store.
// WithWorkspaceLock serializes on the same mutex as every other method, so
// it is not suitable for measuring real concurrency, only for exercising
// the call sequence and invariants under test.
type Store struct {
	mu         sync.Mutex
	projects   map[string]*store.Project
	workspaces map[string]*store.Workspace // keyed by id
	byUserProj map[string]string           // "userID/projectID" -> workspace id
	runs       map[string]*store.Run
	bundles    map[string]*store.EvidenceBundle // keyed by run id
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		projects:   make(map[string]*store.Project),
		workspaces: make(map[string]*store.Workspace),
		byUserProj: make(map[string]string),
		runs:       make(map[string]*store.Run),
		bundles:    make(map[string]*store.EvidenceBundle),
	}
}

func key(userID, projectID string) string { return userID + "/" + projectID }

func cloneWorkspace(ws *store.Workspace) *store.Workspace {
	if ws == nil {
		return nil
	}
	cp := *ws
	return &cp
}

func cloneRun(r *store.Run) *store.Run {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func cloneBundle(b *store.EvidenceBundle) *store.EvidenceBundle {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetOrCreateWorkspace(ctx context.Context, userID, projectID string) (*store.Workspace, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUserProj[key(userID, projectID)]
	if !ok {
		return nil, true, nil
	}
	return cloneWorkspace(s.workspaces[id]), false, nil
}

func (s *Store) WithWorkspaceLock(ctx context.Context, userID, projectID string, fn func(tx store.Store, ws *store.Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ws *store.Workspace
	if id, ok := s.byUserProj[key(userID, projectID)]; ok {
		ws = cloneWorkspace(s.workspaces[id])
	}

	return fn(&lockedStore{s}, ws)
}

// lockedStore runs against the same maps while the outer mutex is already
// held by WithWorkspaceLock, mirroring how the Postgres implementation
// swaps in a *sql.Tx-backed querier inside a transaction.
type lockedStore struct{ s *Store }

func (l *lockedStore) CreateProject(ctx context.Context, p *store.Project) error {
	return l.s.createProjectLocked(p)
}
func (s *Store) createProjectLocked(p *store.Project) error {
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (l *lockedStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	p, ok := l.s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
func (l *lockedStore) ListProjects(ctx context.Context, userID string) ([]*store.Project, error) {
	var out []*store.Project
	for _, p := range l.s.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (l *lockedStore) GetOrCreateWorkspace(ctx context.Context, userID, projectID string) (*store.Workspace, bool, error) {
	id, ok := l.s.byUserProj[key(userID, projectID)]
	if !ok {
		return nil, true, nil
	}
	return cloneWorkspace(l.s.workspaces[id]), false, nil
}
func (l *lockedStore) WithWorkspaceLock(ctx context.Context, userID, projectID string, fn func(tx store.Store, ws *store.Workspace) error) error {
	var ws *store.Workspace
	if id, ok := l.s.byUserProj[key(userID, projectID)]; ok {
		ws = cloneWorkspace(l.s.workspaces[id])
	}
	return fn(l, ws)
}
func (l *lockedStore) GetWorkspace(ctx context.Context, id string) (*store.Workspace, error) {
	ws, ok := l.s.workspaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneWorkspace(ws), nil
}
func (l *lockedStore) UpdateWorkspace(ctx context.Context, ws *store.Workspace) error {
	cp := *ws
	l.s.workspaces[ws.ID] = &cp
	l.s.byUserProj[key(ws.UserID, ws.ProjectID)] = ws.ID
	return nil
}
func (l *lockedStore) ListWarmWorkspacesForUser(ctx context.Context, userID, excludeProjectID string) ([]*store.Workspace, error) {
	return l.s.listWarmWorkspacesForUserLocked(userID, excludeProjectID), nil
}
func (l *lockedStore) ListIdleWarmWorkspaces(ctx context.Context, asOf time.Time) ([]*store.Workspace, error) {
	return l.s.listIdleWarmWorkspacesLocked(asOf), nil
}
func (l *lockedStore) ListStaleColdWorkspaces(ctx context.Context, cutoff time.Time) ([]*store.Workspace, error) {
	return l.s.listStaleColdWorkspacesLocked(cutoff), nil
}
func (l *lockedStore) CreateRun(ctx context.Context, r *store.Run) error {
	cp := *r
	l.s.runs[r.ID] = &cp
	return nil
}
func (l *lockedStore) UpdateRun(ctx context.Context, r *store.Run) error {
	if _, ok := l.s.runs[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	l.s.runs[r.ID] = &cp
	return nil
}
func (l *lockedStore) GetRun(ctx context.Context, id string) (*store.Run, error) {
	r, ok := l.s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRun(r), nil
}
func (l *lockedStore) ListRunsForProject(ctx context.Context, projectID string, limit int) ([]*store.Run, error) {
	return l.s.listRunsForProjectLocked(projectID, limit), nil
}
func (l *lockedStore) CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return l.s.countRunsSinceLocked(userID, since), nil
}
func (l *lockedStore) UpsertPendingBundle(ctx context.Context, b *store.EvidenceBundle) error {
	if _, ok := l.s.bundles[b.RunID]; ok {
		return nil
	}
	cp := *b
	l.s.bundles[b.RunID] = &cp
	return nil
}
func (l *lockedStore) GetBundleByRunID(ctx context.Context, runID string) (*store.EvidenceBundle, error) {
	b, ok := l.s.bundles[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBundle(b), nil
}
func (l *lockedStore) UpdateBundle(ctx context.Context, b *store.EvidenceBundle) error {
	if _, ok := l.s.bundles[b.RunID]; !ok {
		return store.ErrNotFound
	}
	cp := *b
	l.s.bundles[b.RunID] = &cp
	return nil
}
func (l *lockedStore) ListStaleReadyBundles(ctx context.Context, cutoff time.Time) ([]*store.EvidenceBundle, error) {
	return l.s.listStaleReadyBundlesLocked(cutoff), nil
}
func (l *lockedStore) Close() error { return nil }

// Unlocked top-level methods delegate to the locked helpers under the
// outer mutex.

func (s *Store) GetWorkspace(ctx context.Context, id string) (*store.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneWorkspace(ws), nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *store.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	s.workspaces[ws.ID] = &cp
	s.byUserProj[key(ws.UserID, ws.ProjectID)] = ws.ID
	return nil
}

func (s *Store) listWarmWorkspacesForUserLocked(userID, excludeProjectID string) []*store.Workspace {
	var out []*store.Workspace
	for _, ws := range s.workspaces {
		if ws.UserID == userID && ws.State == store.WorkspaceWarm && ws.ProjectID != excludeProjectID {
			out = append(out, cloneWorkspace(ws))
		}
	}
	return out
}

func (s *Store) ListWarmWorkspacesForUser(ctx context.Context, userID, excludeProjectID string) ([]*store.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listWarmWorkspacesForUserLocked(userID, excludeProjectID), nil
}

func (s *Store) listIdleWarmWorkspacesLocked(asOf time.Time) []*store.Workspace {
	var out []*store.Workspace
	for _, ws := range s.workspaces {
		if ws.State == store.WorkspaceWarm && ws.ContainerID != nil && ws.IdleExpiresAt != nil && ws.IdleExpiresAt.Before(asOf) {
			out = append(out, cloneWorkspace(ws))
		}
	}
	return out
}

func (s *Store) ListIdleWarmWorkspaces(ctx context.Context, asOf time.Time) ([]*store.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listIdleWarmWorkspacesLocked(asOf), nil
}

func (s *Store) listStaleColdWorkspacesLocked(cutoff time.Time) []*store.Workspace {
	var out []*store.Workspace
	for _, ws := range s.workspaces {
		if ws.State == store.WorkspaceCold && ws.VolumeName != nil && ws.LastActiveAt.Before(cutoff) {
			out = append(out, cloneWorkspace(ws))
		}
	}
	return out
}

func (s *Store) ListStaleColdWorkspaces(ctx context.Context, cutoff time.Time) ([]*store.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listStaleColdWorkspacesLocked(cutoff), nil
}

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRun(r), nil
}

func (s *Store) listRunsForProjectLocked(projectID string, limit int) []*store.Run {
	var out []*store.Run
	for _, r := range s.runs {
		if r.ProjectID == projectID {
			out = append(out, cloneRun(r))
		}
	}
	// newest-first, simple insertion sort is fine at test scale
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartedAt.After(out[j-1].StartedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListRunsForProject(ctx context.Context, projectID string, limit int) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRunsForProjectLocked(projectID, limit), nil
}

func (s *Store) countRunsSinceLocked(userID string, since time.Time) int {
	count := 0
	for _, r := range s.runs {
		if r.UserID == userID && !r.StartedAt.Before(since) {
			count++
		}
	}
	return count
}

func (s *Store) CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countRunsSinceLocked(userID, since), nil
}

func (s *Store) UpsertPendingBundle(ctx context.Context, b *store.EvidenceBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[b.RunID]; ok {
		return nil
	}
	cp := *b
	s.bundles[b.RunID] = &cp
	return nil
}

func (s *Store) GetBundleByRunID(ctx context.Context, runID string) (*store.EvidenceBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBundle(b), nil
}

func (s *Store) UpdateBundle(ctx context.Context, b *store.EvidenceBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[b.RunID]; !ok {
		return store.ErrNotFound
	}
	cp := *b
	s.bundles[b.RunID] = &cp
	return nil
}

func (s *Store) listStaleReadyBundlesLocked(cutoff time.Time) []*store.EvidenceBundle {
	var out []*store.EvidenceBundle
	for _, b := range s.bundles {
		if b.Status == store.BundleReady && b.BundlePath != nil && b.CreatedAt.Before(cutoff) {
			out = append(out, cloneBundle(b))
		}
	}
	return out
}

func (s *Store) ListStaleReadyBundles(ctx context.Context, cutoff time.Time) ([]*store.EvidenceBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listStaleReadyBundlesLocked(cutoff), nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
