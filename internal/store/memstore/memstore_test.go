package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/sandboxctl/internal/store"
)

func TestGetOrCreateWorkspaceMissingReturnsNotFoundFlag(t *testing.T) {
	s := New()
	ws, notFound, err := s.GetOrCreateWorkspace(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !notFound || ws != nil {
		t.Fatalf("expected not-found with nil workspace, got %v, %v", notFound, ws)
	}
}

func TestWithWorkspaceLockCreatesRowViaUpdate(t *testing.T) {
	s := New()
	err := s.WithWorkspaceLock(context.Background(), "u1", "p1", func(tx store.Store, ws *store.Workspace) error {
		if ws != nil {
			t.Fatalf("expected nil workspace on first open")
		}
		return tx.UpdateWorkspace(context.Background(), &store.Workspace{
			ID:           "ws1",
			UserID:       "u1",
			ProjectID:    "p1",
			State:        store.WorkspaceWarm,
			ImageProfile: "standard",
			LastActiveAt: time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ws, notFound, err := s.GetOrCreateWorkspace(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notFound {
		t.Fatalf("expected workspace to now exist")
	}
	if ws.ID != "ws1" || ws.State != store.WorkspaceWarm {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
}

func TestCountRunsSinceFiltersByUserAndTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	mustCreateRun(t, s, "r1", "u1", now)
	mustCreateRun(t, s, "r2", "u1", now.Add(-48*time.Hour))
	mustCreateRun(t, s, "r3", "u2", now)

	count, err := s.CountRunsSince(ctx, "u1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func mustCreateRun(t *testing.T, s *Store, id, userID string, startedAt time.Time) {
	t.Helper()
	if err := s.CreateRun(context.Background(), &store.Run{
		ID:        id,
		UserID:    userID,
		ProjectID: "p1",
		Status:    store.RunRunning,
		Prompt:    "do thing",
		StartedAt: startedAt,
	}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func TestUpsertPendingBundleIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := &store.EvidenceBundle{RunID: "r1", ID: "b1", Status: store.BundlePending, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	if err := s.UpsertPendingBundle(ctx, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpsertPendingBundle(ctx, &store.EvidenceBundle{RunID: "r1", ID: "b2", Status: store.BundlePending}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetBundleByRunID(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "b1" {
		t.Fatalf("expected first insert to win, got %q", got.ID)
	}
}

func TestListStaleColdWorkspacesFiltersByStateAndAge(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)
	recent := time.Now()
	volName := "vol-a"

	_ = s.UpdateWorkspace(ctx, &store.Workspace{ID: "a", UserID: "u1", ProjectID: "p1", State: store.WorkspaceCold, VolumeName: &volName, LastActiveAt: old})
	_ = s.UpdateWorkspace(ctx, &store.Workspace{ID: "b", UserID: "u1", ProjectID: "p2", State: store.WorkspaceCold, VolumeName: &volName, LastActiveAt: recent})
	_ = s.UpdateWorkspace(ctx, &store.Workspace{ID: "c", UserID: "u1", ProjectID: "p3", State: store.WorkspaceWarm, VolumeName: &volName, LastActiveAt: old})

	stale, err := s.ListStaleColdWorkspaces(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "a" {
		t.Fatalf("expected only workspace a, got %+v", stale)
	}
}
