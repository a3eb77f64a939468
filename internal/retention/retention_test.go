package retention

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/sandbox/fake"
	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/store/memstore"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func strPtr(s string) *string { return &s }

func TestSweepWorkspacesDeletesStaleColdWorkspace(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	if err := driver.EnsureVolume(ctx, "ws-vol-1"); err != nil {
		t.Fatalf("EnsureVolume: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	ws := &store.Workspace{
		ID: "ws-1", UserID: "u1", ProjectID: "p1",
		State: store.WorkspaceCold, VolumeName: strPtr("ws-vol-1"),
		LastActiveAt: old,
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	c := New(s, driver, config.WorkspaceConfig{ColdTTLDays: 1}, config.EvidenceConfig{TTLDays: 30}, time.Hour, newTestLogger(t))
	c.RunNow(ctx)

	reloaded, err := s.GetWorkspace(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceDeleted {
		t.Fatalf("expected workspace deleted, got %q", reloaded.State)
	}
	if reloaded.VolumeName != nil {
		t.Fatalf("expected volume_name cleared, got %+v", reloaded.VolumeName)
	}
	if c.WorkspaceGCTotal() != 1 {
		t.Fatalf("expected workspace_gc_total=1, got %d", c.WorkspaceGCTotal())
	}
}

func TestSweepWorkspacesIgnoresRecentColdWorkspace(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	ws := &store.Workspace{
		ID: "ws-2", UserID: "u1", ProjectID: "p1",
		State: store.WorkspaceCold, VolumeName: strPtr("ws-vol-2"),
		LastActiveAt: time.Now(),
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	c := New(s, driver, config.WorkspaceConfig{ColdTTLDays: 7}, config.EvidenceConfig{TTLDays: 30}, time.Hour, newTestLogger(t))
	c.RunNow(ctx)

	reloaded, err := s.GetWorkspace(ctx, "ws-2")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceCold {
		t.Fatalf("expected workspace to remain cold, got %q", reloaded.State)
	}
}

func TestSweepWorkspacesMarksDeletedEvenWhenVolumeMissing(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	ws := &store.Workspace{
		ID: "ws-3", UserID: "u1", ProjectID: "p1",
		State: store.WorkspaceCold, VolumeName: strPtr("never-created"),
		LastActiveAt: old,
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	c := New(s, driver, config.WorkspaceConfig{ColdTTLDays: 1}, config.EvidenceConfig{TTLDays: 30}, time.Hour, newTestLogger(t))
	c.RunNow(ctx)

	reloaded, err := s.GetWorkspace(ctx, "ws-3")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceDeleted {
		t.Fatalf("expected workspace deleted despite missing volume, got %q", reloaded.State)
	}
}

func TestSweepEvidenceDeletesStaleReadyBundle(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	file, err := os.CreateTemp(t.TempDir(), "bundle-*.zip")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := file.Name()
	file.Close()

	old := time.Now().Add(-48 * time.Hour)
	bundle := &store.EvidenceBundle{
		ID: "run-1-bundle", RunID: "run-1", UserID: "u1", ProjectID: "p1", WorkspaceID: "ws-1",
		Status: store.BundlePending, CreatedAt: old, UpdatedAt: old,
	}
	if err := s.UpsertPendingBundle(ctx, bundle); err != nil {
		t.Fatalf("UpsertPendingBundle: %v", err)
	}
	bundle.Status = store.BundleReady
	bundle.BundlePath = &path
	if err := s.UpdateBundle(ctx, bundle); err != nil {
		t.Fatalf("UpdateBundle: %v", err)
	}

	c := New(s, driver, config.WorkspaceConfig{ColdTTLDays: 7}, config.EvidenceConfig{TTLDays: 1}, time.Hour, newTestLogger(t))
	c.RunNow(ctx)

	reloaded, err := s.GetBundleByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetBundleByRunID: %v", err)
	}
	if reloaded.Status != store.BundleDeleted {
		t.Fatalf("expected bundle deleted, got %q", reloaded.Status)
	}
	if reloaded.BundlePath != nil {
		t.Fatalf("expected bundle_path cleared, got %+v", reloaded.BundlePath)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected bundle file removed from disk")
	}
	if c.EvidenceGCTotal() != 1 {
		t.Fatalf("expected evidence_gc_total=1, got %d", c.EvidenceGCTotal())
	}
}
