package reaper

import (
	"context"
	"testing"
	"time"

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

func TestTickCoolsExpiredWarmWorkspaceRetainingThreadAndVolume(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	containerID, err := driver.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	ws := &store.Workspace{
		ID:            "ws-1",
		UserID:        "u1",
		ProjectID:     "p1",
		State:         store.WorkspaceWarm,
		ContainerID:   &containerID,
		ThreadID:      strPtr("thread-keep-me"),
		VolumeName:    strPtr("ws-ws-1"),
		LastActiveAt:  past,
		IdleExpiresAt: &past,
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	r := New(s, driver, time.Second, newTestLogger(t))
	r.Tick(ctx)

	reloaded, err := s.GetWorkspace(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceCold {
		t.Fatalf("expected workspace cooled, got state %q", reloaded.State)
	}
	if reloaded.ContainerID != nil {
		t.Fatalf("expected container_id cleared, got %+v", reloaded.ContainerID)
	}
	if reloaded.ThreadID == nil || *reloaded.ThreadID != "thread-keep-me" {
		t.Fatalf("expected thread_id retained, got %+v", reloaded.ThreadID)
	}
	if reloaded.VolumeName == nil || *reloaded.VolumeName != "ws-ws-1" {
		t.Fatalf("expected volume_name retained, got %+v", reloaded.VolumeName)
	}

	found := false
	for _, call := range driver.Calls {
		if call == "StopAndRemove("+containerID+")" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected StopAndRemove call recorded, got %+v", driver.Calls)
	}
}

func TestTickIgnoresWarmWorkspaceNotYetIdle(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	containerID, err := driver.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	future := time.Now().Add(time.Hour)
	ws := &store.Workspace{
		ID:            "ws-2",
		UserID:        "u1",
		ProjectID:     "p1",
		State:         store.WorkspaceWarm,
		ContainerID:   &containerID,
		LastActiveAt:  time.Now(),
		IdleExpiresAt: &future,
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	r := New(s, driver, time.Second, newTestLogger(t))
	r.Tick(ctx)

	reloaded, err := s.GetWorkspace(ctx, "ws-2")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceWarm {
		t.Fatalf("expected workspace to remain warm, got %q", reloaded.State)
	}
	if reloaded.ContainerID == nil {
		t.Fatalf("expected container_id untouched")
	}
}

func TestTickProcessesMultipleIdleWorkspacesIndependently(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)

	containerID1, err := driver.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	ws1 := &store.Workspace{
		ID: "ws-a", UserID: "u1", ProjectID: "p1",
		State: store.WorkspaceWarm, ContainerID: &containerID1,
		LastActiveAt: past, IdleExpiresAt: &past,
	}
	if err := s.UpdateWorkspace(ctx, ws1); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	containerID2, err := driver.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	ws2 := &store.Workspace{
		ID: "ws-b", UserID: "u2", ProjectID: "p2",
		State: store.WorkspaceWarm, ContainerID: &containerID2,
		LastActiveAt: past, IdleExpiresAt: &past,
	}
	if err := s.UpdateWorkspace(ctx, ws2); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	r := New(s, driver, time.Second, newTestLogger(t))
	r.Tick(ctx)

	for _, id := range []string{"ws-a", "ws-b"} {
		reloaded, err := s.GetWorkspace(ctx, id)
		if err != nil {
			t.Fatalf("GetWorkspace(%s): %v", id, err)
		}
		if reloaded.State != store.WorkspaceCold {
			t.Fatalf("expected %s cooled, got %q", id, reloaded.State)
		}
	}
}
