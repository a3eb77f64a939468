package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/imageprofile"
	"github.com/kandev/sandboxctl/internal/sandbox/fake"
	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/store/memstore"
)

func newTestService(t *testing.T) (*Service, *memstore.Store, *fake.Driver) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	s := memstore.New()
	driver := fake.New()
	profiles := imageprofile.NewRegistry("sandboxctl/workspace:latest")
	envs := NewEnvInjector(false)
	cfg := config.WorkspaceConfig{Image: "sandboxctl/workspace:latest", WarmIdleMin: 20, AgentPort: 7000}

	svc := NewService(s, driver, profiles, envs, cfg, log)
	return svc, s, driver
}

func seedProject(t *testing.T, s *memstore.Store, userID, projectID string) {
	t.Helper()
	if err := s.CreateProject(context.Background(), &store.Project{
		ID: projectID, UserID: userID, Name: "demo", RepoURL: "https://example.com/demo.git", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
}

func TestOpenCreatesWarmWorkspaceOnFirstCall(t *testing.T) {
	svc, s, driver := newTestService(t)
	seedProject(t, s, "u1", "p1")

	ws, err := svc.Open(context.Background(), "u1", "p1", "https://example.com/demo.git")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ws.State != store.WorkspaceWarm || ws.ContainerID == nil {
		t.Fatalf("expected warm workspace with container, got %+v", ws)
	}

	if len(driver.Calls) == 0 {
		t.Fatalf("expected driver calls to be recorded")
	}
}

func TestOpenIsIdempotentWhenAlreadyWarm(t *testing.T) {
	svc, s, driver := newTestService(t)
	seedProject(t, s, "u1", "p1")

	first, err := svc.Open(context.Background(), "u1", "p1", "https://example.com/demo.git")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	callsAfterFirst := len(driver.Calls)

	second, err := svc.Open(context.Background(), "u1", "p1", "https://example.com/demo.git")
	if err != nil {
		t.Fatalf("Open (second): %v", err)
	}
	if second.ID != first.ID || second.ContainerID == nil || *second.ContainerID != *first.ContainerID {
		t.Fatalf("expected idempotent short-circuit, got %+v vs %+v", first, second)
	}
	if len(driver.Calls) != callsAfterFirst {
		t.Fatalf("expected no additional driver calls on idempotent open, had %d now %d", callsAfterFirst, len(driver.Calls))
	}
}

func TestOpenEvictsOtherWarmWorkspaceForSameUser(t *testing.T) {
	svc, s, _ := newTestService(t)
	seedProject(t, s, "u1", "p1")
	seedProject(t, s, "u1", "p2")

	wsA, err := svc.Open(context.Background(), "u1", "p1", "https://example.com/a.git")
	if err != nil {
		t.Fatalf("Open p1: %v", err)
	}

	if _, err := svc.Open(context.Background(), "u1", "p2", "https://example.com/b.git"); err != nil {
		t.Fatalf("Open p2: %v", err)
	}

	reloaded, err := s.GetWorkspace(context.Background(), wsA.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceCold || reloaded.ContainerID != nil {
		t.Fatalf("expected p1's workspace to be evicted cold, got %+v", reloaded)
	}
}

func TestOpenRejectsProjectOwnedByAnotherUser(t *testing.T) {
	svc, s, _ := newTestService(t)
	seedProject(t, s, "owner", "p1")

	if _, err := svc.Open(context.Background(), "intruder", "p1", "https://example.com/demo.git"); err == nil {
		t.Fatalf("expected NotFound error for cross-user project access")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	svc, s, _ := newTestService(t)
	seedProject(t, s, "u1", "p1")

	ws, err := svc.Open(context.Background(), "u1", "p1", "https://example.com/demo.git")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := svc.Stop(context.Background(), ws.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Stop(context.Background(), ws.ID); err != nil {
		t.Fatalf("Stop (second): %v", err)
	}

	reloaded, err := s.GetWorkspace(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if reloaded.State != store.WorkspaceCold || reloaded.ContainerID != nil {
		t.Fatalf("expected cold workspace with no container, got %+v", reloaded)
	}
	if reloaded.VolumeName == nil {
		t.Fatalf("expected volume_name retained across Stop")
	}
}
