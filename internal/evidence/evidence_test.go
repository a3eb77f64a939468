package evidence

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"os"
	"strings"
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

func buildTar(files map[string]string) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))})
		_, _ = tw.Write([]byte(content))
	}
	tw.Close()
	return buf.Bytes()
}

func seedRunAndWorkspace(t *testing.T, s *memstore.Store, driver *fake.Driver, runID string, archive map[string]string) (*store.Run, *store.Workspace) {
	t.Helper()
	ctx := context.Background()

	containerID, err := driver.CreateContainer(ctx, sandbox.ContainerSpec{Image: "sandboxctl/workspace:latest"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	driver.Archives[containerID] = buildTar(archive)

	ws := &store.Workspace{
		ID: "ws-1", UserID: "u1", ProjectID: "p1",
		State: store.WorkspaceWarm, ContainerID: &containerID,
		LastActiveAt: time.Now(),
	}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	diff := "diff --git a/x b/x"
	run := &store.Run{
		ID: runID, UserID: "u1", ProjectID: "p1", WorkspaceID: ws.ID,
		Status: store.RunSucceeded, Prompt: "do thing", Diff: &diff,
		StartedAt:   time.Now(),
		EnvSnapshot: map[string]interface{}{"hasCommandLog": true},
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run, ws
}

func TestScheduleThenBuildProducesReadyZip(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	run, _ := seedRunAndWorkspace(t, s, driver, "run-1", map[string]string{
		"command_log.jsonl": `{"command":"ls"}`,
		"outputs.json":       `{}`,
		"events.jsonl":       `{"type":"run-start"}`,
	})

	root := t.TempDir()
	b := New(s, driver, config.EvidenceConfig{Root: root, TTLDays: 30}, newTestLogger(t))

	b.Schedule(run.ID)

	var bundle *store.EvidenceBundle
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		loaded, err := s.GetBundleByRunID(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("GetBundleByRunID: %v", err)
		}
		if loaded.Status != store.BundlePending {
			bundle = loaded
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if bundle == nil {
		t.Fatalf("bundle never left pending status")
	}
	if bundle.Status != store.BundleReady {
		t.Fatalf("expected bundle ready, got %q (err=%v)", bundle.Status, bundle.ErrorMessage)
	}
	if bundle.BundlePath == nil {
		t.Fatalf("expected bundle_path set")
	}

	zr, err := zip.OpenReader(*bundle.BundlePath)
	if err != nil {
		t.Fatalf("failed to open produced zip: %v", err)
	}
	defer zr.Close()

	wantNames := map[string]bool{
		"run-1/metadata.json":      false,
		"run-1/env_snapshot.json":  false,
		"run-1/diff.patch":         false,
		"run-1/command_log.jsonl":  false,
		"run-1/outputs.json":       false,
		"run-1/events.jsonl":       false,
	}
	for _, f := range zr.File {
		if _, ok := wantNames[f.Name]; ok {
			wantNames[f.Name] = true
		}
	}
	for name, found := range wantNames {
		if !found {
			t.Fatalf("expected zip entry %s, got files %+v", name, zr.File)
		}
	}
}

func TestBuildFailsWhenWorkspaceHasNoContainer(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	ctx := context.Background()

	ws := &store.Workspace{ID: "ws-cold", UserID: "u1", ProjectID: "p1", State: store.WorkspaceCold, LastActiveAt: time.Now()}
	if err := s.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}
	run := &store.Run{ID: "run-cold", UserID: "u1", ProjectID: "p1", WorkspaceID: ws.ID, Status: store.RunSucceeded, Prompt: "x", StartedAt: time.Now()}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	root := t.TempDir()
	b := New(s, driver, config.EvidenceConfig{Root: root, TTLDays: 30}, newTestLogger(t))
	b.Schedule(run.ID)

	var bundle *store.EvidenceBundle
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		loaded, err := s.GetBundleByRunID(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetBundleByRunID: %v", err)
		}
		if loaded.Status != store.BundlePending {
			bundle = loaded
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if bundle == nil {
		t.Fatalf("bundle never left pending status")
	}
	if bundle.Status != store.BundleError {
		t.Fatalf("expected bundle error, got %q", bundle.Status)
	}
	if bundle.ErrorMessage == nil || *bundle.ErrorMessage != "workspace container not available" {
		t.Fatalf("unexpected error message: %+v", bundle.ErrorMessage)
	}
}

func TestBuildCleansUpTempDir(t *testing.T) {
	s := memstore.New()
	driver := fake.New()
	run, _ := seedRunAndWorkspace(t, s, driver, "run-temp", map[string]string{
		"command_log.jsonl": "{}",
		"outputs.json":       "{}",
		"events.jsonl":       "{}",
	})

	root := t.TempDir()
	b := New(s, driver, config.EvidenceConfig{Root: root, TTLDays: 30}, newTestLogger(t))

	if err := s.UpsertPendingBundle(context.Background(), &store.EvidenceBundle{
		ID: run.ID + "-bundle", RunID: run.ID, UserID: run.UserID, ProjectID: run.ProjectID,
		WorkspaceID: run.WorkspaceID, Status: store.BundlePending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertPendingBundle: %v", err)
	}

	before, _ := os.ReadDir(os.TempDir())
	b.Build(context.Background(), run.ID)
	after, _ := os.ReadDir(os.TempDir())

	beforeNames := map[string]bool{}
	for _, entry := range before {
		beforeNames[entry.Name()] = true
	}
	for _, entry := range after {
		if strings.HasPrefix(entry.Name(), "sandboxctl-evidence-") && !beforeNames[entry.Name()] {
			t.Fatalf("temp dir %s was not cleaned up", entry.Name())
		}
	}
}
