// Package evidence implements Builder: the asynchronous job that turns a
// completed Run's in-sandbox evidence directory into a durable zip bundle
// on the control plane's disk.
package evidence

import (
	"archive/tar"
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/store"
)

// expectedFiles are the evidence directory members the zip layout requires
// at its root alongside the files Build writes itself.
var expectedFiles = []string{"command_log.jsonl", "outputs.json", "events.jsonl"}

// Builder implements run.EvidenceScheduler and the Build algorithm itself.
type Builder struct {
	store  store.Store
	driver sandbox.Driver
	cfg    config.EvidenceConfig
	logger *logger.Logger
}

// New builds a Builder.
func New(s store.Store, driver sandbox.Driver, cfg config.EvidenceConfig, log *logger.Logger) *Builder {
	return &Builder{
		store:  s,
		driver: driver,
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "evidence_builder")),
	}
}

// Schedule upserts the pending bundle row synchronously (the row must
// exist before the caller returns, so a reader hitting GET /runs/:id/evidence
// immediately after Run never sees a missing row) and runs Build on a
// detached background goroutine.
func (b *Builder) Schedule(runID string) {
	ctx := context.Background()
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		b.logger.Error("failed to load run for evidence scheduling", zap.String("run_id", runID), zap.Error(err))
		return
	}

	if err := b.store.UpsertPendingBundle(ctx, &store.EvidenceBundle{
		ID:          run.ID + "-bundle",
		RunID:       run.ID,
		UserID:      run.UserID,
		ProjectID:   run.ProjectID,
		WorkspaceID: run.WorkspaceID,
		Status:      store.BundlePending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}); err != nil {
		b.logger.Error("failed to upsert pending bundle", zap.String("run_id", runID), zap.Error(err))
		return
	}

	go b.Build(context.Background(), runID)
}

// Build runs the 10-step evidence-assembly algorithm for one run.
func (b *Builder) Build(ctx context.Context, runID string) {
	bundle, err := b.store.GetBundleByRunID(ctx, runID)
	if err != nil {
		b.logger.Error("failed to load bundle row", zap.String("run_id", runID), zap.Error(err))
		return
	}

	if failErr := b.build(ctx, runID, bundle); failErr != nil {
		errMsg := failErr.Error()
		bundle.Status = store.BundleError
		bundle.ErrorMessage = &errMsg
		bundle.UpdatedAt = time.Now()
		if err := b.store.UpdateBundle(ctx, bundle); err != nil {
			b.logger.Error("failed to persist errored bundle", zap.String("run_id", runID), zap.Error(err))
		}
		b.logger.Warn("evidence build failed", zap.String("run_id", runID), zap.Error(failErr))
	}
}

func (b *Builder) build(ctx context.Context, runID string, bundle *store.EvidenceBundle) error {
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	ws, err := b.store.GetWorkspace(ctx, run.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws.ContainerID == nil {
		return errors.New("workspace container not available")
	}

	tempDir, err := os.MkdirTemp("", "sandboxctl-evidence-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	runRoot := filepath.Join(tempDir, runID)
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create run root: %w", err)
	}

	sourcePath := fmt.Sprintf("/workspace/evidence/%s", runID)
	archive, err := b.driver.GetArchive(ctx, *ws.ContainerID, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to fetch evidence archive: %w", err)
	}
	defer archive.Close()

	if err := extractTar(archive, runRoot); err != nil {
		return fmt.Errorf("failed to extract evidence archive: %w", err)
	}

	generatedAt := time.Now()
	metadata := map[string]interface{}{
		"run":          run,
		"workspace":    ws,
		"generated_at": generatedAt,
	}
	if err := writeJSON(filepath.Join(runRoot, "metadata.json"), metadata); err != nil {
		return fmt.Errorf("failed to write metadata.json: %w", err)
	}

	envSnapshot := map[string]interface{}{
		"runSnapshot":       run.EnvSnapshot,
		"workspaceMetadata": ws.RuntimeMetadata,
	}
	if err := writeJSON(filepath.Join(runRoot, "env_snapshot.json"), envSnapshot); err != nil {
		return fmt.Errorf("failed to write env_snapshot.json: %w", err)
	}

	if run.Diff != nil && *run.Diff != "" {
		if err := os.WriteFile(filepath.Join(runRoot, "diff.patch"), []byte(*run.Diff), 0o644); err != nil {
			return fmt.Errorf("failed to write diff.patch: %w", err)
		}
	}

	for _, name := range expectedFiles {
		path := filepath.Join(runRoot, name)
		if _, err := os.Stat(path); err != nil {
			if _, err := os.Create(path); err != nil {
				return fmt.Errorf("failed to create placeholder %s: %w", name, err)
			}
		}
	}

	bundlePath := filepath.Join(b.cfg.Root, runID+".zip")
	if err := os.MkdirAll(b.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create evidence root: %w", err)
	}
	if err := zipDirectory(runRoot, runID, bundlePath); err != nil {
		return fmt.Errorf("failed to create zip bundle: %w", err)
	}

	bundle.Status = store.BundleReady
	bundle.BundlePath = &bundlePath
	bundle.ErrorMessage = nil
	bundle.UpdatedAt = time.Now()
	if err := b.store.UpdateBundle(ctx, bundle); err != nil {
		return fmt.Errorf("failed to persist ready bundle: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func extractTar(r io.Reader, destRoot string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destRoot, filepath.Base(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

func zipDirectory(srcRoot, runID, destZip string) error {
	out, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	entries, err := os.ReadDir(srcRoot)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcRoot, entry.Name()))
		if err != nil {
			return err
		}
		w, err := zw.Create(runID + "/" + entry.Name())
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}
