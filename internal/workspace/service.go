// Package workspace implements the per-project sandbox lifecycle:
// opening a warm workspace (creating or reusing its container), LRU
// eviction of other warm workspaces for the same user, and cooling a
// workspace back down.
package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/apperr"
	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/imageprofile"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/store"
)

const repoPath = "/workspace/repo"

// Service implements the Open/Stop operations over a Store and a
// sandbox.Driver, the same create→start→inspect→track shape as the
// teacher's lifecycle.Manager.Launch, adapted from per-task containers to
// per-(user,project) workspaces.
type Service struct {
	store    store.Store
	driver   sandbox.Driver
	profiles *imageprofile.Registry
	envs     *EnvInjector
	logger   *logger.Logger
	cfg      config.WorkspaceConfig
}

// NewService builds a Service.
func NewService(s store.Store, driver sandbox.Driver, profiles *imageprofile.Registry, envs *EnvInjector, cfg config.WorkspaceConfig, log *logger.Logger) *Service {
	return &Service{
		store:    s,
		driver:   driver,
		profiles: profiles,
		envs:     envs,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "workspace_service")),
	}
}

// Open resolves the single Workspace for (userID, projectID), evicting
// every other warm workspace this user owns, then idempotently ensures
// the target is warm with a live container.
func (s *Service) Open(ctx context.Context, userID, projectID string, repoURL string) (*store.Workspace, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("project", projectID)
		}
		return nil, apperr.Wrap(err, "failed to load project")
	}
	if project.UserID != userID {
		return nil, apperr.NotFound("project", projectID)
	}

	s.evictOtherWarmWorkspaces(ctx, userID, projectID)

	var result *store.Workspace
	err = s.store.WithWorkspaceLock(ctx, userID, projectID, func(tx store.Store, ws *store.Workspace) error {
		if ws == nil {
			ws = &store.Workspace{
				ID:           uuid.New().String(),
				UserID:       userID,
				ProjectID:    projectID,
				State:        store.WorkspaceCold,
				ImageProfile: imageprofile.Standard,
				LastActiveAt: time.Now(),
			}
			ws.VolumeName = strPtr("ws-" + ws.ID)
			if err := tx.UpdateWorkspace(ctx, ws); err != nil {
				return fmt.Errorf("failed to create workspace row: %w", err)
			}
		}

		if ws.State == store.WorkspaceDeleted {
			return apperr.SandboxFailure("workspace has been deleted by retention and cannot be reopened", nil)
		}

		if ws.State == store.WorkspaceWarm && ws.ContainerID != nil {
			result = ws
			return nil
		}

		opened, err := s.runSandboxPath(ctx, tx, ws, repoURL)
		if err != nil {
			return err
		}
		result = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// evictOtherWarmWorkspaces implements the LRU eviction pass: best-effort,
// failures logged but never fatal to Open.
func (s *Service) evictOtherWarmWorkspaces(ctx context.Context, userID, excludeProjectID string) {
	others, err := s.store.ListWarmWorkspacesForUser(ctx, userID, excludeProjectID)
	if err != nil {
		s.logger.Warn("failed to list warm workspaces for eviction", zap.String("user_id", userID), zap.Error(err))
		return
	}

	for _, ws := range others {
		if err := s.Stop(ctx, ws.ID); err != nil {
			s.logger.Warn("failed to evict warm workspace", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
	}
}

// runSandboxPath executes spec steps 1-6 of the Open algorithm on an
// already-locked workspace row.
func (s *Service) runSandboxPath(ctx context.Context, tx store.Store, ws *store.Workspace, repoURL string) (*store.Workspace, error) {
	profile, err := s.profiles.Get(ws.ImageProfile)
	if err != nil {
		return nil, apperr.SandboxFailure("unknown image profile", err)
	}

	volumeName := *ws.VolumeName
	if err := s.driver.EnsureVolume(ctx, volumeName); err != nil {
		s.markError(ctx, tx, ws)
		return nil, apperr.SandboxFailure("failed to ensure workspace volume", err)
	}

	env := s.envs.Build(ws.ThreadID)
	spec := sandbox.ContainerSpec{
		Image:          profile.FullImage(),
		VolumeName:     volumeName,
		VolumeTarget:   "/workspace",
		Env:            env,
		ExposedPorts:   []int{s.cfg.AgentPort},
		ResourceLimits: profile.ResourceLimits,
		Labels:         map[string]string{"sandboxctl.workspace_id": ws.ID},
	}

	containerID, err := s.driver.CreateContainer(ctx, spec)
	if err != nil {
		s.markError(ctx, tx, ws)
		return nil, apperr.SandboxFailure("failed to create sandbox container", err)
	}

	if err := s.driver.Start(ctx, containerID); err != nil {
		_ = s.driver.StopAndRemove(ctx, containerID)
		s.markError(ctx, tx, ws)
		return nil, apperr.SandboxFailure("failed to start sandbox container", err)
	}

	insp, err := s.driver.Inspect(ctx, containerID)
	if err != nil {
		_ = s.driver.StopAndRemove(ctx, containerID)
		s.markError(ctx, tx, ws)
		return nil, apperr.SandboxFailure("failed to inspect sandbox container", err)
	}

	if err := s.ensureRepoCloned(ctx, containerID, repoURL); err != nil {
		_ = s.driver.StopAndRemove(ctx, containerID)
		s.markError(ctx, tx, ws)
		return nil, apperr.CloneFailure("failed to clone repository", err)
	}

	now := time.Now()
	idleExpires := now.Add(s.cfg.WarmIdle())
	ws.State = store.WorkspaceWarm
	ws.ContainerID = &containerID
	ws.ImageName = &insp.ImageName
	ws.ImageDigest = &insp.ImageDigest
	ws.LastActiveAt = now
	ws.IdleExpiresAt = &idleExpires

	if err := tx.UpdateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to persist warm workspace: %w", err)
	}
	return ws, nil
}

func (s *Service) ensureRepoCloned(ctx context.Context, containerID, repoURL string) error {
	check, err := s.driver.Exec(ctx, containerID, []string{"test", "-d", repoPath + "/.git"}, "/workspace")
	if err == nil && check.ExitCode == 0 {
		return nil
	}

	result, err := s.driver.Exec(ctx, containerID, []string{"git", "clone", repoURL, repoPath}, "/workspace")
	if err != nil {
		return fmt.Errorf("exec git clone failed: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git clone exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (s *Service) markError(ctx context.Context, tx store.Store, ws *store.Workspace) {
	ws.State = store.WorkspaceError
	ws.ContainerID = nil
	if err := tx.UpdateWorkspace(ctx, ws); err != nil {
		s.logger.Error("failed to mark workspace as error", zap.String("workspace_id", ws.ID), zap.Error(err))
	}
}

// Stop cools a workspace: stops and removes its container, retaining
// thread_id and volume_name. Idempotent on repeat.
func (s *Service) Stop(ctx context.Context, workspaceID string) error {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if err == store.ErrNotFound {
			return apperr.NotFound("workspace", workspaceID)
		}
		return apperr.Wrap(err, "failed to load workspace")
	}

	if ws.ContainerID == nil {
		if ws.State == store.WorkspaceWarm {
			ws.State = store.WorkspaceCold
			return s.store.UpdateWorkspace(ctx, ws)
		}
		return nil
	}

	if err := s.driver.StopAndRemove(ctx, *ws.ContainerID); err != nil {
		return apperr.SandboxFailure("failed to stop sandbox container", err)
	}

	ws.State = store.WorkspaceCold
	ws.ContainerID = nil
	return s.store.UpdateWorkspace(ctx, ws)
}

func strPtr(s string) *string { return &s }
