// Package reaper implements IdleReaper: a fixed-interval sweep that cools
// warm workspaces whose idle deadline has passed, the same ticker/sweep
// shape as a typical lifecycle-manager cleanup loop.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/store"
)

// DefaultInterval is the sweep period the reaper defaults to.
const DefaultInterval = 60 * time.Second

// IdleReaper stops and removes containers for workspaces that have sat
// idle past their idle_expires_at deadline, retaining thread_id and
// volume_name so the workspace can be resumed.
type IdleReaper struct {
	store    store.Store
	driver   sandbox.Driver
	interval time.Duration
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an IdleReaper. interval defaults to DefaultInterval when <= 0.
func New(s store.Store, driver sandbox.Driver, interval time.Duration, log *logger.Logger) *IdleReaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IdleReaper{
		store:    s,
		driver:   driver,
		interval: interval,
		logger:   log.WithFields(zap.String("component", "idle_reaper")),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is canceled or Stop is called.
func (r *IdleReaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts the sweep loop and waits for the in-flight tick to finish.
func (r *IdleReaper) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *IdleReaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("idle reaper stopped (context canceled)")
			return
		case <-r.stopCh:
			r.logger.Info("idle reaper stopped")
			return
		case <-ticker.C:
			r.Tick(context.Background())
		}
	}
}

// Tick runs one sweep: select idle warm workspaces, stop+remove their
// containers, and cool them. Per-workspace errors are logged, not fatal
// to the sweep.
func (r *IdleReaper) Tick(ctx context.Context) {
	idle, err := r.store.ListIdleWarmWorkspaces(ctx, time.Now())
	if err != nil {
		r.logger.Error("failed to list idle warm workspaces", zap.Error(err))
		return
	}

	for _, ws := range idle {
		if err := r.coolOne(ctx, ws); err != nil {
			r.logger.Error("failed to cool idle workspace", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
	}
}

func (r *IdleReaper) coolOne(ctx context.Context, ws *store.Workspace) error {
	if err := r.driver.StopAndRemove(ctx, *ws.ContainerID); err != nil {
		return err
	}

	ws.State = store.WorkspaceCold
	ws.ContainerID = nil
	return r.store.UpdateWorkspace(ctx, ws)
}
