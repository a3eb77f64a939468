// Package retention implements Collector: the hourly garbage-collection
// sweeps that permanently delete expired cold workspaces and expired
// evidence bundles.
package retention

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/store"
)

// DefaultInterval is the sweep cadence a production deployment runs at.
const DefaultInterval = time.Hour

// Collector runs the workspace and evidence garbage-collection sweeps.
type Collector struct {
	store    store.Store
	driver   sandbox.Driver
	cfg      config.WorkspaceConfig
	evidence config.EvidenceConfig
	interval time.Duration
	logger   *logger.Logger

	workspaceGCTotal atomic.Int64
	evidenceGCTotal  atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Collector. interval defaults to DefaultInterval when <= 0.
func New(s store.Store, driver sandbox.Driver, wsCfg config.WorkspaceConfig, evCfg config.EvidenceConfig, interval time.Duration, log *logger.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		store:    s,
		driver:   driver,
		cfg:      wsCfg,
		evidence: evCfg,
		interval: interval,
		logger:   log.WithFields(zap.String("component", "retention_collector")),
		stopCh:   make(chan struct{}),
	}
}

// Start runs both sweeps once shortly after startup, then on the configured
// hourly cadence, until ctx is canceled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts the sweep loop and waits for the in-flight tick to finish.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.RunNow(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retention collector stopped (context canceled)")
			return
		case <-c.stopCh:
			c.logger.Info("retention collector stopped")
			return
		case <-ticker.C:
			c.RunNow(context.Background())
		}
	}
}

// RunNow executes both sweeps immediately; it backs both the ticker and
// the manual-trigger operator endpoint, since either sweep can also be
// triggered on demand.
func (c *Collector) RunNow(ctx context.Context) {
	c.sweepWorkspaces(ctx)
	c.sweepEvidence(ctx)
}

func (c *Collector) sweepWorkspaces(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.ColdTTL())
	stale, err := c.store.ListStaleColdWorkspaces(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to list stale cold workspaces", zap.Error(err))
		return
	}

	for _, ws := range stale {
		if err := c.deleteOneWorkspace(ctx, ws); err != nil {
			c.logger.Error("failed to garbage-collect workspace", zap.String("workspace_id", ws.ID), zap.Error(err))
			continue
		}
		c.workspaceGCTotal.Add(1)
	}
}

func (c *Collector) deleteOneWorkspace(ctx context.Context, ws *store.Workspace) error {
	if ws.VolumeName != nil {
		if err := c.driver.DeleteVolume(ctx, *ws.VolumeName); err != nil {
			c.logger.Warn("volume delete failed, proceeding with mark-deleted anyway", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
	}

	ws.State = store.WorkspaceDeleted
	ws.VolumeName = nil
	return c.store.UpdateWorkspace(ctx, ws)
}

func (c *Collector) sweepEvidence(ctx context.Context) {
	cutoff := time.Now().Add(-c.evidence.TTL())
	stale, err := c.store.ListStaleReadyBundles(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to list stale ready bundles", zap.Error(err))
		return
	}

	for _, b := range stale {
		if err := c.deleteOneBundle(ctx, b); err != nil {
			c.logger.Error("failed to garbage-collect evidence bundle", zap.String("run_id", b.RunID), zap.Error(err))
			continue
		}
		c.evidenceGCTotal.Add(1)
	}
}

func (c *Collector) deleteOneBundle(ctx context.Context, b *store.EvidenceBundle) error {
	if b.BundlePath != nil {
		if err := os.Remove(*b.BundlePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("bundle file delete failed, proceeding with mark-deleted anyway", zap.String("run_id", b.RunID), zap.Error(err))
		}
	}

	b.Status = store.BundleDeleted
	b.BundlePath = nil
	b.UpdatedAt = time.Now()
	return c.store.UpdateBundle(ctx, b)
}

// WorkspaceGCTotal returns the running count of workspaces deleted so far,
// backing the `workspace_gc_total` metric.
func (c *Collector) WorkspaceGCTotal() int64 { return c.workspaceGCTotal.Load() }

// EvidenceGCTotal returns the running count of evidence bundles deleted so
// far, backing the `evidence_gc_total` metric.
func (c *Collector) EvidenceGCTotal() int64 { return c.evidenceGCTotal.Load() }
