// Package run implements RunService: the per-prompt execution algorithm
// that resolves a warm workspace, serializes on it, calls the in-sandbox
// agent, and records a fully auditable Run row plus its event stream.
package run

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/agentclient"
	"github.com/kandev/sandboxctl/internal/common/apperr"
	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/events/bus"
	"github.com/kandev/sandboxctl/internal/mutex"
	"github.com/kandev/sandboxctl/internal/sandbox"
	"github.com/kandev/sandboxctl/internal/store"

	"github.com/google/uuid"
)

// tokenPattern splits text into whitespace runs and non-whitespace runs,
// preserving every delimiter as its own token.
var tokenPattern = regexp.MustCompile(`\s+|\S+`)

// EvidenceScheduler decouples RunService from internal/evidence's
// concrete builder, the same narrow-interface-over-a-concrete-dependency
// shape as agentclient.Client.
type EvidenceScheduler interface {
	Schedule(runID string)
}

// Result is what Run returns to a unary caller.
type Result struct {
	RunID     string
	FinalText string
	Diff      string
}

// Service implements RunService.
type Service struct {
	store    store.Store
	driver   sandbox.Driver
	agent    agentclient.Client
	quota    *QuotaChecker
	mutex    *mutex.Keyed
	bus      bus.EventBus
	evidence EvidenceScheduler
	logger   *logger.Logger
	runCfg   config.RunConfig
	wsCfg    config.WorkspaceConfig
}

// NewService builds a Service.
func NewService(
	s store.Store,
	driver sandbox.Driver,
	agent agentclient.Client,
	quota *QuotaChecker,
	km *mutex.Keyed,
	eventBus bus.EventBus,
	evidence EvidenceScheduler,
	runCfg config.RunConfig,
	wsCfg config.WorkspaceConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		store:    s,
		driver:   driver,
		agent:    agent,
		quota:    quota,
		mutex:    km,
		bus:      eventBus,
		evidence: evidence,
		runCfg:   runCfg,
		wsCfg:    wsCfg,
		logger:   log.WithFields(zap.String("component", "run_service")),
	}
}

// Run is the unary entry point.
func (s *Service) Run(ctx context.Context, userID, projectID, prompt string) (Result, error) {
	sink := NewSink("", nil, nil)
	runID, err := s.execute(ctx, userID, projectID, prompt, sink)
	if err != nil {
		return Result{}, err
	}

	finalText, diff := s.extractFinalTextAndDiff(sink)
	return Result{RunID: runID, FinalText: finalText, Diff: diff}, nil
}

// Stream is the event-driven entry point; events are written to sink as
// they occur in addition to being buffered for events.jsonl.
func (s *Service) Stream(ctx context.Context, userID, projectID, prompt string, sink *Sink) error {
	_, err := s.execute(ctx, userID, projectID, prompt, sink)
	return err
}

func (s *Service) extractFinalTextAndDiff(sink *Sink) (string, string) {
	var finalText, diff string
	for _, e := range sink.buffer {
		switch e.Type {
		case EventToken:
			if d, ok := e.Fields["delta"].(string); ok {
				finalText += d
			}
		case EventDiff:
			if d, ok := e.Fields["diff"].(string); ok {
				diff = d
			}
		}
	}
	return finalText, diff
}

// execute runs the full 13-step algorithm and returns the run id created
// in step 4 (empty if quota denied before any row was inserted).
func (s *Service) execute(ctx context.Context, userID, projectID, prompt string, sink *Sink) (string, error) {
	allowed, err := s.quota.Check(ctx, userID)
	if err != nil {
		return "", apperr.Wrap(err, "failed to check quota")
	}
	if !allowed {
		_ = sink.RunComplete("failed", "quota_exceeded")
		return "", apperr.QuotaExceeded(userID, s.quota.maxPerDay)
	}

	ws, notFound, err := s.store.GetOrCreateWorkspace(ctx, userID, projectID)
	if err != nil {
		return "", apperr.Wrap(err, "failed to resolve workspace")
	}
	if notFound || ws.State != store.WorkspaceWarm || ws.ContainerID == nil {
		return "", apperr.NoWarmWorkspace(projectID)
	}

	release := s.mutex.Acquire(ws.ID)
	defer release()

	runID := uuid.New().String()
	sink.runID = runID

	startedAt := time.Now()
	run := &store.Run{
		ID:          runID,
		UserID:      userID,
		ProjectID:   projectID,
		WorkspaceID: ws.ID,
		Status:      store.RunRunning,
		Prompt:      prompt,
		StartedAt:   startedAt,
		ImageName:   ws.ImageName,
		ImageDigest: ws.ImageDigest,
		EnvSnapshot: ws.RuntimeMetadata,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", apperr.Wrap(err, "failed to create run")
	}

	if err := sink.RunStart(); err != nil {
		s.logger.Warn("failed to emit run-start", zap.String("run_id", runID), zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		s.failRun(ctx, run, ws, sink, "canceled", store.RunFailed, startedAt)
		return runID, apperr.Canceled(runID)
	}

	insp, err := s.driver.Inspect(ctx, *ws.ContainerID)
	if err != nil {
		s.failRun(ctx, run, ws, sink, fmt.Sprintf("sandbox inspect failed: %v", err), store.RunFailed, startedAt)
		return runID, apperr.SandboxFailure("failed to inspect workspace container", err)
	}
	address, ok := insp.HostPortForInternal(s.wsCfg.AgentPort)
	if !ok {
		address = fmt.Sprintf("%s:%d", insp.IPAddress, s.wsCfg.AgentPort)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.runCfg.Timeout())
	defer cancel()

	result, err := s.agent.Execute(execCtx, agentclient.ExecuteRequest{
		WorkspaceID: ws.ID,
		RunID:       runID,
		Prompt:      prompt,
		Address:     address,
	})
	if err != nil {
		status := store.RunFailed
		errMsg := err.Error()
		if execCtx.Err() == context.DeadlineExceeded {
			status = store.RunTimeout
			errMsg = "agent execution timed out"
		}
		s.failRun(ctx, run, ws, sink, errMsg, status, startedAt)
		if status == store.RunTimeout {
			return runID, apperr.AgentTimeout(runID)
		}
		return runID, apperr.AgentFailure("agent execution failed", err)
	}

	for _, tok := range tokenPattern.FindAllString(result.FinalText, -1) {
		if err := sink.Token(tok); err != nil {
			s.logger.Warn("failed to emit token event", zap.String("run_id", runID), zap.Error(err))
		}
	}
	for _, raw := range result.CommandEvents {
		if err := sink.CommandEvent(raw); err != nil {
			s.logger.Warn("failed to emit command event", zap.String("run_id", runID), zap.Error(err))
		}
	}
	if result.Diff != "" {
		if err := sink.Diff(result.Diff); err != nil {
			s.logger.Warn("failed to emit diff event", zap.String("run_id", runID), zap.Error(err))
		}
	}

	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	envSnapshot := cloneEnv(ws.RuntimeMetadata)
	envSnapshot["evidencePath"] = evidencePath(runID)
	envSnapshot["hasCommandLog"] = true
	envSnapshot["hasOutputsManifest"] = true

	run.Status = store.RunSucceeded
	run.FinalText = &result.FinalText
	if result.Diff != "" {
		run.Diff = &result.Diff
	}
	run.GitCommit = result.GitCommit
	run.FinishedAt = &finishedAt
	run.DurationMs = &durationMs
	run.EnvSnapshot = envSnapshot
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to persist succeeded run", zap.String("run_id", runID), zap.Error(err))
	}

	idleExpires := finishedAt.Add(s.wsCfg.WarmIdle())
	ws.ThreadID = strPtrIfSet(result.ThreadID)
	ws.LastActiveAt = finishedAt
	ws.IdleExpiresAt = &idleExpires
	if err := s.store.UpdateWorkspace(ctx, ws); err != nil {
		s.logger.Error("failed to update workspace after run", zap.String("workspace_id", ws.ID), zap.Error(err))
	}

	if err := sink.RunComplete("succeeded", ""); err != nil {
		s.logger.Warn("failed to emit run-complete", zap.String("run_id", runID), zap.Error(err))
	}

	s.writeEventsJSONL(ctx, *ws.ContainerID, runID, sink)
	s.evidence.Schedule(runID)

	return runID, nil
}

// failRun implements the failure path shared by every early-return branch:
// mark the run row, emit a terminal run-complete, still write events.jsonl
// and schedule evidence build so failed runs remain auditable.
func (s *Service) failRun(ctx context.Context, run *store.Run, ws *store.Workspace, sink *Sink, errMsg string, status store.RunStatus, startedAt time.Time) {
	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	run.Status = status
	run.ErrorMessage = &errMsg
	run.FinishedAt = &finishedAt
	run.DurationMs = &durationMs
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to persist failed run", zap.String("run_id", run.ID), zap.Error(err))
	}

	if err := sink.RunComplete(string(status), errMsg); err != nil {
		s.logger.Warn("failed to emit terminal run-complete", zap.String("run_id", run.ID), zap.Error(err))
	}

	if ws.ContainerID != nil {
		s.writeEventsJSONL(ctx, *ws.ContainerID, run.ID, sink)
	}
	s.evidence.Schedule(run.ID)
}

func (s *Service) writeEventsJSONL(ctx context.Context, containerID, runID string, sink *Sink) {
	payload, err := sink.JSONL()
	if err != nil {
		s.logger.Error("failed to render events.jsonl", zap.String("run_id", runID), zap.Error(err))
		return
	}
	path := evidencePath(runID) + "/events.jsonl"
	if err := s.driver.PutFile(ctx, containerID, path, payload); err != nil {
		s.logger.Error("failed to write events.jsonl into sandbox", zap.String("run_id", runID), zap.Error(err))
	}
}

func evidencePath(runID string) string {
	return "/workspace/evidence/" + runID
}

func cloneEnv(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func strPtrIfSet(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
