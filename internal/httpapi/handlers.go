package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/apperr"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/events/bus"
	"github.com/kandev/sandboxctl/internal/retention"
	"github.com/kandev/sandboxctl/internal/run"
	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/workspace"
	v1 "github.com/kandev/sandboxctl/pkg/api/v1"
)

// Handler holds every dependency the HTTP front door dispatches onto.
// It is deliberately thin: every handler translates a request into a call
// on WorkspaceService/RunService/Store and maps the result (or *apperr.AppError)
// onto the wire shapes in pkg/api/v1.
type Handler struct {
	store      store.Store
	workspaces *workspace.Service
	runs       *run.Service
	retention  *retention.Collector
	eventBus   bus.EventBus
	logger     *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(s store.Store, ws *workspace.Service, rs *run.Service, rc *retention.Collector, eventBus bus.EventBus, log *logger.Logger) *Handler {
	return &Handler{store: s, workspaces: ws, runs: rs, retention: rc, eventBus: eventBus, logger: log.WithFields(zap.String("component", "httpapi"))}
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(c *gin.Context) {
	writeHealthOK(c)
}

// ListProjects handles GET /projects.
func (h *Handler) ListProjects(c *gin.Context) {
	userID := userIDFrom(c)
	projects, err := h.store.ListProjects(c.Request.Context(), userID)
	if err != nil {
		writeAppError(c, err)
		return
	}

	out := make([]v1.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectDTO(p))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

// CreateProject handles POST /projects.
func (h *Handler) CreateProject(c *gin.Context) {
	userID := userIDFrom(c)

	var req v1.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	project := &store.Project{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      req.Name,
		RepoURL:   req.RepoURL,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"projectId": project.ID})
}

// OpenProject handles POST /projects/:id/open.
func (h *Handler) OpenProject(c *gin.Context) {
	userID := userIDFrom(c)
	projectID := c.Param("id")

	project, err := h.store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		writeAppError(c, apperr.NotFound("project", projectID))
		return
	}

	ws, err := h.workspaces.Open(c.Request.Context(), userID, projectID, project.RepoURL)
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"workspaceId": ws.ID, "state": ws.State})
}

// SendMessage handles POST /projects/:id/message.
func (h *Handler) SendMessage(c *gin.Context) {
	userID := userIDFrom(c)
	projectID := c.Param("id")

	var req v1.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result, err := h.runs.Run(c.Request.Context(), userID, projectID, req.Prompt)
	if err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, v1.MessageResponse{RunID: result.RunID, FinalText: result.FinalText, Diff: result.Diff})
}

// StreamMessage handles POST /projects/:id/message/stream over SSE.
func (h *Handler) StreamMessage(c *gin.Context) {
	userID := userIDFrom(c)
	projectID := c.Param("id")

	var req v1.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	sink := run.NewSink("", c.Writer, h.eventBus)
	if err := h.runs.Stream(c.Request.Context(), userID, projectID, req.Prompt, sink); err != nil {
		h.logger.Warn("stream run ended with error", zap.String("project_id", projectID), zap.Error(err))
	}
}

// ListRuns handles GET /projects/:id/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	projectID := c.Param("id")

	runs, err := h.store.ListRunsForProject(c.Request.Context(), projectID, 50)
	if err != nil {
		writeAppError(c, err)
		return
	}

	out := make([]v1.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunSummaryDTO(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

// GetRun handles GET /runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("id")

	r, err := h.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		writeAppError(c, apperr.NotFound("run", runID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": toRunDTO(r)})
}

// GetRunEvidence handles GET /runs/:id/evidence.
func (h *Handler) GetRunEvidence(c *gin.Context) {
	runID := c.Param("id")

	bundle, err := h.store.GetBundleByRunID(c.Request.Context(), runID)
	if err != nil {
		writeAppError(c, apperr.NotFound("evidence bundle", runID))
		return
	}

	switch bundle.Status {
	case store.BundlePending:
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	case store.BundleError:
		msg := ""
		if bundle.ErrorMessage != nil {
			msg = *bundle.ErrorMessage
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": msg})
	case store.BundleReady:
		if bundle.BundlePath == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "bundle marked ready with no path"})
			return
		}
		if _, err := os.Stat(*bundle.BundlePath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "bundle file missing on disk"})
			return
		}
		c.FileAttachment(*bundle.BundlePath, runID+".zip")
	default:
		c.JSON(http.StatusNotFound, gin.H{"status": "deleted"})
	}
}

// GetMetrics handles GET /metrics.
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workspace_gc_total": h.retention.WorkspaceGCTotal(),
		"evidence_gc_total":  h.retention.EvidenceGCTotal(),
	})
}

// TriggerGC handles POST /ops/gc.
func (h *Handler) TriggerGC(c *gin.Context) {
	h.retention.RunNow(c.Request.Context())
	c.JSON(http.StatusOK, v1.GCResponse{
		WorkspaceGCTotal: h.retention.WorkspaceGCTotal(),
		EvidenceGCTotal:  h.retention.EvidenceGCTotal(),
	})
}

func toProjectDTO(p *store.Project) v1.Project {
	return v1.Project{ID: p.ID, UserID: p.UserID, Name: p.Name, RepoURL: p.RepoURL, CreatedAt: p.CreatedAt}
}

func toRunSummaryDTO(r *store.Run) v1.RunSummary {
	return v1.RunSummary{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Status:      v1.RunStatus(r.Status),
		Prompt:      r.Prompt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		DurationMs:  r.DurationMs,
	}
}

func toRunDTO(r *store.Run) v1.Run {
	return v1.Run{
		ID:           r.ID,
		UserID:       r.UserID,
		ProjectID:    r.ProjectID,
		WorkspaceID:  r.WorkspaceID,
		Status:       v1.RunStatus(r.Status),
		Prompt:       r.Prompt,
		FinalText:    r.FinalText,
		Diff:         r.Diff,
		TestOutput:   r.TestOutput,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.DurationMs,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		GitCommit:    r.GitCommit,
		ImageName:    r.ImageName,
		ImageDigest:  r.ImageDigest,
		EnvSnapshot:  r.EnvSnapshot,
	}
}
