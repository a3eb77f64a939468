// Package httpapi is the HTTP front door: a thin gin-gonic/gin consumer
// of WorkspaceService/RunService/Store, proving those interfaces are
// transport-agnostic.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/events/bus"
	"github.com/kandev/sandboxctl/internal/retention"
	"github.com/kandev/sandboxctl/internal/run"
	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/workspace"
)

// NewRouter builds the full gin.Engine for the control plane's HTTP
// surface, including the supplementary WebSocket run tail.
func NewRouter(
	s store.Store,
	ws *workspace.Service,
	rs *run.Service,
	rc *retention.Collector,
	eventBus bus.EventBus,
	log *logger.Logger,
) *gin.Engine {
	handler := NewHandler(s, ws, rs, rc, eventBus, log)
	wsHandler := newWSHandler(eventBus, log)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handler.HealthCheck)
	router.GET("/metrics", handler.GetMetrics)

	authed := router.Group("/")
	authed.Use(requireUserID())
	{
		authed.GET("/projects", handler.ListProjects)
		authed.POST("/projects", handler.CreateProject)
		authed.POST("/projects/:id/open", handler.OpenProject)
		authed.POST("/projects/:id/message", handler.SendMessage)
		authed.POST("/projects/:id/message/stream", handler.StreamMessage)
		authed.GET("/projects/:id/runs", handler.ListRuns)
		authed.GET("/runs/:id", handler.GetRun)
		authed.GET("/runs/:id/evidence", handler.GetRunEvidence)
		authed.GET("/runs/:id/ws", wsHandler.tail)
		authed.POST("/ops/gc", handler.TriggerGC)
	}

	return router
}
