package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/agentclient"
	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/evidence"
	"github.com/kandev/sandboxctl/internal/events/bus"
	"github.com/kandev/sandboxctl/internal/httpapi"
	"github.com/kandev/sandboxctl/internal/imageprofile"
	"github.com/kandev/sandboxctl/internal/mutex"
	"github.com/kandev/sandboxctl/internal/reaper"
	"github.com/kandev/sandboxctl/internal/retention"
	"github.com/kandev/sandboxctl/internal/run"
	"github.com/kandev/sandboxctl/internal/sandbox/docker"
	"github.com/kandev/sandboxctl/internal/store"
	"github.com/kandev/sandboxctl/internal/store/postgres"
	"github.com/kandev/sandboxctl/internal/workspace"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sandboxctl control plane...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect to the event bus. An empty NATS URL selects the
	// in-process memory bus, useful for single-process/dev deployments.
	var eventBus bus.EventBus
	if cfg.NATS.URL == "" {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-process memory event bus")
	} else {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus")
	}
	defer eventBus.Close()

	// 5. Connect to Postgres
	pgStore, err := postgres.Open(cfg.Postgres.URL, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	var runStore store.Store = pgStore
	defer runStore.Close()
	log.Info("Connected to Postgres")

	// 6. Initialize Docker sandbox driver
	sandboxDriver, err := docker.New(cfg.Docker, log)
	if err != nil {
		log.Fatal("Failed to initialize Docker sandbox driver", zap.Error(err))
	}
	defer sandboxDriver.Close()

	if err := sandboxDriver.Ping(ctx); err != nil {
		log.Fatal("Failed to connect to Docker daemon", zap.Error(err))
	}
	log.Info("Connected to Docker daemon")

	// 7. Initialize image profile registry
	profiles := imageprofile.NewRegistry(cfg.Workspace.Image)
	log.Info("Loaded image profile registry", zap.Int("profiles", len(profiles.List())))

	// 8. Initialize credential injector
	envInjector := workspace.NewEnvInjector(cfg.Run.ForceMockCodex)

	// 9. Initialize WorkspaceService
	workspaceService := workspace.NewService(runStore, sandboxDriver, profiles, envInjector, cfg.Workspace, log)

	// 10. Initialize the in-sandbox agent client
	var agentClient agentclient.Client
	if cfg.Run.ForceMockCodex {
		agentClient = agentclient.NewMockClient(log)
		log.Info("FORCE_MOCK_CODEX set: using mock agent client")
	} else {
		agentClient = agentclient.NewHTTPClient(log)
	}

	// 11. Initialize QuotaChecker, KeyedMutex, EvidenceBuilder, RunService
	quota := run.NewQuotaChecker(runStore, cfg.Run.MaxPerDay)
	keyedMutex := mutex.NewKeyed()
	evidenceBuilder := evidence.New(runStore, sandboxDriver, cfg.Evidence, log)
	runService := run.NewService(runStore, sandboxDriver, agentClient, quota, keyedMutex, eventBus, evidenceBuilder, cfg.Run, cfg.Workspace, log)

	// 12. Initialize and start the IdleReaper
	idleReaper := reaper.New(runStore, sandboxDriver, reaper.DefaultInterval, log)
	idleReaper.Start(ctx)
	log.Info("Started idle reaper")

	// 13. Initialize and start the RetentionCollector
	retentionCollector := retention.New(runStore, sandboxDriver, cfg.Workspace, cfg.Evidence, retention.DefaultInterval, log)
	retentionCollector.Start(ctx)
	log.Info("Started retention collector")

	// 14. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(runStore, workspaceService, runService, retentionCollector, eventBus, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 15. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 16. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down sandboxctl control plane...")

	// 17. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	idleReaper.Stop()
	retentionCollector.Stop()

	log.Info("sandboxctl control plane stopped")
}
