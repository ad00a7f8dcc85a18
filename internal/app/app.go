package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/handlers"
	"github.com/ternarybob/bugowl/internal/hub"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/logs"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/queue"
	"github.com/ternarybob/bugowl/internal/services/agent"
	"github.com/ternarybob/bugowl/internal/services/artifacts"
	"github.com/ternarybob/bugowl/internal/services/browser"
	"github.com/ternarybob/bugowl/internal/services/cancellation"
	"github.com/ternarybob/bugowl/internal/services/jobs"
	"github.com/ternarybob/bugowl/internal/services/notify"
	"github.com/ternarybob/bugowl/internal/services/orchestrator"
	"github.com/ternarybob/bugowl/internal/services/playground"
	"github.com/ternarybob/bugowl/internal/services/scheduler"
	badgerstore "github.com/ternarybob/bugowl/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badgerstore.Manager
	Queue          *queue.BadgerManager
	Hub            *hub.Hub
	LogConsumer    *logs.Consumer

	// Job execution
	Cancellation *cancellation.Service
	Notifier     *notify.Propagator
	Browsers     interfaces.BrowserFactory
	Agent        interfaces.Agent
	Artifacts    *artifacts.Capture
	Orchestrator *orchestrator.Orchestrator
	JobService   *jobs.Service
	WorkerPool   *queue.WorkerPool
	Executor     *jobs.Executor
	Playgrounds  *playground.Factory

	// Housekeeping
	SchedulerService interfaces.SchedulerService
	Housekeeper      *scheduler.Housekeeper

	// ArtifactsRoot is served under /artifacts/ when artifacts stay on this host
	ArtifactsRoot string

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	JobHandler       *handlers.JobHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler

	started bool
}

// New initializes the application with all dependencies.
// Nothing consumes the queue until Start is called.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The hub exists before anything logs with a correlation ID
	app.Hub = hub.New(logger)
	app.LogConsumer = logs.NewConsumer(app.Hub, logger, cfg.Logging.MinEventLevel)
	app.LogConsumer.Start()
	app.Logger.SetChannel("context", app.LogConsumer.GetChannel())

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("artifacts", cfg.Artifacts.Store).
		Int("concurrency", cfg.Queue.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger and the job queue sharing it
func (a *App) initDatabase() error {
	manager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	q, err := manager.NewQueue(queue.NewConfig(a.Config.Queue))
	if err != nil {
		manager.Close()
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.Queue = q

	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the job pipeline in dependency order:
// cancellation, notification and artifacts first, then browsers and the agent,
// then the orchestrator and the queue consumers that drive it.
func (a *App) initServices() error {
	cfg := a.Config

	a.Cancellation = cancellation.NewService(
		a.StorageManager.KeyValueStorage(),
		common.Duration(cfg.Cancellation.TTL, cancellation.DefaultTTL),
		a.Logger,
	)

	a.Notifier = notify.NewPropagator(notify.NewConfig(cfg.Notify), a.Logger)

	store, err := a.newBlobStore()
	if err != nil {
		return err
	}
	// Local runs keep their staged artifacts for inspection
	a.Artifacts = artifacts.NewCapture(store, cfg.Artifacts.WorkDir, cfg.Artifacts.KeepLocal || cfg.IsLocal(), a.Logger)

	a.Browsers = browser.NewChromeFactory(cfg.Browser, a.Logger)
	a.Agent = agent.NewRemoteAgent(agent.NewConfig(cfg.Agent), a.Logger)

	a.Orchestrator = orchestrator.NewOrchestrator(orchestrator.Dependencies{
		Store:     a.StorageManager.RunStore(),
		Cancel:    a.Cancellation,
		Notifier:  a.Notifier,
		Browsers:  a.Browsers,
		Agent:     a.Agent,
		Artifacts: a.Artifacts,
		Backplane: a.Hub,
	}, orchestrator.NewConfig(cfg), a.Logger)

	a.JobService = jobs.NewService(a.StorageManager.RunStore(), a.Cancellation, a.Queue, a.Logger)
	a.WorkerPool = queue.NewWorkerPool(a.Queue, queue.NewConfig(cfg.Queue), a.Logger)
	a.Executor = jobs.NewExecutor(a.Orchestrator, a.WorkerPool, a.Logger)

	a.Playgrounds = playground.NewFactory(a.Browsers, a.Agent, a.Hub, playground.NewConfig(cfg), a.Logger)

	a.SchedulerService = scheduler.NewService(a.Logger)
	a.Housekeeper = scheduler.NewHousekeeper(
		a.StorageManager.RunStore(),
		a.Notifier,
		a.StorageManager,
		common.Duration(cfg.Scheduler.StaleAfter, scheduler.DefaultStaleAfter),
		a.Logger,
	)
	if cfg.Scheduler.Enabled {
		if err := a.Housekeeper.Register(a.SchedulerService, cfg.Scheduler); err != nil {
			return fmt.Errorf("failed to register housekeeping jobs: %w", err)
		}
	}

	a.Logger.Debug().Msg("Job services initialized")
	return nil
}

// newBlobStore picks S3 or the local filesystem from [artifacts]
func (a *App) newBlobStore() (interfaces.BlobStore, error) {
	cfg := a.Config.Artifacts
	switch cfg.Store {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := artifacts.NewS3BlobStore(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 artifact store: %w", err)
		}
		a.Logger.Debug().Str("bucket", cfg.S3.Bucket).Msg("S3 artifact store initialized")
		return store, nil
	case "filesystem", "":
		a.ArtifactsRoot = cfg.Root
		a.Logger.Debug().Str("root", cfg.Root).Msg("Filesystem artifact store initialized")
		return artifacts.NewFilesystemBlobStore(cfg.Root, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.Store)
	}
}

// initHandlers creates the HTTP and WebSocket handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.Queue, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService)

	wsHandler, err := handlers.NewWebSocketHandler(a.Hub, a.Playgrounds, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create websocket handler: %w", err)
	}
	a.WSHandler = wsHandler
	return nil
}

// Start begins consuming the job queue and running housekeeping
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	a.started = true
	return nil
}

// RunPayload accepts a job from a payload and runs it on the calling goroutine,
// bypassing the queue. Used by the one-shot CLI mode.
func (a *App) RunPayload(ctx context.Context, payload *models.JobPayload) (*models.JobDetail, error) {
	job, err := a.JobService.Accept(ctx, payload)
	if err != nil {
		return nil, err
	}

	_, runErr := a.Orchestrator.Run(ctx, job.ID)
	a.Notifier.Wait()

	detail, err := a.JobService.Details(context.Background(), job.ID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if errors.Is(runErr, models.ErrJobCanceled) {
		runErr = nil
	}
	return detail, runErr
}

// Close stops background work and releases storage
func (a *App) Close() error {
	a.Logger.Info().Msg("Closing application")

	if a.started {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
		a.started = false
	}

	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	if a.LogConsumer != nil {
		a.LogConsumer.Stop()
	}

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
