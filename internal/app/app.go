package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/handlers"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
	"github.com/reclaimhq/reclaim/internal/queue"
	"github.com/reclaimhq/reclaim/internal/services/collaborators"
	"github.com/reclaimhq/reclaim/internal/services/events"
	"github.com/reclaimhq/reclaim/internal/services/metrics"
	"github.com/reclaimhq/reclaim/internal/services/orchestrator"
	"github.com/reclaimhq/reclaim/internal/services/scheduler"
	badgerstore "github.com/reclaimhq/reclaim/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService
	MetricsSink  interfaces.MetricsSink
	Scheduler    *scheduler.Service

	// Outbound service clients
	Collaborators *collaborators.Services

	// Queues and workers
	OrchestrationQueue interfaces.Queue
	ProgressQueue      interfaces.Queue

	// Workflow orchestration
	Orchestrator *orchestrator.Manager

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	WSHandler       *handlers.WebSocketHandler
	WorkflowHandler *handlers.WorkflowHandler

	// Notifier is the push channel for user-facing phase notifications,
	// backed by the WebSocket handler.
	Notifier interfaces.Notifier

	storage         *badgerstore.Manager
	orchWorkers     interfaces.WorkerPool
	progressWorkers interfaces.WorkerPool
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		_ = app.storage.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().Msg("Application initialized")
	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.storage = storageManager
	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the business services in dependency order: event bus,
// metrics, queues, outbound clients, orchestrator, workers, scheduler.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	a.MetricsSink = metrics.NewEmitter(a.StorageManager.MetricStorage(), a.Logger)

	// Both queues share the storage manager's Badger instance. Messages are
	// raw key/value entries next to the badgerhold-typed stores.
	db := a.storage.DB().Store().Badger()
	visibilityTimeout := common.ParseDuration(a.Config.Queue.VisibilityTimeout, 5*time.Minute)

	orchQueue, err := queue.NewBadgerQueue(db, models.QueueOrchestration, visibilityTimeout, a.Config.Queue.MaxReceive, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestration queue: %w", err)
	}
	a.OrchestrationQueue = orchQueue

	progressQueue, err := queue.NewBadgerQueue(db, models.QueueSyncProgress, visibilityTimeout, a.Config.Queue.MaxReceive, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create sync-progress queue: %w", err)
	}
	a.ProgressQueue = progressQueue

	a.Collaborators = collaborators.NewServices(&a.Config.Collaborators, a.Logger)

	a.Orchestrator = orchestrator.NewManager(
		a.StorageManager.AuditStore(),
		a.StorageManager.JobStateStorage(),
		a.OrchestrationQueue,
		a.ProgressQueue,
		a.MetricsSink,
		a.EventService,
		a.Collaborators,
		&a.Config.Workflow,
		a.Logger,
	)

	a.orchWorkers = queue.NewWorkerPool(
		a.OrchestrationQueue,
		a.StorageManager.JobStateStorage(),
		a.Orchestrator.HandlePhaseMessage,
		&a.Config.Queue,
		a.Logger,
	)
	a.progressWorkers = queue.NewWorkerPool(
		a.ProgressQueue,
		a.StorageManager.JobStateStorage(),
		a.Orchestrator.HandleProgressMessage,
		&a.Config.Queue,
		a.Logger,
	)

	a.Scheduler = scheduler.NewService(
		a.StorageManager.AuditStore(),
		a.StorageManager.JobStateStorage(),
		a.EventService,
		a.MetricsSink,
		a.Config,
		a.Logger,
	)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.Orchestrator, a.StorageManager.AuditStore(), a.Logger)
	a.Notifier = a.WSHandler
}

// Start launches the queue consumers and the maintenance scheduler.
func (a *App) Start() error {
	if err := a.orchWorkers.Start(); err != nil {
		return fmt.Errorf("failed to start orchestration workers: %w", err)
	}
	if err := a.progressWorkers.Start(); err != nil {
		return fmt.Errorf("failed to start sync-progress workers: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.Logger.Info().Msg("Background services started")
	return nil
}

// Close closes all application resources in reverse dependency order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.progressWorkers != nil {
		if err := a.progressWorkers.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop sync-progress workers")
		}
	}
	if a.orchWorkers != nil {
		if err := a.orchWorkers.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop orchestration workers")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
