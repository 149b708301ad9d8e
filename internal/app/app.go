package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/collector"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/handlers"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/notify"
	"github.com/ternarybob/propago/internal/pipeline"
	"github.com/ternarybob/propago/internal/publisher"
	"github.com/ternarybob/propago/internal/publisher/platforms"
	"github.com/ternarybob/propago/internal/queue"
	badgerstore "github.com/ternarybob/propago/internal/storage/badger"
	"github.com/ternarybob/propago/internal/synthesis"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	QueueManager   *queue.Manager
	Dispatcher     *queue.Dispatcher

	Tracker      *pipeline.Tracker
	Pool         *collector.Pool
	Synthesizer  interfaces.Synthesizer
	Orchestrator interfaces.Publisher
	Notifier     interfaces.Notifier
	Scheduler    *pipeline.Scheduler

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	WorkspaceHandler *handlers.WorkspaceHandler
	ArticleHandler   *handlers.ArticleHandler
	PipelineHandler  *handlers.PipelineHandler
}

// New wires the full pipeline: storage, queue, collection pool, synthesis,
// publish orchestrator, notifier and the heartbeat scheduler.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	if err := common.SetScheduleTimezone(config.Schedule.Timezone); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	if err := a.initQueue(storageManager); err != nil {
		a.Close()
		return nil, err
	}

	a.Tracker = pipeline.NewTracker(storageManager.RunStorage(), logger)

	pollInterval, err := time.ParseDuration(config.Queue.PollInterval)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid queue poll interval %q: %w", config.Queue.PollInterval, err)
	}
	filter := collector.NewFilter(storageManager.PostStorage(), config.Collector, logger)
	a.Pool = collector.NewPool(a.Dispatcher, storageManager, a.Tracker, filter, config.Collector, pollInterval, logger)

	synthesizer, err := synthesis.NewService(storageManager, config.Synthesis, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize synthesis: %w", err)
	}
	a.Synthesizer = synthesizer

	clients := []interfaces.PlatformClient{
		platforms.NewInstagram(config.Publisher.RequestTimeout, config.Publisher.ContainerPollWait, logger),
		platforms.NewThreads(config.Publisher.RequestTimeout, config.Publisher.ContainerPollWait, logger),
		platforms.NewFacebook(config.Publisher.RequestTimeout, logger),
	}
	a.Orchestrator = publisher.NewOrchestrator(
		storageManager,
		clients,
		platforms.NewTokenRefresher(logger),
		pipeline.NewKeyedMutex(),
		config.Publisher,
		logger,
	)

	a.Notifier = notify.NewService(config.Notify, logger)

	scheduler, err := pipeline.NewScheduler(storageManager, a.Dispatcher, a.Synthesizer, a.Orchestrator, a.Notifier, a.Tracker, config, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	a.Scheduler = scheduler

	a.APIHandler = handlers.NewAPIHandler(a.Dispatcher, a.Pool, logger)
	a.WorkspaceHandler = handlers.NewWorkspaceHandler(storageManager.WorkspaceStorage(), logger)
	a.ArticleHandler = handlers.NewArticleHandler(storageManager.ArticleStorage(), logger)
	a.PipelineHandler = handlers.NewPipelineHandler(scheduler, storageManager.RunStorage(), logger)

	logger.Info().
		Str("timezone", common.ScheduleLocation().String()).
		Int("collector_concurrency", config.Collector.Concurrency).
		Str("synthesis_provider", config.Synthesis.Provider).
		Msg("Application components initialized")
	return a, nil
}

func (a *App) initQueue(storageManager *badgerstore.Manager) error {
	cfg := a.Config.Queue
	visibilityTimeout, err := time.ParseDuration(cfg.VisibilityTimeout)
	if err != nil {
		return fmt.Errorf("invalid visibility timeout %q: %w", cfg.VisibilityTimeout, err)
	}
	retryBackoff, err := time.ParseDuration(cfg.RetryBackoff)
	if err != nil {
		return fmt.Errorf("invalid retry backoff %q: %w", cfg.RetryBackoff, err)
	}

	manager, err := queue.NewManager(storageManager.RawDB(), cfg.QueueName, visibilityTimeout, cfg.MaxReceive, retryBackoff, cfg.FailedRetention, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = manager
	a.Dispatcher = queue.NewDispatcher(manager, a.Logger)
	return nil
}

// Start launches the collection pool and the heartbeat scheduler.
func (a *App) Start() error {
	if err := a.Pool.Start(a.ctx); err != nil {
		return err
	}
	if err := a.Scheduler.Start(a.ctx); err != nil {
		a.Pool.Stop()
		return err
	}
	a.Logger.Info().Msg("Pipeline started")
	return nil
}

// Close stops the pipeline and releases storage. Safe to call on a partially
// constructed app.
func (a *App) Close() error {
	a.cancelCtx()

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			return err
		}
	}
	a.Logger.Info().Msg("Application stopped")
	return nil
}
