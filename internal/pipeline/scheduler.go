package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/queue"
)

// Scheduler is the heartbeat loop driving the collect/synthesize/publish
// pipeline. It wakes every tick, processes at most one civil-time minute, and
// evaluates each active workspace concurrently. Minutes lost to a stalled
// host are logged and skipped, never replayed.
//
// Per publish slot P the schedule derives S = P - review window (synthesis)
// and C = S - collection window (collection start). Collection is triggered
// anywhere inside [C, S) subject to the re-collect tolerance; synthesis and
// publish fire on an exact wall-minute match.
type Scheduler struct {
	storage     interfaces.StorageManager
	dispatcher  *queue.Dispatcher
	synthesizer interfaces.Synthesizer
	publisher   interfaces.Publisher
	notifier    interfaces.Notifier
	tracker     *Tracker
	logger      arbor.ILogger

	tickInterval     time.Duration
	collectWindow    time.Duration
	collectTolerance time.Duration
	maintenanceSpec  string
	retention        common.RetentionConfig

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	running    bool
	lastMinute time.Time

	now func() time.Time
}

// NewScheduler wires the heartbeat over the pipeline collaborators.
func NewScheduler(storage interfaces.StorageManager, dispatcher *queue.Dispatcher, synthesizer interfaces.Synthesizer, publisher interfaces.Publisher, notifier interfaces.Notifier, tracker *Tracker, config *common.Config, logger arbor.ILogger) (*Scheduler, error) {
	tickInterval := time.Minute
	if config.Schedule.TickInterval != "" {
		var err error
		tickInterval, err = time.ParseDuration(config.Schedule.TickInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid tick interval %q: %w", config.Schedule.TickInterval, err)
		}
	}

	return &Scheduler{
		storage:          storage,
		dispatcher:       dispatcher,
		synthesizer:      synthesizer,
		publisher:        publisher,
		notifier:         notifier,
		tracker:          tracker,
		logger:           logger,
		tickInterval:     tickInterval,
		collectWindow:    time.Duration(config.Schedule.CollectWindowHours) * time.Hour,
		collectTolerance: time.Duration(config.Schedule.CollectToleranceMin) * time.Minute,
		maintenanceSpec:  config.Schedule.MaintenanceSchedule,
		retention:        config.Retention,
		now:              time.Now,
	}, nil
}

// Start launches the heartbeat loop and the daily maintenance cron.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.maintenanceSpec != "" {
		c := cron.New(cron.WithLocation(common.ScheduleLocation()))
		if _, err := c.AddFunc(s.maintenanceSpec, func() {
			s.runMaintenance(loopCtx)
		}); err != nil {
			cancel()
			return fmt.Errorf("invalid maintenance schedule %q: %w", s.maintenanceSpec, err)
		}
		c.Start()
		s.cron = c
	}

	s.wg.Add(1)
	common.SafeGo(s.logger, "scheduler-heartbeat", func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	})

	s.running = true
	s.logger.Info().
		Str("tick_interval", s.tickInterval.String()).
		Str("timezone", common.ScheduleLocation().String()).
		Msg("Heartbeat scheduler started")
	return nil
}

// Stop halts the heartbeat and the maintenance cron. Detached phase
// goroutines finish on their own; their context is cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	c := s.cron
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Heartbeat scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick processes one heartbeat. The minute guard is monotonic: a minute is
// processed at most once, and minutes the loop never saw are skipped.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	minute := common.TruncateToMinute(now)

	s.mu.Lock()
	last := s.lastMinute
	if !minute.After(last) {
		s.mu.Unlock()
		return
	}
	s.lastMinute = minute
	s.mu.Unlock()

	if !last.IsZero() {
		if missed := int(minute.Sub(last)/time.Minute) - 1; missed > 0 {
			s.logger.Warn().
				Int("missed_minutes", missed).
				Str("minute", minute.Format(time.RFC3339)).
				Msg("Heartbeat fell behind, skipped minutes are not replayed")
		}
	}

	workspaces, err := s.storage.WorkspaceStorage().ListActiveWorkspaces(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active workspaces for tick")
		return
	}

	for _, ws := range workspaces {
		ws := ws
		common.SafeGoWithContext(ctx, s.logger, "evaluate-"+ws.ID, func() {
			s.evaluateWorkspace(ctx, ws, minute)
		})
	}
}

func (s *Scheduler) evaluateWorkspace(ctx context.Context, ws *models.Workspace, minute time.Time) {
	if s.collectDue(ws, minute) {
		if _, err := s.enqueueCollect(ctx, ws); err != nil {
			s.logger.Error().Err(err).Str("workspace_id", ws.ID).Msg("Collection trigger failed")
		}
	}

	if s.synthesisDue(ws, minute) {
		s.runSynthesize(ctx, ws)
	}

	if s.publishDue(ws, minute) {
		s.runPublish(ctx, ws.ID, false)
	} else if s.hasBacklog(ctx, ws, minute) {
		// A slot missed while the process was down publishes as soon as the
		// orchestrator's own gates allow. Catch-up runs carry a backlog
		// marker in their metadata.
		s.runPublish(ctx, ws.ID, true)
	}
}

// collectDue reports whether the minute falls inside any slot's collection
// window and the workspace has not collected too recently. A workspace that
// has never collected is due immediately.
func (s *Scheduler) collectDue(ws *models.Workspace, minute time.Time) bool {
	if ws.LastCollectedAt == nil {
		return true
	}
	if minute.Sub(*ws.LastCollectedAt) < s.collectTolerance {
		return false
	}

	for _, hhmm := range ws.PublishTimes {
		wc := common.MustParseWallClock(hhmm)
		// A slot early tomorrow can open its window late today
		for _, day := range []time.Time{minute, minute.AddDate(0, 0, 1)} {
			publishAt := wc.On(day)
			synthesizeAt := publishAt.Add(-ws.ReviewWindow())
			windowStart := synthesizeAt.Add(-s.collectWindow)
			if !minute.Before(windowStart) && minute.Before(synthesizeAt) {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) synthesisDue(ws *models.Workspace, minute time.Time) bool {
	for _, hhmm := range ws.PublishTimes {
		wc := common.MustParseWallClock(hhmm)
		for _, day := range []time.Time{minute, minute.AddDate(0, 0, 1)} {
			if common.SameWallMinute(minute, wc.On(day).Add(-ws.ReviewWindow())) {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) publishDue(ws *models.Workspace, minute time.Time) bool {
	for _, hhmm := range ws.PublishTimes {
		if common.SameWallMinute(minute, common.MustParseWallClock(hhmm).On(minute)) {
			return true
		}
	}
	return false
}

func (s *Scheduler) hasBacklog(ctx context.Context, ws *models.Workspace, minute time.Time) bool {
	eligible, err := s.storage.ArticleStorage().EligibleArticles(ctx, ws.ID, minute, 1)
	if err != nil {
		s.logger.Warn().Err(err).Str("workspace_id", ws.ID).Msg("Failed to check publish backlog")
		return false
	}
	return len(eligible) > 0
}

// enqueueCollect queues one scrape job per enabled source and returns how
// many were accepted. Duplicates of jobs still waiting or in flight are
// skipped silently. The collection timestamp advances as soon as at least one
// job is accepted, which holds the re-collect tolerance while jobs run.
func (s *Scheduler) enqueueCollect(ctx context.Context, ws *models.Workspace) (int, error) {
	sources := ws.EnabledSources()
	if len(sources) == 0 {
		s.logger.Info().Str("workspace_id", ws.ID).Msg("No enabled sources, skipping collection")
		return 0, nil
	}

	enqueued := 0
	for _, src := range sources {
		job := &models.ScrapeJob{
			WorkspaceID: ws.ID,
			SourceID:    src.ID,
			Target:      src.Target,
			Kind:        src.Kind,
			Settings:    ws.Settings,
			Since:       ws.LastCollectedAt,
		}
		if err := s.dispatcher.EnqueueScrape(ctx, job); err != nil {
			if err == queue.ErrDuplicateJob {
				continue
			}
			s.logger.Warn().Err(err).
				Str("workspace_id", ws.ID).
				Str("source_id", src.ID).
				Msg("Failed to enqueue scrape job")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		if err := s.storage.WorkspaceStorage().TouchPhaseTimestamp(ctx, ws.ID, models.PhaseCollect, s.now()); err != nil {
			return enqueued, fmt.Errorf("failed to advance collection timestamp: %w", err)
		}
		s.logger.Info().
			Str("workspace_id", ws.ID).
			Int("enqueued", enqueued).
			Int("sources", len(sources)).
			Msg("Collection jobs enqueued")
	}
	return enqueued, nil
}

func (s *Scheduler) runSynthesize(ctx context.Context, ws *models.Workspace) {
	err := s.tracker.Track(ctx, ws.ID, models.PhaseSynthesize, func(ctx context.Context) (map[string]interface{}, error) {
		result, err := s.synthesizer.Synthesize(ctx, ws.ID, ws.Settings)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"articles_generated": result.ArticlesGenerated}, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("workspace_id", ws.ID).Msg("Synthesis failed")
	}
}

// runPublish dispatches one tracked publish run. Catch-up runs for a missed
// slot are marked with backlog metadata so slot-minute and catch-up history
// stay distinguishable.
func (s *Scheduler) runPublish(ctx context.Context, workspaceID string, backlog bool) {
	err := s.tracker.Track(ctx, workspaceID, models.PhasePublish, func(ctx context.Context) (map[string]interface{}, error) {
		outcome, err := s.publisher.PublishWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		metadata := map[string]interface{}{"published": outcome.Published}
		if backlog {
			metadata["backlog"] = true
		}
		if outcome.Skipped {
			metadata["skipped"] = true
			metadata["reason"] = outcome.Reason
		}
		return metadata, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("Publish run failed")
	}
}

// TriggerCollect enqueues collection for one workspace immediately, outside
// any window. Returns how many jobs were accepted.
func (s *Scheduler) TriggerCollect(ctx context.Context, workspaceID string) (int, error) {
	ws, err := s.storage.WorkspaceStorage().GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return s.enqueueCollect(ctx, ws)
}

// TriggerPublish runs the publish sequence for one workspace immediately.
// All of the orchestrator's gates still apply.
func (s *Scheduler) TriggerPublish(ctx context.Context, workspaceID string) (*interfaces.PublishOutcome, error) {
	var outcome *interfaces.PublishOutcome
	err := s.tracker.Track(ctx, workspaceID, models.PhasePublish, func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		outcome, err = s.publisher.PublishWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		metadata := map[string]interface{}{"published": outcome.Published, "manual": true}
		if outcome.Skipped {
			metadata["skipped"] = true
			metadata["reason"] = outcome.Reason
		}
		return metadata, nil
	})
	return outcome, err
}

// runMaintenance prunes aged records and sends the daily failure digest.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	now := s.now()
	s.logger.Info().Msg("Running daily maintenance")

	runCutoff := now.AddDate(0, 0, -s.retention.RunDays)
	if n, err := s.storage.RunStorage().PruneRunsBefore(ctx, runCutoff); err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune run records")
	} else if n > 0 {
		s.logger.Info().Int("pruned", n).Msg("Aged run records pruned")
	}

	contentCutoff := now.AddDate(0, 0, -s.retention.ContentDays)
	if n, err := s.storage.ArticleStorage().DeleteArticlesBefore(ctx, contentCutoff); err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune articles")
	} else if n > 0 {
		s.logger.Info().Int("pruned", n).Msg("Aged articles pruned")
	}
	if n, err := s.storage.PostStorage().DeletePostsBefore(ctx, contentCutoff); err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune source posts")
	} else if n > 0 {
		s.logger.Info().Int("pruned", n).Msg("Aged source posts pruned")
	}

	if n, err := s.dispatcher.PruneFailed(ctx, runCutoff); err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune failed queue records")
	} else if n > 0 {
		s.logger.Info().Int("pruned", n).Msg("Aged failed queue records pruned")
	}

	s.sendFailureDigest(ctx, now)
}

func (s *Scheduler) sendFailureDigest(ctx context.Context, now time.Time) {
	if s.notifier == nil {
		return
	}

	failedRuns, err := s.storage.RunStorage().ListFailedRunsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load failed runs for digest")
		return
	}

	var errored []*models.Article
	workspaces, err := s.storage.WorkspaceStorage().ListWorkspaces(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list workspaces for digest")
		return
	}
	for _, ws := range workspaces {
		articles, err := s.storage.ArticleStorage().ListArticlesByStatus(ctx, ws.ID, models.ArticleStatusError)
		if err != nil {
			s.logger.Warn().Err(err).Str("workspace_id", ws.ID).Msg("Failed to list errored articles for digest")
			continue
		}
		errored = append(errored, articles...)
	}

	if err := s.notifier.SendFailureDigest(ctx, failedRuns, errored); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send failure digest")
	}
}
