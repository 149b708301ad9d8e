package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/pipeline"
	"github.com/ternarybob/propago/internal/queue"
	"golang.org/x/time/rate"
)

// scrapeSession is the per-slot browser session surface. Session is the
// production implementation; tests substitute fakes through the pool factory.
type scrapeSession interface {
	Collect(ctx context.Context, target string, kind models.SourceKind, since *time.Time) ([]*models.SourcePost, error)
	EnrichPosts(ctx context.Context, posts []*models.SourcePost)
	Close()
}

type delivery struct {
	job *models.ScrapeJob
	msg *queue.Message
}

// Pool consumes scrape jobs from the dispatcher with a fixed number of
// worker slots. Jobs map to slots by counter modulo concurrency, each slot
// owns at most one browser session, and sessions are torn down on failure
// and proactively recycled after a fixed number of jobs.
type Pool struct {
	dispatcher   *queue.Dispatcher
	storage      interfaces.StorageManager
	tracker      *pipeline.Tracker
	filter       *Filter
	config       common.CollectorConfig
	pollInterval time.Duration
	logger       arbor.ILogger
	factory      func() (scrapeSession, error)
	limiter      *rate.Limiter

	mu       sync.Mutex
	sessions []scrapeSession
	slotJobs []int
	slots    []chan *delivery
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	jobCounter uint64
	processed  uint64
	failed     uint64
}

// NewPool creates a collection worker pool.
func NewPool(dispatcher *queue.Dispatcher, storage interfaces.StorageManager, tracker *pipeline.Tracker, filter *Filter, config common.CollectorConfig, pollInterval time.Duration, logger arbor.ILogger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	p := &Pool{
		dispatcher:   dispatcher,
		storage:      storage,
		tracker:      tracker,
		filter:       filter,
		config:       config,
		pollInterval: pollInterval,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Every(config.RequestDelay), 1),
		sessions:     make([]scrapeSession, config.Concurrency),
		slotJobs:     make([]int, config.Concurrency),
		slots:        make([]chan *delivery, config.Concurrency),
	}
	p.factory = func() (scrapeSession, error) {
		return NewSession(config, logger)
	}
	return p
}

// Start launches the poll loop and one worker per slot. Sessions are created
// lazily on first use.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("collection pool already running")
	}
	p.running = true

	poolCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := range p.slots {
		p.slots[i] = make(chan *delivery)
	}
	p.mu.Unlock()

	for i := 0; i < p.config.Concurrency; i++ {
		slot := i
		p.wg.Add(1)
		common.SafeGo(p.logger, fmt.Sprintf("collector-slot-%d", slot), func() {
			defer p.wg.Done()
			p.runSlot(poolCtx, slot)
		})
	}

	p.wg.Add(1)
	common.SafeGo(p.logger, "collector-poll", func() {
		defer p.wg.Done()
		p.poll(poolCtx)
	})

	p.logger.Info().
		Int("concurrency", p.config.Concurrency).
		Dur("job_timeout", p.config.JobTimeout).
		Int("recycle_after", p.config.RecycleAfter).
		Msg("Collection pool started")
	return nil
}

// Stop cancels all workers, waits for in-flight jobs and closes every
// remaining session.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.mu.Lock()
	for i, s := range p.sessions {
		if s != nil {
			s.Close()
			p.sessions[i] = nil
		}
	}
	p.mu.Unlock()

	p.logger.Info().
		Int64("jobs_processed", int64(atomic.LoadUint64(&p.processed))).
		Int64("jobs_failed", int64(atomic.LoadUint64(&p.failed))).
		Msg("Collection pool stopped")
}

// Stats returns pool counters for health introspection.
func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":    p.config.Concurrency,
		"jobs_processed": atomic.LoadUint64(&p.processed),
		"jobs_failed":    atomic.LoadUint64(&p.failed),
	}
}

// poll receives jobs and hands each to its slot. The slot index is the job
// counter modulo concurrency so a recycled or torn-down session never skews
// the distribution.
func (p *Pool) poll(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, msg, err := p.dispatcher.Receive(ctx)
			if err != nil {
				if err != queue.ErrNoMessage {
					p.logger.Warn().Err(err).Msg("Failed to receive scrape job")
				}
				break
			}

			idx := atomic.AddUint64(&p.jobCounter, 1) - 1
			slot := int(idx % uint64(p.config.Concurrency))

			select {
			case p.slots[slot] <- &delivery{job: job, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			p.teardown(slot)
			return
		case d := <-p.slots[slot]:
			p.process(ctx, slot, d)
		}
	}
}

// process runs one job under the hard wall-clock timeout, wrapped in a
// tracked pipeline run, then settles the queue delivery.
func (p *Pool) process(ctx context.Context, slot int, d *delivery) {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.tracker.Track(jobCtx, d.job.WorkspaceID, models.PhaseCollect, func(trackCtx context.Context) (map[string]interface{}, error) {
		return p.collect(trackCtx, slot, d.job)
	})

	// Every job counts toward the slot's recycle threshold, and a failed job
	// discards the slot's session outright
	p.recordServed(slot)

	if err != nil {
		p.teardown(slot)
		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn().Err(err).
			Str("workspace_id", d.job.WorkspaceID).
			Str("source_id", d.job.SourceID).
			Int("slot", slot).
			Msg("Scrape job failed")
		if failErr := p.dispatcher.Fail(ctx, d.msg, err); failErr != nil {
			p.logger.Error().Err(failErr).Str("message_id", d.msg.ID).Msg("Failed to settle job as failed")
		}
		return
	}

	atomic.AddUint64(&p.processed, 1)
	if doneErr := p.dispatcher.Complete(ctx, d.msg); doneErr != nil {
		p.logger.Error().Err(doneErr).Str("message_id", d.msg.ID).Msg("Failed to settle completed job")
	}
}

func (p *Pool) collect(ctx context.Context, slot int, job *models.ScrapeJob) (map[string]interface{}, error) {
	// Pace source fetches; the wait aborts with the job context
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	session, err := p.sessionFor(slot)
	if err != nil {
		return nil, fmt.Errorf("failed to start scrape session: %w", err)
	}

	posts, err := session.Collect(ctx, job.Target, job.Kind, job.Since)
	if err != nil {
		return nil, err
	}

	if !job.SkipEnrichment && !job.Settings.SkipEnrichment {
		session.EnrichPosts(ctx, posts)
	}

	qualified, counters, err := p.filter.Qualify(ctx, job, posts)
	if err != nil {
		return counters.Metadata(), err
	}

	for _, post := range qualified {
		if err := p.storage.PostStorage().SavePost(ctx, post); err != nil {
			return counters.Metadata(), fmt.Errorf("failed to persist post %s: %w", post.ExternalID, err)
		}
	}

	return counters.Metadata(), nil
}

// sessionFor returns the slot's session, creating one lazily.
func (p *Pool) sessionFor(slot int) (scrapeSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions[slot] == nil {
		session, err := p.factory()
		if err != nil {
			return nil, err
		}
		p.sessions[slot] = session
		p.slotJobs[slot] = 0
		p.logger.Debug().Int("slot", slot).Msg("Scrape session created")
	}
	return p.sessions[slot], nil
}

// teardown closes and forgets the slot's session.
func (p *Pool) teardown(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions[slot] != nil {
		p.sessions[slot].Close()
		p.sessions[slot] = nil
		p.slotJobs[slot] = 0
		p.logger.Debug().Int("slot", slot).Msg("Scrape session torn down")
	}
}

// recordServed counts a processed job, successful or not, against the slot's
// session and recycles it once it served the configured number of jobs.
func (p *Pool) recordServed(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slotJobs[slot]++
	if p.config.RecycleAfter > 0 && p.slotJobs[slot] >= p.config.RecycleAfter && p.sessions[slot] != nil {
		p.sessions[slot].Close()
		p.sessions[slot] = nil
		served := p.slotJobs[slot]
		p.slotJobs[slot] = 0
		p.logger.Info().Int("slot", slot).Int("jobs_served", served).Msg("Scrape session recycled")
	}
}
