package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
)

// Dispatcher is the typed scrape-job surface over the queue manager. Jobs
// dedup on the (workspace, source) pair so re-triggering a source that is
// already waiting or in flight is rejected, not doubled.
type Dispatcher struct {
	manager *Manager
	logger  arbor.ILogger
}

// NewDispatcher creates a dispatcher over an existing queue manager.
func NewDispatcher(manager *Manager, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		logger:  logger,
	}
}

// EnqueueScrape queues one collection job. Assigns the job ID and enqueue
// time if unset. Returns ErrDuplicateJob when the same (workspace, source)
// pair is already queued.
func (d *Dispatcher) EnqueueScrape(ctx context.Context, job *models.ScrapeJob) error {
	if job.WorkspaceID == "" {
		return fmt.Errorf("scrape job requires a workspace ID")
	}
	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal scrape job: %w", err)
	}

	msgID, err := d.manager.Enqueue(ctx, job.DedupKey(), payload)
	if err != nil {
		if err == ErrDuplicateJob {
			d.logger.Debug().
				Str("workspace_id", job.WorkspaceID).
				Str("source_id", job.SourceID).
				Msg("Scrape job already queued, skipping")
		}
		return err
	}

	d.logger.Debug().
		Str("workspace_id", job.WorkspaceID).
		Str("source_id", job.SourceID).
		Str("message_id", msgID).
		Msg("Scrape job enqueued")
	return nil
}

// Receive pulls the next scrape job. The returned Message must be passed back
// to Complete or Fail to settle the delivery. Returns ErrNoMessage when the
// queue has nothing ready.
func (d *Dispatcher) Receive(ctx context.Context) (*models.ScrapeJob, *Message, error) {
	msg, err := d.manager.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var job models.ScrapeJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// Undecodable payload can never succeed; settle it as failed
		_ = d.manager.Fail(ctx, msg, fmt.Errorf("undecodable payload: %w", err))
		return nil, nil, fmt.Errorf("failed to unmarshal scrape job: %w", err)
	}
	return &job, msg, nil
}

// Complete settles a delivered job as done. The job record is discarded.
func (d *Dispatcher) Complete(ctx context.Context, msg *Message) error {
	return d.manager.Complete(ctx, msg)
}

// Fail settles a delivered job as failed; the manager decides between retry
// backoff and retirement.
func (d *Dispatcher) Fail(ctx context.Context, msg *Message, cause error) error {
	return d.manager.Fail(ctx, msg, cause)
}

// Counts reports queue depth for health introspection.
func (d *Dispatcher) Counts(ctx context.Context) (waiting, active, failed int, err error) {
	return d.manager.Counts(ctx)
}

// PruneFailed removes retained failed records older than cutoff.
func (d *Dispatcher) PruneFailed(ctx context.Context, cutoff time.Time) (int, error) {
	return d.manager.DeleteFailedBefore(ctx, cutoff)
}
