// Package importer orchestrates batch file jobs: link imports that pull
// files from a remote share page into owner storage, and audio processing
// over already-stored tracks. All executions run under the engine's retry,
// timeout, and uniqueness policy; the queue carries the dispatch.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/engine"
	"github.com/mixforge/mixforge/internal/fetcher"
	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
	"github.com/mixforge/mixforge/internal/queue"
)

// Config is the retry and sizing policy applied to every batch job
type Config struct {
	MaxBatchBytes  int64
	MaxAttempts    int
	Backoff        []time.Duration
	AttemptTimeout time.Duration
	LockTTL        time.Duration
}

// Orchestrator owns the batch-job lifecycle from enqueue to terminal state
type Orchestrator struct {
	jobs     interfaces.JobStore
	objects  interfaces.ObjectStore
	fetcher  *fetcher.Fetcher
	analyzer interfaces.Analyzer
	engine   *engine.Engine
	queue    *queue.Manager
	notifier interfaces.Notifier
	config   Config
	logger   arbor.ILogger
}

// New creates an Orchestrator
func New(
	jobs interfaces.JobStore,
	objects interfaces.ObjectStore,
	f *fetcher.Fetcher,
	analyzer interfaces.Analyzer,
	eng *engine.Engine,
	q *queue.Manager,
	notifier interfaces.Notifier,
	config Config,
	logger arbor.ILogger,
) *Orchestrator {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Orchestrator{
		jobs:     jobs,
		objects:  objects,
		fetcher:  f,
		analyzer: analyzer,
		engine:   eng,
		queue:    q,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// EnqueueLinkImport creates a link-import job for the owner and dispatches it
func (o *Orchestrator) EnqueueLinkImport(ctx context.Context, owner models.FileOwner, userID, sourceURL string) (*models.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if sourceURL == "" {
		return nil, fmt.Errorf("source url is required")
	}

	job := models.NewJob(models.JobKindLinkImport, owner, sourceURL)
	job.UserID = userID
	job.Retry = models.NewRetryState(o.config.MaxAttempts, o.config.Backoff)

	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := o.dispatch(ctx, job, 0); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner.String()).
		Str("url", sourceURL).
		Msg("Link import enqueued")
	return job, nil
}

// EnqueueAudioProcess creates a processing job over already-stored tracks
func (o *Orchestrator) EnqueueAudioProcess(ctx context.Context, owner models.FileOwner, userID string, items []models.BatchItem) (*models.Job, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}

	job := models.NewJob(models.JobKindAudioProcess, owner, "")
	job.UserID = userID
	job.Retry = models.NewRetryState(o.config.MaxAttempts, o.config.Backoff)
	for i := range items {
		items[i].Index = i
		items[i].Outcome = models.ItemPending
	}
	job.Items = items

	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := o.dispatch(ctx, job, 0); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner.String()).
		Int("items", len(items)).
		Msg("Audio processing enqueued")
	return job, nil
}

// Reopen resets a terminal job to queued and dispatches it again. This is
// the only path back out of completed/failed.
func (o *Orchestrator) Reopen(ctx context.Context, jobID string) error {
	var kind string
	err := o.jobs.UpdateJob(ctx, jobID, func(job *models.Job) error {
		if !job.Status.Terminal() {
			return fmt.Errorf("job %s is not terminal (status %s)", jobID, job.Status)
		}
		job.Reopen()
		job.Retry = models.NewRetryState(o.config.MaxAttempts, o.config.Backoff)
		kind = job.Kind
		return nil
	})
	if err != nil {
		return err
	}

	o.logger.Info().Str("job_id", jobID).Msg("Job reopened")
	return o.queue.Enqueue(ctx, models.QueueMessage{JobID: jobID, Type: kind})
}

// HandleMessage is the queue handler for both job kinds. It runs one attempt
// under the engine and re-enqueues with the returned delay when a retry is
// scheduled; the worker always deletes the delivered message.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *models.QueueMessage) error {
	job, err := o.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}
	if job.Status.Terminal() {
		o.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Skipping message for terminal job")
		return nil
	}

	work, err := o.workFor(job.Kind)
	if err != nil {
		return err
	}

	result := o.engine.Run(ctx, engine.RunSpec{
		JobID:         job.ID,
		UniquenessKey: job.Kind + ":" + job.ID,
		Timeout:       o.config.AttemptTimeout,
		LockTTL:       o.config.LockTTL,
		State:         job.Retry,
		Work: func(ctx context.Context) error {
			return work(ctx, job.ID)
		},
		OnPermanentFailure: func(ctx context.Context, err error) {
			o.failJob(ctx, job.ID, err)
		},
	})

	switch result.Outcome {
	case engine.OutcomeAlreadyRunning:
		return nil

	case engine.OutcomeCompleted:
		return o.persistRetryState(ctx, job.ID, result.State)

	case engine.OutcomeRetryScheduled:
		if err := o.persistRetryState(ctx, job.ID, result.State); err != nil {
			return err
		}
		return o.queue.EnqueueDelayed(ctx, *msg, result.RetryAfter)

	default: // OutcomeFailed; the failure hook already marked the record
		return o.persistRetryState(ctx, job.ID, result.State)
	}
}

func (o *Orchestrator) workFor(kind string) (func(ctx context.Context, jobID string) error, error) {
	switch kind {
	case models.JobKindLinkImport:
		return o.runLinkImport, nil
	case models.JobKindAudioProcess:
		return o.runAudioProcess, nil
	default:
		return nil, fmt.Errorf("unknown job kind: %s", kind)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, job *models.Job, delay time.Duration) error {
	msg := models.QueueMessage{JobID: job.ID, Type: job.Kind}
	if delay > 0 {
		return o.queue.EnqueueDelayed(ctx, msg, delay)
	}
	return o.queue.Enqueue(ctx, msg)
}

func (o *Orchestrator) persistRetryState(ctx context.Context, jobID string, state models.RetryState) error {
	return o.jobs.UpdateJob(ctx, jobID, func(job *models.Job) error {
		job.Retry = state
		return nil
	})
}

// failJob marks the record failed, removes partial artifacts, and notifies
// the owner. Runs exactly once per terminal failure via the engine hook.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	var userID string
	var partials []string
	err := o.jobs.UpdateJob(ctx, jobID, func(job *models.Job) error {
		job.ErrorMessage = cause.Error()
		job.Transition(models.JobStatusFailed)
		userID = job.UserID
		for _, f := range job.Imported {
			partials = append(partials, f.StoragePath)
		}
		return nil
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job failed")
		return
	}

	// Partial artifacts from a failed import are not left behind
	for _, storagePath := range partials {
		if err := o.objects.Delete(ctx, storagePath); err != nil {
			o.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Str("path", storagePath).
				Msg("Failed to remove partial artifact")
		}
	}

	if userID != "" {
		o.notifier.Notify(userID, "import.failed", map[string]interface{}{
			"job_id": jobID,
			"error":  cause.Error(),
		})
	}
}
