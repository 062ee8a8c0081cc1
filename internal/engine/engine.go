// Package engine wraps unit-of-work functions with uniform retry, timeout,
// and uniqueness semantics. It owns the retry/terminal decision; callers own
// the actual re-dispatch (the queue re-enqueues with the returned delay).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
)

// Outcome is the result of one engine invocation
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed"
	OutcomeAlreadyRunning Outcome = "already_running"
)

// Result carries the outcome, the advanced retry state, and the delay
// before the next attempt when one is scheduled.
type Result struct {
	Outcome    Outcome
	State      models.RetryState
	RetryAfter time.Duration
	Err        error
}

// RunSpec describes one execution request
type RunSpec struct {
	JobID         string
	UniquenessKey string        // At most one in-flight execution per key; "" disables the lock
	Timeout       time.Duration // Wall-clock budget per attempt; 0 = no limit
	LockTTL       time.Duration // Lease TTL; defaults to Timeout plus a grace period
	State         models.RetryState

	// Work performs one attempt. Errors are classified via Recoverable /
	// Permanent wrappers; unmarked errors count as recoverable.
	Work func(ctx context.Context) error

	// OnPermanentFailure runs exactly once when the job goes terminal:
	// cleanup, marking the record failed, alerting.
	OnPermanentFailure func(ctx context.Context, err error)
}

// Engine enforces the retry, timeout, and uniqueness policy for all jobs
type Engine struct {
	locks  interfaces.LockStore
	logger arbor.ILogger
}

// New creates an Engine backed by the given lock store
func New(locks interfaces.LockStore, logger arbor.ILogger) *Engine {
	return &Engine{
		locks:  locks,
		logger: logger,
	}
}

// Run executes one attempt of the given work under the retry policy.
// It never blocks for backoff: a retry decision is returned to the caller,
// which re-dispatches after Result.RetryAfter.
func (e *Engine) Run(ctx context.Context, spec RunSpec) Result {
	state := spec.State

	if spec.Work == nil {
		return Result{Outcome: OutcomeFailed, State: state, Err: fmt.Errorf("no work function provided")}
	}

	if spec.UniquenessKey != "" {
		ttl := spec.LockTTL
		if ttl <= 0 {
			ttl = spec.Timeout + time.Minute
		}
		acquired, err := e.locks.Acquire(ctx, spec.UniquenessKey, ttl)
		if err != nil {
			// A lock backend error consumes an attempt like any other
			// recoverable failure, so the job still reaches a terminal state
			lockErr := Recoverablef("failed to acquire lock %s: %v", spec.UniquenessKey, err)
			state.RecordAttempt(lockErr)
			if !state.Exhausted() {
				delay := state.NextDelay()
				e.logger.Warn().
					Err(lockErr).
					Str("job_id", spec.JobID).
					Int("attempt", state.Attempts).
					Int("max_attempts", state.MaxAttempts).
					Dur("retry_after", delay).
					Str("outcome", string(OutcomeRetryScheduled)).
					Msg("Lock acquisition failed, retry scheduled")
				return Result{Outcome: OutcomeRetryScheduled, State: state, RetryAfter: delay, Err: lockErr}
			}
			e.logger.Error().
				Err(lockErr).
				Str("job_id", spec.JobID).
				Int("attempt", state.Attempts).
				Int("max_attempts", state.MaxAttempts).
				Str("outcome", string(OutcomeFailed)).
				Msg("Job failed terminally")
			if spec.OnPermanentFailure != nil {
				spec.OnPermanentFailure(ctx, lockErr)
			}
			return Result{Outcome: OutcomeFailed, State: state, Err: lockErr}
		}
		if !acquired {
			e.logger.Info().
				Str("job_id", spec.JobID).
				Str("key", spec.UniquenessKey).
				Msg("Duplicate dispatch ignored, job already running")
			return Result{Outcome: OutcomeAlreadyRunning, State: state, Err: ErrAlreadyRunning}
		}
		defer func() {
			if err := e.locks.Release(context.Background(), spec.UniquenessKey); err != nil {
				e.logger.Warn().Err(err).Str("key", spec.UniquenessKey).Msg("Failed to release lock")
			}
		}()
	}

	attempt := state.Attempts + 1
	started := time.Now()

	err := e.runAttempt(ctx, spec)
	state.RecordAttempt(err)
	duration := time.Since(started)

	if err == nil {
		e.logger.Info().
			Str("job_id", spec.JobID).
			Int("attempt", attempt).
			Dur("duration", duration).
			Str("outcome", string(OutcomeCompleted)).
			Msg("Job attempt succeeded")
		return Result{Outcome: OutcomeCompleted, State: state}
	}

	kind := Classify(err)
	if kind == FailureRecoverable && !state.Exhausted() {
		delay := state.NextDelay()
		e.logger.Warn().
			Err(err).
			Str("job_id", spec.JobID).
			Int("attempt", attempt).
			Int("max_attempts", state.MaxAttempts).
			Dur("duration", duration).
			Dur("retry_after", delay).
			Str("outcome", string(OutcomeRetryScheduled)).
			Msg("Job attempt failed, retry scheduled")
		return Result{Outcome: OutcomeRetryScheduled, State: state, RetryAfter: delay, Err: err}
	}

	// Either a permanent error or retries exhausted: terminal failure
	e.logger.Error().
		Err(err).
		Str("job_id", spec.JobID).
		Int("attempt", attempt).
		Int("max_attempts", state.MaxAttempts).
		Dur("duration", duration).
		Bool("permanent_error", kind == FailurePermanent).
		Str("outcome", string(OutcomeFailed)).
		Msg("Job failed terminally")

	if spec.OnPermanentFailure != nil {
		spec.OnPermanentFailure(ctx, err)
	}
	return Result{Outcome: OutcomeFailed, State: state, Err: err}
}

// runAttempt runs work under the per-attempt timeout. A timed-out attempt
// is a recoverable failure that consumed one attempt; the work function is
// expected to honor context cancellation.
func (e *Engine) runAttempt(ctx context.Context, spec RunSpec) (err error) {
	attemptCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Recoverablef("panic in job work: %v", r)
			}
		}()
		done <- spec.Work(attemptCtx)
	}()

	select {
	case err = <-done:
		return err
	case <-attemptCtx.Done():
		if spec.Timeout > 0 && attemptCtx.Err() == context.DeadlineExceeded {
			return Recoverablef("attempt timed out after %s", spec.Timeout)
		}
		return Recoverable(attemptCtx.Err())
	}
}
