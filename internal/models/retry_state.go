package models

import "time"

// RetryState carries the attempt counter and backoff schedule for a job.
// It is persisted with the job so retries survive process restarts and the
// attempt count stays first-class rather than implicit queue bookkeeping.
type RetryState struct {
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     []time.Duration `json:"backoff,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewRetryState builds a retry policy with the given schedule
func NewRetryState(maxAttempts int, backoff []time.Duration) RetryState {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryState{MaxAttempts: maxAttempts, Backoff: backoff}
}

// RecordAttempt increments the counter and remembers the error, if any.
// The counter never exceeds MaxAttempts.
func (r *RetryState) RecordAttempt(err error) {
	if r.Attempts < r.MaxAttempts {
		r.Attempts++
	}
	if err != nil {
		r.LastError = err.Error()
	} else {
		r.LastError = ""
	}
}

// Exhausted reports whether no attempts remain
func (r RetryState) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// NextDelay returns the backoff before the next attempt. The schedule is
// indexed by completed attempts; past the end the last entry repeats.
func (r RetryState) NextDelay() time.Duration {
	if len(r.Backoff) == 0 {
		return time.Minute
	}
	idx := r.Attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.Backoff) {
		idx = len(r.Backoff) - 1
	}
	return r.Backoff[idx]
}

// Reset clears the counter for a reopened job
func (r *RetryState) Reset() {
	r.Attempts = 0
	r.LastError = ""
}
