package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/models"
)

// memoryLocks is an in-memory LockStore for engine tests
type memoryLocks struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func newMemoryLocks() *memoryLocks {
	return &memoryLocks{held: make(map[string]time.Time)}
}

func (m *memoryLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.held[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	m.held[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *memoryLocks) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

func testEngine() (*Engine, *memoryLocks) {
	locks := newMemoryLocks()
	return New(locks, arbor.NewLogger()), locks
}

func defaultState() models.RetryState {
	return models.NewRetryState(3, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond})
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	eng, _ := testEngine()

	calls := 0
	result := eng.Run(context.Background(), RunSpec{
		JobID: "job-1",
		State: defaultState(),
		Work: func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.State.Attempts)
	assert.NoError(t, result.Err)
}

func TestRunExhaustsAttemptsThenFailsOnce(t *testing.T) {
	eng, _ := testEngine()

	var workCalls, failureCalls int
	state := defaultState()

	// Drive the full lifecycle the way a queue handler does: each Run is one
	// attempt, the returned state feeds the next dispatch.
	var last Result
	for i := 0; i < 5; i++ {
		last = eng.Run(context.Background(), RunSpec{
			JobID: "job-1",
			State: state,
			Work: func(ctx context.Context) error {
				workCalls++
				return errors.New("upstream unavailable")
			},
			OnPermanentFailure: func(ctx context.Context, err error) {
				failureCalls++
			},
		})
		state = last.State
		if last.Outcome != OutcomeRetryScheduled {
			break
		}
	}

	assert.Equal(t, OutcomeFailed, last.Outcome)
	assert.Equal(t, 3, workCalls, "work runs exactly MaxAttempts times")
	assert.Equal(t, 1, failureCalls, "failure hook fires exactly once")
}

func TestRunRetryScheduledFollowsBackoff(t *testing.T) {
	eng, _ := testEngine()

	result := eng.Run(context.Background(), RunSpec{
		JobID: "job-1",
		State: defaultState(),
		Work: func(ctx context.Context) error {
			return errors.New("transient")
		},
	})

	require.Equal(t, OutcomeRetryScheduled, result.Outcome)
	assert.Equal(t, 10*time.Millisecond, result.RetryAfter)
	assert.Equal(t, 1, result.State.Attempts)

	result = eng.Run(context.Background(), RunSpec{
		JobID: "job-1",
		State: result.State,
		Work: func(ctx context.Context) error {
			return errors.New("transient")
		},
	})
	require.Equal(t, OutcomeRetryScheduled, result.Outcome)
	assert.Equal(t, 20*time.Millisecond, result.RetryAfter)
}

func TestRunPermanentErrorShortCircuits(t *testing.T) {
	eng, _ := testEngine()

	var workCalls, failureCalls int
	result := eng.Run(context.Background(), RunSpec{
		JobID: "job-1",
		State: defaultState(),
		Work: func(ctx context.Context) error {
			workCalls++
			return Permanentf("batch too large")
		},
		OnPermanentFailure: func(ctx context.Context, err error) {
			failureCalls++
		},
	})

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 1, workCalls, "permanent errors skip remaining attempts")
	assert.Equal(t, 1, failureCalls)
	assert.True(t, IsPermanent(result.Err))
}

func TestRunTimeoutConsumesAttempt(t *testing.T) {
	eng, _ := testEngine()

	result := eng.Run(context.Background(), RunSpec{
		JobID:   "job-1",
		Timeout: 20 * time.Millisecond,
		State:   defaultState(),
		Work: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	assert.Equal(t, OutcomeRetryScheduled, result.Outcome, "timeout is a recoverable failure")
	assert.Equal(t, 1, result.State.Attempts, "timed-out attempt still counts")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "timed out")
}

func TestRunUniquenessKeyBlocksConcurrentExecution(t *testing.T) {
	eng, _ := testEngine()

	started := make(chan struct{})
	release := make(chan struct{})
	var firstResult Result
	done := make(chan struct{})

	go func() {
		firstResult = eng.Run(context.Background(), RunSpec{
			JobID:         "job-1",
			UniquenessKey: "link_import:job-1",
			LockTTL:       time.Minute,
			State:         defaultState(),
			Work: func(ctx context.Context) error {
				close(started)
				<-release
				return nil
			},
		})
		close(done)
	}()

	<-started
	second := eng.Run(context.Background(), RunSpec{
		JobID:         "job-1",
		UniquenessKey: "link_import:job-1",
		LockTTL:       time.Minute,
		State:         defaultState(),
		Work: func(ctx context.Context) error {
			t.Error("duplicate execution must not run")
			return nil
		},
	})

	assert.Equal(t, OutcomeAlreadyRunning, second.Outcome)
	assert.ErrorIs(t, second.Err, ErrAlreadyRunning)
	assert.Zero(t, second.State.Attempts, "duplicate dispatch consumes no attempt")

	close(release)
	<-done
	assert.Equal(t, OutcomeCompleted, firstResult.Outcome)

	// Lock released: the key is free again
	third := eng.Run(context.Background(), RunSpec{
		JobID:         "job-1",
		UniquenessKey: "link_import:job-1",
		LockTTL:       time.Minute,
		State:         defaultState(),
		Work: func(ctx context.Context) error {
			return nil
		},
	})
	assert.Equal(t, OutcomeCompleted, third.Outcome)
}

// brokenLocks is a LockStore whose backend is down
type brokenLocks struct{}

func (brokenLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("lock backend unavailable")
}

func (brokenLocks) Release(ctx context.Context, key string) error {
	return nil
}

func TestRunLockErrorConsumesAttempts(t *testing.T) {
	eng := New(brokenLocks{}, arbor.NewLogger())

	var workCalls, failureCalls int
	state := models.NewRetryState(2, []time.Duration{10 * time.Millisecond})

	spec := func(state models.RetryState) RunSpec {
		return RunSpec{
			JobID:         "job-1",
			UniquenessKey: "link_import:job-1",
			State:         state,
			Work: func(ctx context.Context) error {
				workCalls++
				return nil
			},
			OnPermanentFailure: func(ctx context.Context, err error) {
				failureCalls++
			},
		}
	}

	first := eng.Run(context.Background(), spec(state))
	require.Equal(t, OutcomeRetryScheduled, first.Outcome)
	assert.Equal(t, 1, first.State.Attempts, "a failed acquire consumes an attempt")
	assert.Equal(t, 10*time.Millisecond, first.RetryAfter)

	// A persistently broken lock backend still drives the job terminal
	second := eng.Run(context.Background(), spec(first.State))
	assert.Equal(t, OutcomeFailed, second.Outcome)
	assert.Equal(t, 2, second.State.Attempts)
	assert.Equal(t, 1, failureCalls, "failure hook fires exactly once")
	assert.Zero(t, workCalls, "work never runs without the lock")
	require.Error(t, second.Err)
	assert.Contains(t, second.Err.Error(), "lock")
}

func TestRunRecoversFromPanic(t *testing.T) {
	eng, _ := testEngine()

	result := eng.Run(context.Background(), RunSpec{
		JobID: "job-1",
		State: defaultState(),
		Work: func(ctx context.Context) error {
			panic("corrupt payload")
		},
	})

	assert.Equal(t, OutcomeRetryScheduled, result.Outcome, "panics are recoverable failures")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "panic")
}

func TestClassifyDefaultsToRecoverable(t *testing.T) {
	assert.Equal(t, FailureRecoverable, Classify(errors.New("plain")))
	assert.Equal(t, FailurePermanent, Classify(Permanent(errors.New("bad input"))))
	assert.Equal(t, FailureRecoverable, Classify(Recoverable(errors.New("blip"))))

	// Classification survives wrapping
	wrapped := Permanentf("invalid owner")
	assert.True(t, IsPermanent(wrapped))
}
