package schedules

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

// fakeLedger implements PayoutStore and RequestStore in memory
type fakeLedger struct {
	mu       sync.Mutex
	payouts  map[string]*models.Payout
	requests map[string]*models.AccessRequest
	markErr  map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		payouts:  make(map[string]*models.Payout),
		requests: make(map[string]*models.AccessRequest),
		markErr:  make(map[string]error),
	}
}

func (f *fakeLedger) SavePayout(ctx context.Context, p *models.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payouts[p.ID] = &cp
	return nil
}

func (f *fakeLedger) DuePayouts(ctx context.Context, now time.Time) ([]*models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*models.Payout
	for _, p := range f.payouts {
		if p.Status == models.PayoutScheduled && !p.HoldReleaseAt.After(now) {
			cp := *p
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (f *fakeLedger) MarkDisbursed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[id]; err != nil {
		return err
	}
	p, ok := f.payouts[id]
	if !ok {
		return errors.New("payout not found")
	}
	p.Status = models.PayoutDisbursed
	return nil
}

func (f *fakeLedger) MarkPayoutFailed(ctx context.Context, id string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[id]
	if !ok {
		return errors.New("payout not found")
	}
	p.Status = models.PayoutFailed
	p.LastError = message
	return nil
}

func (f *fakeLedger) SaveRequest(ctx context.Context, r *models.AccessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeLedger) ExpiredRequests(ctx context.Context, now time.Time) ([]*models.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []*models.AccessRequest
	for _, r := range f.requests {
		if r.Status == models.RequestPending && !r.ExpiresAt.After(now) {
			cp := *r
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func (f *fakeLedger) CloseRequest(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return errors.New("request not found")
	}
	r.Status = models.RequestExpired
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(userID, templateKey string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID+":"+templateKey)
}

func TestPayoutProcessorDisbursesDue(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &recordingNotifier{}
	now := time.Now().UTC()

	ledger.SavePayout(context.Background(), &models.Payout{
		ID: "pay-1", ProducerID: "u1", AmountCents: 5000,
		Status: models.PayoutScheduled, HoldReleaseAt: now.Add(-time.Hour),
	})
	ledger.SavePayout(context.Background(), &models.Payout{
		ID: "pay-2", ProducerID: "u2", AmountCents: 7000,
		Status: models.PayoutScheduled, HoldReleaseAt: now.Add(time.Hour),
	})

	var disbursed []string
	processor := NewPayoutProcessor(ledger, DisburserFunc(func(ctx context.Context, p *models.Payout) error {
		disbursed = append(disbursed, p.ID)
		return nil
	}), notifier, arbor.NewLogger())

	report, err := processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []string{"pay-1"}, disbursed)
	assert.Equal(t, []string{"u1:payout.disbursed"}, notifier.calls)

	// Re-run finds nothing: disbursement is idempotent across runs
	report, err = processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Len(t, disbursed, 1, "a payout is never paid twice")
}

func TestPayoutProcessorIsolatesFailures(t *testing.T) {
	ledger := newFakeLedger()
	now := time.Now().UTC()

	for _, id := range []string{"pay-1", "pay-2", "pay-3"} {
		ledger.SavePayout(context.Background(), &models.Payout{
			ID: id, ProducerID: "u-" + id, AmountCents: 1000,
			Status: models.PayoutScheduled, HoldReleaseAt: now.Add(-time.Hour),
		})
	}

	processor := NewPayoutProcessor(ledger, DisburserFunc(func(ctx context.Context, p *models.Payout) error {
		if p.ID == "pay-2" {
			return errors.New("gateway refused")
		}
		return nil
	}), &recordingNotifier{}, arbor.NewLogger())

	report, err := processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed, "one bad payout does not block the others")
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "pay-2", report.Errors[0].ID)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	assert.Equal(t, models.PayoutFailed, ledger.payouts["pay-2"].Status)
	assert.Equal(t, models.PayoutDisbursed, ledger.payouts["pay-1"].Status)
}

func TestDeadlineProcessorClosesExpired(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &recordingNotifier{}
	now := time.Now().UTC()

	ledger.SaveRequest(context.Background(), &models.AccessRequest{
		ID: "req-1", ProjectID: "p1", UserID: "u1",
		Status: models.RequestPending, ExpiresAt: now.Add(-time.Minute),
	})
	ledger.SaveRequest(context.Background(), &models.AccessRequest{
		ID: "req-2", ProjectID: "p1", UserID: "u2",
		Status: models.RequestPending, ExpiresAt: now.Add(time.Hour),
	})

	processor := NewDeadlineProcessor(ledger, notifier, arbor.NewLogger())

	report, err := processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, []string{"u1:request.expired"}, notifier.calls)

	// Idempotent: the closed request is gone from the expired set
	report, err = processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
}

func TestDueReportErrorSampleIsBounded(t *testing.T) {
	report := &DueReport{}
	for i := 0; i < MaxReportErrors+20; i++ {
		report.recordError("id", "boom")
	}
	assert.Equal(t, MaxReportErrors+20, report.Failed, "every failure is counted")
	assert.Len(t, report.Errors, MaxReportErrors, "only the sample is bounded")
}

func TestSchedulerOverlapGuard(t *testing.T) {
	scheduler := NewScheduler(arbor.NewLogger())

	block := make(chan struct{})
	var runs int32
	var mu sync.Mutex

	slow := processorFunc{"slow", func(ctx context.Context) (*DueReport, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		<-block
		return &DueReport{}, nil
	}}
	require.NoError(t, scheduler.Register(slow, "@every 1h"))

	started := make(chan struct{})
	go func() {
		close(started)
		scheduler.RunNow("slow")
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	// Second tick while the first run is still going: skipped, not queued
	require.NoError(t, scheduler.RunNow("slow"))
	close(block)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, runs)
}

func TestSchedulerRejectsDuplicatesAndBadSchedules(t *testing.T) {
	scheduler := NewScheduler(arbor.NewLogger())

	noop := processorFunc{"noop", func(ctx context.Context) (*DueReport, error) {
		return &DueReport{}, nil
	}}
	require.NoError(t, scheduler.Register(noop, "*/5 * * * *"))
	assert.Error(t, scheduler.Register(noop, "*/5 * * * *"), "duplicate name rejected")

	other := processorFunc{"other", noop.fn}
	assert.Error(t, scheduler.Register(other, "not a cron expr"))

	assert.Error(t, scheduler.RunNow("unknown"))
}

// processorFunc adapts a function for scheduler tests
type processorFunc struct {
	name string
	fn   func(ctx context.Context) (*DueReport, error)
}

func (p processorFunc) Name() string { return p.name }
func (p processorFunc) ProcessDue(ctx context.Context) (*DueReport, error) {
	return p.fn(ctx)
}
