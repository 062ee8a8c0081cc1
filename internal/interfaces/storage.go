package interfaces

import (
	"context"
	"time"

	"github.com/mixforge/mixforge/internal/models"
)

// JobStore is the narrow persistence contract for job records. Mutations go
// through UpdateJob's read-modify-write so concurrent field updates do not
// clobber each other.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) error

	// StaleJobs returns non-terminal jobs last updated before the cutoff
	StaleJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}

// LockStore provides keyed TTL leases for at-most-one-concurrent-execution
// per uniqueness key. The TTL covers crashed holders.
type LockStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// PayoutStore exposes the due-scan and completion marking for payouts.
// MarkDisbursed removes the row from the due set, making re-runs idempotent.
type PayoutStore interface {
	DuePayouts(ctx context.Context, now time.Time) ([]*models.Payout, error)
	MarkDisbursed(ctx context.Context, payoutID string) error
	MarkPayoutFailed(ctx context.Context, payoutID string, message string) error
	SavePayout(ctx context.Context, payout *models.Payout) error
}

// RequestStore exposes the due-scan and closure for time-boxed requests
type RequestStore interface {
	ExpiredRequests(ctx context.Context, now time.Time) ([]*models.AccessRequest, error)
	CloseRequest(ctx context.Context, requestID string) error
	SaveRequest(ctx context.Context, request *models.AccessRequest) error
}
