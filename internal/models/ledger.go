package models

import "time"

// PayoutStatus tracks a scheduled disbursement through its lifecycle
type PayoutStatus string

const (
	PayoutScheduled PayoutStatus = "scheduled"
	PayoutDisbursed PayoutStatus = "disbursed"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout is one scheduled disbursement to a producer. It becomes due once
// the hold-release timestamp passes. Marking it disbursed removes it from
// the due set, which is what makes re-running the processor idempotent.
type Payout struct {
	ID            string       `badgerhold:"key" json:"id"`
	ProducerID    string       `json:"producer_id"`
	PitchID       string       `json:"pitch_id,omitempty"`
	AmountCents   int64        `json:"amount_cents"`
	Status        PayoutStatus `badgerholdIndex:"Status" json:"status"`
	HoldReleaseAt time.Time    `json:"hold_release_at"`
	DisbursedAt   *time.Time   `json:"disbursed_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// RequestStatus tracks a time-boxed client request
type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestExpired RequestStatus = "expired"
	RequestClosed  RequestStatus = "closed"
)

// AccessRequest is a time-boxed request (e.g., a client file request) that
// must be closed out once its deadline passes.
type AccessRequest struct {
	ID        string        `badgerhold:"key" json:"id"`
	ProjectID string        `json:"project_id"`
	UserID    string        `json:"user_id,omitempty"`
	Status    RequestStatus `badgerholdIndex:"Status" json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
