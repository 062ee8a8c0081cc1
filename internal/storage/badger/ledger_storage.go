package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mixforge/mixforge/internal/models"
)

// LedgerStorage implements the PayoutStore and RequestStore interfaces for
// the scheduled processors.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) *LedgerStorage {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LedgerStorage) SavePayout(ctx context.Context, payout *models.Payout) error {
	if payout == nil || payout.ID == "" {
		return fmt.Errorf("payout ID is required")
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(payout.ID, payout); err != nil {
		return fmt.Errorf("failed to save payout: %w", err)
	}
	return nil
}

// DuePayouts returns scheduled payouts whose hold-release time has passed
func (s *LedgerStorage) DuePayouts(ctx context.Context, now time.Time) ([]*models.Payout, error) {
	var payouts []models.Payout
	query := badgerhold.Where("Status").Eq(models.PayoutScheduled).
		And("HoldReleaseAt").Le(now).
		SortBy("HoldReleaseAt")
	if err := s.db.Store().Find(&payouts, query); err != nil {
		return nil, fmt.Errorf("failed to query due payouts: %w", err)
	}

	result := make([]*models.Payout, len(payouts))
	for i := range payouts {
		result[i] = &payouts[i]
	}
	return result, nil
}

// MarkDisbursed flips a payout out of the due set
func (s *LedgerStorage) MarkDisbursed(ctx context.Context, payoutID string) error {
	var payout models.Payout
	if err := s.db.Store().Get(payoutID, &payout); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("payout not found: %s", payoutID)
		}
		return fmt.Errorf("failed to load payout: %w", err)
	}
	now := time.Now().UTC()
	payout.Status = models.PayoutDisbursed
	payout.DisbursedAt = &now
	payout.LastError = ""
	if err := s.db.Store().Update(payoutID, &payout); err != nil {
		return fmt.Errorf("failed to mark payout disbursed: %w", err)
	}
	return nil
}

// MarkPayoutFailed flips a payout to failed for operator review. Failed
// payouts are not retried automatically; requeueing one means resetting it
// to scheduled by hand.
func (s *LedgerStorage) MarkPayoutFailed(ctx context.Context, payoutID string, message string) error {
	var payout models.Payout
	if err := s.db.Store().Get(payoutID, &payout); err != nil {
		return fmt.Errorf("failed to load payout: %w", err)
	}
	payout.Status = models.PayoutFailed
	payout.LastError = message
	if err := s.db.Store().Update(payoutID, &payout); err != nil {
		return fmt.Errorf("failed to record payout error: %w", err)
	}
	return nil
}

func (s *LedgerStorage) SaveRequest(ctx context.Context, request *models.AccessRequest) error {
	if request == nil || request.ID == "" {
		return fmt.Errorf("request ID is required")
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(request.ID, request); err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// ExpiredRequests returns pending requests past their deadline
func (s *LedgerStorage) ExpiredRequests(ctx context.Context, now time.Time) ([]*models.AccessRequest, error) {
	var requests []models.AccessRequest
	query := badgerhold.Where("Status").Eq(models.RequestPending).
		And("ExpiresAt").Le(now).
		SortBy("ExpiresAt")
	if err := s.db.Store().Find(&requests, query); err != nil {
		return nil, fmt.Errorf("failed to query expired requests: %w", err)
	}

	result := make([]*models.AccessRequest, len(requests))
	for i := range requests {
		result[i] = &requests[i]
	}
	return result, nil
}

// CloseRequest marks a request expired and stamps the closure time
func (s *LedgerStorage) CloseRequest(ctx context.Context, requestID string) error {
	var request models.AccessRequest
	if err := s.db.Store().Get(requestID, &request); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("request not found: %s", requestID)
		}
		return fmt.Errorf("failed to load request: %w", err)
	}
	now := time.Now().UTC()
	request.Status = models.RequestExpired
	request.ClosedAt = &now
	if err := s.db.Store().Update(requestID, &request); err != nil {
		return fmt.Errorf("failed to close request: %w", err)
	}
	return nil
}
