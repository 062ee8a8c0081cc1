package schedules

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
)

// DeadlineProcessor closes access requests whose window has expired.
// Closing removes the row from the expired set, so re-runs and overlapping
// runs are naturally idempotent.
type DeadlineProcessor struct {
	requests interfaces.RequestStore
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewDeadlineProcessor creates the deadline processor
func NewDeadlineProcessor(requests interfaces.RequestStore, notifier interfaces.Notifier, logger arbor.ILogger) *DeadlineProcessor {
	return &DeadlineProcessor{
		requests: requests,
		notifier: notifier,
		logger:   logger,
	}
}

// Name implements Processor
func (p *DeadlineProcessor) Name() string {
	return "deadlines"
}

// ProcessDue closes every request past its expiry, one at a time
func (p *DeadlineProcessor) ProcessDue(ctx context.Context) (*DueReport, error) {
	expired, err := p.requests.ExpiredRequests(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	report := &DueReport{}
	for _, request := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := p.requests.CloseRequest(ctx, request.ID); err != nil {
			p.logger.Error().
				Err(err).
				Str("request_id", request.ID).
				Msg("Failed to close expired request")
			report.recordError(request.ID, err.Error())
			continue
		}

		p.logger.Info().
			Str("request_id", request.ID).
			Str("project_id", request.ProjectID).
			Msg("Expired access request closed")
		report.Processed++

		if request.UserID != "" {
			p.notifier.Notify(request.UserID, "request.expired", map[string]interface{}{
				"request_id": request.ID,
				"project_id": request.ProjectID,
			})
		}
	}
	return report, nil
}
