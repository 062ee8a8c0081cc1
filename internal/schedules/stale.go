package schedules

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
)

// StaleJobProcessor is the watchdog for jobs stuck mid-flight: a worker
// crash between attempts can leave a record in a non-terminal state with no
// queue message pointing at it. Anything not updated within the threshold
// is failed so the owner can reopen it.
type StaleJobProcessor struct {
	jobs       interfaces.JobStore
	staleAfter time.Duration
	logger     arbor.ILogger
}

// NewStaleJobProcessor creates the watchdog
func NewStaleJobProcessor(jobs interfaces.JobStore, staleAfter time.Duration, logger arbor.ILogger) *StaleJobProcessor {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &StaleJobProcessor{
		jobs:       jobs,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Name implements Processor
func (p *StaleJobProcessor) Name() string {
	return "stale_jobs"
}

// ProcessDue fails every non-terminal job whose last update is older than
// the stale threshold
func (p *StaleJobProcessor) ProcessDue(ctx context.Context) (*DueReport, error) {
	cutoff := time.Now().UTC().Add(-p.staleAfter)
	stale, err := p.jobs.StaleJobs(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	report := &DueReport{}
	for _, job := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		message := fmt.Sprintf("job stalled: no update since %s", job.UpdatedAt.Format(time.RFC3339))
		err := p.jobs.UpdateJob(ctx, job.ID, func(j *models.Job) error {
			if j.Status.Terminal() {
				// Finished between the scan and now
				return nil
			}
			j.ErrorMessage = message
			j.Transition(models.JobStatusFailed)
			return nil
		})
		if err != nil {
			report.recordError(job.ID, err.Error())
			continue
		}

		p.logger.Warn().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Str("last_update", job.UpdatedAt.Format(time.RFC3339)).
			Msg("Stale job marked failed")
		report.Processed++
	}
	return report, nil
}
