package schedules

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// ArtifactCleaner removes abandoned artifacts older than ttl and reports
// how many were deleted
type ArtifactCleaner interface {
	CleanupExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// CleanupProcessor periodically sweeps abandoned artifacts out of the
// object store
type CleanupProcessor struct {
	cleaner ArtifactCleaner
	ttl     time.Duration
	logger  arbor.ILogger
}

// NewCleanupProcessor creates the artifact sweep
func NewCleanupProcessor(cleaner ArtifactCleaner, ttl time.Duration, logger arbor.ILogger) *CleanupProcessor {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CleanupProcessor{
		cleaner: cleaner,
		ttl:     ttl,
		logger:  logger,
	}
}

// Name implements Processor
func (p *CleanupProcessor) Name() string {
	return "artifact_cleanup"
}

// ProcessDue runs one sweep
func (p *CleanupProcessor) ProcessDue(ctx context.Context) (*DueReport, error) {
	removed, err := p.cleaner.CleanupExpired(ctx, p.ttl)
	if err != nil {
		return nil, err
	}
	return &DueReport{Processed: removed}, nil
}
