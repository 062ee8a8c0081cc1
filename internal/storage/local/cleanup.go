package local

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// CleanupExpired walks the store root and removes abandoned partial writes
// (.part files) older than ttl. Finished artifacts are never touched; a
// .part file only outlives its Put when the writer crashed mid-upload.
// Returns the number of files deleted.
func (s *ObjectStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	removed := 0

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".part" {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			// Could be an upload still in flight
			return nil
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove abandoned partial write")
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Abandoned partial writes cleaned up")
	}
	return removed, nil
}
