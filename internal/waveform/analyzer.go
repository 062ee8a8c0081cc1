// Package waveform produces duration and peak data for audio files. Analysis
// goes to the external service first; any failure falls through to a local
// size-based estimate, so Analyze is total and a broken service never blocks
// an import.
package waveform

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
)

// DefaultPeakCount is the number of peak pairs produced per file
const DefaultPeakCount = 200

// Analyzer implements interfaces.Analyzer with remote-first analysis and a
// local estimation fallback.
type Analyzer struct {
	client    *ServiceClient
	peakCount int
	logger    arbor.ILogger
}

var _ interfaces.Analyzer = (*Analyzer)(nil)

// AnalyzerOption configures the Analyzer
type AnalyzerOption func(*Analyzer)

// WithPeakCount sets the number of peak pairs in every result
func WithPeakCount(count int) AnalyzerOption {
	return func(a *Analyzer) {
		if count > 0 {
			a.peakCount = count
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) AnalyzerOption {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates an Analyzer. A nil client disables remote analysis and
// every file gets the local estimate.
func NewAnalyzer(client *ServiceClient, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		client:    client,
		peakCount: DefaultPeakCount,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = arbor.NewLogger()
	}
	return a
}

// Analyze returns waveform data for the source. Results carry exactly the
// configured number of peak pairs for any input: remote results are
// resampled or padded to fit, and zero-size sources get a silent waveform.
func (a *Analyzer) Analyze(ctx context.Context, source models.AudioSource) models.WaveformResult {
	if a.client != nil && source.URL != "" {
		result, err := a.client.Analyze(ctx, source.URL, a.peakCount)
		if err == nil {
			result.Peaks = resamplePeaks(result.Peaks, a.peakCount)
			result.Clamp()
			return *result
		}
		a.logger.Warn().
			Err(err).
			Str("file", source.Name).
			Msg("Remote analysis failed, using local estimate")
	}

	return *Estimate(source, a.peakCount)
}

// resamplePeaks forces the slice to exactly count pairs: nearest-neighbor
// resampling when longer, zero padding when shorter.
func resamplePeaks(peaks []models.PeakPair, count int) []models.PeakPair {
	if count <= 0 {
		return []models.PeakPair{}
	}
	if len(peaks) == count {
		return peaks
	}

	out := make([]models.PeakPair, count)
	if len(peaks) == 0 {
		return out
	}
	for i := range out {
		src := i * len(peaks) / count
		if src >= len(peaks) {
			src = len(peaks) - 1
		}
		out[i] = peaks[src]
	}
	return out
}
