package interfaces

import (
	"context"

	"github.com/mixforge/mixforge/internal/models"
)

// Analyzer produces waveform data for an audio source. Implementations
// always return a usable result; remote failures fall back to estimation.
type Analyzer interface {
	Analyze(ctx context.Context, source models.AudioSource) models.WaveformResult
}
