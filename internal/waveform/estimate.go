package waveform

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/mixforge/mixforge/internal/models"
)

// Typical bitrates in bits per second, used to estimate duration from file
// size when the analysis service is unavailable. Unknown extensions fall
// back to the mp3 figure.
var bitrateByExt = map[string]int64{
	"mp3":  128000,
	"wav":  1411200,
	"flac": 850000,
	"aac":  256000,
	"m4a":  256000,
	"ogg":  160000,
}

const fallbackBitrate = 128000

// EstimateDuration derives an approximate duration in seconds from the file
// size and the format's typical bitrate. Returns nil when the size is
// unknown or zero.
func EstimateDuration(source models.AudioSource) *float64 {
	if source.SizeBytes <= 0 {
		return nil
	}
	bitrate := bitrateByExt[normalizeExt(source.Ext)]
	if bitrate == 0 {
		bitrate = fallbackBitrate
	}
	duration := float64(source.SizeBytes) * 8 / float64(bitrate)
	return &duration
}

// SyntheticPeaks generates a deterministic placeholder waveform so the same
// file always renders the same shape. The result always holds exactly count
// pairs; zero-size sources get a silent (zero-filled) waveform.
func SyntheticPeaks(source models.AudioSource, count int) []models.PeakPair {
	if count <= 0 {
		return []models.PeakPair{}
	}
	if source.SizeBytes <= 0 {
		return make([]models.PeakPair, count)
	}

	h := fnv.New64a()
	h.Write([]byte(source.Name))
	state := h.Sum64()
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}

	peaks := make([]models.PeakPair, count)
	for i := range peaks {
		// xorshift keeps the sequence deterministic across runs
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		jitter := float64(state%1000) / 1000

		phase := float64(i) / float64(count)
		envelope := 0.35 + 0.5*math.Abs(math.Sin(phase*math.Pi*3))
		max := envelope*0.8 + jitter*0.2
		if max > 1 {
			max = 1
		}
		peaks[i] = models.PeakPair{-max * 0.9, max}
	}
	return peaks
}

// Estimate is the full local fallback: estimated duration plus synthetic
// peaks. It cannot fail.
func Estimate(source models.AudioSource, count int) *models.WaveformResult {
	result := &models.WaveformResult{
		Duration: EstimateDuration(source),
		Peaks:    SyntheticPeaks(source, count),
	}
	result.Clamp()
	return result
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
