package models

// PeakPair is a [min, max] amplitude pair in the range [-1, 1]
type PeakPair [2]float64

// WaveformResult is the output of audio analysis. Peaks always has exactly
// the configured resolution regardless of input length; Duration is nil
// when it cannot be determined.
type WaveformResult struct {
	Duration *float64   `json:"duration"`
	Peaks    []PeakPair `json:"peaks"`
}

// AudioSource describes one audio input for analysis. URL is used for the
// external service; Path/SizeBytes drive local estimation.
type AudioSource struct {
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	Ext       string `json:"ext,omitempty"` // File extension without dot, lowercase
}

// Clamp forces every peak into [-1, 1] with min <= max
func (w *WaveformResult) Clamp() {
	for i, p := range w.Peaks {
		if p[0] < -1 {
			p[0] = -1
		}
		if p[0] > 1 {
			p[0] = 1
		}
		if p[1] < -1 {
			p[1] = -1
		}
		if p[1] > 1 {
			p[1] = 1
		}
		if p[0] > p[1] {
			p[0], p[1] = p[1], p[0]
		}
		w.Peaks[i] = p
	}
}
