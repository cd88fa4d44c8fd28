// Package capture implements the audio capture session: a single-writer loop
// that owns the sample buffer, a per-tick quality monitor, and bounded
// visualization/quality channels for live consumers.
package capture

import (
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/audio"
)

// QualityIssue is one advisory problem detected in the live signal.
type QualityIssue string

const (
	IssueLowVolume   QualityIssue = "low_volume"
	IssueHighNoise   QualityIssue = "high_noise"
	IssueClipping    QualityIssue = "clipping"
	IssueInterrupted QualityIssue = "interrupted"
)

// QualityInfo is one quality-monitor tick result. Advisory only, never
// persisted.
type QualityInfo struct {
	// IsGood is true when no issues were raised this tick.
	IsGood bool `json:"isGood"`

	// VolumeLevel and NoiseLevel are the current readings scaled to 0–100.
	VolumeLevel float64 `json:"volumeLevel"`
	NoiseLevel  float64 `json:"noiseLevel"`

	// Issues lists the problems active this tick.
	Issues []QualityIssue `json:"issues,omitempty"`
}

// QualityMonitor evaluates rolling windows of volume and noise readings
// against configured thresholds. It is a deterministic function of the sample
// history fed through [QualityMonitor.Observe].
//
// Not safe for concurrent use: a monitor belongs to a single capture loop.
type QualityMonitor struct {
	cfg config.QualityConfig

	volume *sampleWindow
	noise  *sampleWindow

	// silence accumulates contiguous sub-threshold seconds; interruptions
	// counts how many times it crossed the configured span.
	silence       float64
	interruptions int
}

// NewQualityMonitor creates a monitor with the given thresholds.
func NewQualityMonitor(cfg config.QualityConfig) *QualityMonitor {
	return &QualityMonitor{
		cfg:    cfg,
		volume: newSampleWindow(cfg.VolumeWindow),
		noise:  newSampleWindow(cfg.NoiseWindow),
	}
}

// Reset clears all sample history and counters for a new session.
func (m *QualityMonitor) Reset() {
	m.volume.reset()
	m.noise.reset()
	m.silence = 0
	m.interruptions = 0
}

// Observe folds one tick of raw meter readings (0–255, as produced by
// [audio.PeakLevel] and [audio.LowBandLevel]) into the rolling windows and
// returns the quality verdict for this tick. dt is the tick interval in
// seconds and drives the interruption accumulator.
func (m *QualityMonitor) Observe(rawVolume, rawNoise int, dt float64) QualityInfo {
	// Scale 8-bit meter readings to the 0–100 range the thresholds use.
	vol := float64(rawVolume) * 100 / audio.MeterMax
	noise := float64(rawNoise) * 100 / audio.MeterMax

	m.volume.push(vol)
	m.noise.push(noise)

	// Contiguous silence bumps the interruption counter every time it spans
	// the configured duration; any audible tick resets the accumulator.
	if vol < m.cfg.SilenceBelow {
		m.silence += dt
		if m.silence >= m.cfg.SilenceSeconds {
			m.interruptions++
			m.silence = 0
		}
	} else {
		m.silence = 0
	}

	var issues []QualityIssue
	if m.volume.full() && m.volume.mean() < m.cfg.LowVolumeBelow {
		issues = append(issues, IssueLowVolume)
	}
	if m.noise.full() && m.noise.mean() > m.cfg.HighNoiseAbove {
		issues = append(issues, IssueHighNoise)
	}
	if m.volume.countAbove(m.cfg.ClippingLevel) >= m.cfg.ClippingSamples {
		issues = append(issues, IssueClipping)
	}
	if m.interruptions > m.cfg.MaxInterruptions {
		issues = append(issues, IssueInterrupted)
	}

	return QualityInfo{
		IsGood:      len(issues) == 0,
		VolumeLevel: vol,
		NoiseLevel:  noise,
		Issues:      issues,
	}
}

// Interruptions returns how many silence interruptions the session has
// accumulated so far.
func (m *QualityMonitor) Interruptions() int {
	return m.interruptions
}

// sampleWindow is a fixed-size ring of recent readings.
type sampleWindow struct {
	data []float64
	size int
	pos  int
	n    int
}

func newSampleWindow(size int) *sampleWindow {
	if size <= 0 {
		size = 1
	}
	return &sampleWindow{data: make([]float64, size), size: size}
}

func (w *sampleWindow) push(v float64) {
	w.data[w.pos] = v
	w.pos = (w.pos + 1) % w.size
	if w.n < w.size {
		w.n++
	}
}

func (w *sampleWindow) reset() {
	w.pos = 0
	w.n = 0
}

// full reports whether the window has seen at least size samples. Threshold
// rules hold off until then so a session does not open with spurious
// warnings.
func (w *sampleWindow) full() bool {
	return w.n == w.size
}

func (w *sampleWindow) mean() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += w.data[i]
	}
	return sum / float64(w.n)
}

func (w *sampleWindow) countAbove(threshold float64) int {
	count := 0
	for i := 0; i < w.n; i++ {
		if w.data[i] > threshold {
			count++
		}
	}
	return count
}
