package capture

import (
	"math"
	"sort"
	"sync"
)

// SessionStats collects per-session counters and recent level samples for
// dashboard display. It maintains a bounded ring buffer of volume readings
// from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type SessionStats struct {
	mu sync.Mutex

	levels levelBuffer

	frames     int64
	discarded  int64
	droppedViz int64
	qualityBad int64
}

// NewSessionStats creates a SessionStats with the given window size (maximum
// number of level samples retained).
func NewSessionStats(windowSize int) *SessionStats {
	if windowSize <= 0 {
		windowSize = 256
	}
	return &SessionStats{levels: newLevelBuffer(windowSize)}
}

// RecordFrame records one captured frame and its peak level (0–255).
func (ss *SessionStats) RecordFrame(level int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.frames++
	ss.levels.add(level)
}

// IncrDiscarded increments the counter of frames discarded while paused.
func (ss *SessionStats) IncrDiscarded() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.discarded++
}

// IncrDroppedViz increments the dropped-visualization-frame counter.
func (ss *SessionStats) IncrDroppedViz() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.droppedViz++
}

// IncrQualityBad increments the counter of quality ticks that raised at
// least one issue.
func (ss *SessionStats) IncrQualityBad() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.qualityBad++
}

// LevelPercentiles holds p50 and p95 peak levels (0–255).
type LevelPercentiles struct {
	P50 int
	P95 int
}

// StatsSnapshot captures a point-in-time view of session statistics.
type StatsSnapshot struct {
	Levels          LevelPercentiles
	Frames          int64
	DiscardedFrames int64
	DroppedVizSends int64
	BadQualityTicks int64
}

// Snapshot returns a point-in-time view of session statistics.
func (ss *SessionStats) Snapshot() StatsSnapshot {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return StatsSnapshot{
		Levels:          ss.levels.percentiles(),
		Frames:          ss.frames,
		DiscardedFrames: ss.discarded,
		DroppedVizSends: ss.droppedViz,
		BadQualityTicks: ss.qualityBad,
	}
}

// levelBuffer is a bounded ring buffer of peak-level samples.
type levelBuffer struct {
	data []int
	size int
	pos  int
	full bool
}

func newLevelBuffer(size int) levelBuffer {
	return levelBuffer{
		data: make([]int, size),
		size: size,
	}
}

func (lb *levelBuffer) add(v int) {
	lb.data[lb.pos] = v
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *levelBuffer) percentiles() LevelPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LevelPercentiles{}
	}

	// Copy and sort the valid samples.
	sorted := make([]int, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Ints(sorted)

	return LevelPercentiles{
		P50: levelPercentile(sorted, 0.50),
		P95: levelPercentile(sorted, 0.95),
	}
}

// levelPercentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice using nearest-rank.
func levelPercentile(sorted []int, p float64) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
