package viewer

import (
	"fmt"
	"sync"
	"time"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
)

// DetectionCapacity is how many recent detections a viewer keeps.
const DetectionCapacity = 10

// FrameStats are client-side counters derived from received frames.
type FrameStats struct {
	TotalFrames int64         `json:"total_frames"`
	Resolution  string        `json:"resolution,omitempty"`
	Latency     time.Duration `json:"latency_ns"`
	LastFrameAt time.Time     `json:"last_frame_at,omitempty"`
}

// Aggregator keeps the rolling detection log, the latest polled metrics and
// frame statistics for one viewer. It is safe for concurrent use.
type Aggregator struct {
	mu         sync.RWMutex
	detections []cameras.Detection
	metrics    *cameras.StreamMetrics
	lastMeta   *cameras.FrameMetadata
	stats      FrameStats
}

func NewAggregator() *Aggregator {
	return &Aggregator{detections: make([]cameras.Detection, 0, DetectionCapacity)}
}

// RecordDetection prepends d and drops the oldest entry past capacity.
func (a *Aggregator) RecordDetection(d cameras.Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.detections)
	if n < DetectionCapacity {
		a.detections = append(a.detections, cameras.Detection{})
		n++
	}
	copy(a.detections[1:n], a.detections[:n-1])
	a.detections[0] = d
}

// Detections returns the log newest-first.
func (a *Aggregator) Detections() []cameras.Detection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]cameras.Detection, len(a.detections))
	copy(out, a.detections)
	return out
}

// ReplaceMetrics swaps in a new server metrics snapshot.
func (a *Aggregator) ReplaceMetrics(m cameras.StreamMetrics) {
	a.mu.Lock()
	a.metrics = &m
	a.mu.Unlock()
}

// Metrics returns the latest snapshot, if any poll has succeeded.
func (a *Aggregator) Metrics() (cameras.StreamMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.metrics == nil {
		return cameras.StreamMetrics{}, false
	}
	return *a.metrics, true
}

// RecordFrame updates frame counters. frameNumber and timestamp come from the
// message envelope and win over metadata when present.
func (a *Aggregator) RecordFrame(md *cameras.FrameMetadata, frameNumber int64, timestamp float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if md != nil {
		cp := *md
		cp.Detections = append([]cameras.Detection(nil), md.Detections...)
		a.lastMeta = &cp
		if timestamp == 0 {
			timestamp = md.Timestamp
		}
	}
	if frameNumber > 0 {
		a.stats.TotalFrames = frameNumber
	} else {
		a.stats.TotalFrames++
	}
	if timestamp > 0 {
		sent := time.Unix(0, int64(timestamp*float64(time.Second)))
		a.stats.Latency = now.Sub(sent)
	}
	a.stats.LastFrameAt = now
}

// SetResolution records the size of the last painted frame.
func (a *Aggregator) SetResolution(width, height int) {
	a.mu.Lock()
	a.stats.Resolution = fmt.Sprintf("%dx%d", width, height)
	a.mu.Unlock()
}

func (a *Aggregator) FrameStats() FrameStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

func (a *Aggregator) LastMetadata() *cameras.FrameMetadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastMeta == nil {
		return nil
	}
	cp := *a.lastMeta
	return &cp
}

// Reset clears detections, metrics and frame state. Called when a session ends.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.detections = a.detections[:0]
	a.metrics = nil
	a.lastMeta = nil
	a.stats = FrameStats{}
	a.mu.Unlock()
}
