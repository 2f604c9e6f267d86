// Package stats - Session counters for the intrusion pipeline.
//
// Counters are written by the orchestration loop and may be read concurrently
// by the metrics endpoint, so every field is atomic. Rates are derived when a
// Snapshot is taken and never stored.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/nvr-ai/virtual-fence/fence"
)

// Stats holds the counters of one session.
type Stats struct {
	FramesProcessed     atomic.Uint64
	GateTriggers        atomic.Uint64
	DetectorInvocations atomic.Uint64
	DetectorFailures    atomic.Uint64
	Detections          atomic.Uint64
	IntrusionFrames     atomic.Uint64
	IntrusionEntries    atomic.Uint64
	Screenshots         atomic.Uint64
	ScreenshotFailures  atomic.Uint64
	Alerts              atomic.Uint64
	AlertFailures       atomic.Uint64

	// Intrusion durations in nanoseconds, mirrored from the decision engine.
	currentNs    atomic.Int64
	maxNs        atomic.Int64
	cumulativeNs atomic.Int64
	inside       atomic.Bool

	lastScore     atomic.Uint64 // float64 bits
	lastThreshold atomic.Uint64 // float64 bits

	startedAt atomic.Int64 // unix nanos

	// Stage latencies.
	Gate   *Timer
	Detect *Timer
	Decide *Timer
}

// New returns zeroed counters with the start time set to now.
func New() *Stats {
	s := &Stats{
		Gate:   NewTimer("gate"),
		Detect: NewTimer("detect"),
		Decide: NewTimer("decide"),
	}
	s.startedAt.Store(time.Now().UnixNano())
	return s
}

// Start resets the session start time.
func (s *Stats) Start(t time.Time) {
	s.startedAt.Store(t.UnixNano())
}

// ObserveIntrusion mirrors the decision engine state.
func (s *Stats) ObserveIntrusion(st fence.State) {
	s.currentNs.Store(int64(st.Current))
	s.maxNs.Store(int64(st.Max))
	s.cumulativeNs.Store(int64(st.Cumulative))
	s.inside.Store(st.Inside)
}

// ObserveMotion records the last gate score and threshold.
func (s *Stats) ObserveMotion(score, threshold float64) {
	s.lastScore.Store(float64bits(score))
	s.lastThreshold.Store(float64bits(threshold))
}

// Snapshot is an immutable copy of the counters.
type Snapshot struct {
	StartedAt           time.Time
	Elapsed             time.Duration
	FramesProcessed     uint64
	GateTriggers        uint64
	DetectorInvocations uint64
	DetectorFailures    uint64
	Detections          uint64
	IntrusionFrames     uint64
	IntrusionEntries    uint64
	Screenshots         uint64
	ScreenshotFailures  uint64
	Alerts              uint64
	AlertFailures       uint64

	Inside              bool
	CurrentIntrusion    time.Duration
	MaxIntrusion        time.Duration
	CumulativeIntrusion time.Duration

	LastScore     float64
	LastThreshold float64

	Gate   TimerSummary
	Detect TimerSummary
	Decide TimerSummary
}

// Snapshot copies the counters.
//
// Arguments:
//   - now: The time the snapshot is taken, used for Elapsed.
//
// Returns:
//   - Snapshot: The copy.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	started := time.Unix(0, s.startedAt.Load())
	elapsed := now.Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}
	return Snapshot{
		StartedAt:           started,
		Elapsed:             elapsed,
		FramesProcessed:     s.FramesProcessed.Load(),
		GateTriggers:        s.GateTriggers.Load(),
		DetectorInvocations: s.DetectorInvocations.Load(),
		DetectorFailures:    s.DetectorFailures.Load(),
		Detections:          s.Detections.Load(),
		IntrusionFrames:     s.IntrusionFrames.Load(),
		IntrusionEntries:    s.IntrusionEntries.Load(),
		Screenshots:         s.Screenshots.Load(),
		ScreenshotFailures:  s.ScreenshotFailures.Load(),
		Alerts:              s.Alerts.Load(),
		AlertFailures:       s.AlertFailures.Load(),
		Inside:              s.inside.Load(),
		CurrentIntrusion:    time.Duration(s.currentNs.Load()),
		MaxIntrusion:        time.Duration(s.maxNs.Load()),
		CumulativeIntrusion: time.Duration(s.cumulativeNs.Load()),
		LastScore:           float64frombits(s.lastScore.Load()),
		LastThreshold:       float64frombits(s.lastThreshold.Load()),
		Gate:                s.Gate.Summary(),
		Detect:              s.Detect.Summary(),
		Decide:              s.Decide.Summary(),
	}
}

// GateRate is the fraction of frames the motion gate let through.
func (s Snapshot) GateRate() float64 {
	return ratio(s.GateTriggers, s.FramesProcessed)
}

// DetectorSavings is the fraction of frames that skipped the detector.
func (s Snapshot) DetectorSavings() float64 {
	if s.FramesProcessed == 0 {
		return 0
	}
	return 1 - ratio(s.DetectorInvocations, s.FramesProcessed)
}

// IntrusionRate is the fraction of frames with an intrusion.
func (s Snapshot) IntrusionRate() float64 {
	return ratio(s.IntrusionFrames, s.FramesProcessed)
}

// DetectorFailureRate is the fraction of detector calls that failed.
func (s Snapshot) DetectorFailureRate() float64 {
	return ratio(s.DetectorFailures, s.DetectorInvocations)
}

// DetectionsPerInvocation is the mean number of qualifying boxes per detector call.
func (s Snapshot) DetectionsPerInvocation() float64 {
	return ratio(s.Detections, s.DetectorInvocations)
}

// FPS is the average processing rate over the session.
func (s Snapshot) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FramesProcessed) / s.Elapsed.Seconds()
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
