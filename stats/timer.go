package stats

import (
	"math"
	"sync"
	"time"
)

// Timer tracks min, max and mean latency of one pipeline stage.
type Timer struct {
	name  string
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// TimerSummary is a copy of a Timer.
type TimerSummary struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean returns the average latency, or 0 when nothing was observed.
func (t TimerSummary) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// NewTimer creates a named timer.
func NewTimer(name string) *Timer {
	return &Timer{name: name}
}

// Start begins timing and returns the function that records the duration.
//
//	defer s.Detect.Start()()
func (t *Timer) Start() func() {
	start := time.Now()
	return func() {
		t.Observe(time.Since(start))
	}
}

// Observe records one duration.
func (t *Timer) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.total += d
	t.count++
}

// Summary copies the timer.
func (t *Timer) Summary() TimerSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerSummary{Name: t.name, Count: t.count, Total: t.total, Min: t.min, Max: t.max}
}

func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }
