package stats

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry exposes a Stats as Prometheus gauges.
type Registry struct {
	stats    *Stats
	registry *prometheus.Registry
}

// NewRegistry registers a gauge per counter of s.
func NewRegistry(s *Stats) *Registry {
	r := &Registry{
		stats:    s,
		registry: prometheus.NewRegistry(),
	}
	r.register()
	return r
}

func (r *Registry) counter(name, help string, v func() uint64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v()) },
	))
}

func (r *Registry) gauge(name, help string, v func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		v,
	))
}

func (r *Registry) register() {
	s := r.stats

	// Frame counters
	r.counter("fence_frames_processed_total", "Total frames processed", s.FramesProcessed.Load)
	r.counter("fence_gate_triggers_total", "Frames that passed the motion gate", s.GateTriggers.Load)

	// Detector
	r.counter("fence_detector_invocations_total", "Detector invocations", s.DetectorInvocations.Load)
	r.counter("fence_detector_failures_total", "Recoverable detector failures", s.DetectorFailures.Load)
	r.counter("fence_detections_total", "Qualifying person detections", s.Detections.Load)

	// Intrusion
	r.counter("fence_intrusion_frames_total", "Frames with at least one intrusion box", s.IntrusionFrames.Load)
	r.counter("fence_intrusion_entries_total", "OUTSIDE to INSIDE transitions", s.IntrusionEntries.Load)
	r.gauge("fence_intrusion_active", "Zone occupied (0=no, 1=yes)", func() float64 {
		if s.inside.Load() {
			return 1
		}
		return 0
	})
	r.gauge("fence_intrusion_current_seconds", "Duration of the ongoing intrusion", func() float64 {
		return time.Duration(s.currentNs.Load()).Seconds()
	})
	r.gauge("fence_intrusion_max_seconds", "Longest intrusion this session", func() float64 {
		return time.Duration(s.maxNs.Load()).Seconds()
	})
	r.gauge("fence_intrusion_cumulative_seconds", "Total time the zone was occupied", func() float64 {
		return time.Duration(s.cumulativeNs.Load()).Seconds()
	})

	// Collaborators
	r.counter("fence_screenshots_total", "Screenshots saved", s.Screenshots.Load)
	r.counter("fence_screenshot_failures_total", "Screenshots that could not be written", s.ScreenshotFailures.Load)
	r.counter("fence_alerts_total", "Alerts published", s.Alerts.Load)
	r.counter("fence_alert_failures_total", "Alerts that could not be published", s.AlertFailures.Load)

	// Motion
	r.gauge("fence_motion_score", "Last motion gate score", func() float64 {
		return float64frombits(s.lastScore.Load())
	})
	r.gauge("fence_motion_threshold", "Current motion gate threshold", func() float64 {
		return float64frombits(s.lastThreshold.Load())
	})

	// Latency
	for _, t := range []*Timer{s.Gate, s.Detect, s.Decide} {
		t := t
		r.gauge("fence_"+t.name+"_latency_mean_ms", "Mean "+t.name+" latency in milliseconds", func() float64 {
			return float64(t.Summary().Mean().Microseconds()) / 1000
		})
	}
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the Prometheus HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve serves /metrics on addr until ctx is cancelled.
//
// Arguments:
//   - ctx: Cancelling it shuts the server down.
//   - addr: The listen address, e.g. ":9100".
//   - logger: The logger.
//
// Returns:
//   - error: The listen error, or nil after a clean shutdown.
func (r *Registry) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
