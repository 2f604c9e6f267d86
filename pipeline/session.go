// Package pipeline - Single-threaded orchestration of one fence session.
//
// For every frame read from the source the session runs
//
//	gate -> [triggered] detector -> decision engine -> screenshot -> alert -> stats -> sinks
//
// and only then reads the next frame. Runtime commands are drained between
// frames. Per-frame detector failures are absorbed; everything else that goes
// wrong ends the session, and sinks always receive End with the statistics
// gathered so far.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/virtual-fence/alert"
	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/fence"
	"github.com/nvr-ai/virtual-fence/stats"
	"github.com/nvr-ai/virtual-fence/video"
	"github.com/nvr-ai/virtual-fence/zone"
)

const commandBuffer = 16

// Session drives one run of the pipeline.
type Session struct {
	id       string
	source   video.Source
	gate     Gate
	detector Detector
	zone     *zone.Zone
	engine   *fence.Engine
	stats    *stats.Stats

	sinks        []Sink
	notifier     alert.Notifier
	alertTimeout time.Duration
	screenshots  Screenshotter

	logger     *zap.Logger
	now        func() time.Time
	sourceName string
	confidence float64

	commands chan Command
	lastTS   time.Time
	frames   int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSinks adds result sinks.
func WithSinks(sinks ...Sink) Option {
	return func(s *Session) {
		for _, sink := range sinks {
			if sink != nil {
				s.sinks = append(s.sinks, sink)
			}
		}
	}
}

// WithNotifier sets the alert notifier.
func WithNotifier(n alert.Notifier) Option {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithAlertTimeout bounds each alert delivery.
func WithAlertTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.alertTimeout = d
		}
	}
}

// WithScreenshotter sets the screenshot writer.
func WithScreenshotter(sc Screenshotter) Option {
	return func(s *Session) {
		s.screenshots = sc
	}
}

// WithStats uses an existing counter set, e.g. one exported as metrics.
func WithStats(st *stats.Stats) Option {
	return func(s *Session) {
		if st != nil {
			s.stats = st
		}
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithClock overrides time.Now for session start and end markers.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSourceName labels the source in Info.
func WithSourceName(name string) Option {
	return func(s *Session) {
		s.sourceName = name
	}
}

// WithConfidence records the detector confidence threshold in Info.
func WithConfidence(c float64) Option {
	return func(s *Session) {
		s.confidence = c
	}
}

// New creates a session.
//
// Arguments:
//   - source: The frame source.
//   - gate: The motion gate.
//   - det: The detector; nil disables detection (every frame has zero boxes).
//   - z: The zone; nil means no zone is configured and nothing can intrude.
//   - opts: Optional settings.
//
// Returns:
//   - *Session: The session.
//   - error: An error if the source or gate is missing.
func New(source video.Source, gate Gate, det Detector, z *zone.Zone, opts ...Option) (*Session, error) {
	if source == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if gate == nil {
		return nil, errors.New("pipeline: nil motion gate")
	}
	s := &Session{
		id:           uuid.NewString(),
		source:       source,
		gate:         gate,
		detector:     det,
		zone:         z,
		engine:       fence.NewEngine(),
		logger:       zap.NewNop(),
		now:          time.Now,
		alertTimeout: 5 * time.Second,
		commands:     make(chan Command, commandBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stats == nil {
		s.stats = stats.New()
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Stats returns the live counters.
func (s *Session) Stats() *stats.Stats {
	return s.stats
}

// Submit queues a command. It is safe to call from any goroutine. It returns
// false when the queue is full and the command was dropped.
func (s *Session) Submit(cmd Command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		s.logger.Warn("command dropped, queue full", zap.Stringer("command", cmd))
		return false
	}
}

// Run processes frames until the stream ends, Quit is submitted, ctx is
// cancelled or a fatal error occurs.
//
// Arguments:
//   - ctx: Cancelling it stops the session between frames.
//
// Returns:
//   - Summary: The final report; also delivered to every sink.
//   - error: The fatal error, or nil for a clean end.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	started := s.now()
	s.stats.Start(started)
	info := Info{
		SessionID:  s.id,
		StartedAt:  started,
		Source:     s.sourceName,
		FrameSize:  s.source.Size(),
		Zone:       s.zone,
		Threshold:  s.gate.Threshold(),
		Confidence: s.confidence,
	}
	if s.zone == nil {
		s.logger.Warn("no zone configured, intrusions cannot be detected")
	}
	s.logger.Info("session started",
		zap.String("source", info.Source),
		zap.Float64("threshold", info.Threshold),
		zap.Stringer("frame_size", info.FrameSize))
	for _, sink := range s.sinks {
		if err := sink.Begin(info); err != nil {
			s.logger.Warn("sink begin failed", zap.Error(err))
		}
	}

	reason, err := s.loop(ctx)

	sum := Summary{
		Info:    info,
		EndedAt: s.now(),
		Reason:  reason,
		Stats:   s.stats.Snapshot(s.now()),
		State:   s.engine.State(),
		Err:     err,
	}
	for _, sink := range s.sinks {
		if serr := sink.End(sum); serr != nil {
			s.logger.Warn("sink end failed", zap.Error(serr))
		}
	}

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Uint64("frames", sum.Stats.FramesProcessed),
		zap.Uint64("gate_triggers", sum.Stats.GateTriggers),
		zap.Uint64("detector_invocations", sum.Stats.DetectorInvocations),
		zap.Uint64("intrusion_frames", sum.Stats.IntrusionFrames),
		zap.Duration("max_intrusion", sum.State.Max),
	}
	if err != nil {
		s.logger.Error("session aborted", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("session ended", fields...)
	}
	return sum, err
}

func (s *Session) loop(ctx context.Context) (Reason, error) {
	for {
		if ctx.Err() != nil {
			return ReasonCancelled, nil
		}
		if s.drainCommands() {
			return ReasonQuit, nil
		}

		frame, err := s.source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, video.ErrEndOfStream):
			return ReasonEndOfStream, nil
		case isContextErr(err):
			return ReasonCancelled, nil
		default:
			return ReasonError, errors.Wrap(err, "reading frame")
		}

		if err := s.process(ctx, frame); err != nil {
			if isContextErr(err) {
				return ReasonCancelled, nil
			}
			return ReasonError, err
		}
	}
}

// drainCommands applies every queued command and reports whether Quit was seen.
func (s *Session) drainCommands() bool {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd {
			case ThresholdUp:
				s.logger.Info("motion threshold raised", zap.Float64("threshold", s.gate.IncreaseThreshold()))
			case ThresholdDown:
				s.logger.Info("motion threshold lowered", zap.Float64("threshold", s.gate.DecreaseThreshold()))
			case ResetBackground:
				s.gate.Reset()
			case Quit:
				s.logger.Info("quit requested")
				return true
			default:
				s.logger.Warn("unknown command", zap.Int("command", int(cmd)))
			}
		default:
			return false
		}
	}
}

// process runs one frame through every stage.
func (s *Session) process(ctx context.Context, frame video.Frame) error {
	s.frames++
	if frame.Index == 0 {
		frame.Index = s.frames
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = s.now()
	}

	var elapsed time.Duration
	if !s.lastTS.IsZero() {
		elapsed = frame.Timestamp.Sub(s.lastTS)
		if elapsed < 0 {
			elapsed = 0
		}
	}
	s.lastTS = frame.Timestamp

	res := FrameResult{
		SessionID: s.id,
		Frame:     frame,
		Elapsed:   elapsed,
		Threshold: s.gate.Threshold(),
	}

	stop := s.stats.Gate.Start()
	m, err := s.gate.Check(frame.Image)
	stop()
	if err != nil {
		return errors.Wrapf(err, "motion gate, frame %d", frame.Index)
	}
	res.Motion = m
	s.stats.FramesProcessed.Add(1)
	s.stats.ObserveMotion(m.Score, res.Threshold)

	if m.Triggered {
		s.stats.GateTriggers.Add(1)
		if err := s.detect(ctx, &res); err != nil {
			return err
		}
	}

	stop = s.stats.Decide.Start()
	res.Decision = s.engine.Decide(res.Boxes, s.zone, elapsed, frame.Timestamp)
	stop()
	s.stats.ObserveIntrusion(res.Decision.State)

	if res.Decision.Intrusion {
		s.stats.IntrusionFrames.Add(1)
		s.screenshot(&res)
	}
	switch res.Decision.Transition {
	case fence.Entered:
		s.stats.IntrusionEntries.Add(1)
		s.logger.Info("intrusion started",
			zap.Int("frame", frame.Index),
			zap.Int("persons", len(res.Decision.Intruders())))
		s.alert(ctx, &res)
	case fence.Exited:
		s.logger.Info("intrusion ended",
			zap.Int("frame", frame.Index),
			zap.Duration("max", res.Decision.State.Max))
	}

	for _, sink := range s.sinks {
		if err := sink.Frame(res); err != nil {
			s.logger.Warn("sink frame failed", zap.Error(err), zap.Int("frame", frame.Index))
		}
	}
	return nil
}

// detect invokes the detector. Recoverable failures become zero boxes.
func (s *Session) detect(ctx context.Context, res *FrameResult) error {
	if s.detector == nil {
		return nil
	}
	res.Detected = true
	s.stats.DetectorInvocations.Add(1)

	stop := s.stats.Detect.Start()
	boxes, err := s.detector.Detect(ctx, res.Frame.Image)
	stop()

	switch {
	case err == nil:
		res.Boxes = boxes
		s.stats.Detections.Add(uint64(len(boxes)))
		return nil
	case errors.Is(err, detector.ErrInference):
		s.stats.DetectorFailures.Add(1)
		res.DetectorErr = err
		s.logger.Warn("detector failed, treating frame as empty",
			zap.Int("frame", res.Frame.Index), zap.Error(err))
		return nil
	case isContextErr(err):
		return err
	default:
		return errors.Wrapf(err, "detector, frame %d", res.Frame.Index)
	}
}

func (s *Session) screenshot(res *FrameResult) {
	if s.screenshots == nil {
		return
	}
	path, saved, err := s.screenshots.Capture(*res)
	if err != nil {
		s.stats.ScreenshotFailures.Add(1)
		s.logger.Warn("screenshot failed", zap.Error(err), zap.Int("frame", res.Frame.Index))
		return
	}
	if saved {
		s.stats.Screenshots.Add(1)
		res.Screenshot = path
		s.logger.Debug("screenshot saved", zap.String("path", path))
	}
}

func (s *Session) alert(ctx context.Context, res *FrameResult) {
	if s.notifier == nil {
		return
	}
	intruders := res.Decision.Intruders()
	points := make([]zone.Point, len(intruders))
	for i, v := range intruders {
		points[i] = v.FootPoint
	}
	e := alert.Event{
		SessionID:  s.id,
		Frame:      res.Frame.Index,
		Timestamp:  res.Frame.Timestamp,
		Persons:    len(intruders),
		FootPoints: points,
		Screenshot: res.Screenshot,
	}

	actx, cancel := context.WithTimeout(ctx, s.alertTimeout)
	defer cancel()
	if err := s.notifier.Notify(actx, e); err != nil {
		s.stats.AlertFailures.Add(1)
		s.logger.Warn("alert failed", zap.Error(err), zap.Int("frame", res.Frame.Index))
		return
	}
	s.stats.Alerts.Add(1)
	res.Alerted = true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// String is used by sinks that print a one-line frame summary.
func (r FrameResult) String() string {
	return fmt.Sprintf("frame=%d score=%.0f triggered=%t boxes=%d intrusion=%t %s",
		r.Frame.Index, r.Motion.Score, r.Motion.Triggered, len(r.Boxes), r.Decision.Intrusion, r.Decision.State)
}
