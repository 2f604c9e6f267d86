package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/fence"
	"github.com/nvr-ai/virtual-fence/motion"
	"github.com/nvr-ai/virtual-fence/stats"
	"github.com/nvr-ai/virtual-fence/video"
	"github.com/nvr-ai/virtual-fence/zone"
)

// Gate is the motion gate as seen by the session. *motion.Gate implements it.
type Gate interface {
	Check(frame image.Image) (motion.Result, error)
	Threshold() float64
	IncreaseThreshold() float64
	DecreaseThreshold() float64
	Reset()
}

// Detector is the detector adapter as seen by the session. *detector.Adapter
// implements it.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]detector.Box, error)
}

// Screenshotter saves intrusion frames. It decides itself whether a frame is
// saved (cooldown) and reports it with saved=true.
type Screenshotter interface {
	Capture(res FrameResult) (path string, saved bool, err error)
}

// Sink receives the per-frame results of a session, for rendering and audit
// logging. Errors returned by a sink are logged and otherwise ignored.
type Sink interface {
	Begin(info Info) error
	Frame(res FrameResult) error
	End(sum Summary) error
}

// Info describes a session when it starts.
type Info struct {
	SessionID  string
	StartedAt  time.Time
	Source     string
	FrameSize  image.Point
	Zone       *zone.Zone
	Threshold  float64
	Confidence float64
}

// FrameResult is everything the session decided about one frame.
type FrameResult struct {
	SessionID string
	Frame     video.Frame
	// Elapsed is the time since the previous frame; 0 for the first frame.
	Elapsed time.Duration
	// Motion is the gate result.
	Motion motion.Result
	// Threshold is the gate threshold the frame was evaluated with.
	Threshold float64
	// Detected is true when the detector was invoked.
	Detected bool
	// DetectorErr is the recoverable detector error of this frame, if any.
	DetectorErr error
	// Boxes are the qualifying person boxes; empty when the detector was not invoked.
	Boxes []detector.Box
	// Decision is the decision engine output.
	Decision fence.Decision
	// Screenshot is the path of the screenshot saved for this frame, if any.
	Screenshot string
	// Alerted is true when an alert was delivered for this frame.
	Alerted bool
}

// Reason tells why a session ended.
type Reason string

const (
	ReasonEndOfStream Reason = "end_of_stream"
	ReasonQuit        Reason = "quit"
	ReasonCancelled   Reason = "cancelled"
	ReasonError       Reason = "error"
)

// Summary is the final report of a session.
type Summary struct {
	Info    Info
	EndedAt time.Time
	Reason  Reason
	Stats   stats.Snapshot
	State   fence.State
	// Err is the fatal error that ended the session, if any.
	Err error
}

// Command is a runtime control command.
type Command int

const (
	// ThresholdUp raises the motion threshold by one step.
	ThresholdUp Command = iota + 1
	// ThresholdDown lowers the motion threshold by one step.
	ThresholdDown
	// ResetBackground drops the gate's previous frame.
	ResetBackground
	// Quit ends the session before the next frame is read.
	Quit
)

func (c Command) String() string {
	switch c {
	case ThresholdUp:
		return "threshold_up"
	case ThresholdDown:
		return "threshold_down"
	case ResetBackground:
		return "reset_background"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}
