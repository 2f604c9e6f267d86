// Package motion - Cheap frame-differencing gate that decides whether a frame
// is worth sending to the object detector.
//
// Pipeline per frame:
//
//	frame -> grayscale -> downsample -> blur -> |cur - prev| > noise floor -> count -> score
//
// The score is the number of changed pixels (inside the zone mask when one is
// set) at the processing resolution. A frame triggers when score > threshold.
// The previous frame is always replaced by the current one before returning,
// whether or not the frame triggered.
package motion

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/virtual-fence/zone"
)

// ErrFrameSize is returned when a frame's size differs from the first frame of
// the session. It is a fatal configuration error.
var ErrFrameSize = errors.New("motion: frame size changed mid-session")

// Config contains the tunables of the motion gate.
type Config struct {
	// Threshold is the initial number of changed pixels a frame must exceed to trigger.
	Threshold float64 `json:"threshold"`
	// Step is the amount IncreaseThreshold and DecreaseThreshold move the threshold by.
	Step float64 `json:"step"`
	// MinThreshold is the smallest allowed threshold; must be positive.
	MinThreshold float64 `json:"min_threshold"`
	// MaxThreshold is the largest allowed threshold.
	MaxThreshold float64 `json:"max_threshold"`
	// NoiseFloor is the per-pixel absolute difference a pixel must exceed to count as changed.
	NoiseFloor uint8 `json:"noise_floor"`
	// ProcessWidth downsamples frames to this width before differencing; 0 keeps native size.
	ProcessWidth int `json:"process_width"`
	// BlurRadius applies a box blur of this radius before differencing; 0 disables it.
	BlurRadius int `json:"blur_radius"`
	// WarmupFrames is the number of initial frames that never trigger.
	WarmupFrames int `json:"warmup_frames"`
	// HoldFrames keeps the gate triggered for this many frames after the last raw trigger.
	HoldFrames int `json:"hold_frames"`
}

// DefaultConfig returns the gate configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Threshold:    500,
		Step:         50,
		MinThreshold: 50,
		MaxThreshold: 20000,
		NoiseFloor:   25,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	switch {
	case c.MinThreshold <= 0:
		return errors.Errorf("motion: min threshold must be positive, got %v", c.MinThreshold)
	case c.MaxThreshold < c.MinThreshold:
		return errors.Errorf("motion: max threshold %v below min threshold %v", c.MaxThreshold, c.MinThreshold)
	case c.Step <= 0:
		return errors.Errorf("motion: threshold step must be positive, got %v", c.Step)
	case c.ProcessWidth < 0, c.BlurRadius < 0, c.WarmupFrames < 0, c.HoldFrames < 0:
		return errors.New("motion: process width, blur radius, warmup and hold must not be negative")
	}
	return nil
}

// Result describes the outcome of evaluating one frame.
type Result struct {
	// Triggered is the gate decision, including warm-up and hold.
	Triggered bool
	// Raw is score > threshold, ignoring warm-up and hold.
	Raw bool
	// Score is the number of changed pixels.
	Score float64
	// WarmingUp is true while the gate is still in its warm-up window.
	WarmingUp bool
	// First is true for the first frame after creation or Reset.
	First bool
}

// Gate is the motion gate. It is owned by a single goroutine.
type Gate struct {
	cfg       Config
	threshold float64
	logger    *zap.Logger

	srcSize  image.Point
	procSize image.Point
	prev     *image.Gray

	zone      *zone.Zone
	mask      []bool
	maskDirty bool

	frames    int
	hold      int
	lastScore float64
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used by the gate.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithZone restricts motion scoring to pixels inside the zone.
func WithZone(z *zone.Zone) Option {
	return func(g *Gate) {
		g.SetZone(z)
	}
}

// NewGate creates a motion gate.
//
// Arguments:
//   - cfg: The gate configuration.
//   - opts: Optional settings.
//
// Returns:
//   - *Gate: The gate, with an empty previous frame.
//   - error: An error if the configuration is invalid.
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	g.threshold = g.clamp(cfg.Threshold)
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// SetZone sets (or clears, with nil) the zone used to mask the difference image.
func (g *Gate) SetZone(z *zone.Zone) {
	g.zone = z
	g.maskDirty = true
}

// Threshold returns the current trigger threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// LastScore returns the score of the most recent frame.
func (g *Gate) LastScore() float64 {
	return g.lastScore
}

// SetThreshold sets the threshold, clamped to [MinThreshold, MaxThreshold].
func (g *Gate) SetThreshold(v float64) float64 {
	g.threshold = g.clamp(v)
	return g.threshold
}

// IncreaseThreshold raises the threshold by one step, making the gate less sensitive.
func (g *Gate) IncreaseThreshold() float64 {
	return g.SetThreshold(g.threshold + g.cfg.Step)
}

// DecreaseThreshold lowers the threshold by one step, making the gate more sensitive.
func (g *Gate) DecreaseThreshold() float64 {
	return g.SetThreshold(g.threshold - g.cfg.Step)
}

// Reset drops the previous frame and restarts warm-up and hold. The next frame
// is treated as the first frame of a session.
func (g *Gate) Reset() {
	g.prev = nil
	g.srcSize = image.Point{}
	g.procSize = image.Point{}
	g.frames = 0
	g.hold = 0
	g.lastScore = 0
	g.maskDirty = true
	g.logger.Info("motion gate reset")
}

// Evaluate runs the gate on one frame.
//
// Arguments:
//   - frame: The current frame.
//
// Returns:
//   - bool: Whether the frame should be sent to the detector.
//   - float64: The activity score.
//   - error: ErrFrameSize if the frame size changed mid-session.
func (g *Gate) Evaluate(frame image.Image) (bool, float64, error) {
	res, err := g.Check(frame)
	return res.Triggered, res.Score, err
}

// Check runs the gate on one frame and returns the detailed result.
func (g *Gate) Check(frame image.Image) (Result, error) {
	if frame == nil {
		return Result{}, errors.New("motion: nil frame")
	}
	size := frame.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return Result{}, errors.New("motion: empty frame")
	}

	if g.prev != nil && size != g.srcSize {
		return Result{}, errors.Wrapf(ErrFrameSize, "expected %v, got %v", g.srcSize, size)
	}

	cur := g.prepare(frame, size)
	g.frames++

	if g.prev == nil {
		g.srcSize = size
		g.procSize = cur.Bounds().Size()
		g.prev = cur
		g.lastScore = 0
		g.logger.Debug("motion gate primed",
			zap.String("frame_size", fmt.Sprint(size)),
			zap.String("process_size", fmt.Sprint(g.procSize)))
		return Result{First: true, WarmingUp: g.frames <= g.cfg.WarmupFrames}, nil
	}

	if g.maskDirty {
		g.rebuildMask()
	}

	score := float64(g.changedPixels(cur))
	g.prev = cur
	g.lastScore = score

	res := Result{Score: score, Raw: score > g.threshold}
	if g.frames <= g.cfg.WarmupFrames {
		res.WarmingUp = true
		return res, nil
	}

	res.Triggered = res.Raw
	if res.Raw {
		g.hold = g.cfg.HoldFrames
	} else if g.hold > 0 {
		g.hold--
		res.Triggered = true
	}
	return res, nil
}

// prepare converts a frame into an owned gray image at the processing size.
func (g *Gate) prepare(frame image.Image, size image.Point) *image.Gray {
	gray := grayscale(frame)
	gray = downsample(gray, processSize(size, g.cfg.ProcessWidth))
	gray = boxBlur(gray, g.cfg.BlurRadius)
	if img, ok := frame.(*image.Gray); ok && img == gray {
		// Never keep a reference to the caller's buffer.
		w, h := gray.Rect.Dx(), gray.Rect.Dy()
		owned := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(owned.Pix[y*owned.Stride:y*owned.Stride+w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
		return owned
	}
	return gray
}

func (g *Gate) rebuildMask() {
	g.maskDirty = false
	if g.zone == nil || g.srcSize.X == 0 {
		g.mask = nil
		return
	}
	z := g.zone
	if g.procSize != g.srcSize {
		z = z.Scale(float64(g.procSize.X)/float64(g.srcSize.X), float64(g.procSize.Y)/float64(g.srcSize.Y))
	}
	g.mask = z.Mask(g.procSize.X, g.procSize.Y)
}

// changedPixels counts pixels whose absolute difference to the previous frame
// exceeds the noise floor.
func (g *Gate) changedPixels(cur *image.Gray) int {
	w, h := g.procSize.X, g.procSize.Y
	floor := g.cfg.NoiseFloor
	count := 0
	for y := 0; y < h; y++ {
		a := cur.Pix[y*cur.Stride : y*cur.Stride+w]
		b := g.prev.Pix[y*g.prev.Stride : y*g.prev.Stride+w]
		var m []bool
		if g.mask != nil {
			m = g.mask[y*w : y*w+w]
		}
		for x := 0; x < w; x++ {
			if m != nil && !m[x] {
				continue
			}
			if absDiff(a[x], b[x]) > floor {
				count++
			}
		}
	}
	return count
}

func (g *Gate) clamp(v float64) float64 {
	if v < g.cfg.MinThreshold {
		return g.cfg.MinThreshold
	}
	if v > g.cfg.MaxThreshold {
		return g.cfg.MaxThreshold
	}
	return v
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
