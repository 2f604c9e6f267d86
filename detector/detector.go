// Package detector - Adapter between the pipeline and an opaque object
// detection backend.
//
// The adapter is only called for frames the motion gate let through. It keeps
// the boxes whose label is one of the configured classes and whose confidence
// is at or above the configured threshold; everything else is dropped.
package detector

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/nvr-ai/virtual-fence/zone"
)

// PersonLabel is the class label the fence cares about.
const PersonLabel = "person"

var (
	// ErrInit marks a backend that could not be created. It is fatal for a session.
	ErrInit = errors.New("detector: backend initialization failed")
	// ErrInference marks a failed inference on a single frame. It is recoverable.
	ErrInference = errors.New("detector: inference failed")
)

// Box is one detection in frame pixel coordinates.
type Box struct {
	X1, Y1     float64 // top-left
	X2, Y2     float64 // bottom-right
	Label      string
	ClassID    int
	Confidence float64
}

// FootPoint returns the horizontal midpoint of the bottom edge, used as the
// ground-contact point of a person.
func (b Box) FootPoint() zone.Point {
	return zone.Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Rect converts the box to an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	).Canon()
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	ix := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	iy := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) String() string {
	return fmt.Sprintf("%s %.2f (%.0f, %.0f)-(%.0f, %.0f)", b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// Backend is a black-box object detector.
type Backend interface {
	// Infer runs the model on a frame and returns every box it produced.
	Infer(ctx context.Context, frame image.Image) ([]Box, error)
	// Close releases the model.
	Close() error
}

// Config controls filtering of backend output.
type Config struct {
	// Confidence is the minimum confidence a box needs to be reported (inclusive).
	Confidence float64 `json:"confidence"`
	// Classes lists the labels to keep. Empty means PersonLabel only.
	Classes []string `json:"classes"`
}

// DefaultConfig keeps persons with confidence >= 0.4.
func DefaultConfig() Config {
	return Config{
		Confidence: 0.4,
		Classes:    []string{PersonLabel},
	}
}

// Adapter filters the output of a Backend.
type Adapter struct {
	backend     Backend
	confidence  float64
	classes     map[string]bool
	invocations int
}

// New creates an adapter around a backend.
//
// Arguments:
//   - backend: The detector backend.
//   - cfg: The filtering configuration.
//
// Returns:
//   - *Adapter: The adapter.
//   - error: An error if the backend is nil or the confidence is outside [0, 1].
func New(backend Backend, cfg Config) (*Adapter, error) {
	if backend == nil {
		return nil, errors.Wrap(ErrInit, "nil backend")
	}
	if cfg.Confidence < 0 || cfg.Confidence > 1 || math.IsNaN(cfg.Confidence) {
		return nil, errors.Errorf("detector: confidence %v outside [0, 1]", cfg.Confidence)
	}
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = []string{PersonLabel}
	}
	a := &Adapter{
		backend:    backend,
		confidence: cfg.Confidence,
		classes:    make(map[string]bool, len(classes)),
	}
	for _, c := range classes {
		a.classes[c] = true
	}
	return a, nil
}

// Detect runs the backend on a frame and returns the qualifying boxes.
//
// Arguments:
//   - ctx: The context for the inference.
//   - frame: The frame to analyse.
//
// Returns:
//   - []Box: Qualifying boxes; empty (not nil error) when nothing qualifies.
//   - error: ErrInference for a per-frame failure, ErrInit if the backend
//     reports it cannot run at all, or the context error.
func (a *Adapter) Detect(ctx context.Context, frame image.Image) ([]Box, error) {
	a.invocations++

	if frame == nil {
		return nil, errors.Wrap(ErrInference, "nil frame")
	}

	raw, err := a.backend.Infer(ctx, frame)
	if err != nil {
		if errors.Is(err, ErrInit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &InferenceError{Err: err}
	}

	return a.Filter(raw), nil
}

// Filter keeps the boxes with a configured label and confidence >= threshold.
func (a *Adapter) Filter(raw []Box) []Box {
	out := make([]Box, 0, len(raw))
	for _, b := range raw {
		if !a.classes[b.Label] {
			continue
		}
		if b.Confidence < a.confidence {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Invocations returns how many times Detect has been called.
func (a *Adapter) Invocations() int {
	return a.invocations
}

// Confidence returns the confidence threshold.
func (a *Adapter) Confidence() float64 {
	return a.confidence
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

// InferenceError wraps a backend failure on one frame.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInference, e.Err)
}

// Is makes errors.Is(err, ErrInference) true.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
