// Package render - Draws fence decisions on frames and runs the preview
// window.
//
// Colors: zone in yellow, boxes whose foot-point is inside the zone in red,
// all other boxes in green, foot-points as filled dots.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/virtual-fence/pipeline"
	"github.com/nvr-ai/virtual-fence/zone"
)

var (
	colorZone    = color.RGBA{R: 255, G: 220, B: 0, A: 0}
	colorInside  = color.RGBA{R: 230, G: 30, B: 30, A: 0}
	colorOutside = color.RGBA{R: 40, G: 200, B: 40, A: 0}
	colorText    = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	colorPanel   = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// Draw paints the zone, the boxes, the foot-points and the status text of res
// onto mat.
//
// Arguments:
//   - mat: The BGR frame to draw on.
//   - res: The frame result.
//   - z: The zone; nil skips the polygon.
func Draw(mat *gocv.Mat, res pipeline.FrameResult, z *zone.Zone) {
	drawZone(mat, z, res.Decision.Intrusion)

	for _, v := range res.Decision.Verdicts {
		c := colorOutside
		if v.Inside {
			c = colorInside
		}
		r := v.Box.Rect()
		gocv.Rectangle(mat, r, c, 2)
		label := fmt.Sprintf("%s %.2f", v.Box.Label, v.Box.Confidence)
		gocv.PutText(mat, label, image.Pt(r.Min.X, max(r.Min.Y-6, 12)), gocv.FontHersheyPlain, 1.1, c, 2)
		gocv.Circle(mat, v.FootPoint.ImagePoint(), 5, c, -1)
	}

	drawStatus(mat, res)

	if res.Decision.Intrusion {
		drawBanner(mat, fmt.Sprintf("INTRUSION  %d in zone", len(res.Decision.Intruders())))
	}
}

func drawZone(mat *gocv.Mat, z *zone.Zone, intrusion bool) {
	if z == nil {
		return
	}
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{z.ImagePoints()})
	defer pts.Close()

	if intrusion {
		overlay := mat.Clone()
		defer overlay.Close()
		gocv.FillPoly(&overlay, pts, colorInside)
		gocv.AddWeighted(*mat, 0.75, overlay, 0.25, 0, mat)
	}
	gocv.Polylines(mat, pts, true, colorZone, 2)
}

func drawStatus(mat *gocv.Mat, res pipeline.FrameResult) {
	st := res.Decision.State
	trigger := "idle"
	switch {
	case res.Motion.WarmingUp:
		trigger = "warming up"
	case res.Motion.Triggered:
		trigger = "TRIGGERED"
	}
	lines := []string{
		fmt.Sprintf("Frame %d  Motion: %.0f / %.0f  %s", res.Frame.Index, res.Motion.Score, res.Threshold, trigger),
		fmt.Sprintf("Persons: %d  In zone: %s  Max: %s  Total: %s",
			len(res.Boxes), st.Current.Round(100e6), st.Max.Round(100e6), st.Cumulative.Round(100e6)),
	}
	if res.DetectorErr != nil {
		lines = append(lines, "Detector error, frame skipped")
	}

	const lineHeight = 22
	gocv.Rectangle(mat, image.Rect(0, 0, mat.Cols(), 10+lineHeight*len(lines)), colorPanel, -1)
	for i, line := range lines {
		gocv.PutText(mat, line, image.Pt(8, 20+i*lineHeight), gocv.FontHersheyPlain, 1.2, colorText, 1)
	}
}

func drawBanner(mat *gocv.Mat, text string) {
	gocv.Rectangle(mat, image.Rect(0, 0, mat.Cols(), mat.Rows()), colorInside, 6)
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, 1.0, 2)
	x := (mat.Cols() - size.X) / 2
	y := mat.Rows() - 20
	gocv.Rectangle(mat, image.Rect(x-10, y-size.Y-10, x+size.X+10, y+10), colorInside, -1)
	gocv.PutText(mat, text, image.Pt(x, y), gocv.FontHersheySimplex, 1.0, colorText, 2)
}

// Annotate converts the frame of res to a Mat and draws on it. The caller
// owns the returned Mat.
func Annotate(res pipeline.FrameResult, z *zone.Zone) (gocv.Mat, error) {
	if res.Frame.Image == nil {
		return gocv.NewMat(), errors.New("render: frame has no image")
	}
	mat, err := gocv.ImageToMatRGB(res.Frame.Image)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "render: converting frame")
	}
	Draw(&mat, res, z)
	return mat, nil
}

// AnnotatedWriter returns a screenshot writer that saves the annotated frame.
func AnnotatedWriter(z *zone.Zone) func(path string, res pipeline.FrameResult) error {
	return func(path string, res pipeline.FrameResult) error {
		mat, err := Annotate(res, z)
		if err != nil {
			return err
		}
		defer mat.Close()
		if !gocv.IMWrite(path, mat) {
			return errors.Errorf("render: writing %s", path)
		}
		return nil
	}
}

// Window shows annotated frames and turns key presses into session commands.
// It implements pipeline.Sink and must be driven from the goroutine that
// created it.
type Window struct {
	window *gocv.Window
	zone   *zone.Zone
	submit func(pipeline.Command) bool
	logger *zap.Logger
}

// NewWindow opens the preview window.
//
// Arguments:
//   - title: The window title.
//   - submit: Receives commands for key presses, usually Session.Submit.
//   - logger: The logger.
//
// Returns:
//   - *Window: The window sink.
func NewWindow(title string, submit func(pipeline.Command) bool, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		window: gocv.NewWindow(title),
		submit: submit,
		logger: logger,
	}
}

// Begin remembers the zone.
func (w *Window) Begin(info pipeline.Info) error {
	w.zone = info.Zone
	w.logger.Info("preview window open",
		zap.String("keys", "+/= raise threshold, - lower, r reset background, q/ESC quit"))
	return nil
}

// Frame shows the annotated frame and polls the keyboard.
func (w *Window) Frame(res pipeline.FrameResult) error {
	mat, err := Annotate(res, w.zone)
	if err != nil {
		return err
	}
	defer mat.Close()

	w.window.IMShow(mat)
	if cmd, ok := KeyCommand(w.window.WaitKey(1)); ok && w.submit != nil {
		w.submit(cmd)
	}
	return nil
}

// End is a no-op; Close releases the window.
func (w *Window) End(pipeline.Summary) error {
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.window.Close()
}

// KeyCommand maps a key code from WaitKey to a session command.
func KeyCommand(key int) (pipeline.Command, bool) {
	if key < 0 {
		return 0, false
	}
	switch key & 0xff {
	case '+', '=':
		return pipeline.ThresholdUp, true
	case '-', '_':
		return pipeline.ThresholdDown, true
	case 'r', 'R':
		return pipeline.ResetBackground, true
	case 'q', 'Q', 27:
		return pipeline.Quit, true
	}
	return 0, false
}
