package onnx

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/virtual-fence/detector"
)

// candidate describes one column of a synthetic output tensor.
type candidate struct {
	xc, yc, w, h float32
	class        int
	score        float32
}

func buildOutput(cands []candidate) []float32 {
	n := len(cands)
	out := make([]float32, (4+numClasses)*n)
	for i, c := range cands {
		out[i] = c.xc
		out[n+i] = c.yc
		out[2*n+i] = c.w
		out[3*n+i] = c.h
		out[n*(4+c.class)+i] = c.score
	}
	return out
}

func TestDecodeScalesToFrame(t *testing.T) {
	out := buildOutput([]candidate{
		{xc: 320, yc: 320, w: 64, h: 128, class: 0, score: 0.9},
		{xc: 100, yc: 100, w: 10, h: 10, class: 2, score: 0.1},
	})

	boxes := decode(out, numClasses, 2, 640, image.Pt(1280, 720), 0.25)
	require.Len(t, boxes, 1)

	b := boxes[0]
	assert.Equal(t, "person", b.Label)
	assert.Equal(t, 0, b.ClassID)
	assert.InDelta(t, 0.9, b.Confidence, 1e-6)
	assert.InDelta(t, 576, b.X1, 1e-3)
	assert.InDelta(t, 704, b.X2, 1e-3)
	assert.InDelta(t, 288, b.Y1, 1e-3)
	assert.InDelta(t, 432, b.Y2, 1e-3)
}

func TestDecodeClampsToFrame(t *testing.T) {
	out := buildOutput([]candidate{{xc: 5, yc: 635, w: 40, h: 40, class: 0, score: 0.8}})
	boxes := decode(out, numClasses, 1, 640, image.Pt(640, 640), 0.25)
	require.Len(t, boxes, 1)
	assert.Zero(t, boxes[0].X1)
	assert.Equal(t, 640.0, boxes[0].Y2)
}

func TestDecodeShortOutput(t *testing.T) {
	assert.Nil(t, decode(make([]float32, 10), numClasses, 8400, 640, image.Pt(640, 480), 0.25))
}

func TestNMSSuppressesOverlapsPerClass(t *testing.T) {
	boxes := []detector.Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 100, ClassID: 0, Label: "person", Confidence: 0.6},
		{X1: 5, Y1: 5, X2: 105, Y2: 105, ClassID: 0, Label: "person", Confidence: 0.9},
		{X1: 5, Y1: 5, X2: 105, Y2: 105, ClassID: 2, Label: "car", Confidence: 0.7},
		{X1: 300, Y1: 300, X2: 350, Y2: 350, ClassID: 0, Label: "person", Confidence: 0.5},
	}

	kept := nms(boxes, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, "car", kept[1].Label)
	assert.Equal(t, 0.5, kept[2].Confidence)
}

func TestFillInputNormalisesPlanarRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	const size = 8
	dst := make([]float32, 3*size*size)
	require.NoError(t, fillInput(img, size, dst))

	plane := size * size
	assert.InDelta(t, 1.0, dst[0], 0.01)
	assert.InDelta(t, 0.0, dst[plane], 0.01)
	assert.InDelta(t, 0.2, dst[2*plane+plane-1], 0.01)

	assert.Error(t, fillInput(img, size, make([]float32, 10)))
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "person", ClassName(0))
	assert.Equal(t, "toothbrush", ClassName(79))
	assert.Equal(t, "", ClassName(80))
	assert.Len(t, cocoClasses, numClasses)
}

func TestLowConfidencePersonSurvivesLoweredScoreFloor(t *testing.T) {
	out := buildOutput([]candidate{{xc: 320, yc: 320, w: 64, h: 128, class: 0, score: 0.22}})

	assert.Empty(t, decode(out, numClasses, 1, 640, image.Pt(640, 640), float32(DefaultConfig().ScoreThreshold)))

	raw := decode(out, numClasses, 1, 640, image.Pt(640, 640), 0.2)
	require.Len(t, raw, 1)

	a, err := detector.New(&staticBackend{boxes: raw}, detector.Config{Confidence: 0.2})
	require.NoError(t, err)
	assert.Len(t, a.Filter(raw), 1)
}

type staticBackend struct {
	boxes []detector.Box
}

func (s *staticBackend) Infer(context.Context, image.Image) ([]detector.Box, error) {
	return s.boxes, nil
}

func (s *staticBackend) Close() error { return nil }

func TestClampf(t *testing.T) {
	assert.Equal(t, float32(0), clampf(-3, 0, 10))
	assert.Equal(t, float32(10), clampf(12.5, 0, 10))
	assert.Equal(t, float32(4.5), clampf(4.5, 0, 10))
}
