package onnx

import (
	"image"
	"sort"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/virtual-fence/detector"
)

// fillInput resizes img to size x size and writes it into dst as normalised
// planar RGB (CHW), the layout YOLOv8 expects.
//
// Arguments:
//   - img: The frame.
//   - size: The square model input size.
//   - dst: The destination tensor data, at least 3*size*size floats.
//
// Returns:
//   - error: An error if dst is too small.
func fillInput(img image.Image, size int, dst []float32) error {
	plane := size * size
	if len(dst) < plane*3 {
		return errors.Errorf("input tensor holds %d floats, needs %d", len(dst), plane*3)
	}
	red := dst[0:plane]
	green := dst[plane : plane*2]
	blue := dst[plane*2 : plane*3]

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	b := resized.Bounds()

	if rgba, ok := resized.(*image.RGBA); ok {
		i := 0
		for y := 0; y < size; y++ {
			row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+size*4]
			for x := 0; x < size; x++ {
				red[i] = float32(row[x*4]) / 255.0
				green[i] = float32(row[x*4+1]) / 255.0
				blue[i] = float32(row[x*4+2]) / 255.0
				i++
			}
		}
		return nil
	}

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}

// decode turns a YOLOv8 output tensor of shape [4+classes][candidates] into
// boxes in frame coordinates. Candidates whose best class score is below
// minScore are skipped.
//
// Arguments:
//   - output: The flattened output tensor.
//   - classes: The number of classes.
//   - candidates: The number of candidate boxes.
//   - inputSize: The square model input size the coordinates refer to.
//   - frame: The source frame size.
//   - minScore: The pre-NMS score floor.
//
// Returns:
//   - []detector.Box: The decoded boxes, unsorted.
func decode(output []float32, classes, candidates, inputSize int, frame image.Point, minScore float32) []detector.Box {
	if len(output) < (4+classes)*candidates {
		return nil
	}
	sx := float32(frame.X) / float32(inputSize)
	sy := float32(frame.Y) / float32(inputSize)

	boxes := make([]detector.Box, 0, 64)
	for idx := 0; idx < candidates; idx++ {
		best := float32(-1)
		classID := 0
		for c := 0; c < classes; c++ {
			if p := output[candidates*(c+4)+idx]; p > best {
				best = p
				classID = c
			}
		}
		if best < minScore {
			continue
		}

		xc, yc := output[idx], output[candidates+idx]
		w, h := output[2*candidates+idx], output[3*candidates+idx]
		boxes = append(boxes, detector.Box{
			X1:         float64(clampf((xc-w/2)*sx, 0, float32(frame.X))),
			Y1:         float64(clampf((yc-h/2)*sy, 0, float32(frame.Y))),
			X2:         float64(clampf((xc+w/2)*sx, 0, float32(frame.X))),
			Y2:         float64(clampf((yc+h/2)*sy, 0, float32(frame.Y))),
			ClassID:    classID,
			Label:      ClassName(classID),
			Confidence: float64(best),
		})
	}
	return boxes
}

// nms performs class-aware greedy non-maximum suppression. The result is
// ordered by descending confidence.
func nms(boxes []detector.Box, iouThreshold float64) []detector.Box {
	if len(boxes) == 0 {
		return boxes
	}
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})

	kept := make([]detector.Box, 0, len(boxes))
	used := make([]bool, len(boxes))
	for i := range boxes {
		if used[i] {
			continue
		}
		anchor := boxes[i]
		kept = append(kept, anchor)
		for j := i + 1; j < len(boxes); j++ {
			if used[j] || boxes[j].ClassID != anchor.ClassID {
				continue
			}
			if anchor.IoU(boxes[j]) > iouThreshold {
				used[j] = true
			}
		}
	}
	return kept
}

func clampf(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}
