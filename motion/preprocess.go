package motion

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// grayscale converts any image to an 8-bit luma image with origin (0, 0).
// YCbCr frames (decoded JPEG/H.264) reuse the Y plane directly.
func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		if b.Min == (image.Point{}) {
			return src
		}
	case *image.YCbCr:
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			off := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()], src.Y[off:off+b.Dx()])
		}
		return dst
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// processSize returns the working resolution for a source frame size.
// A zero or larger-than-source width keeps the native resolution.
func processSize(src image.Point, width int) image.Point {
	if width <= 0 || width >= src.X || src.X == 0 {
		return src
	}
	h := src.Y * width / src.X
	if h < 1 {
		h = 1
	}
	return image.Pt(width, h)
}

// downsample resizes a gray frame to size using bilinear interpolation.
func downsample(src *image.Gray, size image.Point) *image.Gray {
	if src.Bounds().Size() == size {
		return src
	}
	out := resize.Resize(uint(size.X), uint(size.Y), src, resize.Bilinear)
	if g, ok := out.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	return grayscale(out)
}

// boxBlur applies a separable box blur with the given radius. Edge pixels are
// clamped. The result is written to a new image.
func boxBlur(src *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return src
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	tmp := make([]uint8, w*h)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	window := 2*radius + 1

	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}

	// Horizontal pass: sliding window sum per row.
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		sum := 0
		for k := -radius; k <= radius; k++ {
			sum += int(row[clamp(k, w-1)])
		}
		for x := 0; x < w; x++ {
			tmp[y*w+x] = uint8(sum / window)
			sum += int(row[clamp(x+radius+1, w-1)]) - int(row[clamp(x-radius, w-1)])
		}
	}

	// Vertical pass.
	for x := 0; x < w; x++ {
		sum := 0
		for k := -radius; k <= radius; k++ {
			sum += int(tmp[clamp(k, h-1)*w+x])
		}
		for y := 0; y < h; y++ {
			dst.Pix[y*dst.Stride+x] = uint8(sum / window)
			sum += int(tmp[clamp(y+radius+1, h-1)*w+x]) - int(tmp[clamp(y-radius, h-1)*w+x])
		}
	}
	return dst
}
