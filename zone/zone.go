// Package zone - This file contains the restricted-area polygon used by the
// motion gate and the intrusion decision logic.
//
// A Zone is an ordered, implicitly closed polygon. Containment uses the
// even-odd ray casting rule with one fixed tie-break: a point that lies on an
// edge or coincides with a vertex is INSIDE the zone. The same rule is used
// for point queries and for raster masks so the gate and the decision engine
// always agree on what "inside" means.
package zone

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
)

// MinPoints is the smallest number of vertices that defines an area.
const MinPoints = 3

// edgeEpsilon absorbs float rounding when testing whether a point lies on an edge.
const edgeEpsilon = 1e-9

// ErrTooFewPoints is returned when a polygon has fewer than MinPoints vertices.
var ErrTooFewPoints = errors.New("zone: polygon needs at least 3 points")

// Point is a 2D point in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// ImagePoint rounds the point to the nearest pixel.
func (p Point) ImagePoint() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

func (p Point) String() string {
	return fmt.Sprintf("(%.0f, %.0f)", p.X, p.Y)
}

// Zone is an immutable polygon. A nil *Zone is a valid "no zone defined"
// value: it contains nothing.
type Zone struct {
	points []Point
	bounds image.Rectangle
}

// New creates a zone from an ordered list of vertices.
//
// Arguments:
//   - points: The polygon vertices; the last vertex connects back to the first.
//
// Returns:
//   - *Zone: The zone.
//   - error: ErrTooFewPoints if fewer than MinPoints vertices are given.
func New(points []Point) (*Zone, error) {
	if len(points) < MinPoints {
		return nil, errors.Wrapf(ErrTooFewPoints, "got %d", len(points))
	}

	pts := make([]Point, len(points))
	copy(pts, points)

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, errors.Errorf("zone: invalid vertex %v", p)
		}
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}

	return &Zone{
		points: pts,
		bounds: image.Rect(
			int(math.Floor(minX)), int(math.Floor(minY)),
			int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1,
		),
	}, nil
}

// MustNew is New that panics on error. Intended for tests and constants.
func MustNew(points ...Point) *Zone {
	z, err := New(points)
	if err != nil {
		panic(err)
	}
	return z
}

// Points returns a copy of the vertices.
func (z *Zone) Points() []Point {
	if z == nil {
		return nil
	}
	pts := make([]Point, len(z.points))
	copy(pts, z.points)
	return pts
}

// Len returns the number of vertices, 0 for a nil zone.
func (z *Zone) Len() int {
	if z == nil {
		return 0
	}
	return len(z.points)
}

// Bounds returns the integer bounding rectangle of the polygon.
func (z *Zone) Bounds() image.Rectangle {
	if z == nil {
		return image.Rectangle{}
	}
	return z.bounds
}

// ImagePoints returns the vertices rounded to pixels, for drawing.
func (z *Zone) ImagePoints() []image.Point {
	if z == nil {
		return nil
	}
	out := make([]image.Point, len(z.points))
	for i, p := range z.points {
		out[i] = p.ImagePoint()
	}
	return out
}

// Contains reports whether p is inside the polygon. Points on an edge or a
// vertex are inside.
//
// Arguments:
//   - p: The point to test.
//
// Returns:
//   - bool: true if the point is inside or on the boundary.
func (z *Zone) Contains(p Point) bool {
	if z == nil {
		return false
	}

	inside := false
	n := len(z.points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := z.points[j], z.points[i]
		if onSegment(p, a, b) {
			return true
		}
		// Half-open rule on y so a vertex shared by two edges is counted once.
		if (b.Y > p.Y) != (a.Y > p.Y) {
			x := (a.X-b.X)*(p.Y-b.Y)/(a.Y-b.Y) + b.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Scale returns a copy of the zone with every vertex multiplied by (sx, sy).
func (z *Zone) Scale(sx, sy float64) *Zone {
	if z == nil {
		return nil
	}
	pts := make([]Point, len(z.points))
	for i, p := range z.points {
		pts[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	scaled, err := New(pts)
	if err != nil {
		// Scaling by non-finite factors is a programming error.
		panic(err)
	}
	return scaled
}

// Mask rasterises the zone into a row-major width*height mask. Pixel (x, y)
// is set when its integer coordinate is contained by the zone, using the same
// rule as Contains. A nil zone yields a nil mask.
func (z *Zone) Mask(width, height int) []bool {
	if z == nil || width <= 0 || height <= 0 {
		return nil
	}
	mask := make([]bool, width*height)
	r := z.bounds.Intersect(image.Rect(0, 0, width, height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * width
		for x := r.Min.X; x < r.Max.X; x++ {
			mask[row+x] = z.Contains(Point{X: float64(x), Y: float64(y)})
		}
	}
	return mask
}

// onSegment reports whether p lies on the closed segment a-b.
func onSegment(p, a, b Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	scale := math.Max(1, math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)))
	if math.Abs(cross) > edgeEpsilon*scale {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-edgeEpsilon && p.X <= math.Max(a.X, b.X)+edgeEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-edgeEpsilon && p.Y <= math.Max(a.Y, b.Y)+edgeEpsilon
}
