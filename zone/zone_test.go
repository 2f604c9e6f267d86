package zone

import (
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square() *Zone {
	return MustNew(Pt(0, 0), Pt(100, 0), Pt(100, 100), Pt(0, 100))
}

func TestNewRejectsDegeneratePolygons(t *testing.T) {
	_, err := New([]Point{Pt(0, 0), Pt(1, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooFewPoints))

	_, err = New([]Point{Pt(0, 0), Pt(1, 1), Pt(math.NaN(), 2)})
	assert.Error(t, err)
}

func TestContains(t *testing.T) {
	z := square()

	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"center", Pt(50, 50), true},
		{"outside right", Pt(150, 50), false},
		{"outside above", Pt(50, -1), false},
		{"on left edge", Pt(0, 50), true},
		{"on bottom edge", Pt(50, 100), true},
		{"on vertex", Pt(100, 100), true},
		{"origin vertex", Pt(0, 0), true},
		{"just outside edge", Pt(100.001, 50), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, z.Contains(tt.point))
		})
	}
}

func TestContainsConcave(t *testing.T) {
	// U shape: the notch between the arms is outside.
	z := MustNew(Pt(0, 0), Pt(30, 0), Pt(30, 70), Pt(70, 70), Pt(70, 0), Pt(100, 0),
		Pt(100, 100), Pt(0, 100))

	assert.True(t, z.Contains(Pt(15, 10)))
	assert.True(t, z.Contains(Pt(85, 10)))
	assert.False(t, z.Contains(Pt(50, 10)))
	assert.True(t, z.Contains(Pt(50, 90)))
	assert.True(t, z.Contains(Pt(50, 70)), "point on the notch floor is on an edge")
}

func TestNilZoneContainsNothing(t *testing.T) {
	var z *Zone
	assert.False(t, z.Contains(Pt(0, 0)))
	assert.Nil(t, z.Mask(10, 10))
	assert.Equal(t, 0, z.Len())
	assert.Nil(t, z.Points())
}

func TestBoundaryClassificationIsRepeatable(t *testing.T) {
	z := MustNew(Pt(10, 10), Pt(200, 40), Pt(120, 180))
	boundary := []Point{Pt(10, 10), Pt(200, 40), Pt(120, 180), Pt(105, 25), Pt(65, 95)}
	for _, p := range boundary {
		first := z.Contains(p)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, z.Contains(p), "point %v", p)
		}
		assert.True(t, first, "boundary point %v is inside", p)
	}
}

// randomConvex builds a convex polygon by sorting random points on a circle by angle.
func randomConvex(r *rand.Rand) (*Zone, Point, float64) {
	center := Pt(200+r.Float64()*100, 200+r.Float64()*100)
	radius := 50 + r.Float64()*100
	n := 3 + r.Intn(8)
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = r.Float64() * 2 * math.Pi
	}
	sort.Float64s(angles)
	pts := make([]Point, n)
	for i, a := range angles {
		pts[i] = Pt(center.X+radius*math.Cos(a), center.Y+radius*math.Sin(a))
	}
	return MustNew(pts...), center, radius
}

// inscribedRadius is the distance from c to the nearest edge of a convex polygon.
func inscribedRadius(z *Zone, c Point) float64 {
	pts := z.Points()
	best := math.Inf(1)
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		d := math.Abs(dy*(c.X-a.X)-dx*(c.Y-a.Y)) / l
		best = math.Min(best, d)
	}
	return best
}

func TestContainsRandomConvexPolygons(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		z, center, radius := randomConvex(r)

		// Points strictly inside the incircle around the centroid-ish center are
		// inside only when the center itself is inside the polygon.
		if z.Contains(center) {
			in := inscribedRadius(z, center)
			if in > 1 {
				a := r.Float64() * 2 * math.Pi
				d := r.Float64() * (in - 0.5)
				p := Pt(center.X+d*math.Cos(a), center.Y+d*math.Sin(a))
				assert.True(t, z.Contains(p), "iteration %d point %v", i, p)
			}
		}

		// Anything beyond the circumscribed circle is outside.
		a := r.Float64() * 2 * math.Pi
		d := radius + 1 + r.Float64()*100
		p := Pt(center.X+d*math.Cos(a), center.Y+d*math.Sin(a))
		assert.False(t, z.Contains(p), "iteration %d point %v", i, p)
	}
}

func TestMaskMatchesContains(t *testing.T) {
	z := MustNew(Pt(2, 1), Pt(8, 3), Pt(5, 9))
	mask := z.Mask(12, 10)
	require.Len(t, mask, 120)
	for y := 0; y < 10; y++ {
		for x := 0; x < 12; x++ {
			assert.Equal(t, z.Contains(Pt(float64(x), float64(y))), mask[y*12+x], "pixel %d,%d", x, y)
		}
	}
}

func TestScale(t *testing.T) {
	z := square().Scale(0.5, 2)
	assert.Equal(t, []Point{Pt(0, 0), Pt(50, 0), Pt(50, 200), Pt(0, 200)}, z.Points())
	assert.True(t, z.Contains(Pt(25, 150)))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "roi.json")
	z := MustNew(Pt(10, 20), Pt(300, 20), Pt(300, 200), Pt(10, 200))

	require.NoError(t, Save(path, z, 640, 360))

	saved, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, z.Points(), saved.Zone.Points())
	assert.True(t, saved.MatchesFrame(640, 360))
	assert.False(t, saved.MatchesFrame(1280, 720))

	fitted := saved.FitTo(1280, 720)
	assert.Equal(t, Pt(600, 400), fitted.Points()[2])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveNilZone(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "roi.json"), nil, 640, 360)
	assert.Error(t, err)
}
