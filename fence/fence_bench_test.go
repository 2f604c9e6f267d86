package fence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/zone"
)

func BenchmarkDecide_10Boxes(b *testing.B) {
	z := zone.MustNew(zone.Pt(100, 200), zone.Pt(500, 200), zone.Pt(560, 350), zone.Pt(80, 350))
	rng := rand.New(rand.NewSource(1))
	boxes := make([]detector.Box, 10)
	for i := range boxes {
		x, y := rng.Float64()*600, rng.Float64()*300
		boxes[i] = detector.Box{X1: x, Y1: y, X2: x + 40, Y2: y + 60, Label: detector.PersonLabel, Confidence: 0.9}
	}
	e := NewEngine()
	now := time.Unix(0, 0)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		now = now.Add(40 * time.Millisecond)
		e.Decide(boxes, z, 40*time.Millisecond, now)
	}
}
