package motion

import (
	"image"
	"math/rand"
	"testing"

	"github.com/nvr-ai/virtual-fence/zone"
)

func genRGBA(w, h int, seed int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func benchGate(b *testing.B, w, h int, mutate func(*Config), opts ...Option) {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := NewGate(cfg, opts...)
	if err != nil {
		b.Fatal(err)
	}
	frames := []image.Image{genRGBA(w, h, 1), genRGBA(w, h, 2)}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Check(frames[i%2]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGate_640x360(b *testing.B) {
	benchGate(b, 640, 360, nil)
}

func BenchmarkGate_1080p_Downsample320(b *testing.B) {
	benchGate(b, 1920, 1080, func(c *Config) { c.ProcessWidth = 320 })
}

func BenchmarkGate_640x360_Blur2(b *testing.B) {
	benchGate(b, 640, 360, func(c *Config) { c.BlurRadius = 2 })
}

func BenchmarkGate_640x360_ZoneMask(b *testing.B) {
	z := zone.MustNew(zone.Pt(100, 100), zone.Pt(540, 100), zone.Pt(540, 300), zone.Pt(100, 300))
	benchGate(b, 640, 360, nil, WithZone(z))
}
