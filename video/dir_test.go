package video

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
}

func TestDirSourceOrdersByFrameNumber(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-10.png"), 8, 6)
	writePNG(t, filepath.Join(dir, "frame-2.png"), 8, 6)
	writePNG(t, filepath.Join(dir, "frame-1.png"), 8, 6)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := OpenDir(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())
	assert.Equal(t, image.Pt(8, 6), src.Size())
	assert.Equal(t, []string{
		filepath.Join(dir, "frame-1.png"),
		filepath.Join(dir, "frame-2.png"),
		filepath.Join(dir, "frame-10.png"),
	}, src.paths)

	var stamps []time.Time
	for i := 1; i <= 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		assert.Equal(t, image.Pt(8, 6), f.Image.Bounds().Size())
		stamps = append(stamps, f.Timestamp)
	}
	assert.Equal(t, 100*time.Millisecond, stamps[2].Sub(stamps[1]))

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestOpenDirErrors(t *testing.T) {
	_, err := OpenDir(filepath.Join(t.TempDir(), "missing"), 0)
	assert.True(t, errors.Is(err, ErrOpen))

	_, err = OpenDir(t.TempDir(), 0)
	assert.True(t, errors.Is(err, ErrOpen))
}
