package screenshot

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/virtual-fence/pipeline"
	"github.com/nvr-ai/virtual-fence/video"
)

var ts = time.Date(2024, 6, 2, 13, 4, 5, 0, time.UTC)

func result(index int) pipeline.FrameResult {
	return pipeline.FrameResult{Frame: video.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 32, 24)),
		Index:     index,
		Timestamp: ts,
	}}
}

func TestName(t *testing.T) {
	assert.Equal(t, "intrusion_20240602_130405_frame17.jpg", Name(ts, 17))
}

func TestCooldown(t *testing.T) {
	var written []string
	c := New(t.TempDir(), 30, func(path string, res pipeline.FrameResult) error {
		written = append(written, filepath.Base(path))
		return nil
	})

	var saved []int
	for _, idx := range []int{5, 6, 34, 35, 70} {
		_, ok, err := c.Capture(result(idx))
		require.NoError(t, err)
		if ok {
			saved = append(saved, idx)
		}
	}
	assert.Equal(t, []int{5, 35, 70}, saved)
	assert.Equal(t, 3, c.Taken())
	assert.Equal(t, "intrusion_20240602_130405_frame35.jpg", written[1])
}

func TestWriteFailureDoesNotStartCooldown(t *testing.T) {
	fail := true
	c := New(t.TempDir(), 10, func(string, pipeline.FrameResult) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	})

	_, ok, err := c.Capture(result(1))
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, ok)

	fail = false
	_, ok, err = c.Capture(result(2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultWriterProducesJPEG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	c := New(dir, 0, nil)

	path, ok, err := c.Capture(result(1))
	require.NoError(t, err)
	require.True(t, ok)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(32, 24), img.Bounds().Size())
}
