// Package screenshot - Saves intrusion frames to disk with a frame-count
// cooldown.
package screenshot

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/virtual-fence/pipeline"
)

// DefaultCooldown is the minimum number of frames between two screenshots.
const DefaultCooldown = 30

// WriteFunc writes the screenshot of a frame to path.
type WriteFunc func(path string, res pipeline.FrameResult) error

// Capturer implements pipeline.Screenshotter.
type Capturer struct {
	dir      string
	cooldown int
	write    WriteFunc
	last     int
	taken    int
}

// New creates a capturer.
//
// Arguments:
//   - dir: The output directory, created on first use.
//   - cooldown: Minimum frames between screenshots; 0 or less uses DefaultCooldown.
//   - write: Writes the image; nil writes the raw frame as JPEG.
//
// Returns:
//   - *Capturer: The capturer.
func New(dir string, cooldown int, write WriteFunc) *Capturer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if write == nil {
		write = WriteJPEG
	}
	return &Capturer{dir: dir, cooldown: cooldown, write: write}
}

// Capture saves the frame unless a screenshot was taken less than cooldown
// frames ago.
func (c *Capturer) Capture(res pipeline.FrameResult) (string, bool, error) {
	if c.taken > 0 && res.Frame.Index-c.last < c.cooldown {
		return "", false, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", false, errors.Wrapf(err, "creating %s", c.dir)
	}
	path := filepath.Join(c.dir, Name(res.Frame.Timestamp, res.Frame.Index))
	if err := c.write(path, res); err != nil {
		return "", false, errors.Wrapf(err, "writing %s", path)
	}
	c.last = res.Frame.Index
	c.taken++
	return path, true, nil
}

// Taken returns how many screenshots were saved.
func (c *Capturer) Taken() int {
	return c.taken
}

// Name returns the file name for a screenshot: intrusion_<timestamp>_frame<N>.jpg.
func Name(ts time.Time, frame int) string {
	return fmt.Sprintf("intrusion_%s_frame%d.jpg", ts.Format("20060102_150405"), frame)
}

// WriteJPEG encodes the raw frame.
func WriteJPEG(path string, res pipeline.FrameResult) error {
	return SaveJPEG(path, res.Frame.Image, 90)
}

// SaveJPEG encodes img to path.
func SaveJPEG(path string, img image.Image, quality int) error {
	if img == nil {
		return errors.New("nil image")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
