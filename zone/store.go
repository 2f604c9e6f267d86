package zone

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultDescription is written into new zone files.
const DefaultDescription = "ROI configuration for Intelligent Virtual Fence"

// ErrNotFound means no zone has been saved at the given path yet.
var ErrNotFound = errors.New("zone: no saved zone")

// File is the on-disk representation of a saved zone.
type File struct {
	Points      [][2]float64 `json:"roi_points"`
	FrameWidth  int          `json:"frame_width"`
	FrameHeight int          `json:"frame_height"`
	Description string       `json:"description,omitempty"`
}

// Saved is a zone loaded from disk together with the frame size it was drawn on.
type Saved struct {
	Zone        *Zone
	FrameWidth  int
	FrameHeight int
}

// MatchesFrame reports whether the zone was drawn on a frame of the given size.
// A file without a recorded size matches any frame.
func (s Saved) MatchesFrame(width, height int) bool {
	if s.FrameWidth == 0 || s.FrameHeight == 0 {
		return true
	}
	return s.FrameWidth == width && s.FrameHeight == height
}

// FitTo returns the zone rescaled from the saved frame size to the given one.
func (s Saved) FitTo(width, height int) *Zone {
	if s.MatchesFrame(width, height) {
		return s.Zone
	}
	return s.Zone.Scale(
		float64(width)/float64(s.FrameWidth),
		float64(height)/float64(s.FrameHeight),
	)
}

// Load reads a zone file.
//
// Arguments:
//   - path: The JSON file to read.
//
// Returns:
//   - Saved: The zone and the frame size it was drawn on.
//   - error: ErrNotFound if the file does not exist, a wrapped error otherwise.
func Load(path string) (Saved, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Saved{}, errors.Wrap(ErrNotFound, path)
		}
		return Saved{}, errors.Wrapf(err, "read zone file %s", path)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return Saved{}, errors.Wrapf(err, "parse zone file %s", path)
	}

	points := make([]Point, len(f.Points))
	for i, p := range f.Points {
		points[i] = Point{X: p[0], Y: p[1]}
	}
	z, err := New(points)
	if err != nil {
		return Saved{}, errors.Wrapf(err, "zone file %s", path)
	}

	return Saved{Zone: z, FrameWidth: f.FrameWidth, FrameHeight: f.FrameHeight}, nil
}

// Save writes a zone file, creating the parent directory if needed.
//
// Arguments:
//   - path: The JSON file to write.
//   - z: The zone to save; must not be nil.
//   - frameWidth, frameHeight: The size of the frame the zone was drawn on.
//
// Returns:
//   - error: An error if the zone is nil or the file cannot be written.
func Save(path string, z *Zone, frameWidth, frameHeight int) error {
	if z == nil {
		return errors.Wrap(ErrTooFewPoints, "cannot save an empty zone")
	}

	f := File{
		Points:      make([][2]float64, 0, z.Len()),
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Description: DefaultDescription,
	}
	for _, p := range z.points {
		f.Points = append(f.Points, [2]float64{p.X, p.Y})
	}

	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode zone")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create zone directory %s", dir)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write zone file %s", path)
	}
	return nil
}
