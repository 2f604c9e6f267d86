package video

import (
	"context"
	"image"
	_ "image/jpeg" // register decoders for DirSource
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DirExtensions are the still-image formats DirSource decodes.
var DirExtensions = []string{".jpg", ".jpeg", ".png"}

var frameNumber = regexp.MustCompile(`(\d+)\D*$`)

// DirSource replays a directory of extracted frames (frame-0001.jpg, ...) in
// frame-number order. Timestamps advance by a fixed interval.
type DirSource struct {
	paths    []string
	size     image.Point
	start    time.Time
	interval time.Duration
	next     int
}

// OpenDir lists the frames of a directory.
//
// Arguments:
//   - dir: The directory holding the frames.
//   - fps: The frame rate used for timestamps; 0 or less uses 25.
//
// Returns:
//   - *DirSource: The source, positioned before the first frame.
//   - error: ErrOpen if the directory cannot be read, holds no frames or the
//     first frame cannot be decoded.
func OpenDir(dir string, fps float64) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "frames %s: %v", dir, err)
	}

	type entry struct {
		path  string
		frame int
	}
	var frames []entry
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), DirExtensions) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		n := -1
		if m := frameNumber.FindStringSubmatch(stem); m != nil {
			n, _ = strconv.Atoi(m[1])
		}
		frames = append(frames, entry{path: filepath.Join(dir, e.Name()), frame: n})
	}
	if len(frames) == 0 {
		return nil, errors.Wrapf(ErrOpen, "frames %s: no images", dir)
	}
	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].frame != frames[j].frame {
			return frames[i].frame < frames[j].frame
		}
		return frames[i].path < frames[j].path
	})

	s := &DirSource{paths: make([]string, len(frames)), start: time.Now()}
	for i, f := range frames {
		s.paths[i] = f.path
	}
	if fps <= 0 {
		fps = 25
	}
	s.interval = time.Duration(float64(time.Second) / fps)

	cfg, err := decodeConfig(s.paths[0])
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "frames %s: %v", dir, err)
	}
	s.size = image.Pt(cfg.Width, cfg.Height)
	return s, nil
}

// Len returns the number of frames.
func (s *DirSource) Len() int {
	return len(s.paths)
}

// Next decodes the next frame or returns ErrEndOfStream.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.paths) {
		return Frame{}, ErrEndOfStream
	}
	i := s.next
	s.next++

	f, err := os.Open(s.paths[i])
	if err != nil {
		return Frame{}, errors.Wrapf(err, "opening %s", s.paths[i])
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "decoding %s", s.paths[i])
	}
	return Frame{
		Image:     img,
		Index:     i + 1,
		Timestamp: s.start.Add(time.Duration(i) * s.interval),
	}, nil
}

// Size returns the size of the first frame.
func (s *DirSource) Size() image.Point {
	return s.size
}

// Close marks the source exhausted.
func (s *DirSource) Close() error {
	s.next = len(s.paths)
	return nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
