// Package capture - Camera, video file and still image sources backed by
// gocv.
package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/virtual-fence/video"
)

// Supported file extensions.
var (
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
)

// InputType is the kind of input being captured.
type InputType int

const (
	InputCamera InputType = iota
	InputVideo
	InputImage
)

func (t InputType) String() string {
	switch t {
	case InputVideo:
		return "video"
	case InputImage:
		return "image"
	default:
		return "camera"
	}
}

// Input describes what to open.
type Input struct {
	Type     InputType
	Path     string
	DeviceID int
	// Width and Height resize every frame; 0 keeps the native size.
	Width  int
	Height int
	// MaxEmptyReads is the number of consecutive empty frames tolerated
	// before the stream is considered exhausted.
	MaxEmptyReads int
}

// ResolveInput picks the input type from the video/image paths. With neither
// set the camera device is used.
//
// Arguments:
//   - videoPath: Path to a video file or stream URL, or "".
//   - imagePath: Path to a still image, or "".
//   - deviceID: The camera device used when both paths are empty.
//
// Returns:
//   - Input: The input description.
//   - error: An error if both paths are set or the file is unusable.
func ResolveInput(videoPath, imagePath string, deviceID int) (Input, error) {
	switch {
	case videoPath != "" && imagePath != "":
		return Input{}, errors.New("cannot specify both a video and an image")
	case videoPath != "":
		if strings.Contains(videoPath, "://") {
			return Input{Type: InputVideo, Path: videoPath}, nil
		}
		if err := validateFile(videoPath, VideoExtensions); err != nil {
			return Input{}, errors.Wrap(err, "video")
		}
		return Input{Type: InputVideo, Path: videoPath}, nil
	case imagePath != "":
		if err := validateFile(imagePath, ImageExtensions); err != nil {
			return Input{}, errors.Wrap(err, "image")
		}
		return Input{Type: InputImage, Path: imagePath}, nil
	}
	return Input{Type: InputCamera, DeviceID: deviceID}, nil
}

// validateFile checks that the file exists and has a supported extension.
func validateFile(path string, supported []string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "file %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range supported {
		if ext == s {
			return nil
		}
	}
	return errors.Errorf("unsupported file extension %q, supported: %v", ext, supported)
}

// Source reads frames through gocv.
type Source struct {
	in     Input
	logger *zap.Logger
	vc     *gocv.VideoCapture
	still  *gocv.Mat
	mat    gocv.Mat
	scaled gocv.Mat
	size   image.Point
	start  time.Time
	index  int
}

// Open opens the input.
//
// Arguments:
//   - in: The input description.
//   - logger: The logger.
//
// Returns:
//   - *Source: The source.
//   - error: An error wrapping video.ErrOpen if the input cannot be opened.
func Open(in Input, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if in.MaxEmptyReads <= 0 {
		in.MaxEmptyReads = 30
	}
	s := &Source{
		in:     in,
		logger: logger,
		mat:    gocv.NewMat(),
		scaled: gocv.NewMat(),
		start:  time.Now(),
	}

	switch in.Type {
	case InputCamera:
		vc, err := gocv.OpenVideoCapture(in.DeviceID)
		if err != nil || !vc.IsOpened() {
			s.Close()
			return nil, errors.Wrapf(video.ErrOpen, "camera device %d: %v", in.DeviceID, err)
		}
		s.vc = vc
	case InputVideo:
		vc, err := gocv.OpenVideoCapture(in.Path)
		if err != nil || !vc.IsOpened() {
			s.Close()
			return nil, errors.Wrapf(video.ErrOpen, "video %s: %v", in.Path, err)
		}
		s.vc = vc
	case InputImage:
		m := gocv.IMRead(in.Path, gocv.IMReadColor)
		if m.Empty() {
			m.Close()
			s.Close()
			return nil, errors.Wrapf(video.ErrOpen, "image %s", in.Path)
		}
		s.still = &m
	}

	if in.Width > 0 && in.Height > 0 {
		s.size = image.Pt(in.Width, in.Height)
	} else if s.still != nil {
		s.size = image.Pt(s.still.Cols(), s.still.Rows())
	} else {
		s.size = image.Pt(int(s.vc.Get(gocv.VideoCaptureFrameWidth)), int(s.vc.Get(gocv.VideoCaptureFrameHeight)))
	}

	logger.Info("video source opened",
		zap.Stringer("type", in.Type),
		zap.String("path", in.Path),
		zap.Int("device", in.DeviceID),
		zap.Int("width", s.size.X),
		zap.Int("height", s.size.Y))
	return s, nil
}

// Size returns the output frame size.
func (s *Source) Size() image.Point {
	return s.size
}

// Next reads, resizes and converts the next frame.
func (s *Source) Next(ctx context.Context) (video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}

	if s.still != nil {
		if s.index > 0 {
			return video.Frame{}, video.ErrEndOfStream
		}
		s.still.CopyTo(&s.mat)
	} else {
		if s.vc == nil {
			return video.Frame{}, video.ErrEndOfStream
		}
		empty := 0
		for {
			if ok := s.vc.Read(&s.mat); !ok {
				s.logger.Info("end of stream", zap.Int("frames", s.index))
				return video.Frame{}, video.ErrEndOfStream
			}
			if !s.mat.Empty() {
				break
			}
			empty++
			if empty >= s.in.MaxEmptyReads {
				return video.Frame{}, video.ErrEndOfStream
			}
			if err := ctx.Err(); err != nil {
				return video.Frame{}, err
			}
		}
	}

	src := s.mat
	if s.mat.Cols() != s.size.X || s.mat.Rows() != s.size.Y {
		gocv.Resize(s.mat, &s.scaled, s.size, 0, 0, gocv.InterpolationLinear)
		src = s.scaled
	}

	img, err := src.ToImage()
	if err != nil {
		return video.Frame{}, errors.Wrap(err, "converting frame")
	}
	s.index++

	return video.Frame{
		Image:     img,
		Index:     s.index,
		Timestamp: s.timestamp(),
	}, nil
}

// timestamp uses the container position for files so that durations follow
// video time, and wall-clock time for live cameras.
func (s *Source) timestamp() time.Time {
	if s.in.Type == InputVideo && s.vc != nil {
		if ms := s.vc.Get(gocv.VideoCapturePosMsec); ms > 0 {
			return s.start.Add(time.Duration(ms * float64(time.Millisecond)))
		}
	}
	return time.Now()
}

// Close releases the capture device and buffers.
func (s *Source) Close() error {
	var err error
	if s.vc != nil {
		err = s.vc.Close()
		s.vc = nil
	}
	if s.still != nil {
		s.still.Close()
		s.still = nil
	}
	s.mat.Close()
	s.scaled.Close()
	return err
}
