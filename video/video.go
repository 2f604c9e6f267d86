// Package video - Frame source contract for the pipeline.
package video

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrEndOfStream is returned by Source.Next when the stream is exhausted.
	// It ends a session cleanly and is not a failure.
	ErrEndOfStream = errors.New("video: end of stream")
	// ErrOpen is returned when a source cannot be opened. It is fatal.
	ErrOpen = errors.New("video: source cannot be opened")
)

// Frame is one decoded frame. The pipeline does not keep a Frame beyond the
// cycle that processes it.
type Frame struct {
	// Image is the raster.
	Image image.Image
	// Index is the 1-based frame number within the session.
	Index int
	// Timestamp is the capture time, used for duration accounting.
	Timestamp time.Time
}

// Source supplies frames on demand.
type Source interface {
	// Next blocks until a frame is available. It returns ErrEndOfStream when
	// there are no more frames.
	Next(ctx context.Context) (Frame, error)
	// Size returns the frame size of the stream.
	Size() image.Point
	// Close releases the source.
	Close() error
}

// SliceSource replays in-memory images with a fixed frame interval.
type SliceSource struct {
	images   []image.Image
	start    time.Time
	interval time.Duration
	next     int
	closed   bool
}

// NewSliceSource creates a source that returns images in order.
//
// Arguments:
//   - start: The timestamp of the first frame.
//   - interval: The time between frames.
//   - images: The frames.
//
// Returns:
//   - *SliceSource: The source.
func NewSliceSource(start time.Time, interval time.Duration, images ...image.Image) *SliceSource {
	return &SliceSource{images: images, start: start, interval: interval}
}

// Next returns the next image or ErrEndOfStream.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.closed || s.next >= len(s.images) {
		return Frame{}, ErrEndOfStream
	}
	i := s.next
	s.next++
	return Frame{
		Image:     s.images[i],
		Index:     i + 1,
		Timestamp: s.start.Add(time.Duration(i) * s.interval),
	}, nil
}

// Size returns the size of the first image.
func (s *SliceSource) Size() image.Point {
	if len(s.images) == 0 {
		return image.Point{}
	}
	return s.images[0].Bounds().Size()
}

// Close marks the source exhausted.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}
