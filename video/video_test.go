package video

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceSource(t *testing.T) {
	start := time.Unix(1000, 0)
	a := image.NewGray(image.Rect(0, 0, 4, 3))
	b := image.NewGray(image.Rect(0, 0, 4, 3))
	src := NewSliceSource(start, 40*time.Millisecond, a, b)
	assert.Equal(t, image.Pt(4, 3), src.Size())

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, start, f.Timestamp)

	f, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)
	assert.Equal(t, start.Add(40*time.Millisecond), f.Timestamp)

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestSliceSourceCancelledAndClosed(t *testing.T) {
	src := NewSliceSource(time.Now(), time.Second, image.NewGray(image.Rect(0, 0, 1, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrEndOfStream))

	assert.Equal(t, image.Point{}, NewSliceSource(time.Now(), time.Second).Size())
}
