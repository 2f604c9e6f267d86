package detector

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/virtual-fence/zone"
)

// MockBackend returns canned boxes or an error.
type MockBackend struct {
	boxes  []Box
	err    error
	calls  int
	closed bool
}

func (m *MockBackend) Infer(ctx context.Context, frame image.Image) ([]Box, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.boxes, nil
}

func (m *MockBackend) Close() error {
	m.closed = true
	return nil
}

var frame = image.NewGray(image.Rect(0, 0, 8, 8))

func TestConfidenceFilterStraddlingThreshold(t *testing.T) {
	backend := &MockBackend{boxes: []Box{
		{Label: "person", Confidence: 0.39},
		{Label: "person", Confidence: 0.41},
		{Label: "person", Confidence: 0.40},
	}}
	a, err := New(backend, Config{Confidence: 0.4})
	require.NoError(t, err)

	got, err := a.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.41, got[0].Confidence)
	assert.Equal(t, 0.40, got[1].Confidence, "threshold is inclusive")
}

func TestClassFilter(t *testing.T) {
	backend := &MockBackend{boxes: []Box{
		{Label: "car", Confidence: 0.99},
		{Label: "person", Confidence: 0.9},
		{Label: "dog", Confidence: 0.8},
	}}

	a, err := New(backend, DefaultConfig())
	require.NoError(t, err)
	got, err := a.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "person", got[0].Label)

	a, err = New(backend, Config{Confidence: 0.5, Classes: []string{"person", "dog"}})
	require.NoError(t, err)
	got, err = a.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNoQualifyingDetectionsIsEmptyNotError(t *testing.T) {
	a, err := New(&MockBackend{}, DefaultConfig())
	require.NoError(t, err)

	got, err := a.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBackendFailureIsRecoverable(t *testing.T) {
	a, err := New(&MockBackend{err: errors.New("session busy")}, DefaultConfig())
	require.NoError(t, err)

	_, err = a.Detect(context.Background(), frame)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInference))
	assert.False(t, errors.Is(err, ErrInit))
	assert.Contains(t, err.Error(), "session busy")
	assert.Equal(t, 1, a.Invocations())
}

func TestFatalAndContextErrorsPassThrough(t *testing.T) {
	a, err := New(&MockBackend{err: errors.Wrap(ErrInit, "model unloaded")}, DefaultConfig())
	require.NoError(t, err)
	_, err = a.Detect(context.Background(), frame)
	assert.True(t, errors.Is(err, ErrInit))
	assert.False(t, errors.Is(err, ErrInference))

	a, err = New(&MockBackend{err: context.Canceled}, DefaultConfig())
	require.NoError(t, err)
	_, err = a.Detect(context.Background(), frame)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.True(t, errors.Is(err, ErrInit))

	_, err = New(&MockBackend{}, Config{Confidence: 1.5})
	assert.Error(t, err)

	backend := &MockBackend{}
	a, err := New(backend, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.True(t, backend.closed)
}

func TestBoxGeometry(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 30, Y2: 80}
	assert.Equal(t, zone.Pt(20, 80), b.FootPoint())
	assert.Equal(t, image.Rect(10, 20, 30, 80), b.Rect())
	assert.Equal(t, 1200.0, b.Area())

	assert.InDelta(t, 1.0, b.IoU(b), 1e-9)
	assert.Zero(t, b.IoU(Box{X1: 100, Y1: 100, X2: 110, Y2: 110}))

	other := Box{X1: 20, Y1: 20, X2: 40, Y2: 80}
	// Intersection 10x60=600, union 1200+1200-600=1800.
	assert.InDelta(t, 1.0/3.0, b.IoU(other), 1e-9)
}
