package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInput(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.MP4")
	still := filepath.Join(dir, "still.jpg")
	notes := filepath.Join(dir, "notes.txt")
	for _, p := range []string{clip, still, notes} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	in, err := ResolveInput("", "", 2)
	require.NoError(t, err)
	assert.Equal(t, InputCamera, in.Type)
	assert.Equal(t, 2, in.DeviceID)

	in, err = ResolveInput(clip, "", 0)
	require.NoError(t, err)
	assert.Equal(t, InputVideo, in.Type)

	in, err = ResolveInput("rtsp://camera.local/stream", "", 0)
	require.NoError(t, err)
	assert.Equal(t, InputVideo, in.Type)

	in, err = ResolveInput("", still, 0)
	require.NoError(t, err)
	assert.Equal(t, InputImage, in.Type)

	_, err = ResolveInput(clip, still, 0)
	assert.Error(t, err)

	_, err = ResolveInput(notes, "", 0)
	assert.ErrorContains(t, err, "unsupported file extension")

	_, err = ResolveInput(filepath.Join(dir, "missing.mp4"), "", 0)
	assert.Error(t, err)
}
