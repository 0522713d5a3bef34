package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetvision/internal/source"
)

func TestOpen_MissingFile(t *testing.T) {
	_, err := DefaultOpener().Open(context.Background(), source.FileDescriptor(filepath.Join(t.TempDir(), "nope.mp4")))
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestOpen_TextFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.mp4")
	require.NoError(t, os.WriteFile(path, []byte("this is plain text, not a video\n"), 0644))

	_, err := DefaultOpener().Open(context.Background(), source.FileDescriptor(path))
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "not a video")
}

func TestOpen_InvalidStreamURL(t *testing.T) {
	_, err := DefaultOpener().Open(context.Background(), source.StreamDescriptor("gopher://cam"))
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DefaultOpener().Open(ctx, source.DeviceDescriptor(0))
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}
