package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestLogger_LevelsGoToTheirFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Directory: dir, Level: "info"})
	require.NoError(t, err)
	defer log.Close()

	log.Info("frame %d processed", 7)
	log.Warning("slow detector: %s", "250ms")
	log.Error("source failed: %v", "boom")
	require.NoError(t, log.Close())

	info := readFile(t, filepath.Join(dir, InfoFile))
	warn := readFile(t, filepath.Join(dir, WarningFile))
	errs := readFile(t, filepath.Join(dir, ErrorFile))

	assert.Contains(t, info, "frame 7 processed")
	assert.NotContains(t, info, "slow detector")
	assert.Contains(t, warn, "slow detector: 250ms")
	assert.NotContains(t, warn, "source failed")
	assert.Contains(t, errs, "source failed: boom")
}

func TestLogger_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Directory: dir, Level: "warn"})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warning("shown")
	require.NoError(t, log.Close())

	assert.Empty(t, readFile(t, filepath.Join(dir, InfoFile)))
	assert.Contains(t, readFile(t, filepath.Join(dir, WarningFile)), "shown")
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Directory: dir})
	require.NoError(t, err)
	defer log.Close()

	log.Warning("to be removed")
	_ = log.Sync()
	require.NotEmpty(t, readFile(t, filepath.Join(dir, WarningFile)))

	require.NoError(t, log.CleanLogs(WarningFile))
	assert.Empty(t, readFile(t, filepath.Join(dir, WarningFile)))

	assert.Error(t, log.CleanLogs("../etc/passwd"))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Directory: t.TempDir(), Level: "loud"})
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("nothing %d", 1)
	log.With("run", "x").Error("still nothing")
	assert.Error(t, log.CleanLogs(InfoFile))
}
