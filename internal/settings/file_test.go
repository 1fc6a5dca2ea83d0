package settings_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duodisplayd/internal/settings"
)

func TestFileStoreMissingFile(t *testing.T) {
	s := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	defer s.Close()

	_, err := s.Enabled()
	assert.ErrorIs(t, err, settings.ErrKeyUnavailable)
	_, err = s.MobileBehavior()
	assert.ErrorIs(t, err, settings.ErrKeyUnavailable)
	assert.ErrorIs(t, s.MarkSensorPresent(), settings.ErrKeyUnavailable)

	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "MarkSensorPresent must not create the file")
}

func TestFileStoreAbsentValuesReadAsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("sensor_present = 1\n"), 0o644))
	s := settings.NewFileStore(path)

	enabled, err := s.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	mobile, err := s.MobileBehavior()
	require.NoError(t, err)
	assert.False(t, mobile)
}

func TestFileStoreSetAndMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.toml")
	s := settings.NewFileStore(path)

	require.NoError(t, s.Set(true, true))
	require.NoError(t, s.MarkSensorPresent())

	enabled, err := s.Enabled()
	require.NoError(t, err)
	assert.True(t, enabled)
	mobile, err := s.MobileBehavior()
	require.NoError(t, err)
	assert.True(t, mobile)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sensor_present = 1")
	assert.Contains(t, string(data), "enable = 1")

	require.NoError(t, s.Set(false, true))
	enabled, err = s.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sensor_present = 1", "Set keeps other values")
}

func TestFileStoreParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("enable = [\n"), 0o644))
	s := settings.NewFileStore(path)

	_, err := s.Enabled()
	require.Error(t, err)
	assert.NotErrorIs(t, err, settings.ErrKeyUnavailable)
}

func TestFileStoreWaitChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := settings.NewFileStore(path)
	defer s.Close()
	require.NoError(t, s.Set(true, false))

	// arm the watcher without waiting
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitChange(canceled), context.Canceled)

	require.NoError(t, s.Set(false, false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitChange(ctx))

	enabled, err := s.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestFileStoreWaitChangeMissingDir(t *testing.T) {
	s := settings.NewFileStore(filepath.Join(t.TempDir(), "missing", "settings.toml"))
	assert.Error(t, s.WaitChange(context.Background()))
}

func TestOpen(t *testing.T) {
	s, err := settings.Open(settings.BackendFile, filepath.Join(t.TempDir(), "s.toml"))
	require.NoError(t, err)
	assert.IsType(t, &settings.FileStore{}, s)

	_, err = settings.Open("etcd", "")
	assert.Error(t, err)
}
