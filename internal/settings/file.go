package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// values mirrors the settings file. Pointers distinguish absent values.
type values struct {
	Enable         *uint32 `toml:"enable,omitempty"`
	SensorPresent  *uint32 `toml:"sensor_present,omitempty"`
	MobileBehavior *uint32 `toml:"mobile_behavior,omitempty"`
}

func isSet(v *uint32) bool {
	return v != nil && *v != 0
}

// FileStore keeps the settings in a TOML file and watches it with fsnotify.
// A missing file is ErrKeyUnavailable.
type FileStore struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFileStore creates a store for path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) read() (values, error) {
	var v values
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, ErrKeyUnavailable
		}
		return v, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return v, nil
}

// Enabled implements Store.
func (s *FileStore) Enabled() (bool, error) {
	v, err := s.read()
	if err != nil {
		return false, err
	}
	return isSet(v.Enable), nil
}

// MobileBehavior implements Store.
func (s *FileStore) MobileBehavior() (bool, error) {
	v, err := s.read()
	if err != nil {
		return false, err
	}
	return isSet(v.MobileBehavior), nil
}

// MarkSensorPresent implements Store. The file is not created when missing.
func (s *FileStore) MarkSensorPresent() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return err
	}
	if isSet(v.SensorPresent) {
		return nil
	}
	one := uint32(1)
	v.SensorPresent = &one
	return s.writeLocked(v)
}

// Set writes the Enable and MobileBehavior values, creating the file.
func (s *FileStore) Set(enable, mobileBehavior bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil && !errors.Is(err, ErrKeyUnavailable) {
		return err
	}
	v.Enable = flag(enable)
	v.MobileBehavior = flag(mobileBehavior)
	return s.writeLocked(v)
}

func flag(b bool) *uint32 {
	var n uint32
	if b {
		n = 1
	}
	return &n
}

func (s *FileStore) writeLocked(v values) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// WaitChange implements Store. The watcher is created on first use and kept,
// so changes between calls are not lost.
func (s *FileStore) WaitChange(ctx context.Context) error {
	w, err := s.ensureWatcher()
	if err != nil {
		return err
	}
	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("settings watcher closed")
			}
			if filepath.Clean(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("settings watcher closed")
			}
			return fmt.Errorf("watch settings: %w", err)
		}
	}
}

func (s *FileStore) ensureWatcher() (*fsnotify.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// the directory is watched because the file is replaced on every write
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	return w, nil
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
