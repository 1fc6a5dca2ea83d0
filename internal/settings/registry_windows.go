//go:build windows

package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// AutoRotationKeyPath is the machine-wide auto-rotation key.
const AutoRotationKeyPath = `SOFTWARE\Microsoft\Windows\CurrentVersion\AutoRotation`

const notifyFilter = windows.REG_NOTIFY_CHANGE_LAST_SET | windows.REG_NOTIFY_CHANGE_NAME |
	windows.REG_NOTIFY_CHANGE_ATTRIBUTES | windows.REG_NOTIFY_CHANGE_SECURITY

// pollSlice bounds how long a wait ignores ctx.
const pollSlice = 250 // ms

// RegistryStore reads the settings from the AutoRotation registry key.
type RegistryStore struct {
	root registry.Key
	path string

	mu    sync.Mutex
	key   registry.Key
	event windows.Handle
	armed bool
}

// NewRegistryStore creates a store for HKLM\AutoRotationKeyPath.
func NewRegistryStore() *RegistryStore {
	return &RegistryStore{root: registry.LOCAL_MACHINE, path: AutoRotationKeyPath}
}

func newRegistryStore() (Store, error) {
	return NewRegistryStore(), nil
}

func (s *RegistryStore) readDWORD(name string) (bool, error) {
	k, err := registry.OpenKey(s.root, s.path, registry.QUERY_VALUE)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer k.Close()

	v, _, err := k.GetIntegerValue(name)
	if err != nil {
		// absent or mistyped values read as 0
		return false, nil
	}
	return v != 0, nil
}

// Enabled implements Store.
func (s *RegistryStore) Enabled() (bool, error) {
	return s.readDWORD("Enable")
}

// MobileBehavior implements Store.
func (s *RegistryStore) MobileBehavior() (bool, error) {
	return s.readDWORD("MobileBehavior")
}

// MarkSensorPresent implements Store.
func (s *RegistryStore) MarkSensorPresent() error {
	k, err := registry.OpenKey(s.root, s.path, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer k.Close()
	if err := k.SetDWordValue("SensorPresent", 1); err != nil {
		return fmt.Errorf("set SensorPresent: %w", err)
	}
	return nil
}

func (s *RegistryStore) armLocked() error {
	if s.event == 0 {
		k, err := registry.OpenKey(s.root, s.path, registry.NOTIFY|registry.QUERY_VALUE)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		ev, err := windows.CreateEvent(nil, 0, 0, nil)
		if err != nil {
			k.Close()
			return fmt.Errorf("CreateEvent: %w", err)
		}
		s.key, s.event = k, ev
	}
	if s.armed {
		return nil
	}
	if err := windows.RegNotifyChangeKeyValue(windows.Handle(s.key), false, notifyFilter, s.event, true); err != nil {
		return fmt.Errorf("RegNotifyChangeKeyValue: %w", err)
	}
	s.armed = true
	return nil
}

// WaitChange implements Store. The notification is re-armed as soon as it
// fires so changes between calls are not lost.
func (s *RegistryStore) WaitChange(ctx context.Context) error {
	s.mu.Lock()
	err := s.armLocked()
	event := s.event
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ret, err := windows.WaitForSingleObject(event, pollSlice)
		switch {
		case err != nil:
			return fmt.Errorf("wait for settings change: %w", err)
		case ret == windows.WAIT_OBJECT_0:
			s.mu.Lock()
			s.armed = false
			err := s.armLocked()
			s.mu.Unlock()
			return err
		case ret == uint32(windows.WAIT_TIMEOUT):
			continue
		default:
			return errors.New("wait for settings change: unexpected result")
		}
	}
}

// Close releases the notification handles.
func (s *RegistryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.event != 0 {
		errs = append(errs, windows.CloseHandle(s.event))
		s.event = 0
	}
	if s.key != 0 {
		errs = append(errs, s.key.Close())
		s.key = 0
	}
	s.armed = false
	return errors.Join(errs...)
}
