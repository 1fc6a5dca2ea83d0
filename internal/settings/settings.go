// Package settings reads the user-facing auto-rotation switches: the
// master Enable flag, the SensorPresent marker and MobileBehavior.
package settings

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyUnavailable means the settings location cannot be opened at all.
// Callers treat it as "no user control": auto-rotation stays enabled.
var ErrKeyUnavailable = errors.New("auto-rotation settings unavailable")

// Store is the settings backend. Absent values read as 0.
type Store interface {
	// Enabled reports the Enable value.
	Enabled() (bool, error)
	// WaitChange blocks until the settings change or ctx is done.
	WaitChange(ctx context.Context) error
	// MarkSensorPresent advertises that rotation sensors exist.
	MarkSensorPresent() error
	// MobileBehavior reports whether 90° portrait announcements are suppressed.
	MobileBehavior() (bool, error)
	Close() error
}

// Backends accepted by Open.
const (
	BackendRegistry = "registry"
	BackendFile     = "file"
)

// Open returns the store for backend. filePath is used by the file backend.
func Open(backend, filePath string) (Store, error) {
	switch backend {
	case BackendRegistry:
		return newRegistryStore()
	case BackendFile:
		return NewFileStore(filePath), nil
	default:
		return nil, fmt.Errorf("unknown settings backend %q", backend)
	}
}
