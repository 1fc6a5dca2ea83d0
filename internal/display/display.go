// Package display resolves physical panels to OS display devices and
// abstracts the mode-setting calls the engine issues against them.
package display

import (
	"errors"
	"fmt"
	"strings"

	"duodisplayd/internal/orientation"
)

// ErrNotFound is returned when a panel cannot be bound to a display device or
// when a device has no usable mode.
var ErrNotFound = errors.New("display device not found")

// Device is one display adapter together with its first monitor.
type Device struct {
	// Name is the adapter name mode changes are addressed to.
	Name string
	// MonitorID is the hardware path of the monitor driven by the adapter.
	MonitorID string
	// Attached is true when the adapter is part of the desktop.
	Attached bool
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.MonitorID)
}

// Mode is a display mode and its desktop placement.
type Mode struct {
	Width        int
	Height       int
	X            int
	Y            int
	Rotation     orientation.Rotation
	Frequency    int
	BitsPerPixel int
}

// Size returns the pixel extent of the mode.
func (m Mode) Size() orientation.Size {
	return orientation.Size{Width: m.Width, Height: m.Height}
}

// Position returns the desktop origin of the mode.
func (m Mode) Position() orientation.Point {
	return orientation.Point{X: m.X, Y: m.Y}
}

// IsZero reports whether the mode detaches its device.
func (m Mode) IsZero() bool {
	return m.Width == 0 && m.Height == 0
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d+%d+%d@%s", m.Width, m.Height, m.X, m.Y, m.Rotation)
}

// ApplyFlags modify how a pending mode is written.
type ApplyFlags uint32

const (
	UpdateRegistry ApplyFlags = 1 << iota
	Global
	NoReset
	SetPrimary
)

func (f ApplyFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, flag := range []struct {
		bit  ApplyFlags
		name string
	}{
		{UpdateRegistry, "update_registry"},
		{Global, "global"},
		{NoReset, "no_reset"},
		{SetPrimary, "set_primary"},
	} {
		if f&flag.bit != 0 {
			parts = append(parts, flag.name)
		}
	}
	return strings.Join(parts, "|")
}

// Subsystem is the OS display configuration API.
//
// Apply stages a mode for one device. Staged modes take effect on Commit,
// which resets all monitors at once.
type Subsystem interface {
	Devices() ([]Device, error)
	CurrentMode(dev Device) (Mode, error)
	Modes(dev Device) ([]Mode, error)
	Apply(dev Device, mode Mode, flags ApplyFlags) error
	Commit() error

	// ExtendTopology switches every connected output to an extended desktop.
	ExtendTopology() error
}

// WorkAreaFixer corrects per-monitor work areas after a topology change.
type WorkAreaFixer interface {
	FixWorkAreas() error
}

// WorkAreaFixerFunc adapts a function to WorkAreaFixer.
type WorkAreaFixerFunc func() error

// FixWorkAreas implements WorkAreaFixer.
func (f WorkAreaFixerFunc) FixWorkAreas() error {
	return f()
}

// NoopWorkAreaFixer is used on platforms whose shell manages work areas.
var NoopWorkAreaFixer = WorkAreaFixerFunc(func() error { return nil })
