//go:build windows

package display

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	shcore = windows.NewLazySystemDLL("shcore.dll")

	procEnumDisplayMonitors   = user32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW       = user32.NewProc("GetMonitorInfoW")
	procSystemParametersInfoW = user32.NewProc("SystemParametersInfoW")
	procGetDpiForMonitor      = shcore.NewProc("GetDpiForMonitor")
)

const (
	defaultDPI          = 96
	mdtEffectiveDPI     = 0
	monitorInfoFPrimary = 0x1
	spiSetWorkArea      = 0x002F
)

// MONITORINFOEXW
type monitorInfo struct {
	cbSize  uint32
	monitor windows.Rect
	work    windows.Rect
	flags   uint32
	device  [32]uint16
}

var (
	enumMu       sync.Mutex
	enumMonitors []uintptr
	enumCallback = windows.NewCallback(func(monitor, hdc, rect, lparam uintptr) uintptr {
		enumMonitors = append(enumMonitors, monitor)
		return 1
	})
)

func monitors() ([]uintptr, error) {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumMonitors = nil
	ret, _, err := procEnumDisplayMonitors.Call(0, 0, enumCallback, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumDisplayMonitors: %w", err)
	}
	return append([]uintptr(nil), enumMonitors...), nil
}

func getMonitorInfo(h uintptr) (*monitorInfo, bool) {
	mi := &monitorInfo{}
	mi.cbSize = uint32(unsafe.Sizeof(*mi))
	ret, _, _ := procGetMonitorInfoW.Call(h, uintptr(unsafe.Pointer(mi)))
	return mi, ret != 0
}

func monitorScaling(h uintptr) (float64, bool) {
	var dpiX, dpiY uint32
	hr, _, _ := procGetDpiForMonitor.Call(h, mdtEffectiveDPI,
		uintptr(unsafe.Pointer(&dpiX)), uintptr(unsafe.Pointer(&dpiY)))
	if hr != 0 || dpiY == 0 {
		return 0, false
	}
	return float64(dpiY) / defaultDPI, true
}

// taskbarOffset is the DPI-normalized gap between the monitor and work area bottoms.
func taskbarOffset(mi *monitorInfo, scaling float64) float64 {
	return float64(mi.monitor.Bottom-mi.work.Bottom) / scaling
}

// ShellWorkAreaFixer widens the bottom of each secondary work area to match
// the taskbar reservation of the primary monitor. The shell reserves the
// expanded auto-hide taskbar height on secondary monitors after a topology
// change.
type ShellWorkAreaFixer struct{}

// NewSystemWorkAreaFixer returns the platform work-area fixer.
func NewSystemWorkAreaFixer() WorkAreaFixer {
	return ShellWorkAreaFixer{}
}

// FixWorkAreas implements WorkAreaFixer. Monitors whose info or DPI cannot be
// read are left alone; only a failure on the primary monitor is an error.
func (ShellWorkAreaFixer) FixWorkAreas() error {
	handles, err := monitors()
	if err != nil {
		return err
	}

	var (
		primary    *monitorInfo
		mainOffset float64
	)
	for _, h := range handles {
		mi, ok := getMonitorInfo(h)
		if !ok || mi.flags&monitorInfoFPrimary == 0 {
			continue
		}
		scaling, ok := monitorScaling(h)
		if !ok {
			return errors.New("GetDpiForMonitor failed on the primary monitor")
		}
		primary = mi
		mainOffset = taskbarOffset(mi, scaling)
		break
	}
	if primary == nil {
		return errors.New("no primary monitor")
	}

	for _, h := range handles {
		mi, ok := getMonitorInfo(h)
		if !ok {
			continue
		}
		scaling, ok := monitorScaling(h)
		if !ok {
			continue
		}
		diff := taskbarOffset(mi, scaling) - mainOffset
		if diff <= 0 {
			continue
		}
		work := mi.work
		work.Bottom += int32(diff * scaling)
		procSystemParametersInfoW.Call(spiSetWorkArea, 0, uintptr(unsafe.Pointer(&work)), 0)
	}
	return nil
}
