//go:build windows

package display

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"duodisplayd/internal/orientation"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procEnumDisplayDevicesW      = user32.NewProc("EnumDisplayDevicesW")
	procEnumDisplaySettingsW     = user32.NewProc("EnumDisplaySettingsW")
	procChangeDisplaySettingsExW = user32.NewProc("ChangeDisplaySettingsExW")
	procSetDisplayConfig         = user32.NewProc("SetDisplayConfig")
)

const (
	displayDeviceAttachedToDesktop = 0x1

	enumCurrentSettings = 0xFFFFFFFF

	dmPosition           = 0x00000020
	dmDisplayOrientation = 0x00000080
	dmBitsPerPel         = 0x00040000
	dmPelsWidth          = 0x00080000
	dmPelsHeight         = 0x00100000
	dmDisplayFrequency   = 0x00400000

	cdsUpdateRegistry = 0x00000001
	cdsGlobal         = 0x00000008
	cdsSetPrimary     = 0x00000010
	cdsNoReset        = 0x10000000

	dispChangeSuccessful = 0

	sdcTopologyExtend        = 0x00000004
	sdcApply                 = 0x00000080
	sdcPathPersistIfRequired = 0x00000800
)

// DISPLAY_DEVICEW
type displayDevice struct {
	cb           uint32
	deviceName   [32]uint16
	deviceString [128]uint16
	stateFlags   uint32
	deviceID     [128]uint16
	deviceKey    [128]uint16
}

// DEVMODEW, display variant of the union.
type devMode struct {
	deviceName         [32]uint16
	specVersion        uint16
	driverVersion      uint16
	size               uint16
	driverExtra        uint16
	fields             uint32
	positionX          int32
	positionY          int32
	displayOrientation uint32
	displayFixedOutput uint32
	color              int16
	duplex             int16
	yResolution        int16
	ttOption           int16
	collate            int16
	formName           [32]uint16
	logPixels          uint16
	bitsPerPel         uint32
	pelsWidth          uint32
	pelsHeight         uint32
	displayFlags       uint32
	displayFrequency   uint32
	icmMethod          uint32
	icmIntent          uint32
	mediaType          uint32
	ditherType         uint32
	reserved1          uint32
	reserved2          uint32
	panningWidth       uint32
	panningHeight      uint32
}

func newDevMode() *devMode {
	dm := &devMode{}
	dm.size = uint16(unsafe.Sizeof(*dm))
	return dm
}

func (dm *devMode) toMode() Mode {
	return Mode{
		Width:        int(dm.pelsWidth),
		Height:       int(dm.pelsHeight),
		X:            int(dm.positionX),
		Y:            int(dm.positionY),
		Rotation:     orientation.Rotation(dm.displayOrientation),
		Frequency:    int(dm.displayFrequency),
		BitsPerPixel: int(dm.bitsPerPel),
	}
}

func fromMode(m Mode) *devMode {
	dm := newDevMode()
	dm.fields = dmPosition | dmDisplayOrientation | dmPelsWidth | dmPelsHeight
	dm.pelsWidth = uint32(m.Width)
	dm.pelsHeight = uint32(m.Height)
	dm.positionX = int32(m.X)
	dm.positionY = int32(m.Y)
	dm.displayOrientation = uint32(m.Rotation)
	if m.BitsPerPixel > 0 {
		dm.fields |= dmBitsPerPel
		dm.bitsPerPel = uint32(m.BitsPerPixel)
	}
	if m.Frequency > 0 {
		dm.fields |= dmDisplayFrequency
		dm.displayFrequency = uint32(m.Frequency)
	}
	return dm
}

// GDI drives the display configuration through the user32 GDI display APIs.
type GDI struct{}

// NewSystemSubsystem returns the platform display subsystem.
func NewSystemSubsystem() (Subsystem, error) {
	if err := procChangeDisplaySettingsExW.Find(); err != nil {
		return nil, fmt.Errorf("user32 display API unavailable: %w", err)
	}
	return GDI{}, nil
}

func enumDisplayDevice(parent *uint16, index uint32) (*displayDevice, bool) {
	dd := &displayDevice{}
	dd.cb = uint32(unsafe.Sizeof(*dd))
	ret, _, _ := procEnumDisplayDevicesW.Call(
		uintptr(unsafe.Pointer(parent)),
		uintptr(index),
		uintptr(unsafe.Pointer(dd)),
		0,
	)
	return dd, ret != 0
}

// Devices implements Subsystem. Adapters without a monitor are skipped.
func (GDI) Devices() ([]Device, error) {
	var devices []Device
	for i := uint32(0); ; i++ {
		adapter, ok := enumDisplayDevice(nil, i)
		if !ok {
			break
		}
		monitor, ok := enumDisplayDevice(&adapter.deviceName[0], 0)
		if !ok {
			continue
		}
		devices = append(devices, Device{
			Name:      windows.UTF16ToString(adapter.deviceName[:]),
			MonitorID: windows.UTF16ToString(monitor.deviceID[:]),
			Attached:  adapter.stateFlags&displayDeviceAttachedToDesktop != 0,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("EnumDisplayDevices: no adapter with a monitor")
	}
	return devices, nil
}

func enumSettings(name string, index uint32) (*devMode, bool, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, false, err
	}
	dm := newDevMode()
	ret, _, _ := procEnumDisplaySettingsW.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(index),
		uintptr(unsafe.Pointer(dm)),
	)
	return dm, ret != 0, nil
}

// CurrentMode implements Subsystem.
func (GDI) CurrentMode(dev Device) (Mode, error) {
	dm, ok, err := enumSettings(dev.Name, enumCurrentSettings)
	if err != nil {
		return Mode{}, err
	}
	if !ok {
		return Mode{}, fmt.Errorf("EnumDisplaySettings(%s, current) failed", dev.Name)
	}
	return dm.toMode(), nil
}

// Modes implements Subsystem.
func (GDI) Modes(dev Device) ([]Mode, error) {
	var modes []Mode
	for i := uint32(0); ; i++ {
		dm, ok, err := enumSettings(dev.Name, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		modes = append(modes, dm.toMode())
	}
	return modes, nil
}

func changeDisplaySettings(name *uint16, dm *devMode, flags uint32) error {
	ret, _, _ := procChangeDisplaySettingsExW.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(dm)),
		0,
		uintptr(flags),
		0,
	)
	if code := int32(ret); code != dispChangeSuccessful {
		return fmt.Errorf("ChangeDisplaySettingsEx: DISP_CHANGE %d", code)
	}
	return nil
}

// Apply implements Subsystem.
func (GDI) Apply(dev Device, mode Mode, flags ApplyFlags) error {
	name, err := windows.UTF16PtrFromString(dev.Name)
	if err != nil {
		return err
	}

	var cds uint32
	if flags&UpdateRegistry != 0 {
		cds |= cdsUpdateRegistry
	}
	if flags&Global != 0 {
		cds |= cdsGlobal
	}
	if flags&NoReset != 0 {
		cds |= cdsNoReset
	}
	if flags&SetPrimary != 0 {
		cds |= cdsSetPrimary
	}
	return changeDisplaySettings(name, fromMode(mode), cds)
}

// Commit implements Subsystem.
func (GDI) Commit() error {
	return changeDisplaySettings(nil, nil, 0)
}

// ExtendTopology implements Subsystem.
func (GDI) ExtendTopology() error {
	ret, _, _ := procSetDisplayConfig.Call(0, 0, 0, 0, sdcApply|sdcTopologyExtend|sdcPathPersistIfRequired)
	if ret != 0 {
		return fmt.Errorf("SetDisplayConfig: %w", windows.Errno(ret))
	}
	return nil
}
