//go:build windows

package devnode

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	setupapi = windows.NewLazySystemDLL("setupapi.dll")

	setupDiGetClassDevsW          = setupapi.NewProc("SetupDiGetClassDevsW")
	setupDiEnumDeviceInfo         = setupapi.NewProc("SetupDiEnumDeviceInfo")
	setupDiGetDevicePropertyW     = setupapi.NewProc("SetupDiGetDevicePropertyW")
	setupDiSetClassInstallParamsW = setupapi.NewProc("SetupDiSetClassInstallParamsW")
	setupDiChangeState            = setupapi.NewProc("SetupDiChangeState")
	setupDiDestroyDeviceInfoList  = setupapi.NewProc("SetupDiDestroyDeviceInfoList")
)

const (
	digcfAllClasses = 0x4

	difPropertyChange = 0x12
	dicsEnable        = 0x1
	dicsDisable       = 0x2
	dicsFlagGlobal    = 0x1

	errorInsufficientBuffer = syscall.Errno(122)
	errorNoMoreItems        = syscall.Errno(259)

	invalidHandleValue = ^uintptr(0)
)

type devPropKey struct {
	fmtid windows.GUID
	pid   uint32
}

var (
	pkeyHardwareIDs = devPropKey{
		fmtid: windows.GUID{Data1: 0xa45c254e, Data2: 0xdf1c, Data3: 0x4efd, Data4: [8]byte{0x80, 0x20, 0x67, 0xd1, 0x46, 0xa8, 0x50, 0xe0}},
		pid:   3,
	}
	pkeyDriver = devPropKey{
		fmtid: windows.GUID{Data1: 0xa45c254e, Data2: 0xdf1c, Data3: 0x4efd, Data4: [8]byte{0x80, 0x20, 0x67, 0xd1, 0x46, 0xa8, 0x50, 0xe0}},
		pid:   11,
	}
	pkeyPanelID = devPropKey{
		fmtid: windows.GUID{Data1: 0x8dbc9c86, Data2: 0x97a9, Data3: 0x4bff, Data4: [8]byte{0x9b, 0xc6, 0xbf, 0xe9, 0x5d, 0x3e, 0x6d, 0xad}},
		pid:   2,
	}
)

// SP_DEVINFO_DATA
type spDevinfoData struct {
	cbSize    uint32
	classGUID windows.GUID
	devInst   uint32
	reserved  uintptr
}

// SP_PROPCHANGE_PARAMS
type spPropChangeParams struct {
	cbSize          uint32
	installFunction uint32
	stateChange     uint32
	scope           uint32
	hwProfile       uint32
}

// SetupTree walks every device node known to SetupAPI across all classes.
type SetupTree struct{}

// NewSystemTree returns the SetupAPI device tree.
func NewSystemTree() Tree {
	return SetupTree{}
}

// Walk implements Tree.
func (SetupTree) Walk(visit func(Node) bool) error {
	set, _, callErr := setupDiGetClassDevsW.Call(0, 0, 0, digcfAllClasses)
	if set == invalidHandleValue {
		return fmt.Errorf("SetupDiGetClassDevs: %w", callErr)
	}
	defer setupDiDestroyDeviceInfoList.Call(set)

	for i := uint32(0); ; i++ {
		data := spDevinfoData{}
		data.cbSize = uint32(unsafe.Sizeof(data))
		ret, _, callErr := setupDiEnumDeviceInfo.Call(set, uintptr(i), uintptr(unsafe.Pointer(&data)))
		if ret == 0 {
			if errors.Is(callErr, errorNoMoreItems) {
				return nil
			}
			return fmt.Errorf("SetupDiEnumDeviceInfo(%d): %w", i, callErr)
		}
		if visit(&setupNode{set: set, data: data}) {
			return nil
		}
	}
}

type setupNode struct {
	set  uintptr
	data spDevinfoData
}

func (n *setupNode) property(key *devPropKey) ([]byte, error) {
	var propType, size uint32
	ret, _, callErr := setupDiGetDevicePropertyW.Call(
		n.set,
		uintptr(unsafe.Pointer(&n.data)),
		uintptr(unsafe.Pointer(key)),
		uintptr(unsafe.Pointer(&propType)),
		0, 0,
		uintptr(unsafe.Pointer(&size)),
		0,
	)
	if ret == 0 && !errors.Is(callErr, errorInsufficientBuffer) {
		return nil, callErr
	}
	if size == 0 {
		return nil, fmt.Errorf("property %d is empty", key.pid)
	}

	buf := make([]byte, size)
	ret, _, callErr = setupDiGetDevicePropertyW.Call(
		n.set,
		uintptr(unsafe.Pointer(&n.data)),
		uintptr(unsafe.Pointer(key)),
		uintptr(unsafe.Pointer(&propType)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(size),
		0, 0,
	)
	if ret == 0 {
		return nil, callErr
	}
	return buf, nil
}

func (n *setupNode) HardwareIDs() ([]string, error) {
	buf, err := n.property(&pkeyHardwareIDs)
	if err != nil {
		return nil, err
	}
	return DecodeMultiSZBytes(buf), nil
}

func (n *setupNode) Driver() ([]string, error) {
	buf, err := n.property(&pkeyDriver)
	if err != nil {
		return nil, err
	}
	return DecodeMultiSZBytes(buf), nil
}

func (n *setupNode) PanelID() (string, error) {
	buf, err := n.property(&pkeyPanelID)
	if err != nil {
		return "", err
	}
	entries := DecodeMultiSZBytes(buf)
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0], nil
}

func (n *setupNode) SetEnabled(enabled bool) error {
	params := spPropChangeParams{
		installFunction: difPropertyChange,
		stateChange:     dicsDisable,
		scope:           dicsFlagGlobal,
	}
	// cbSize covers only the SP_CLASSINSTALL_HEADER
	params.cbSize = 8
	if enabled {
		params.stateChange = dicsEnable
	}

	ret, _, callErr := setupDiSetClassInstallParamsW.Call(
		n.set,
		uintptr(unsafe.Pointer(&n.data)),
		uintptr(unsafe.Pointer(&params)),
		unsafe.Sizeof(params),
	)
	if ret == 0 {
		return fmt.Errorf("SetupDiSetClassInstallParams: %w", callErr)
	}

	ret, _, callErr = setupDiChangeState.Call(n.set, uintptr(unsafe.Pointer(&n.data)))
	if ret == 0 {
		return fmt.Errorf("SetupDiChangeState: %w", callErr)
	}
	return nil
}
