//go:build windows

package legacy

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	ntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtAlpcConnectPort         = ntdll.NewProc("NtAlpcConnectPort")
	procNtAlpcSendWaitReceivePort = ntdll.NewProc("NtAlpcSendWaitReceivePort")
)

const alpcMsgFlgSyncRequest = 0x20000

// ALPC_PORT_ATTRIBUTES, x64 layout
type alpcPortAttributes struct {
	flags                 uint32
	qosLength             uint32
	qosImpersonationLevel uint32
	qosContextTracking    uint8
	qosEffectiveOnly      uint8
	_                     [2]byte
	maxMessageLength      uintptr
	memoryBandwidth       uintptr
	maxPoolUsage          uintptr
	maxSectionSize        uintptr
	maxViewSize           uintptr
	maxTotalSectionSize   uintptr
	dupObjectTypes        uint32
	reserved              uint32
}

type alpcPort struct {
	handle windows.Handle
}

func ntFailed(status uintptr) bool {
	return int32(status) < 0
}

// SystemDialer returns the platform dialer, which connects ALPC ports.
func SystemDialer() Dialer {
	return DialerFunc(dialALPC)
}

func dialALPC(name string, maxMessageLength int) (Port, error) {
	if err := procNtAlpcConnectPort.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	portName, err := windows.NewNTUnicodeString(name)
	if err != nil {
		return nil, err
	}
	var objAttrs windows.OBJECT_ATTRIBUTES
	objAttrs.Length = uint32(unsafe.Sizeof(objAttrs))

	attrs := alpcPortAttributes{maxMessageLength: uintptr(maxMessageLength)}

	var handle windows.Handle
	status, _, _ := procNtAlpcConnectPort.Call(
		uintptr(unsafe.Pointer(&handle)),
		uintptr(unsafe.Pointer(portName)),
		uintptr(unsafe.Pointer(&objAttrs)),
		uintptr(unsafe.Pointer(&attrs)),
		alpcMsgFlgSyncRequest,
		0, 0, 0, 0, 0, 0,
	)
	if ntFailed(status) {
		return nil, fmt.Errorf("NtAlpcConnectPort: %w", windows.NTStatus(status))
	}
	return &alpcPort{handle: handle}, nil
}

// Send implements Port.
func (p *alpcPort) Send(msg []byte) error {
	status, _, _ := procNtAlpcSendWaitReceivePort.Call(
		uintptr(p.handle),
		0,
		uintptr(unsafe.Pointer(&msg[0])),
		0, 0, 0, 0, 0,
	)
	if ntFailed(status) {
		return fmt.Errorf("NtAlpcSendWaitReceivePort: %w", windows.NTStatus(status))
	}
	return nil
}

// Close implements Port.
func (p *alpcPort) Close() error {
	return windows.CloseHandle(p.handle)
}
