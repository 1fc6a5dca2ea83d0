//go:build windows

package power

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterPowerSettingNotification   = user32.NewProc("RegisterPowerSettingNotification")
	procUnregisterPowerSettingNotification = user32.NewProc("UnregisterPowerSettingNotification")
)

// GUID_CONSOLE_DISPLAY_STATE
var guidConsoleDisplayState = windows.GUID{
	Data1: 0x6fe69556,
	Data2: 0x704a,
	Data3: 0x47a0,
	Data4: [8]byte{0x8f, 0x24, 0xc2, 0x8d, 0x93, 0x6f, 0xda, 0x47},
}

const deviceNotifyServiceHandle = 1

// POWERBROADCAST_SETTING; DataLength bytes of data follow the header.
type powerBroadcastSetting struct {
	powerSetting windows.GUID
	dataLength   uint32
	data         [1]byte
}

// RegisterDisplayNotifications asks the power manager to send console
// display state changes to the service identified by its status handle.
func RegisterDisplayNotifications(service windows.Handle) (unregister func() error, err error) {
	h, _, callErr := procRegisterPowerSettingNotification.Call(
		uintptr(service),
		uintptr(unsafe.Pointer(&guidConsoleDisplayState)),
		deviceNotifyServiceHandle,
	)
	if h == 0 {
		return nil, fmt.Errorf("RegisterPowerSettingNotification: %w", callErr)
	}
	return func() error {
		r, _, err := procUnregisterPowerSettingNotification.Call(h)
		if r == 0 {
			return fmt.Errorf("UnregisterPowerSettingNotification: %w", err)
		}
		return nil
	}, nil
}

// HandleServiceEvent publishes the event carried by a power event control
// request. It reports whether the event was recognized.
func (b *Broadcaster) HandleServiceEvent(eventType uint32, eventData uintptr) bool {
	if eventType != PBTPowerSettingChange {
		e, err := SystemEventFromBroadcast(eventType)
		if err != nil {
			return false
		}
		b.PublishSystem(e)
		return true
	}

	if eventData == 0 {
		return false
	}
	setting := (*powerBroadcastSetting)(unsafe.Pointer(eventData))
	if setting.powerSetting != guidConsoleDisplayState || setting.dataLength < 4 {
		return false
	}
	s, err := DisplayStateFromConsole(*(*uint32)(unsafe.Pointer(&setting.data[0])))
	if err != nil {
		return false
	}
	b.PublishDisplay(s)
	return true
}
