//go:build linux

package sensors

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// logind D-Bus names
const (
	logindService   = "org.freedesktop.login1"
	logindPath      = "/org/freedesktop/login1"
	logindLidClosed = "org.freedesktop.login1.Manager.LidClosed"
)

// LogindLid reads the lid switch from systemd-logind.
type LogindLid struct {
	conn *dbus.Conn
}

// NewLogindLid connects to the system bus.
func NewLogindLid() (*LogindLid, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &LogindLid{conn: conn}, nil
}

// LidClosed implements LidSwitch.
func (l *LogindLid) LidClosed() (bool, error) {
	v, err := l.conn.Object(logindService, logindPath).GetProperty(logindLidClosed)
	if err != nil {
		return false, fmt.Errorf("get LidClosed: %w", err)
	}
	closed, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("LidClosed has type %s", v.Signature())
	}
	return closed, nil
}

// Close releases the bus connection.
func (l *LogindLid) Close() error {
	return l.conn.Close()
}
