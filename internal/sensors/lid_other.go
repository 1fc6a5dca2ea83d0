//go:build !linux

package sensors

import "errors"

// LogindLid is only available on Linux.
type LogindLid struct{}

// NewLogindLid always fails outside Linux.
func NewLogindLid() (*LogindLid, error) {
	return nil, errors.New("logind lid switch requires linux")
}

// LidClosed implements LidSwitch.
func (*LogindLid) LidClosed() (bool, error) {
	return false, errors.New("logind lid switch requires linux")
}

// Close is a no-op.
func (*LogindLid) Close() error { return nil }
