//go:build !linux && !windows

package ipc

import (
	"errors"
	"net"
)

// PeerCredentials holds the credentials of a peer process
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// GetPeerCredentials is not supported on this platform.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials not supported")
}
