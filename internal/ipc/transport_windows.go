//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const pipeBufferSize = 64 * 1024

// The service runs as LocalSystem; interactive users may read and write.
const pipeSDDL = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;IU)"

var (
	kernel32                        = windows.NewLazySystemDLL("kernel32.dll")
	procGetNamedPipeClientProcessId = kernel32.NewProc("GetNamedPipeClientProcessId")
)

// PeerCredentials holds the credentials of a peer process. Only PID is
// available on Windows.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// GetPeerCredentials returns the process id of the pipe client.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	pc, ok := conn.(*pipeConn)
	if !ok || !pc.server {
		return nil, errors.New("not a server pipe connection")
	}
	var pid uint32
	r, _, err := procGetNamedPipeClientProcessId.Call(uintptr(pc.handle), uintptr(unsafe.Pointer(&pid)))
	if r == 0 {
		return nil, fmt.Errorf("GetNamedPipeClientProcessId: %w", err)
	}
	return &PeerCredentials{PID: int(pid)}, nil
}

// PipePath maps a socket path to a named pipe path. Pipe paths pass through.
func PipePath(path string) string {
	if strings.HasPrefix(path, `\\.\pipe\`) {
		return path
	}
	base := filepath.Base(path)
	return `\\.\pipe\` + strings.TrimSuffix(base, filepath.Ext(base))
}

func listen(path string) (net.Listener, error) {
	sd, err := windows.SecurityDescriptorFromString(pipeSDDL)
	if err != nil {
		return nil, fmt.Errorf("pipe security descriptor: %w", err)
	}
	return &pipeListener{name: PipePath(path), sd: sd}, nil
}

func removeSocket(string) {}

func dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	name := PipePath(path)
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		h, err := windows.CreateFile(p, windows.GENERIC_READ|windows.GENERIC_WRITE, 0, nil,
			windows.OPEN_EXISTING, 0, 0)
		if err == nil {
			return &pipeConn{handle: h, name: name}, nil
		}
		switch {
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND):
			return nil, ErrDaemonNotRunning
		case !errors.Is(err, windows.ERROR_PIPE_BUSY):
			return nil, err
		case time.Now().After(deadline):
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type pipeListener struct {
	name string
	sd   *windows.SECURITY_DESCRIPTOR

	mu     sync.Mutex
	closed bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	if l.isClosed() {
		return nil, net.ErrClosed
	}

	p, err := windows.UTF16PtrFromString(l.name)
	if err != nil {
		return nil, err
	}
	sa := &windows.SecurityAttributes{SecurityDescriptor: l.sd}
	sa.Length = uint32(unsafe.Sizeof(*sa))
	h, err := windows.CreateNamedPipe(p,
		windows.PIPE_ACCESS_DUPLEX,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		windows.PIPE_UNLIMITED_INSTANCES, pipeBufferSize, pipeBufferSize, 0, sa)
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	if err := windows.ConnectNamedPipe(h, nil); err != nil && !errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("connect pipe: %w", err)
	}
	if l.isClosed() {
		windows.DisconnectNamedPipe(h)
		windows.CloseHandle(h)
		return nil, net.ErrClosed
	}
	return &pipeConn{handle: h, name: l.name, server: true}, nil
}

func (l *pipeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close wakes a pending Accept by connecting to the pipe once.
func (l *pipeListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if conn, err := dial(context.Background(), l.name, time.Second); err == nil {
		conn.Close()
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr(l.name) }

type pipeConn struct {
	handle windows.Handle
	name   string
	server bool
	once   sync.Once
}

func (c *pipeConn) Read(b []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(c.handle, b, &n, nil)
	if errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED) {
		return int(n), io.EOF
	}
	if errors.Is(err, windows.ERROR_OPERATION_ABORTED) || errors.Is(err, windows.ERROR_INVALID_HANDLE) {
		return int(n), net.ErrClosed
	}
	return int(n), err
}

func (c *pipeConn) Write(b []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(c.handle, b, &n, nil)
	return int(n), err
}

// Close cancels blocked I/O before closing the handle.
func (c *pipeConn) Close() error {
	var err error
	c.once.Do(func() {
		windows.CancelIoEx(c.handle, nil)
		if c.server {
			windows.DisconnectNamedPipe(c.handle)
		}
		err = windows.CloseHandle(c.handle)
	})
	return err
}

func (c *pipeConn) LocalAddr() net.Addr  { return pipeAddr(c.name) }
func (c *pipeConn) RemoteAddr() net.Addr { return pipeAddr(c.name) }

// Deadlines are not supported on synchronous pipe handles; Close unblocks
// pending reads instead.
func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
