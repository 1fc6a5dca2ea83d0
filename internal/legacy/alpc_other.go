//go:build !windows

package legacy

// SystemDialer returns the platform dialer. There is no auto-rotation
// endpoint outside Windows.
func SystemDialer() Dialer {
	return DialerFunc(func(string, int) (Port, error) {
		return nil, ErrUnavailable
	})
}
