// Package legacy notifies the system auto-rotation endpoint of orientation
// changes the service decides on its own, so shell components that listen to
// it stay in sync.
package legacy

import (
	"errors"
	"fmt"
	"sync"

	"duodisplayd/internal/logging"
	"duodisplayd/internal/orientation"
)

// DefaultPortName is the rendezvous name of the auto-rotation endpoint.
const DefaultPortName = `\RPC Control\AutoRotationApiPort`

// ErrUnavailable is returned on platforms without the auto-rotation endpoint.
var ErrUnavailable = errors.New("legacy rotation endpoint unavailable")

// Port is a connected endpoint. Send delivers one message without waiting
// for a reply payload.
type Port interface {
	Send(msg []byte) error
	Close() error
}

// Dialer connects to a named port.
type Dialer interface {
	Dial(name string, maxMessageLength int) (Port, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(name string, maxMessageLength int) (Port, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(name string, maxMessageLength int) (Port, error) {
	return f(name, maxMessageLength)
}

// BehaviorSource reports whether the flipped-portrait rotation is to be
// kept from the endpoint.
type BehaviorSource interface {
	MobileBehavior() (bool, error)
}

// Notifier sends rotation commands over a lazily established connection.
// A failed connect is retried on the next notification; a successful one is
// kept for the lifetime of the notifier.
type Notifier struct {
	dialer   Dialer
	name     string
	behavior BehaviorSource
	log      *logging.Logger

	mu   sync.Mutex
	port Port
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPortName overrides DefaultPortName.
func WithPortName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.name = name
		}
	}
}

// WithBehavior installs the source of the mobile behavior flag.
func WithBehavior(b BehaviorSource) Option {
	return func(n *Notifier) { n.behavior = b }
}

// NewNotifier creates a notifier that connects through dialer on first use.
func NewNotifier(dialer Dialer, log *logging.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		dialer: dialer,
		name:   DefaultPortName,
		log:    logging.OrDefault(log).WithComponent("legacy"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyOrientationChange announces rotation to the endpoint. When mobile
// behavior is on, the flipped-portrait rotation is suppressed and reported
// as delivered.
func (n *Notifier) NotifyOrientationChange(rotation orientation.Rotation) error {
	if rotation == orientation.Rotate90 && n.behavior != nil {
		mobile, err := n.behavior.MobileBehavior()
		if err != nil {
			n.log.Debug("mobile behavior unreadable", "error", err)
		}
		if mobile {
			n.log.Debug("flipped portrait suppressed by mobile behavior")
			return nil
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.port == nil {
		port, err := n.dialer.Dial(n.name, MaxMessageLength)
		if err != nil {
			return fmt.Errorf("connect %s: %w", n.name, err)
		}
		n.port = port
		n.log.Info("connected to rotation endpoint", "port", n.name)
	}

	if err := n.port.Send(EncodeRotation(rotation)); err != nil {
		return fmt.Errorf("send rotation %s: %w", rotation, err)
	}
	n.log.Debug("rotation announced", "rotation", rotation)
	return nil
}

// Connected reports whether a port is held.
func (n *Notifier) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.port != nil
}

// Close releases the port, if any.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port == nil {
		return nil
	}
	err := n.port.Close()
	n.port = nil
	return err
}
