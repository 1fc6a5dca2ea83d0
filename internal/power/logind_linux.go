//go:build linux

package power

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"duodisplayd/internal/logging"
)

const (
	logindPath      = "/org/freedesktop/login1"
	logindInterface = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"
)

// LogindSource reports suspend and resume from the systemd-logind
// PrepareForSleep signal. It has no display events.
type LogindSource struct {
	conn *dbus.Conn
	log  *logging.Logger
}

// NewLogindSource connects to the system bus.
func NewLogindSource(log *logging.Logger) (*LogindSource, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &LogindSource{conn: conn, log: logging.OrDefault(log).WithComponent("logind")}, nil
}

// SubscribeDisplay implements Source. logind does not report display power.
func (s *LogindSource) SubscribeDisplay(func(DisplayState)) (func(), error) {
	return func() {}, nil
}

// SubscribeSystem implements Source. PrepareForSleep(true) maps to Suspend
// and PrepareForSleep(false) to ResumeSuspend.
func (s *LogindSource) SubscribeSystem(fn func(SystemEvent)) (func(), error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember(prepareForSleep),
	}
	if err := s.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("match PrepareForSleep: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	s.conn.Signal(signals)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Name != logindInterface+"."+prepareForSleep || len(sig.Body) != 1 {
					continue
				}
				starting, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				if starting {
					fn(Suspend)
				} else {
					fn(ResumeSuspend)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.conn.RemoveSignal(signals)
			if err := s.conn.RemoveMatchSignal(opts...); err != nil {
				s.log.Debug("remove PrepareForSleep match", "error", err)
			}
			close(stop)
			<-done
		})
	}, nil
}

// Close releases the bus connection.
func (s *LogindSource) Close() error {
	return s.conn.Close()
}
