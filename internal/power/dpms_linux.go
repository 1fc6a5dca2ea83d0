//go:build linux

package power

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/dpms"

	"duodisplayd/internal/logging"
)

// DPMSSource polls the X server's DPMS power level. It has no system events.
type DPMSSource struct {
	conn     *xgb.Conn
	interval time.Duration
	log      *logging.Logger
}

// NewDPMSSource initializes the DPMS extension on conn.
func NewDPMSSource(conn *xgb.Conn, interval time.Duration, log *logging.Logger) (*DPMSSource, error) {
	if err := dpms.Init(conn); err != nil {
		return nil, fmt.Errorf("DPMS extension: %w", err)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &DPMSSource{conn: conn, interval: interval, log: logging.OrDefault(log).WithComponent("dpms")}, nil
}

// DisplayStateFromDPMS maps a DPMS power level. A disabled DPMS never
// powers the display down.
func DisplayStateFromDPMS(enabled bool, level uint16) DisplayState {
	if !enabled {
		return DisplayOn
	}
	switch level {
	case dpms.DPMSModeOff:
		return DisplayOff
	case dpms.DPMSModeStandby, dpms.DPMSModeSuspend:
		return DisplayDimmed
	default:
		return DisplayOn
	}
}

func (s *DPMSSource) current() (DisplayState, error) {
	info, err := dpms.Info(s.conn).Reply()
	if err != nil {
		return DisplayOn, err
	}
	return DisplayStateFromDPMS(info.State, info.PowerLevel), nil
}

// SubscribeDisplay implements Source. Only changes are reported.
func (s *DPMSSource) SubscribeDisplay(fn func(DisplayState)) (func(), error) {
	last, err := s.current()
	if err != nil {
		return nil, fmt.Errorf("DPMS info: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				state, err := s.current()
				if err != nil {
					s.log.Debug("DPMS poll failed", "error", err)
					continue
				}
				if state != last {
					last = state
					fn(state)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}, nil
}

// SubscribeSystem implements Source.
func (s *DPMSSource) SubscribeSystem(func(SystemEvent)) (func(), error) {
	return func() {}, nil
}
