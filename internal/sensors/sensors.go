// Package sensors defines the posture and flip sensor contracts consumed by
// the router and provides their implementations: a hub fed by an external
// bridge process and accelerometer-backed sensors for Linux.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duodisplayd/internal/orientation"
)

// ErrNotDiscovered is returned by operations that need a discovered sensor.
var ErrNotDiscovered = errors.New("sensor not discovered")

// HingeState is the fold category of the hinge.
type HingeState int

const (
	// HingeNotFull is any angle at which both panels form one surface.
	HingeNotFull HingeState = iota
	// HingeFull is folded back to back; only one panel faces the user.
	HingeFull
)

func (h HingeState) String() string {
	if h == HingeFull {
		return "full"
	}
	return "not_full"
}

// ParseHingeState parses the String form.
func ParseHingeState(s string) (HingeState, error) {
	switch s {
	case "full":
		return HingeFull, nil
	case "not_full":
		return HingeNotFull, nil
	}
	return HingeNotFull, fmt.Errorf("unknown hinge state %q", s)
}

// PostureReading is one posture sample.
type PostureReading struct {
	Panel1ID          string
	Panel2ID          string
	Panel1Orientation orientation.SimpleOrientation
	Panel2Orientation orientation.SimpleOrientation
	Hinge             HingeState
	Timestamp         time.Time
}

// GestureState is the phase of a flip gesture.
type GestureState int

const (
	GestureStarted GestureState = iota
	GestureUpdated
	GestureCompleted
	GestureCanceled
)

var gestureNames = [...]string{"started", "updated", "completed", "canceled"}

func (g GestureState) String() string {
	if g >= 0 && int(g) < len(gestureNames) {
		return gestureNames[g]
	}
	return fmt.Sprintf("gesture(%d)", int(g))
}

// ParseGestureState parses the String form.
func ParseGestureState(s string) (GestureState, error) {
	for i, name := range gestureNames {
		if name == s {
			return GestureState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown gesture state %q", s)
}

// FlipReading is one flip gesture sample.
type FlipReading struct {
	State     GestureState
	Timestamp time.Time
}

// PostureSensor reports the hinge posture. Subscribe returns a function that
// cancels the subscription; handlers run on the sensor's own goroutine.
type PostureSensor interface {
	Discover(ctx context.Context) error
	CurrentPosture(ctx context.Context) (PostureReading, error)
	SubscribePosture(handler func(PostureReading)) (cancel func(), err error)
}

// FlipSensor reports flip gestures.
type FlipSensor interface {
	Discover(ctx context.Context) error
	SubscribeFlip(handler func(FlipReading)) (cancel func(), err error)
}
