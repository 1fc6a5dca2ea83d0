package router

import (
	"fmt"

	"duodisplayd/internal/power"
	"duodisplayd/internal/sensors"
)

// SourceState is the subscription state of one event source.
type SourceState int

const (
	Unsubscribed SourceState = iota
	Subscribed
)

func (s SourceState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// MarshalText renders the state by name in status output.
func (s SourceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source identifies an event source.
type Source int

const (
	SourcePosture Source = iota
	SourceFlip
	SourceDisplay
	SourceSystem
	numSources
)

var sourceNames = [numSources]string{"posture", "flip", "display_power", "system_power"}

func (s Source) String() string {
	if s >= 0 && s < numSources {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// EventKind discriminates Event.
type EventKind int

const (
	EventPosture EventKind = iota
	EventFlip
	EventDisplay
	EventSystem
	EventSettings
)

func (k EventKind) String() string {
	switch k {
	case EventPosture:
		return "posture"
	case EventFlip:
		return "flip"
	case EventDisplay:
		return "display"
	case EventSystem:
		return "system"
	case EventSettings:
		return "settings"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one queued notification. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Posture sensors.PostureReading
	Flip    sensors.FlipReading
	Display power.DisplayState
	System  power.SystemEvent
	Enabled bool
}
