// Package power reports display power transitions and system suspend and
// resume events to the router.
package power

import (
	"errors"
	"fmt"
	"sync"
)

// DisplayState is the console display power state.
type DisplayState int

const (
	DisplayOff DisplayState = iota
	DisplayOn
	DisplayDimmed
)

func (s DisplayState) String() string {
	switch s {
	case DisplayOff:
		return "off"
	case DisplayOn:
		return "on"
	case DisplayDimmed:
		return "dimmed"
	default:
		return fmt.Sprintf("display(%d)", int(s))
	}
}

// SystemEvent is a suspend or resume notification.
type SystemEvent int

const (
	Suspend SystemEvent = iota
	ResumeAutomatic
	ResumeSuspend
)

func (e SystemEvent) String() string {
	switch e {
	case Suspend:
		return "suspend"
	case ResumeAutomatic:
		return "resume_automatic"
	case ResumeSuspend:
		return "resume_suspend"
	default:
		return fmt.Sprintf("system(%d)", int(e))
	}
}

// Source delivers power events. Handlers must not block.
type Source interface {
	SubscribeDisplay(handler func(DisplayState)) (cancel func(), err error)
	SubscribeSystem(handler func(SystemEvent)) (cancel func(), err error)
}

// Broadcaster is a Source fed by its owner, typically the service control
// handler.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	display map[uint64]func(DisplayState)
	system  map[uint64]func(SystemEvent)
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		display: make(map[uint64]func(DisplayState)),
		system:  make(map[uint64]func(SystemEvent)),
	}
}

// SubscribeDisplay implements Source.
func (b *Broadcaster) SubscribeDisplay(fn func(DisplayState)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.display[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.display, id)
		b.mu.Unlock()
	}, nil
}

// SubscribeSystem implements Source.
func (b *Broadcaster) SubscribeSystem(fn func(SystemEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.system[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.system, id)
		b.mu.Unlock()
	}, nil
}

// PublishDisplay hands s to every display subscriber.
func (b *Broadcaster) PublishDisplay(s DisplayState) {
	b.mu.Lock()
	subs := make([]func(DisplayState), 0, len(b.display))
	for _, fn := range b.display {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// PublishSystem hands e to every system subscriber.
func (b *Broadcaster) PublishSystem(e SystemEvent) {
	b.mu.Lock()
	subs := make([]func(SystemEvent), 0, len(b.system))
	for _, fn := range b.system {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

// Combine merges several sources. Subscribing subscribes to all of them; if
// one fails, the ones already subscribed are canceled.
func Combine(sources ...Source) Source {
	return multi(sources)
}

type multi []Source

func (m multi) SubscribeDisplay(fn func(DisplayState)) (func(), error) {
	return m.subscribe(func(s Source) (func(), error) { return s.SubscribeDisplay(fn) })
}

func (m multi) SubscribeSystem(fn func(SystemEvent)) (func(), error) {
	return m.subscribe(func(s Source) (func(), error) { return s.SubscribeSystem(fn) })
}

func (m multi) subscribe(sub func(Source) (func(), error)) (func(), error) {
	var cancels []func()
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, s := range m {
		c, err := sub(s)
		if err != nil {
			cancelAll()
			return nil, err
		}
		cancels = append(cancels, c)
	}
	return cancelAll, nil
}

// Windows power broadcast event types delivered to a service control handler.
const (
	PBTAPMSuspend         = 0x0004
	PBTAPMResumeSuspend   = 0x0007
	PBTAPMResumeAutomatic = 0x0012
	PBTPowerSettingChange = 0x8013

	consoleDisplayOff    = 0
	consoleDisplayOn     = 1
	consoleDisplayDimmed = 2
)

// ErrUnknownEvent is returned for power broadcasts with no mapping.
var ErrUnknownEvent = errors.New("unknown power event")

// SystemEventFromBroadcast maps a PBT_APM* event type.
func SystemEventFromBroadcast(eventType uint32) (SystemEvent, error) {
	switch eventType {
	case PBTAPMSuspend:
		return Suspend, nil
	case PBTAPMResumeAutomatic:
		return ResumeAutomatic, nil
	case PBTAPMResumeSuspend:
		return ResumeSuspend, nil
	default:
		return 0, fmt.Errorf("%w: 0x%x", ErrUnknownEvent, eventType)
	}
}

// DisplayStateFromConsole maps a GUID_CONSOLE_DISPLAY_STATE value.
func DisplayStateFromConsole(v uint32) (DisplayState, error) {
	switch v {
	case consoleDisplayOff:
		return DisplayOff, nil
	case consoleDisplayOn:
		return DisplayOn, nil
	case consoleDisplayDimmed:
		return DisplayDimmed, nil
	default:
		return 0, fmt.Errorf("%w: console display state %d", ErrUnknownEvent, v)
	}
}
