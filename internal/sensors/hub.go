package sensors

import (
	"context"
	"fmt"
	"sync"

	"duodisplayd/internal/logging"
)

// Hub implements PostureSensor and FlipSensor from readings pushed by an
// out-of-process sensor bridge. Discovery completes once a bridge announces
// both sensors.
type Hub struct {
	log *logging.Logger

	mu         sync.Mutex
	hasPosture bool
	hasFlip    bool
	discovered chan struct{}
	latest     *PostureReading
	nextID     uint64
	posture    map[uint64]func(PostureReading)
	flip       map[uint64]func(FlipReading)
}

// NewHub creates a hub with no sensors announced.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:        logging.OrDefault(log).WithComponent("sensor-hub"),
		discovered: make(chan struct{}),
		posture:    make(map[uint64]func(PostureReading)),
		flip:       make(map[uint64]func(FlipReading)),
	}
}

// Hello records which sensors a bridge provides. Announcements accumulate
// across bridges.
func (h *Hub) Hello(posture, flip bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hasPosture = h.hasPosture || posture
	h.hasFlip = h.hasFlip || flip
	if h.hasPosture && h.hasFlip && !h.discoveredLocked() {
		close(h.discovered)
		h.log.Info("sensor bridge connected", "posture", true, "flip", true)
	}
}

func (h *Hub) discoveredLocked() bool {
	select {
	case <-h.discovered:
		return true
	default:
		return false
	}
}

// Discover waits until both sensors have been announced.
func (h *Hub) Discover(ctx context.Context) error {
	select {
	case <-h.discovered:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotDiscovered, ctx.Err())
	}
}

// Discovered reports whether both sensors have been announced.
func (h *Hub) Discovered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.discoveredLocked()
}

// PushPosture stores reading as the current posture and hands it to every
// posture subscriber.
func (h *Hub) PushPosture(reading PostureReading) {
	h.mu.Lock()
	h.latest = &reading
	subs := make([]func(PostureReading), 0, len(h.posture))
	for _, fn := range h.posture {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(reading)
	}
}

// PushFlip hands reading to every flip subscriber.
func (h *Hub) PushFlip(reading FlipReading) {
	h.mu.Lock()
	subs := make([]func(FlipReading), 0, len(h.flip))
	for _, fn := range h.flip {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(reading)
	}
}

// CurrentPosture returns the last pushed posture.
func (h *Hub) CurrentPosture(ctx context.Context) (PostureReading, error) {
	if err := ctx.Err(); err != nil {
		return PostureReading{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return PostureReading{}, fmt.Errorf("%w: no posture reading yet", ErrNotDiscovered)
	}
	return *h.latest, nil
}

// SubscribePosture implements PostureSensor.
func (h *Hub) SubscribePosture(fn func(PostureReading)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.discoveredLocked() {
		return nil, ErrNotDiscovered
	}
	id := h.nextID
	h.nextID++
	h.posture[id] = fn
	return func() { h.unsubscribe(func() { delete(h.posture, id) }) }, nil
}

// SubscribeFlip implements FlipSensor.
func (h *Hub) SubscribeFlip(fn func(FlipReading)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.discoveredLocked() {
		return nil, ErrNotDiscovered
	}
	id := h.nextID
	h.nextID++
	h.flip[id] = fn
	return func() { h.unsubscribe(func() { delete(h.flip, id) }) }, nil
}

func (h *Hub) unsubscribe(remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove()
}

// Subscribers returns the number of posture and flip subscribers.
func (h *Hub) Subscribers() (posture, flip int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.posture), len(h.flip)
}
