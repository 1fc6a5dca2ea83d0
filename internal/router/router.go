// Package router connects the posture, flip, power and settings event
// sources to the display engine. Every source pushes onto one channel that a
// single goroutine drains, so events are handled strictly one at a time.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/power"
	"duodisplayd/internal/sensors"
	"duodisplayd/internal/settings"
)

// ErrSensorsUnavailable is returned by Run when the posture or flip sensor
// cannot be discovered. The router makes no subscriptions in that case.
var ErrSensorsUnavailable = errors.New("posture and flip sensors unavailable")

// DefaultDiscoveryTimeout bounds sensor discovery.
const DefaultDiscoveryTimeout = 10 * time.Second

const defaultQueueSize = 64

// Orchestrator is the part of the display engine the router drives.
type Orchestrator interface {
	Do(fn func())
	SetPanelsOrientationState(ctx context.Context, reading sensors.PostureReading) (engine.Result, error)
	ToggleFavoriteSingleScreenDisplay(ctx context.Context, src engine.PostureSource) (engine.Result, error)
	ApplyCurrentPosture(ctx context.Context, src engine.PostureSource) (engine.Result, error)
	SetAutoRotationEnabled(enabled bool)
}

// Config wires a Router. Posture, Flip and Orchestrator are required.
type Config struct {
	Posture      sensors.PostureSensor
	Flip         sensors.FlipSensor
	Power        power.Source
	Settings     settings.Store
	Orchestrator Orchestrator

	// FlipTrigger is the gesture state that toggles the favorite panel.
	FlipTrigger      sensors.GestureState
	DiscoveryTimeout time.Duration
	QueueSize        int

	Metrics *metrics.OrchestratorMetrics
	Logger  *logging.Logger
}

// Router owns the subscriptions of every event source.
type Router struct {
	posture  sensors.PostureSensor
	flip     sensors.FlipSensor
	power    power.Source
	settings settings.Store
	orch     Orchestrator
	timeout  time.Duration
	metrics  *metrics.OrchestratorMetrics
	log      *logging.Logger

	trigger atomic.Int32
	events  chan Event
	// enabledCh holds the latest unhandled Enable value. It is never dropped.
	enabledCh chan bool
	running   atomic.Bool

	mu         sync.Mutex
	discovered bool
	enabled    bool
	subs       [numSources]subscription
}

type subscription struct {
	state  SourceState
	cancel func()
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if cfg.Posture == nil || cfg.Flip == nil || cfg.Orchestrator == nil {
		return nil, errors.New("router: posture, flip and orchestrator are required")
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewOrchestratorMetrics(nil)
	}
	r := &Router{
		posture:  cfg.Posture,
		flip:     cfg.Flip,
		power:    cfg.Power,
		settings: cfg.Settings,
		orch:     cfg.Orchestrator,
		timeout:  cfg.DiscoveryTimeout,
		metrics:  cfg.Metrics,
		log:      logging.OrDefault(cfg.Logger).WithComponent("router"),
		events:   make(chan Event, cfg.QueueSize),

		enabledCh: make(chan bool, 1),
	}
	r.trigger.Store(int32(cfg.FlipTrigger))
	return r, nil
}

// SetFlipTrigger changes the gesture state that toggles the favorite.
func (r *Router) SetFlipTrigger(state sensors.GestureState) {
	r.trigger.Store(int32(state))
}

// FlipTrigger returns the current flip trigger.
func (r *Router) FlipTrigger() sensors.GestureState {
	return sensors.GestureState(r.trigger.Load())
}

// Run discovers the sensors, applies the current posture once and then
// handles events until ctx is done. All subscriptions are dropped on return.
func (r *Router) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("router already running")
	}
	defer r.running.Store(false)

	if err := r.discover(ctx); err != nil {
		return err
	}

	if _, err := r.orch.ApplyCurrentPosture(ctx, r.posture); err != nil {
		r.log.Warn("initial posture apply failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watchSettings(ctx)
	}()
	defer wg.Wait()
	defer r.orch.Do(r.unsubscribeAll)

	for {
		select {
		case <-ctx.Done():
			return nil
		case enabled := <-r.enabledCh:
			r.handleSettings(enabled)
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

func (r *Router) discover(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.posture.Discover(dctx); err != nil {
		r.log.Error("posture sensor discovery failed", "error", err)
		return fmt.Errorf("%w: posture: %v", ErrSensorsUnavailable, err)
	}
	if err := r.flip.Discover(dctx); err != nil {
		r.log.Error("flip sensor discovery failed", "error", err)
		return fmt.Errorf("%w: flip: %v", ErrSensorsUnavailable, err)
	}

	r.mu.Lock()
	r.discovered = true
	r.mu.Unlock()
	r.log.Info("sensors discovered")
	return nil
}

// watchSettings feeds the Enable flag into the event loop.
func (r *Router) watchSettings(ctx context.Context) {
	if r.settings == nil {
		r.pushEnabled(true)
		return
	}

	if err := r.settings.MarkSensorPresent(); err != nil {
		r.log.Warn("failed to mark sensor present", "error", err)
	}

	for {
		enabled, err := r.settings.Enabled()
		if errors.Is(err, settings.ErrKeyUnavailable) {
			r.log.Info("auto-rotation settings unavailable, staying enabled", "error", err)
			r.pushEnabled(true)
			return
		}
		if err != nil {
			r.log.Warn("failed to read auto-rotation setting", "error", err)
			enabled = false
		}
		r.pushEnabled(enabled)

		if err := r.settings.WaitChange(ctx); err != nil {
			if ctx.Err() == nil {
				r.log.Warn("stopped watching auto-rotation settings", "error", err)
			}
			return
		}
	}
}

// push enqueues ev without blocking. Sensor callbacks run on the sensors'
// own goroutines, which the loop may be waiting on while it unsubscribes.
func (r *Router) push(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.metrics.DroppedEventsTotal.Inc()
		r.log.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// pushEnabled hands the Enable value to the loop, replacing a value it has
// not consumed yet. watchSettings is the only sender.
func (r *Router) pushEnabled(enabled bool) {
	select {
	case <-r.enabledCh:
	default:
	}
	r.enabledCh <- enabled
}

func (r *Router) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventSettings:
		r.handleSettings(ev.Enabled)

	case EventPosture:
		if !r.accept(SourcePosture, ev) {
			return
		}
		if _, err := r.orch.SetPanelsOrientationState(ctx, ev.Posture); err != nil {
			r.log.Warn("posture change not applied", "error", err)
		}

	case EventFlip:
		if !r.accept(SourceFlip, ev) {
			return
		}
		if ev.Flip.State != r.FlipTrigger() {
			return
		}
		if _, err := r.orch.ToggleFavoriteSingleScreenDisplay(ctx, r.posture); err != nil {
			r.log.Warn("flip not applied", "error", err)
		}

	case EventDisplay:
		if !r.accept(SourceDisplay, ev) {
			return
		}
		switch ev.Display {
		case power.DisplayOff:
			r.orch.Do(r.unsubscribeSensors)
		case power.DisplayOn:
			r.orch.Do(r.subscribeSensors)
		}

	case EventSystem:
		if !r.accept(SourceSystem, ev) {
			return
		}
		switch ev.System {
		case power.Suspend:
			r.orch.Do(r.unsubscribeSensors)
		case power.ResumeAutomatic, power.ResumeSuspend:
			r.orch.Do(r.subscribeSensors)
		}
	}
}

// accept drops events whose source has been unsubscribed since they were
// queued.
func (r *Router) accept(src Source, ev Event) bool {
	if r.State(src) == Subscribed {
		return true
	}
	r.metrics.DroppedEventsTotal.Inc()
	r.log.Debug("dropping event from unsubscribed source", "source", src, "kind", ev.Kind)
	return false
}

func (r *Router) handleSettings(enabled bool) {
	r.mu.Lock()
	changed := r.enabled != enabled
	r.enabled = enabled
	r.mu.Unlock()

	r.orch.SetAutoRotationEnabled(enabled)
	if !changed {
		return
	}
	r.log.Info("auto-rotation setting changed", "enabled", enabled)
	if enabled {
		r.orch.Do(r.subscribeAll)
	} else {
		r.orch.Do(r.unsubscribeAll)
	}
}

// The methods below run under the orchestrator lock.

func (r *Router) subscribeAll() {
	r.subscribeSensors()
	if r.power == nil {
		return
	}
	r.subscribe(SourceDisplay, func() (func(), error) {
		return r.power.SubscribeDisplay(func(s power.DisplayState) {
			r.push(Event{Kind: EventDisplay, Display: s})
		})
	})
	r.subscribe(SourceSystem, func() (func(), error) {
		return r.power.SubscribeSystem(func(e power.SystemEvent) {
			r.push(Event{Kind: EventSystem, System: e})
		})
	})
}

func (r *Router) unsubscribeAll() {
	for src := Source(0); src < numSources; src++ {
		r.unsubscribe(src)
	}
}

func (r *Router) subscribeSensors() {
	r.subscribe(SourcePosture, func() (func(), error) {
		return r.posture.SubscribePosture(func(reading sensors.PostureReading) {
			r.push(Event{Kind: EventPosture, Posture: reading})
		})
	})
	r.subscribe(SourceFlip, func() (func(), error) {
		return r.flip.SubscribeFlip(func(reading sensors.FlipReading) {
			r.push(Event{Kind: EventFlip, Flip: reading})
		})
	})
}

func (r *Router) unsubscribeSensors() {
	r.unsubscribe(SourcePosture)
	r.unsubscribe(SourceFlip)
}

func (r *Router) subscribe(src Source, fn func() (func(), error)) {
	r.mu.Lock()
	subscribed := r.subs[src].state == Subscribed
	r.mu.Unlock()
	if subscribed {
		return
	}

	cancel, err := fn()
	if err != nil {
		r.log.Warn("subscribe failed", "source", src, "error", err)
		return
	}

	r.mu.Lock()
	r.subs[src] = subscription{state: Subscribed, cancel: cancel}
	r.mu.Unlock()
	r.updateGauge()
	r.log.Debug("source subscribed", "source", src)
}

func (r *Router) unsubscribe(src Source) {
	r.mu.Lock()
	sub := r.subs[src]
	r.subs[src] = subscription{}
	r.mu.Unlock()
	if sub.state != Subscribed {
		return
	}

	if sub.cancel != nil {
		sub.cancel()
	}
	r.updateGauge()
	r.log.Debug("source unsubscribed", "source", src)
}

func (r *Router) updateGauge() {
	r.mu.Lock()
	n := 0
	for _, s := range r.subs {
		if s.state == Subscribed {
			n++
		}
	}
	r.mu.Unlock()
	r.metrics.SubscriptionsActive.Set(int64(n))
}

// State returns the subscription state of src.
func (r *Router) State(src Source) SourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[src].state
}

// States returns the subscription state of every source by name.
func (r *Router) States() map[string]SourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SourceState, numSources)
	for src := Source(0); src < numSources; src++ {
		out[src.String()] = r.subs[src].state
	}
	return out
}

// Discovered reports whether both sensors were discovered.
func (r *Router) Discovered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovered
}

// Enabled reports the last auto-rotation setting seen.
func (r *Router) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}
