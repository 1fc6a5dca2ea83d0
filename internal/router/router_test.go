package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/power"
	"duodisplayd/internal/sensors"
	"duodisplayd/internal/settings"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakePosture struct {
	discoverErr error

	mu         sync.Mutex
	handler    func(sensors.PostureReading)
	stale      func(sensors.PostureReading)
	subscribes int
	cancels    int
}

func (p *fakePosture) Discover(context.Context) error { return p.discoverErr }

func (p *fakePosture) CurrentPosture(context.Context) (sensors.PostureReading, error) {
	return sensors.PostureReading{Hinge: sensors.HingeNotFull}, nil
}

func (p *fakePosture) SubscribePosture(fn func(sensors.PostureReading)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler, p.stale = fn, fn
	p.subscribes++
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.handler = nil
		p.cancels++
	}, nil
}

func (p *fakePosture) emit(r sensors.PostureReading) bool {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(r)
	return true
}

// emitStale delivers through the last handler even after cancel, like a
// reading already in flight when the subscription ended.
func (p *fakePosture) emitStale(r sensors.PostureReading) {
	p.mu.Lock()
	fn := p.stale
	p.mu.Unlock()
	fn(r)
}

func (p *fakePosture) counts() (subscribes, cancels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes, p.cancels
}

type fakeFlip struct {
	discoverErr error

	mu         sync.Mutex
	handler    func(sensors.FlipReading)
	subscribes int
}

func (f *fakeFlip) Discover(context.Context) error { return f.discoverErr }

func (f *fakeFlip) SubscribeFlip(fn func(sensors.FlipReading)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
	f.subscribes++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
	}, nil
}

func (f *fakeFlip) emit(state sensors.GestureState) bool {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(sensors.FlipReading{State: state})
	return true
}

type fakeSettings struct {
	mu      sync.Mutex
	enabled bool
	err     error
	marked  int
	changes chan struct{}
}

func newFakeSettings(enabled bool, err error) *fakeSettings {
	return &fakeSettings{enabled: enabled, err: err, changes: make(chan struct{}, 4)}
}

func (s *fakeSettings) Enabled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.err
}

func (s *fakeSettings) WaitChange(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.changes:
		return nil
	}
}

func (s *fakeSettings) MarkSensorPresent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked++
	return nil
}

func (s *fakeSettings) MobileBehavior() (bool, error) { return false, nil }
func (s *fakeSettings) Close() error                  { return nil }

func (s *fakeSettings) set(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.changes <- struct{}{}
}

type fakeOrch struct {
	lock sync.Mutex

	mu          sync.Mutex
	readings    []sensors.PostureReading
	toggles     int
	applies     int
	autoRotate  []bool
	lockedCalls int
}

func (o *fakeOrch) Do(fn func()) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.mu.Lock()
	o.lockedCalls++
	o.mu.Unlock()
	fn()
}

func (o *fakeOrch) SetPanelsOrientationState(_ context.Context, r sensors.PostureReading) (engine.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readings = append(o.readings, r)
	return engine.Result{}, nil
}

func (o *fakeOrch) ToggleFavoriteSingleScreenDisplay(context.Context, engine.PostureSource) (engine.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.toggles++
	return engine.Result{}, nil
}

func (o *fakeOrch) ApplyCurrentPosture(context.Context, engine.PostureSource) (engine.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applies++
	return engine.Result{}, nil
}

func (o *fakeOrch) SetAutoRotationEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.autoRotate = append(o.autoRotate, enabled)
}

func (o *fakeOrch) snapshot() (readings, toggles, applies int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.readings), o.toggles, o.applies
}

type harness struct {
	posture  *fakePosture
	flip     *fakeFlip
	power    *power.Broadcaster
	settings *fakeSettings
	orch     *fakeOrch
	metrics  *metrics.OrchestratorMetrics
	router   *Router
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, store settings.Store) *harness {
	t.Helper()
	h := &harness{
		posture: &fakePosture{},
		flip:    &fakeFlip{},
		power:   power.NewBroadcaster(),
		orch:    &fakeOrch{},
		metrics: metrics.NewOrchestratorMetrics(nil),
	}
	if fs, ok := store.(*fakeSettings); ok {
		h.settings = fs
	}
	r, err := New(Config{
		Posture:          h.posture,
		Flip:             h.flip,
		Power:            h.power,
		Settings:         store,
		Orchestrator:     h.orch,
		FlipTrigger:      sensors.GestureStarted,
		DiscoveryTimeout: 100 * time.Millisecond,
		Metrics:          h.metrics,
		Logger:           logging.NewDiscard(),
	})
	require.NoError(t, err)
	h.router = r
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.router.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
}

func (h *harness) stop(t *testing.T) {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("router did not stop")
	}
}

func (h *harness) waitState(t *testing.T, src Source, want SourceState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.router.State(src) == want }, waitFor, tick,
		"%s never became %s", src, want)
}

func (h *harness) waitAll(t *testing.T, want SourceState) {
	t.Helper()
	for src := Source(0); src < numSources; src++ {
		h.waitState(t, src, want)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Posture: &fakePosture{}})
	assert.Error(t, err)
}

func TestDiscoveryFailureLeavesRouterInert(t *testing.T) {
	for _, tt := range []struct {
		name    string
		posture error
		flip    error
	}{
		{"posture", errors.New("no posture sensor"), nil},
		{"flip", nil, errors.New("no flip sensor")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.posture.discoverErr = tt.posture
			h.flip.discoverErr = tt.flip

			err := h.router.Run(context.Background())
			assert.ErrorIs(t, err, ErrSensorsUnavailable)
			assert.False(t, h.router.Discovered())

			subscribes, _ := h.posture.counts()
			assert.Zero(t, subscribes)
			_, _, applies := h.orch.snapshot()
			assert.Zero(t, applies)
		})
	}
}

func TestRunAppliesCurrentPostureAndSubscribes(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.waitAll(t, Subscribed)
	assert.True(t, h.router.Discovered())
	assert.True(t, h.router.Enabled())
	_, _, applies := h.orch.snapshot()
	assert.Equal(t, 1, applies)
	assert.Equal(t, int64(numSources), h.metrics.SubscriptionsActive.Value())

	reading := sensors.PostureReading{
		Panel1Orientation: orientation.Rotated90CCW,
		Panel2Orientation: orientation.Rotated90CCW,
		Hinge:             sensors.HingeNotFull,
	}
	require.True(t, h.posture.emit(reading))
	require.Eventually(t, func() bool {
		n, _, _ := h.orch.snapshot()
		return n == 1
	}, waitFor, tick)

	h.orch.mu.Lock()
	assert.Equal(t, reading, h.orch.readings[0])
	h.orch.mu.Unlock()
}

func TestRunStopsAndUnsubscribes(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)

	h.stop(t)
	for src := Source(0); src < numSources; src++ {
		assert.Equal(t, Unsubscribed, h.router.State(src))
	}
	_, cancels := h.posture.counts()
	assert.Equal(t, 1, cancels)
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)
	assert.Error(t, h.router.Run(context.Background()))
}

func TestFlipTrigger(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)

	toggles := func() int {
		_, n, _ := h.orch.snapshot()
		return n
	}

	require.True(t, h.flip.emit(sensors.GestureUpdated))
	require.True(t, h.flip.emit(sensors.GestureCompleted))
	require.True(t, h.flip.emit(sensors.GestureStarted))
	require.Eventually(t, func() bool { return toggles() == 1 }, waitFor, tick)

	h.router.SetFlipTrigger(sensors.GestureCompleted)
	assert.Equal(t, sensors.GestureCompleted, h.router.FlipTrigger())
	require.True(t, h.flip.emit(sensors.GestureStarted))
	require.True(t, h.flip.emit(sensors.GestureCompleted))
	require.Eventually(t, func() bool { return toggles() == 2 }, waitFor, tick)

	// a posture event flushes the queue so no late toggle can slip in
	require.True(t, h.posture.emit(sensors.PostureReading{}))
	require.Eventually(t, func() bool {
		n, _, _ := h.orch.snapshot()
		return n == 1
	}, waitFor, tick)
	assert.Equal(t, 2, toggles())
}

func TestDisplayPower(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)

	h.power.PublishDisplay(power.DisplayOff)
	h.waitState(t, SourcePosture, Unsubscribed)
	h.waitState(t, SourceFlip, Unsubscribed)
	assert.Equal(t, Subscribed, h.router.State(SourceDisplay))
	assert.Equal(t, Subscribed, h.router.State(SourceSystem))
	assert.False(t, h.posture.emit(sensors.PostureReading{}))

	h.power.PublishDisplay(power.DisplayDimmed)
	h.power.PublishDisplay(power.DisplayOn)
	h.waitState(t, SourcePosture, Subscribed)
	h.waitState(t, SourceFlip, Subscribed)

	subscribes, cancels := h.posture.counts()
	assert.Equal(t, 2, subscribes)
	assert.Equal(t, 1, cancels)
}

func TestSuspendResume(t *testing.T) {
	for _, resume := range []power.SystemEvent{power.ResumeAutomatic, power.ResumeSuspend} {
		t.Run(resume.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			h.start(t)
			h.waitAll(t, Subscribed)

			h.power.PublishSystem(power.Suspend)
			h.waitState(t, SourcePosture, Unsubscribed)
			h.waitState(t, SourceFlip, Unsubscribed)

			h.power.PublishSystem(resume)
			h.waitState(t, SourcePosture, Subscribed)
			h.waitState(t, SourceFlip, Subscribed)
		})
	}
}

func TestStaleEventsAreDroppedAndCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)

	h.power.PublishDisplay(power.DisplayOff)
	h.waitState(t, SourcePosture, Unsubscribed)

	h.posture.emitStale(sensors.PostureReading{})
	require.Eventually(t, func() bool {
		return h.metrics.DroppedEventsTotal.Value() == 1
	}, waitFor, tick)
	n, _, _ := h.orch.snapshot()
	assert.Zero(t, n)
}

func TestSettingsToggleAllSources(t *testing.T) {
	store := newFakeSettings(false, nil)
	h := newHarness(t, store)
	h.start(t)

	require.Eventually(t, func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return len(h.orch.autoRotate) == 1
	}, waitFor, tick)
	for src := Source(0); src < numSources; src++ {
		assert.Equal(t, Unsubscribed, h.router.State(src))
	}
	assert.False(t, h.router.Enabled())

	store.set(true)
	h.waitAll(t, Subscribed)

	store.set(false)
	h.waitAll(t, Unsubscribed)

	h.orch.mu.Lock()
	assert.Equal(t, []bool{false, true, false}, h.orch.autoRotate)
	h.orch.mu.Unlock()

	store.mu.Lock()
	assert.Equal(t, 1, store.marked)
	store.mu.Unlock()
}

func TestSettingsUnavailableRegistersEverything(t *testing.T) {
	store := newFakeSettings(false, settings.ErrKeyUnavailable)
	h := newHarness(t, store)
	h.start(t)
	h.waitAll(t, Subscribed)
	assert.True(t, h.router.Enabled())
}

func TestSettingsReadErrorReadsAsDisabled(t *testing.T) {
	store := newFakeSettings(true, errors.New("access denied"))
	h := newHarness(t, store)
	h.start(t)

	require.Eventually(t, func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return len(h.orch.autoRotate) == 1 && !h.orch.autoRotate[0]
	}, waitFor, tick)
	assert.Equal(t, Unsubscribed, h.router.State(SourcePosture))
}

func TestTransitionsRunUnderOrchestratorLock(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.waitAll(t, Subscribed)

	h.orch.lock.Lock()
	h.power.PublishDisplay(power.DisplayOff)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Subscribed, h.router.State(SourcePosture), "transition must wait for the lock")
	h.orch.lock.Unlock()

	h.waitState(t, SourcePosture, Unsubscribed)
}

func TestQueueFullDropsEvents(t *testing.T) {
	m := metrics.NewOrchestratorMetrics(nil)
	r, err := New(Config{
		Posture:      &fakePosture{},
		Flip:         &fakeFlip{},
		Orchestrator: &fakeOrch{},
		QueueSize:    1,
		Metrics:      m,
		Logger:       logging.NewDiscard(),
	})
	require.NoError(t, err)

	r.push(Event{Kind: EventPosture})
	r.push(Event{Kind: EventPosture})
	assert.Equal(t, uint64(1), m.DroppedEventsTotal.Value())
}

func TestSettingsChangeSurvivesFullQueue(t *testing.T) {
	store := newFakeSettings(true, nil)
	h := newHarness(t, store)
	h.start(t)
	h.waitAll(t, Subscribed)

	// Block the loop inside a transition, then flood the queue.
	h.orch.lock.Lock()
	h.power.PublishDisplay(power.DisplayOff)
	for i := 0; i < defaultQueueSize+1; i++ {
		require.True(t, h.posture.emit(sensors.PostureReading{}))
	}
	require.Eventually(t, func() bool {
		return h.metrics.DroppedEventsTotal.Value() > 0
	}, waitFor, tick)

	store.set(false)
	time.Sleep(20 * time.Millisecond)
	h.orch.lock.Unlock()

	h.waitAll(t, Unsubscribed)
	assert.False(t, h.router.Enabled())
}

func TestPushEnabledKeepsLatestValue(t *testing.T) {
	r, err := New(Config{
		Posture:      &fakePosture{},
		Flip:         &fakeFlip{},
		Orchestrator: &fakeOrch{},
		Logger:       logging.NewDiscard(),
	})
	require.NoError(t, err)

	r.pushEnabled(true)
	r.pushEnabled(false)
	assert.False(t, <-r.enabledCh)
	assert.Empty(t, r.enabledCh)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "display_power", SourceDisplay.String())
	assert.Equal(t, "subscribed", Subscribed.String())
	assert.Equal(t, "settings", EventSettings.String())
	text, err := Unsubscribed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "unsubscribed", string(text))
}
