package sensors

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"duodisplayd/internal/logging"
	"duodisplayd/internal/orientation"
)

// Vector is one accelerometer sample in panel coordinates. A panel standing
// upright reads +Y, a panel lying face up reads +Z.
type Vector struct {
	X, Y, Z float64
}

// Norm returns the length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Accelerometer reads one gravity sample.
type Accelerometer interface {
	Read() (Vector, error)
}

// IIODevice is an industrial-I/O accelerometer exposed through sysfs.
type IIODevice struct {
	Path string
}

// Read implements Accelerometer. Raw values are used unscaled; only their
// ratios matter.
func (d IIODevice) Read() (Vector, error) {
	var v Vector
	for _, axis := range []struct {
		name string
		dst  *float64
	}{{"x", &v.X}, {"y", &v.Y}, {"z", &v.Z}} {
		b, err := os.ReadFile(filepath.Join(d.Path, "in_accel_"+axis.name+"_raw"))
		if err != nil {
			return Vector{}, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			return Vector{}, fmt.Errorf("parse %s axis of %s: %w", axis.name, d.Path, err)
		}
		*axis.dst = float64(n)
	}
	return v, nil
}

// LidSwitch reports whether the lid is closed.
type LidSwitch interface {
	LidClosed() (bool, error)
}

const (
	// faceThreshold is the share of gravity on Z above which a panel lies flat.
	faceThreshold = 0.8
	// facingMargin is the share of gravity by which the Z readings of the two
	// panels must differ before one of them counts as facing the user.
	facingMargin = 0.3
)

// OrientationOf classifies a gravity vector.
func OrientationOf(v Vector) (orientation.SimpleOrientation, error) {
	g := v.Norm()
	if g == 0 {
		return orientation.NotRotated, fmt.Errorf("zero gravity vector")
	}
	if math.Abs(v.Z) > faceThreshold*g {
		if v.Z > 0 {
			return orientation.FaceUp, nil
		}
		return orientation.FaceDown, nil
	}

	angle := math.Atan2(v.X, v.Y) * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	switch int(math.Round(angle/90)) % 4 {
	case 1:
		return orientation.Rotated90CCW, nil
	case 2:
		return orientation.Rotated180CCW, nil
	case 3:
		return orientation.Rotated270CCW, nil
	default:
		return orientation.NotRotated, nil
	}
}

// HingeAngle returns the opening angle between the panels in degrees, 0
// closed and 360 folded back to back. The hinge axle is panel Y; the result
// is unreliable when the axle is close to vertical.
func HingeAngle(a, b Vector) (angle float64, reliable bool) {
	axle := math.Atan2(math.Sqrt(a.Z*a.Z+a.X*a.X), a.Y) * 180 / math.Pi
	if axle < 10 || axle > 170 {
		return 0, false
	}

	angle = (math.Atan2(a.Z, a.X) - math.Atan2(b.Z, b.X)) * 180 / math.Pi
	if angle < -180 {
		angle += 360
	}
	if angle > 180 {
		angle -= 360
	}
	angle += 180
	// closed and fully folded wrap around 0/360
	if angle < 5 {
		angle = 360
	}
	return angle, true
}

// IIOConfig configures the accelerometer-based sensors.
type IIOConfig struct {
	Panel1, Panel2     Accelerometer
	Panel1ID, Panel2ID string

	// Lid is optional. A closed lid counts as folded.
	Lid LidSwitch

	PollInterval   time.Duration
	FullHingeAngle float64

	Logger *logging.Logger
	Now    func() time.Time
}

// sample is one poll of both accelerometers.
type sample struct {
	reading PostureReading
	// facing is the panel whose screen points up, 0 when undecided.
	facing int
}

// IIOPosture derives the device posture from one accelerometer per panel.
// Both accelerometers are polled while anyone is subscribed; subscribers are
// called from the polling goroutine when the posture changes.
type IIOPosture struct {
	cfg IIOConfig
	log *logging.Logger

	mu         sync.Mutex
	discovered bool
	hinge      HingeState
	last       *PostureReading
	nextID     uint64
	posture    map[uint64]func(PostureReading)
	samples    map[uint64]func(sample)
	stop       chan struct{}
	done       chan struct{}
}

// NewIIOPosture creates the posture sensor.
func NewIIOPosture(cfg IIOConfig) *IIOPosture {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.FullHingeAngle <= 0 {
		cfg.FullHingeAngle = 340
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IIOPosture{
		cfg:     cfg,
		log:     logging.OrDefault(cfg.Logger).WithComponent("iio-posture"),
		posture: make(map[uint64]func(PostureReading)),
		samples: make(map[uint64]func(sample)),
	}
}

// Discover checks that both accelerometers can be read.
func (p *IIOPosture) Discover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotDiscovered, err)
	}
	for i, acc := range []Accelerometer{p.cfg.Panel1, p.cfg.Panel2} {
		if acc == nil {
			return fmt.Errorf("%w: no accelerometer for panel %d", ErrNotDiscovered, i+1)
		}
		if _, err := acc.Read(); err != nil {
			return fmt.Errorf("%w: panel %d accelerometer: %v", ErrNotDiscovered, i+1, err)
		}
	}
	p.mu.Lock()
	p.discovered = true
	p.mu.Unlock()
	return nil
}

// CurrentPosture polls both accelerometers once.
func (p *IIOPosture) CurrentPosture(ctx context.Context) (PostureReading, error) {
	if err := ctx.Err(); err != nil {
		return PostureReading{}, err
	}
	s, err := p.read()
	if err != nil {
		return PostureReading{}, err
	}
	return s.reading, nil
}

func (p *IIOPosture) read() (sample, error) {
	a, err := p.cfg.Panel1.Read()
	if err != nil {
		return sample{}, fmt.Errorf("read panel 1 accelerometer: %w", err)
	}
	b, err := p.cfg.Panel2.Read()
	if err != nil {
		return sample{}, fmt.Errorf("read panel 2 accelerometer: %w", err)
	}
	o1, err := OrientationOf(a)
	if err != nil {
		return sample{}, fmt.Errorf("panel 1: %w", err)
	}
	o2, err := OrientationOf(b)
	if err != nil {
		return sample{}, fmt.Errorf("panel 2: %w", err)
	}

	closed := false
	if p.cfg.Lid != nil {
		if closed, err = p.cfg.Lid.LidClosed(); err != nil {
			p.log.Debug("lid state unavailable", "error", err)
			closed = false
		}
	}

	p.mu.Lock()
	hinge := p.hinge
	if closed {
		hinge = HingeFull
	} else if angle, ok := HingeAngle(a, b); ok {
		hinge = HingeNotFull
		if angle >= p.cfg.FullHingeAngle {
			hinge = HingeFull
		}
	}
	p.hinge = hinge
	p.mu.Unlock()

	s := sample{
		reading: PostureReading{
			Panel1ID:          p.cfg.Panel1ID,
			Panel2ID:          p.cfg.Panel2ID,
			Panel1Orientation: o1,
			Panel2Orientation: o2,
			Hinge:             hinge,
			Timestamp:         p.cfg.Now(),
		},
	}
	g := (a.Norm() + b.Norm()) / 2
	switch {
	case a.Z-b.Z > facingMargin*g:
		s.facing = 1
	case b.Z-a.Z > facingMargin*g:
		s.facing = 2
	}
	return s, nil
}

// SubscribePosture implements PostureSensor.
func (p *IIOPosture) SubscribePosture(fn func(PostureReading)) (func(), error) {
	return p.register(func(id uint64) { p.posture[id] = fn }, func(id uint64) { delete(p.posture, id) })
}

func (p *IIOPosture) subscribeSamples(fn func(sample)) (func(), error) {
	return p.register(func(id uint64) { p.samples[id] = fn }, func(id uint64) { delete(p.samples, id) })
}

func (p *IIOPosture) register(add, remove func(id uint64)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.discovered {
		return nil, ErrNotDiscovered
	}
	id := p.nextID
	p.nextID++
	add(id)
	p.startLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			remove(id)
			var done chan struct{}
			if len(p.posture) == 0 && len(p.samples) == 0 {
				done = p.stopLocked()
			}
			p.mu.Unlock()
			if done != nil {
				<-done
			}
		})
	}, nil
}

func (p *IIOPosture) startLocked() {
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.last = nil
	go p.poll(p.stop, p.done)
}

func (p *IIOPosture) stopLocked() chan struct{} {
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	done := p.done
	p.stop, p.done = nil, nil
	return done
}

func (p *IIOPosture) poll(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s, err := p.read()
			if err != nil {
				p.log.Warn("accelerometer poll failed", "error", err)
				continue
			}
			p.dispatch(s)
		}
	}
}

func (p *IIOPosture) dispatch(s sample) {
	p.mu.Lock()
	changed := p.last == nil || !samePosture(*p.last, s.reading)
	if changed {
		r := s.reading
		p.last = &r
	}
	var posture []func(PostureReading)
	if changed {
		for _, fn := range p.posture {
			posture = append(posture, fn)
		}
	}
	samples := make([]func(sample), 0, len(p.samples))
	for _, fn := range p.samples {
		samples = append(samples, fn)
	}
	p.mu.Unlock()

	for _, fn := range posture {
		fn(s.reading)
	}
	for _, fn := range samples {
		fn(s)
	}
}

func samePosture(a, b PostureReading) bool {
	return a.Panel1Orientation == b.Panel1Orientation &&
		a.Panel2Orientation == b.Panel2Orientation &&
		a.Hinge == b.Hinge
}

// IIOFlip detects the device being turned over while folded. A gesture
// starts when the other panel comes to face the user and completes once it
// has kept facing the user for the settle time. It is canceled when the
// original panel faces the user again or the hinge opens.
type IIOFlip struct {
	posture *IIOPosture
	settle  time.Duration
	now     func() time.Time
	log     *logging.Logger

	mu        sync.Mutex
	nextID    uint64
	subs      map[uint64]func(FlipReading)
	unsub     func()
	facing    int
	candidate int
	since     time.Time
	gesture   bool
}

// NewIIOFlip creates a flip sensor on top of posture.
func NewIIOFlip(posture *IIOPosture, settle time.Duration) *IIOFlip {
	return &IIOFlip{
		posture: posture,
		settle:  settle,
		now:     posture.cfg.Now,
		log:     posture.log.WithComponent("iio-flip"),
		subs:    make(map[uint64]func(FlipReading)),
	}
}

// Discover implements FlipSensor.
func (f *IIOFlip) Discover(ctx context.Context) error {
	return f.posture.Discover(ctx)
}

// SubscribeFlip implements FlipSensor.
func (f *IIOFlip) SubscribeFlip(fn func(FlipReading)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsub == nil {
		unsub, err := f.posture.subscribeSamples(f.onSample)
		if err != nil {
			return nil, err
		}
		f.unsub = unsub
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			var unsub func()
			if len(f.subs) == 0 {
				unsub, f.unsub = f.unsub, nil
				f.facing, f.gesture = 0, false
			}
			f.mu.Unlock()
			if unsub != nil {
				unsub()
			}
		})
	}, nil
}

func (f *IIOFlip) onSample(s sample) {
	f.mu.Lock()
	events := f.advanceLocked(s)
	subs := make([]func(FlipReading), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, ev := range events {
		f.log.Debug("flip gesture", "state", ev.State)
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (f *IIOFlip) advanceLocked(s sample) []FlipReading {
	now := f.now()
	emit := func(state GestureState) []FlipReading {
		return []FlipReading{{State: state, Timestamp: now}}
	}

	if s.reading.Hinge != HingeFull {
		var out []FlipReading
		if f.gesture {
			out = emit(GestureCanceled)
		}
		f.gesture = false
		if s.facing != 0 {
			f.facing = s.facing
		}
		return out
	}
	if s.facing == 0 {
		return nil
	}
	if f.facing == 0 {
		f.facing = s.facing
		return nil
	}

	if !f.gesture {
		if s.facing == f.facing {
			return nil
		}
		f.gesture, f.candidate, f.since = true, s.facing, now
		return emit(GestureStarted)
	}

	if s.facing != f.candidate {
		f.gesture = false
		return emit(GestureCanceled)
	}
	if now.Sub(f.since) >= f.settle {
		f.gesture = false
		f.facing = f.candidate
		return emit(GestureCompleted)
	}
	return emit(GestureUpdated)
}
