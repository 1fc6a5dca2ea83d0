package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"duodisplayd/internal/display"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/sensors"
)

// DefaultSettleDelay is the usual post-commit delay.
const DefaultSettleDelay = time.Second

// Config wires an Orchestrator to its collaborators. Subsystem and Resolver
// are required.
type Config struct {
	Subsystem display.Subsystem
	Resolver  PanelResolver
	Gate      Gate
	Notifier  Notifier
	WorkAreas display.WorkAreaFixer
	Recorder  Recorder
	Metrics   *metrics.OrchestratorMetrics
	Logger    *logging.Logger

	// Panel1ID and Panel2ID are used when a reading carries no panel ids.
	Panel1ID string
	Panel2ID string

	// SettleDelay is slept after every commit. Zero disables it.
	SettleDelay time.Duration

	// Sleep and Now replace the real clock in tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Orchestrator is the only writer of the display configuration. All
// transactions run under one mutex, including the settle delay and the
// work-area fix, so two triggers can never interleave.
type Orchestrator struct {
	sub       display.Subsystem
	resolver  PanelResolver
	gate      Gate
	notifier  Notifier
	workAreas display.WorkAreaFixer
	recorder  Recorder
	metrics   *metrics.OrchestratorMetrics
	log       *logging.Logger
	sleep     func(time.Duration)
	now       func() time.Time

	mu               sync.Mutex
	panel1, panel2   string
	settle           time.Duration
	display1Favorite bool
	autoRotation     bool
	rotation1        orientation.Rotation
	rotation2        orientation.Rotation
	last             *Result
	lastErr          error
}

// New creates an orchestrator. Panel 2 is the initial single-screen
// favorite and auto-rotation starts enabled.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Subsystem == nil || cfg.Resolver == nil {
		return nil, errors.New("engine: subsystem and resolver are required")
	}
	o := &Orchestrator{
		sub:          cfg.Subsystem,
		resolver:     cfg.Resolver,
		gate:         cfg.Gate,
		notifier:     cfg.Notifier,
		workAreas:    cfg.WorkAreas,
		recorder:     cfg.Recorder,
		metrics:      cfg.Metrics,
		log:          logging.OrDefault(cfg.Logger).WithComponent("engine"),
		sleep:        cfg.Sleep,
		now:          cfg.Now,
		panel1:       cfg.Panel1ID,
		panel2:       cfg.Panel2ID,
		settle:       cfg.SettleDelay,
		autoRotation: true,
	}
	if o.workAreas == nil {
		o.workAreas = display.NoopWorkAreaFixer
	}
	if o.metrics == nil {
		o.metrics = metrics.NewOrchestratorMetrics(nil)
	}
	if o.sleep == nil {
		o.sleep = time.Sleep
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Do runs fn while holding the transaction lock. fn must not call back into
// the orchestrator.
func (o *Orchestrator) Do(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

// SetDisplayStates applies req as one transaction.
func (o *Orchestrator) SetDisplayStates(ctx context.Context, req Request) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setDisplayStatesLocked(ctx, req)
}

// SetPanelsOrientationState derives a request from reading and applies it.
func (o *Orchestrator) SetPanelsOrientationState(ctx context.Context, reading sensors.PostureReading) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setPanelsOrientationStateLocked(ctx, reading)
}

// ToggleFavoriteSingleScreenDisplay swaps the panel kept on while folded and
// re-applies the current posture under the same lock. The favorite stays
// toggled even if the re-apply fails.
func (o *Orchestrator) ToggleFavoriteSingleScreenDisplay(ctx context.Context, src PostureSource) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.display1Favorite = !o.display1Favorite
	o.metrics.FavoriteTogglesTotal.Inc()
	o.log.Info("single-screen favorite toggled", "favorite", o.favoritePanelLocked())

	return o.applyCurrentPostureLocked(ctx, src)
}

// ApplyCurrentPosture fetches the current posture and applies it.
func (o *Orchestrator) ApplyCurrentPosture(ctx context.Context, src PostureSource) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.applyCurrentPostureLocked(ctx, src)
}

func (o *Orchestrator) applyCurrentPostureLocked(ctx context.Context, src PostureSource) (Result, error) {
	reading, err := src.CurrentPosture(ctx)
	if err != nil {
		return Result{}, &PlatformError{Step: StepPosture, Err: err}
	}
	return o.setPanelsOrientationStateLocked(ctx, reading)
}

func (o *Orchestrator) favoritePanelLocked() int {
	if o.display1Favorite {
		return 1
	}
	return 2
}

func (o *Orchestrator) setPanelsOrientationStateLocked(ctx context.Context, reading sensors.PostureReading) (Result, error) {
	r1, r2 := o.rotation1, o.rotation2

	if o.autoRotation {
		o1, o2 := orientation.ResolveAmbiguity(reading.Panel1Orientation, reading.Panel2Orientation)
		if o1.IsAmbiguous() {
			o.log.Debug("both panels ambiguous, keeping rotations", "rotation1", r1, "rotation2", r2)
		} else {
			var err error
			if r1, err = orientation.ToDisplayRotation(o1); err != nil {
				return Result{}, err
			}
			if r2, err = orientation.ToDisplayRotation(o2); err != nil {
				return Result{}, err
			}
		}
	}

	enabled1, enabled2 := true, true
	if reading.Hinge == sensors.HingeFull {
		enabled1 = o.display1Favorite
		enabled2 = !o.display1Favorite
	}

	req := Request{
		Panel1:    reading.Panel1ID,
		Panel2:    reading.Panel2ID,
		Rotation1: r1,
		Rotation2: r2,
		Enabled1:  enabled1,
		Enabled2:  enabled2,
	}
	if req.Panel1 == "" {
		req.Panel1 = o.panel1
	}
	if req.Panel2 == "" {
		req.Panel2 = o.panel2
	}
	return o.setDisplayStatesLocked(ctx, req)
}

func (o *Orchestrator) setDisplayStatesLocked(ctx context.Context, req Request) (Result, error) {
	res := Result{
		TransactionID: uuid.NewString(),
		Request:       req,
		Started:       o.now(),
	}
	ctx = logging.ContextWithTransaction(ctx, res.TransactionID)
	log := o.log.WithContext(ctx)

	err := req.validate()
	if err == nil {
		err = o.apply(log, req, &res)
	}
	res.Duration = o.now().Sub(res.Started)

	o.metrics.TransactionsTotal.Inc()
	o.metrics.TransactionDuration.ObserveDuration(res.Duration)
	o.metrics.SoftFailuresTotal.Add(uint64(len(res.SoftFailures)))
	if err != nil {
		o.metrics.TransactionFailuresTotal.Inc()
		log.Error("display transaction failed", "error", err,
			"enabled1", req.Enabled1, "enabled2", req.Enabled2)
	} else {
		o.rotation1, o.rotation2 = req.Rotation1, req.Rotation2
		log.Info("display transaction applied", "primary", res.Primary, "shortcut", res.Shortcut,
			"rotation1", req.Rotation1, "rotation2", req.Rotation2,
			"enabled1", req.Enabled1, "enabled2", req.Enabled2, "duration", res.Duration)
	}
	if len(res.SoftFailures) > 0 {
		log.Warn("transaction completed with soft failures", "error", res.SoftError())
	}

	o.last, o.lastErr = &res, err
	if o.recorder != nil {
		if rerr := o.recorder.Record(ctx, res, err); rerr != nil {
			log.Warn("failed to record transaction", "error", rerr)
		}
	}
	return res, err
}

func addSoft(res *Result, what string, err error) {
	res.SoftFailures = append(res.SoftFailures, fmt.Errorf("%s: %w", what, err))
}

func (o *Orchestrator) setSensors(res *Result, panelID string, enabled bool) {
	if o.gate == nil {
		return
	}
	if err := o.gate.SetPanelSensorEnabled(panelID, enabled); err != nil {
		addSoft(res, "rotation-lock sensors of "+panelID, err)
	}
}

func (o *Orchestrator) resolve(panelID string) (display.Device, display.Mode, error) {
	dev, err := o.resolver.Resolve(panelID)
	if err != nil {
		if errors.Is(err, display.ErrNotFound) {
			return dev, display.Mode{}, err
		}
		return dev, display.Mode{}, &PlatformError{Step: StepResolve, Err: err}
	}
	mode, err := display.BestDisplayMode(o.sub, dev)
	if err != nil {
		return dev, mode, &PlatformError{Step: StepBestMode, Err: err}
	}
	return dev, mode, nil
}

// place moves a mode to the origin and turns it to rotation, transposing the
// extent when the orientation class changes.
func place(m display.Mode, rotation orientation.Rotation) display.Mode {
	m.X, m.Y = 0, 0
	if orientation.NeedsSwap(m.Rotation, rotation) {
		m.Width, m.Height = m.Height, m.Width
	}
	m.Rotation = rotation
	return m
}

func (o *Orchestrator) apply(log *logging.Logger, req Request, res *Result) error {
	dev1, mode1, err := o.resolve(req.Panel1)
	if err != nil {
		return fmt.Errorf("panel 1: %w", err)
	}
	dev2, mode2, err := o.resolve(req.Panel2)
	if err != nil {
		return fmt.Errorf("panel 2: %w", err)
	}
	was1, was2 := dev1.Attached, dev2.Attached

	if !req.Enabled1 && was1 {
		o.setSensors(res, req.Panel1, false)
	}
	if !req.Enabled2 && was2 {
		o.setSensors(res, req.Panel2, false)
	}

	mode1 = place(mode1, req.Rotation1)
	mode2 = place(mode2, req.Rotation2)

	const (
		primaryFlags = display.UpdateRegistry | display.Global | display.NoReset | display.SetPrimary
		otherFlags   = display.UpdateRegistry | display.Global | display.NoReset
	)
	applyPair := func(primary display.Device, pm display.Mode, other display.Device, om display.Mode) error {
		if err := o.sub.Apply(primary, pm, primaryFlags); err != nil {
			return &PlatformError{Step: StepApplyPrimary, Err: err}
		}
		if err := o.sub.Apply(other, om, otherFlags); err != nil {
			return &PlatformError{Step: StepApplyOther, Err: err}
		}
		return nil
	}

	switch {
	case req.Enabled1 && req.Enabled2:
		p1, p2 := orientation.AdjacentOffsets(req.Rotation1, mode1.Size(), mode2.Size())
		mode1.X, mode1.Y = p1.X, p1.Y
		mode2.X, mode2.Y = p2.X, p2.Y
		res.Mode1, res.Mode2 = mode1, mode2

		if p1 == (orientation.Point{}) {
			res.Primary = req.Panel1
			err = applyPair(dev1, mode1, dev2, mode2)
		} else {
			res.Primary = req.Panel2
			err = applyPair(dev2, mode2, dev1, mode1)
		}
		if err != nil {
			return err
		}

	case req.Enabled1:
		mode2.Width, mode2.Height = 0, 0
		res.Mode1, res.Mode2 = mode1, mode2
		res.Primary = req.Panel1
		if was1 && !was2 {
			o.announce(log, res, req.Rotation1)
		} else if err := applyPair(dev1, mode1, dev2, mode2); err != nil {
			return err
		}

	default:
		mode1.Width, mode1.Height = 0, 0
		res.Mode1, res.Mode2 = mode1, mode2
		res.Primary = req.Panel2
		if !was1 && was2 {
			o.announce(log, res, req.Rotation2)
		} else if err := applyPair(dev2, mode2, dev1, mode1); err != nil {
			return err
		}
	}

	if err := o.sub.Commit(); err != nil {
		return &PlatformError{Step: StepCommit, Err: err}
	}

	if o.settle > 0 {
		o.sleep(o.settle)
	}

	if req.Enabled1 && req.Enabled2 {
		if err := o.workAreas.FixWorkAreas(); err != nil {
			return &PlatformError{Step: StepWorkAreas, Err: err}
		}
	}

	if req.Enabled1 && !was1 {
		o.setSensors(res, req.Panel1, true)
	}
	if req.Enabled2 && !was2 {
		o.setSensors(res, req.Panel2, true)
	}
	return nil
}

// announce routes a repeated single-screen state through the legacy
// endpoint instead of a mode set. A delivery failure is soft.
func (o *Orchestrator) announce(log *logging.Logger, res *Result, rotation orientation.Rotation) {
	res.Shortcut = true
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyOrientationChange(rotation); err != nil {
		addSoft(res, "legacy rotation notification", err)
		return
	}
	o.metrics.LegacyNotificationsTotal.Inc()
	log.Debug("single-screen repeat announced", "rotation", rotation)
}

// Status is a snapshot of the orchestrator state.
type Status struct {
	Display1Favorite    bool
	AutoRotationEnabled bool
	Rotation1           orientation.Rotation
	Rotation2           orientation.Rotation
	SettleDelay         time.Duration
	Last                *Result
	LastError           error
}

// Status returns the current state. It waits for a running transaction.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		Display1Favorite:    o.display1Favorite,
		AutoRotationEnabled: o.autoRotation,
		Rotation1:           o.rotation1,
		Rotation2:           o.rotation2,
		SettleDelay:         o.settle,
		LastError:           o.lastErr,
	}
	if o.last != nil {
		last := *o.last
		st.Last = &last
	}
	return st
}

// Display1Favorite reports whether panel 1 is kept on while folded.
func (o *Orchestrator) Display1Favorite() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.display1Favorite
}

// SetAutoRotationEnabled controls whether readings change rotations. When
// disabled, transactions keep the last applied rotations.
func (o *Orchestrator) SetAutoRotationEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.autoRotation = enabled
}

// SetSettleDelay changes the post-commit delay.
func (o *Orchestrator) SetSettleDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settle = d
}
