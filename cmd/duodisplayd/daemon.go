package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"duodisplayd/internal/config"
	"duodisplayd/internal/display"
	"duodisplayd/internal/engine"
	"duodisplayd/internal/health"
	"duodisplayd/internal/hwgate"
	"duodisplayd/internal/ipc"
	"duodisplayd/internal/journal"
	"duodisplayd/internal/legacy"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/metrics"
	"duodisplayd/internal/power"
	"duodisplayd/internal/router"
	"duodisplayd/internal/sensors"
	"duodisplayd/internal/settings"
)

const (
	pruneInterval  = time.Hour
	uptimeInterval = 15 * time.Second
)

// Daemon owns every long-lived component of the service.
type Daemon struct {
	loader *config.Loader
	cfg    *config.Config
	log    *logging.Logger

	settings settings.Store
	subsys   display.Subsystem
	notifier *legacy.Notifier
	journal  *journal.Journal
	registry *metrics.Registry
	metrics  *metrics.OrchestratorMetrics
	orch     *engine.Orchestrator
	router   *router.Router
	health   *health.Checker
	server   *ipc.Server

	posture sensors.PostureSensor
	flip    sensors.FlipSensor
	hub     *sensors.Hub

	closers []func() error
	wg      sync.WaitGroup
}

// NewDaemon builds the daemon from the configuration held by loader. pw
// supplies display power and system events and may be nil.
func NewDaemon(loader *config.Loader, pw power.Source) (*Daemon, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	d := &Daemon{loader: loader, cfg: cfg}
	if err := d.setupLogging(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		d.log.Warn("create directories", "error", err)
	}

	if err := d.build(pw); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) setupLogging() error {
	lc := d.cfg.Logging
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return err
	}
	log, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSize:    int64(lc.MaxSizeMB),
		MaxAge:     lc.MaxAgeDays,
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
		Component:  "duodisplayd",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(log)
	d.log = log
	d.closers = append(d.closers, log.Close)
	return nil
}

func (d *Daemon) build(pw power.Source) error {
	cfg := d.cfg

	store, err := settings.Open(cfg.Settings.Backend, cfg.Settings.FilePath)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	d.settings = store
	d.closers = append(d.closers, store.Close)

	sub, err := display.NewSystemSubsystem()
	if err != nil {
		return fmt.Errorf("open display subsystem: %w", err)
	}
	d.subsys = sub
	if c, ok := sub.(interface{ Close() }); ok {
		d.closers = append(d.closers, func() error { c.Close(); return nil })
	}

	tree := systemTree(cfg)
	resolver := display.NewResolver(sub, tree, d.log)
	gate := hwgate.New(tree, cfg.Rotation.RotationLockHardwareID, d.log)

	d.notifier = legacy.NewNotifier(legacy.SystemDialer(), d.log,
		legacy.WithPortName(cfg.Rotation.LegacyPort),
		legacy.WithBehavior(store))
	d.closers = append(d.closers, d.notifier.Close)

	d.registry = metrics.NewRegistry("duodisplayd")
	d.metrics = metrics.NewOrchestratorMetrics(d.registry)

	var recorder engine.Recorder
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, journal.Options{
			RetentionDays: cfg.Journal.RetentionDays,
			MaxEntries:    cfg.Journal.MaxEntries,
			Logger:        d.log,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		d.journal = j
		d.closers = append(d.closers, j.Close)
		recorder = j
	}

	d.orch, err = engine.New(engine.Config{
		Subsystem:   sub,
		Resolver:    resolver,
		Gate:        gate,
		Notifier:    d.notifier,
		WorkAreas:   display.NewSystemWorkAreaFixer(),
		Recorder:    recorder,
		Metrics:     d.metrics,
		Logger:      d.log,
		Panel1ID:    cfg.Panels.Panel1ID,
		Panel2ID:    cfg.Panels.Panel2ID,
		SettleDelay: cfg.Rotation.SettleDelay(),
	})
	if err != nil {
		return err
	}

	if err := d.openSensors(); err != nil {
		return err
	}

	trigger, err := sensors.ParseGestureState(cfg.Rotation.FlipTrigger)
	if err != nil {
		return err
	}
	d.router, err = router.New(router.Config{
		Posture:          d.posture,
		Flip:             d.flip,
		Power:            pw,
		Settings:         store,
		Orchestrator:     d.orch,
		FlipTrigger:      trigger,
		DiscoveryTimeout: cfg.Rotation.DiscoveryTimeout(),
		Metrics:          d.metrics,
		Logger:           d.log,
	})
	if err != nil {
		return err
	}

	d.setupHealth()

	if cfg.IPC.Enabled {
		if err := d.setupIPC(); err != nil {
			return err
		}
	}

	d.loader.OnChange(d.onConfigChange)
	return nil
}

// openSensors selects the posture and flip sensors for the configured backend.
func (d *Daemon) openSensors() error {
	cfg := d.cfg
	switch cfg.Sensors.Backend {
	case config.SensorBackendBridge:
		d.hub = sensors.NewHub(d.log)
		d.posture, d.flip = d.hub, d.hub
	case config.SensorBackendIIO:
		icfg := sensors.IIOConfig{
			Panel1:         sensors.IIODevice{Path: cfg.Sensors.IIOPanel1Path},
			Panel2:         sensors.IIODevice{Path: cfg.Sensors.IIOPanel2Path},
			Panel1ID:       cfg.Panels.Panel1ID,
			Panel2ID:       cfg.Panels.Panel2ID,
			PollInterval:   cfg.Sensors.PollInterval(),
			FullHingeAngle: cfg.Sensors.FullHingeAngle,
			Logger:         d.log,
		}
		if cfg.Sensors.UseLidSwitch {
			lid, err := sensors.NewLogindLid()
			if err != nil {
				d.log.Warn("lid switch unavailable", "error", err)
			} else {
				icfg.Lid = lid
				d.closers = append(d.closers, lid.Close)
			}
		}
		posture := sensors.NewIIOPosture(icfg)
		d.posture = posture
		d.flip = sensors.NewIIOFlip(posture, cfg.Sensors.FlipSettle())
	default:
		return fmt.Errorf("unknown sensor backend %q", cfg.Sensors.Backend)
	}
	return nil
}

func (d *Daemon) setupHealth() {
	d.health = health.NewChecker()
	if d.journal != nil {
		d.health.RegisterFunc("journal", true, health.DatabaseCheck(d.journal.Ping))
	}
	d.health.RegisterFunc("sensors", true, health.SensorsCheck(d.router.Discovered))
	d.health.RegisterFunc("settings", false, health.SettingsCheck(d.settings))
	d.health.RegisterFunc("display", true, health.CustomCheck(func() error {
		devices, err := d.subsys.Devices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return errors.New("no display devices")
		}
		return nil
	}))
}

func (d *Daemon) setupIPC() error {
	hcfg := ipc.DaemonHandlerConfig{
		Version:      Version,
		Orchestrator: d.orch,
		Posture:      d.posture,
		Router:       d.router,
		Metrics:      d.registry,
		Health:       d.health,
		Logger:       d.log,
	}
	if d.journal != nil {
		hcfg.Journal = d.journal
	}
	if d.hub != nil {
		hcfg.Bridge = d.hub
	}
	handler, err := ipc.NewDaemonHandler(hcfg)
	if err != nil {
		return err
	}

	scfg := ipc.DefaultServerConfig(d.cfg.IPC.SocketPath)
	scfg.Version = Version
	scfg.MaxConnections = d.cfg.IPC.MaxConnections
	if d.cfg.IPC.TimeoutSec > 0 {
		scfg.ReadTimeout = time.Duration(d.cfg.IPC.TimeoutSec) * time.Second
	}
	scfg.Logger = d.log
	d.server = ipc.NewServer(scfg, handler)
	return nil
}

// onConfigChange applies the settings that can change without a restart.
func (d *Daemon) onConfigChange(old, updated *config.Config) {
	if updated.Logging.Level != old.Logging.Level {
		if level, err := logging.ParseLevel(updated.Logging.Level); err == nil {
			d.log.SetLevel(level)
			d.log.Info("log level changed", "level", updated.Logging.Level)
		}
	}
	if updated.Rotation.FlipTrigger != old.Rotation.FlipTrigger {
		if trigger, err := sensors.ParseGestureState(updated.Rotation.FlipTrigger); err == nil {
			d.router.SetFlipTrigger(trigger)
			d.log.Info("flip trigger changed", "trigger", trigger)
		}
	}
	if updated.Rotation.SettleDelayMs != old.Rotation.SettleDelayMs {
		d.orch.SetSettleDelay(updated.Rotation.SettleDelay())
		d.log.Info("settle delay changed", "delay", updated.Rotation.SettleDelay())
	}
	for _, field := range restartOnlyChanges(old, updated) {
		d.log.Warn("configuration change needs a restart", "field", field)
	}
}

func restartOnlyChanges(old, updated *config.Config) []string {
	var fields []string
	if old.Sensors.Backend != updated.Sensors.Backend {
		fields = append(fields, "sensors.backend")
	}
	if old.Panels.Panel1ID != updated.Panels.Panel1ID || old.Panels.Panel2ID != updated.Panels.Panel2ID {
		fields = append(fields, "panels")
	}
	if old.IPC.SocketPath != updated.IPC.SocketPath {
		fields = append(fields, "ipc.socket_path")
	}
	if old.Journal.Path != updated.Journal.Path || old.Journal.Enabled != updated.Journal.Enabled {
		fields = append(fields, "journal")
	}
	return fields
}

// Run starts every component and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("starting duodisplayd",
		"version", Version,
		"sensor_backend", d.cfg.Sensors.Backend,
		"settings_backend", d.cfg.Settings.Backend,
	)

	if d.cfg.Rotation.ExtendOnStart {
		if err := d.subsys.ExtendTopology(); err != nil {
			d.log.Warn("extend display topology", "error", err)
		}
	}

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
		d.log.Info("ipc server listening", "path", d.server.SocketPath())
	}

	if err := d.loader.Watch(); err != nil {
		d.log.Warn("config hot reload unavailable", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	crashDir := logging.CrashDir()
	d.goGuarded("config-errors", crashDir, func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-d.loader.Errors():
				d.log.Warn("config reload failed", "error", err)
			}
		}
	})
	if d.journal != nil {
		d.goGuarded("journal-pruner", crashDir, func() {
			d.journal.RunPruner(ctx, pruneInterval)
		})
	}
	d.goGuarded("uptime", crashDir, func() {
		ticker := time.NewTicker(uptimeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.metrics.UpdateUptime()
			}
		}
	})

	d.health.SetReady(true)
	defer d.health.SetReady(false)

	var runErr error
	logging.Guard(d.log, "router", crashDir, Version, func() {
		runErr = d.router.Run(ctx)
	})
	if errors.Is(runErr, router.ErrSensorsUnavailable) {
		// Control requests are still served; nothing rotates automatically.
		d.log.Error("automatic rotation disabled", "error", runErr)
		<-ctx.Done()
		runErr = nil
	}

	cancel()
	d.wg.Wait()
	d.log.Info("duodisplayd stopped")
	return runErr
}

func (d *Daemon) goGuarded(name, crashDir string, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Guard(d.log, name, crashDir, Version, fn)
	}()
}

// Close releases every component in reverse order of creation.
func (d *Daemon) Close() {
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.log.Warn("stop ipc server", "error", err)
		}
	}
	if err := d.loader.Close(); err != nil && d.log != nil {
		d.log.Warn("stop config watcher", "error", err)
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && d.log != nil {
			d.log.Warn("close component", "error", err)
		}
	}
}

// cmdRun runs the daemon in the foreground until SIGINT or SIGTERM.
func cmdRun(args []string) {
	fs, path := newFlagSet("run")
	fs.Parse(args)

	pw, stopPower := platformPower()
	defer stopPower()

	d, err := NewDaemon(config.NewLoader(*path), pw)
	if err != nil {
		printError(fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		printError(err.Error())
		d.Close()
		os.Exit(1)
	}
}
