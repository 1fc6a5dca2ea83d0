package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Rotation.FlipTrigger != FlipTriggerStarted {
		t.Errorf("expected started trigger, got %s", cfg.Rotation.FlipTrigger)
	}
	if cfg.Rotation.SettleDelay() != time.Second {
		t.Errorf("expected 1s settle delay, got %v", cfg.Rotation.SettleDelay())
	}
	if cfg.Rotation.RotationLockHardwareID != "HID_DEVICE_UP:000D_U:000F" {
		t.Errorf("unexpected hardware id %s", cfg.Rotation.RotationLockHardwareID)
	}
	if cfg.Rotation.LegacyPort != `\RPC Control\AutoRotationApiPort` {
		t.Errorf("unexpected legacy port %s", cfg.Rotation.LegacyPort)
	}
	if !strings.HasSuffix(cfg.Journal.Path, "journal.db") {
		t.Errorf("unexpected journal path %s", cfg.Journal.Path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("expected defaults, got version %d", cfg.Version)
	}
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"config.toml": `
version = 1

[panels]
panel1_id = "panel-left"
panel2_id = "panel-right"

[panels.outputs]
panel-left = "DSI-1"
panel-right = "DSI-2"

[rotation]
flip_trigger = "completed"
settle_delay_ms = 250
`,
		"config.json": `{
  "version": 1,
  "panels": {"panel1_id": "panel-left", "panel2_id": "panel-right",
             "outputs": {"panel-left": "DSI-1", "panel-right": "DSI-2"}},
  "rotation": {"flip_trigger": "completed", "settle_delay_ms": 250}
}`,
		"config.yaml": `
version: 1
panels:
  panel1_id: panel-left
  panel2_id: panel-right
  outputs:
    panel-left: DSI-1
    panel-right: DSI-2
rotation:
  flip_trigger: completed
  settle_delay_ms: 250
`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Panels.Panel1ID != "panel-left" || cfg.Panels.Panel2ID != "panel-right" {
				t.Errorf("unexpected panels %+v", cfg.Panels)
			}
			if cfg.Panels.Outputs["panel-right"] != "DSI-2" {
				t.Errorf("unexpected outputs %v", cfg.Panels.Outputs)
			}
			if cfg.Rotation.FlipTrigger != FlipTriggerCompleted {
				t.Errorf("unexpected trigger %s", cfg.Rotation.FlipTrigger)
			}
			if cfg.Rotation.SettleDelayMs != 250 {
				t.Errorf("unexpected settle delay %d", cfg.Rotation.SettleDelayMs)
			}
			// untouched sections keep their defaults
			if cfg.Rotation.DiscoveryTimeoutSec != 10 {
				t.Errorf("expected default discovery timeout, got %d", cfg.Rotation.DiscoveryTimeoutSec)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[rotation\nflip_trigger = "), 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DUODISPLAYD_FLIP_TRIGGER", "completed")
	t.Setenv("DUODISPLAYD_SETTLE_DELAY_MS", "42")
	t.Setenv("DUODISPLAYD_PANEL1_ID", "env-panel")
	t.Setenv("DUODISPLAYD_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Rotation.FlipTrigger != "completed" || cfg.Rotation.SettleDelayMs != 42 {
		t.Errorf("rotation overrides not applied: %+v", cfg.Rotation)
	}
	if cfg.Panels.Panel1ID != "env-panel" || cfg.Logging.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v", cfg.Panels, cfg.Logging)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rotation.FlipTrigger = "sideways"
	cfg.Rotation.SettleDelayMs = -1
	cfg.Panels.Panel1ID = "same"
	cfg.Panels.Panel2ID = "same"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{"rotation.flip_trigger", "rotation.settle_delay_ms", "panels.panel2_id", "logging.level"} {
		if !fields[f] {
			t.Errorf("missing error for %s in %v", f, err)
		}
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("errors should be joined: %v", err)
	}
}

func TestValidateIIOBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensors.Backend = SensorBackendIIO
	cfg.Sensors.IIOPanel2Path = cfg.Sensors.IIOPanel1Path
	cfg.Sensors.FullHingeAngle = 90

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sensors.iio_panel2_path", "sensors.full_hinge_angle"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %v", want, err)
		}
	}
}

func TestValidateDuplicateConnector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Panels.Outputs = map[string]string{"a": "DSI-1", "b": "DSI-1"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate connector error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Panels.Outputs["p1"] = "DSI-1"

	clone := cfg.Clone()
	clone.Panels.Outputs["p1"] = "HDMI-1"
	clone.Rotation.SettleDelayMs = 5

	if cfg.Panels.Outputs["p1"] != "DSI-1" {
		t.Error("clone shares the outputs map")
	}
	if cfg.Rotation.SettleDelayMs != 1000 {
		t.Error("clone shares rotation settings")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			cfg := DefaultConfig()
			cfg.Panels.Panel1ID = "left"
			cfg.Panels.Outputs["left"] = "eDP-1"
			cfg.Rotation.FlipTrigger = FlipTriggerCompleted

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Panels.Panel1ID != "left" || loaded.Panels.Outputs["left"] != "eDP-1" {
				t.Errorf("panels not preserved: %+v", loaded.Panels)
			}
			if loaded.Rotation.FlipTrigger != FlipTriggerCompleted {
				t.Errorf("rotation not preserved: %+v", loaded.Rotation)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Journal.Path = filepath.Join(dir, "data", "journal.db")
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "duodisplayd.log")
	cfg.Settings.Backend = SettingsBackendFile
	cfg.Settings.FilePath = filepath.Join(dir, "settings", "settings.toml")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"data", "logs", "settings"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("%s was not created", sub)
		}
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n[rotation]\nsettle_delay_ms = 100\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rotation.SettleDelayMs != 100 {
		t.Fatalf("unexpected settle delay %d", cfg.Rotation.SettleDelayMs)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(old, updated *Config) {
		if old.Rotation.SettleDelayMs != 100 {
			t.Errorf("old config not passed: %d", old.Rotation.SettleDelayMs)
		}
		changed <- updated
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("version = 1\n[rotation]\nsettle_delay_ms = 300\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case updated := <-changed:
		if updated.Rotation.SettleDelayMs != 300 {
			t.Errorf("expected 300, got %d", updated.Rotation.SettleDelayMs)
		}
		if loader.Config() != updated {
			t.Error("loader did not store the reloaded config")
		}
	case err := <-loader.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte("version = 1\n"), 0600)

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("version = 1\n[rotation]\nflip_trigger = \"never\"\n"), 0600)

	if err := loader.Reload(); err == nil {
		t.Fatal("expected validation error on reload")
	}
	if loader.Config().Rotation.FlipTrigger != FlipTriggerStarted {
		t.Error("invalid reload replaced the active config")
	}
}
