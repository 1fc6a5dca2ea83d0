// Package config handles configuration loading, validation, and hot reload
// for duodisplayd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Flip trigger values.
const (
	FlipTriggerStarted   = "started"
	FlipTriggerCompleted = "completed"
)

// Sensor backends.
const (
	SensorBackendBridge = "bridge"
	SensorBackendIIO    = "iio"
)

// Settings backends.
const (
	SettingsBackendRegistry = "registry"
	SettingsBackendFile     = "file"
)

// DefaultRotationLockHardwareID is the hardware id of the per-panel
// rotation-lock sensor node.
const DefaultRotationLockHardwareID = "HID_DEVICE_UP:000D_U:000F"

// DefaultLegacyPort is the rendezvous name of the legacy rotation endpoint.
const DefaultLegacyPort = `\RPC Control\AutoRotationApiPort`

// Config holds the complete daemon configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Panels   PanelsConfig   `toml:"panels" json:"panels" yaml:"panels"`
	Rotation RotationConfig `toml:"rotation" json:"rotation" yaml:"rotation"`
	Sensors  SensorsConfig  `toml:"sensors" json:"sensors" yaml:"sensors"`
	Settings SettingsConfig `toml:"settings" json:"settings" yaml:"settings"`
	Journal  JournalConfig  `toml:"journal" json:"journal" yaml:"journal"`
	IPC      IPCConfig      `toml:"ipc" json:"ipc" yaml:"ipc"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// PanelsConfig identifies the two panels.
type PanelsConfig struct {
	// Panel1ID and Panel2ID are the container ids of the panels. Sensors that
	// report their own ids (the posture bridge) take precedence.
	Panel1ID string `toml:"panel1_id" json:"panel1_id" yaml:"panel1_id"`
	Panel2ID string `toml:"panel2_id" json:"panel2_id" yaml:"panel2_id"`

	// Outputs maps a panel id to a display connector name. Hosts without a
	// firmware device tree bind panels through this map.
	Outputs map[string]string `toml:"outputs" json:"outputs" yaml:"outputs"`
}

// RotationConfig tunes the display engine and router.
type RotationConfig struct {
	// FlipTrigger selects the gesture state that swaps the single-screen
	// favorite: "started" or "completed".
	FlipTrigger string `toml:"flip_trigger" json:"flip_trigger" yaml:"flip_trigger"`

	// SettleDelayMs is slept after every commit, inside the engine lock.
	SettleDelayMs int `toml:"settle_delay_ms" json:"settle_delay_ms" yaml:"settle_delay_ms"`

	RotationLockHardwareID string `toml:"rotation_lock_hardware_id" json:"rotation_lock_hardware_id" yaml:"rotation_lock_hardware_id"`

	LegacyPort string `toml:"legacy_port" json:"legacy_port" yaml:"legacy_port"`

	DiscoveryTimeoutSec int `toml:"discovery_timeout_sec" json:"discovery_timeout_sec" yaml:"discovery_timeout_sec"`

	// ExtendOnStart switches to the extended topology before sensors are discovered.
	ExtendOnStart bool `toml:"extend_on_start" json:"extend_on_start" yaml:"extend_on_start"`
}

// SettleDelay returns SettleDelayMs as a duration.
func (r RotationConfig) SettleDelay() time.Duration {
	return time.Duration(r.SettleDelayMs) * time.Millisecond
}

// DiscoveryTimeout returns DiscoveryTimeoutSec as a duration.
func (r RotationConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(r.DiscoveryTimeoutSec) * time.Second
}

// SensorsConfig selects and tunes the posture and flip sensors.
type SensorsConfig struct {
	// Backend is "bridge" (readings pushed over IPC) or "iio" (Linux accelerometers).
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	IIOPanel1Path string `toml:"iio_panel1_path" json:"iio_panel1_path" yaml:"iio_panel1_path"`
	IIOPanel2Path string `toml:"iio_panel2_path" json:"iio_panel2_path" yaml:"iio_panel2_path"`

	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// FullHingeAngle is the hinge angle in degrees at or above which the
	// device counts as folded back to back.
	FullHingeAngle float64 `toml:"full_hinge_angle" json:"full_hinge_angle" yaml:"full_hinge_angle"`

	// FlipSettleMs is how long the facing panel must stay stable before a
	// flip completes.
	FlipSettleMs int `toml:"flip_settle_ms" json:"flip_settle_ms" yaml:"flip_settle_ms"`

	// UseLidSwitch reads the logind lid state as an extra folded signal.
	UseLidSwitch bool `toml:"use_lid_switch" json:"use_lid_switch" yaml:"use_lid_switch"`
}

// PollInterval returns PollIntervalMs as a duration.
func (s SensorsConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// FlipSettle returns FlipSettleMs as a duration.
func (s SensorsConfig) FlipSettle() time.Duration {
	return time.Duration(s.FlipSettleMs) * time.Millisecond
}

// SettingsConfig selects the store holding Enable, SensorPresent and MobileBehavior.
type SettingsConfig struct {
	Backend  string `toml:"backend" json:"backend" yaml:"backend"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// JournalConfig controls the transaction history database.
type JournalConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path          string `toml:"path" json:"path" yaml:"path"`
	RetentionDays int    `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
	MaxEntries    int    `toml:"max_entries" json:"max_entries" yaml:"max_entries"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	Enabled        bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath     string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns the default configuration for the running platform.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Panels: PanelsConfig{
			Outputs: map[string]string{},
		},
		Rotation: RotationConfig{
			FlipTrigger:            FlipTriggerStarted,
			SettleDelayMs:          1000,
			RotationLockHardwareID: DefaultRotationLockHardwareID,
			LegacyPort:             DefaultLegacyPort,
			DiscoveryTimeoutSec:    10,
			ExtendOnStart:          true,
		},
		Sensors: SensorsConfig{
			Backend:        defaultSensorBackend(),
			IIOPanel1Path:  "/sys/bus/iio/devices/iio:device0",
			IIOPanel2Path:  "/sys/bus/iio/devices/iio:device1",
			PollIntervalMs: 250,
			FullHingeAngle: 340,
			FlipSettleMs:   750,
			UseLidSwitch:   true,
		},
		Settings: SettingsConfig{
			Backend:  defaultSettingsBackend(),
			FilePath: filepath.Join(dir, "settings.toml"),
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "journal.db"),
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			MaxConnections: 8,
			TimeoutSec:     30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			FilePath:   filepath.Join(LogDir(), "duodisplayd.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path, honouring
// DUODISPLAYD_CONFIG.
func ConfigPath() string {
	if v := os.Getenv("DUODISPLAYD_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist. The format is chosen by extension and defaults to
// TOML. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	if cfg.Panels.Outputs == nil {
		cfg.Panels.Outputs = map[string]string{}
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# duodisplayd configuration\n\n")
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Journal.Path),
		filepath.Dir(c.Logging.FilePath),
	}
	if c.Settings.Backend == SettingsBackendFile {
		dirs = append(dirs, filepath.Dir(c.Settings.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies DUODISPLAYD_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("DUODISPLAYD_PANEL1_ID"); v != "" {
		c.Panels.Panel1ID = v
	}
	if v := os.Getenv("DUODISPLAYD_PANEL2_ID"); v != "" {
		c.Panels.Panel2ID = v
	}
	if v := os.Getenv("DUODISPLAYD_FLIP_TRIGGER"); v != "" {
		c.Rotation.FlipTrigger = v
	}
	if v := os.Getenv("DUODISPLAYD_SETTLE_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Rotation.SettleDelayMs = ms
		}
	}
	if v := os.Getenv("DUODISPLAYD_SENSOR_BACKEND"); v != "" {
		c.Sensors.Backend = v
	}
	if v := os.Getenv("DUODISPLAYD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("DUODISPLAYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DUODISPLAYD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("DUODISPLAYD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Panels:   c.Panels,
		Rotation: c.Rotation,
		Sensors:  c.Sensors,
		Settings: c.Settings,
		Journal:  c.Journal,
		IPC:      c.IPC,
		Logging:  c.Logging,
	}
	clone.Panels.Outputs = make(map[string]string, len(c.Panels.Outputs))
	for k, v := range c.Panels.Outputs {
		clone.Panels.Outputs[k] = v
	}
	return clone
}
