package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateConfig checks every section of c.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	errs = append(errs, validatePanels(&c.Panels)...)
	errs = append(errs, validateRotation(&c.Rotation)...)
	errs = append(errs, validateSensors(&c.Sensors)...)
	errs = append(errs, validateSettings(&c.Settings)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validatePanels(p *PanelsConfig) ValidationErrors {
	var errs ValidationErrors

	if p.Panel1ID != "" && p.Panel1ID == p.Panel2ID {
		errs.add("panels.panel2_id", "must differ from panel1_id")
	}

	seen := make(map[string]string, len(p.Outputs))
	for panel, output := range p.Outputs {
		if output == "" {
			errs.add("panels.outputs."+panel, "connector name is required")
			continue
		}
		if other, dup := seen[output]; dup {
			errs.add("panels.outputs."+panel, "connector %s already bound to %s", output, other)
		}
		seen[output] = panel
	}
	return errs
}

func validateRotation(r *RotationConfig) ValidationErrors {
	var errs ValidationErrors

	switch r.FlipTrigger {
	case FlipTriggerStarted, FlipTriggerCompleted:
	default:
		errs.add("rotation.flip_trigger", "invalid trigger: %s (valid: started, completed)", r.FlipTrigger)
	}

	if r.SettleDelayMs < 0 || r.SettleDelayMs > 10000 {
		errs.add("rotation.settle_delay_ms", "must be between 0 and 10000")
	}
	if r.RotationLockHardwareID == "" {
		errs.add("rotation.rotation_lock_hardware_id", "hardware id is required")
	}
	if r.LegacyPort == "" {
		errs.add("rotation.legacy_port", "port name is required")
	}
	if r.DiscoveryTimeoutSec < 1 {
		errs.add("rotation.discovery_timeout_sec", "must be at least 1 second")
	}
	return errs
}

func validateSensors(s *SensorsConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Backend {
	case SensorBackendBridge:
		return errs
	case SensorBackendIIO:
	default:
		errs.add("sensors.backend", "invalid backend: %s (valid: bridge, iio)", s.Backend)
		return errs
	}

	if s.IIOPanel1Path == "" || s.IIOPanel2Path == "" {
		errs.add("sensors.iio_panel_path", "both accelerometer paths are required for the iio backend")
	} else if s.IIOPanel1Path == s.IIOPanel2Path {
		errs.add("sensors.iio_panel2_path", "must differ from iio_panel1_path")
	}
	if s.PollIntervalMs < 20 {
		errs.add("sensors.poll_interval_ms", "must be at least 20")
	}
	if s.FullHingeAngle <= 180 || s.FullHingeAngle > 360 {
		errs.add("sensors.full_hinge_angle", "must be in (180, 360]")
	}
	if s.FlipSettleMs < 0 {
		errs.add("sensors.flip_settle_ms", "cannot be negative")
	}
	return errs
}

func validateSettings(s *SettingsConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Backend {
	case SettingsBackendRegistry:
	case SettingsBackendFile:
		if s.FilePath == "" {
			errs.add("settings.file_path", "file path is required for the file backend")
		}
	default:
		errs.add("settings.backend", "invalid backend: %s (valid: registry, file)", s.Backend)
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if !j.Enabled {
		return errs
	}
	if j.Path == "" {
		errs.add("journal.path", "path is required when the journal is enabled")
	}
	if j.RetentionDays < 0 {
		errs.add("journal.retention_days", "cannot be negative")
	}
	if j.MaxEntries < 0 {
		errs.add("journal.max_entries", "cannot be negative")
	}
	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}
	if i.SocketPath == "" {
		errs.add("ipc.socket_path", "socket path is required when IPC is enabled")
	}
	if i.MaxConnections < 1 {
		errs.add("ipc.max_connections", "must be at least 1")
	}
	if i.TimeoutSec < 1 {
		errs.add("ipc.timeout_sec", "must be at least 1 second")
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.add("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		errs.add("logging.format", "invalid log format: %s (valid: text, json)", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs.add("logging.file_path", "file path is required when output includes a file")
		}
	default:
		errs.add("logging.output", "invalid output: %s (valid: stdout, stderr, file, both)", l.Output)
	}

	if l.MaxSizeMB < 1 {
		errs.add("logging.max_size_mb", "max size must be at least 1 MB")
	}
	if l.MaxBackups < 0 {
		errs.add("logging.max_backups", "max backups cannot be negative")
	}
	if l.MaxAgeDays < 0 {
		errs.add("logging.max_age_days", "max age cannot be negative")
	}
	return errs
}
