package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "duodisplayd"

// DataDir returns the directory holding the journal and the file settings
// store, honouring DUODISPLAYD_DATA_DIR.
func DataDir() string {
	if v := os.Getenv("DUODISPLAYD_DATA_DIR"); v != "" {
		return v
	}
	return PlatformDataDir()
}

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - Windows: %ProgramData%\duodisplayd\ (the service runs as LocalSystem)
//   - Linux:   $XDG_DATA_HOME/duodisplayd/ or ~/.local/share/duodisplayd/
//   - macOS:   ~/Library/Application Support/duodisplayd/
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(programData(), appName)
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".local", "share", appName)
	}
}

// ConfigDir returns the platform-specific configuration directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "windows", "darwin":
		return PlatformDataDir()
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".config", appName)
	}
}

// LogDir returns the platform-specific log directory.
func LogDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(programData(), appName, "logs")
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".local", "state", appName)
	}
}

// PlatformRuntimeDir returns the directory for the control socket. Windows
// uses named pipes and returns an empty string.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return ""
	default:
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
	}
}

// DefaultSocketPath returns the default control endpoint.
func DefaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\` + appName
	}
	return filepath.Join(PlatformRuntimeDir(), appName+".sock")
}

func defaultSensorBackend() string {
	if runtime.GOOS == "linux" {
		return SensorBackendIIO
	}
	return SensorBackendBridge
}

func defaultSettingsBackend() string {
	if runtime.GOOS == "windows" {
		return SettingsBackendRegistry
	}
	return SettingsBackendFile
}

func programData() string {
	if v := os.Getenv("ProgramData"); v != "" {
		return v
	}
	return `C:\ProgramData`
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}
