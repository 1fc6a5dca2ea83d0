package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"
)

// CrashReport is written to the crash directory when a guarded goroutine panics.
type CrashReport struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	GOOS       string    `json:"goos"`
	GOARCH     string    `json:"goarch"`
	Goroutine  string    `json:"goroutine"`
	PanicValue string    `json:"panic_value"`
	StackTrace string    `json:"stack_trace"`
}

// CrashDir returns the directory crash reports are written to.
func CrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// Guard runs fn and converts a panic into a logged error and a crash report.
// It returns true when fn panicked. Long-running goroutines of the service
// are started through Guard so one faulty event cannot take the process down.
func Guard(l *Logger, name, dir, version string, fn func()) (panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true

		report := CrashReport{
			Timestamp:  time.Now().UTC(),
			Version:    version,
			GOOS:       runtime.GOOS,
			GOARCH:     runtime.GOARCH,
			Goroutine:  name,
			PanicValue: fmt.Sprint(r),
			StackTrace: string(debug.Stack()),
		}
		log := OrDefault(l)
		log.Error("goroutine panicked", "goroutine", name, "panic", report.PanicValue)

		if dir == "" {
			return
		}
		path, err := WriteCrashReport(dir, report)
		if err != nil {
			log.Warn("write crash report", "error", err)
			return
		}
		log.Error("crash report written", "path", path)
	}()

	fn()
	return false
}

// WriteCrashReport stores report as JSON under dir and returns its path.
func WriteCrashReport(dir string, report CrashReport) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s.json", report.Goroutine, report.Timestamp.Format(rotatedStamp))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}
