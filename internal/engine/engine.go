// Package engine owns the display configuration of the two panels. It turns
// posture readings into display state requests and applies each request as
// one serialized transaction against the display subsystem.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duodisplayd/internal/display"
	"duodisplayd/internal/orientation"
	"duodisplayd/internal/sensors"
)

// ErrNoPanelEnabled rejects a request that turns both panels off.
var ErrNoPanelEnabled = errors.New("at least one panel must stay enabled")

// Transaction steps reported by PlatformError.
const (
	StepResolve      = "resolve"
	StepBestMode     = "best_mode"
	StepApplyPrimary = "apply_primary"
	StepApplyOther   = "apply_other"
	StepCommit       = "commit"
	StepWorkAreas    = "work_areas"
	StepPosture      = "current_posture"
)

// PlatformError is a failed OS call that aborted a transaction. Sub-steps
// that already succeeded are not rolled back.
type PlatformError struct {
	Step string
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Request is the target state of both panels.
type Request struct {
	Panel1    string
	Panel2    string
	Rotation1 orientation.Rotation
	Rotation2 orientation.Rotation
	Enabled1  bool
	Enabled2  bool
}

func (r Request) validate() error {
	if !r.Enabled1 && !r.Enabled2 {
		return ErrNoPanelEnabled
	}
	if !r.Rotation1.Valid() || !r.Rotation2.Valid() {
		return fmt.Errorf("invalid rotation %d/%d", r.Rotation1, r.Rotation2)
	}
	return nil
}

// Result describes one transaction.
type Result struct {
	TransactionID string
	Request       Request
	Started       time.Time
	Duration      time.Duration

	// Primary is the panel left at the origin, empty when nothing was applied.
	Primary string
	// Shortcut is set when a repeated single-screen state was only announced
	// to the legacy endpoint.
	Shortcut bool
	// Mode1 and Mode2 are the modes written for each panel.
	Mode1 display.Mode
	Mode2 display.Mode

	SoftFailures []error
}

// SoftError joins the soft failures, or returns nil.
func (r Result) SoftError() error {
	return errors.Join(r.SoftFailures...)
}

// PanelResolver binds a panel id to a display device.
type PanelResolver interface {
	Resolve(panelID string) (display.Device, error)
}

// Gate toggles the rotation-lock sensors of a panel.
type Gate interface {
	SetPanelSensorEnabled(panelID string, enabled bool) error
}

// Notifier announces a rotation to the legacy endpoint.
type Notifier interface {
	NotifyOrientationChange(rotation orientation.Rotation) error
}

// PostureSource supplies the current posture on demand.
type PostureSource interface {
	CurrentPosture(ctx context.Context) (sensors.PostureReading, error)
}

// Recorder receives every finished transaction, failed ones included.
type Recorder interface {
	Record(ctx context.Context, res Result, err error) error
}
