//go:build !windows && !linux

package display

import "errors"

// NewSystemSubsystem returns the platform display subsystem.
func NewSystemSubsystem() (Subsystem, error) {
	return nil, errors.New("display configuration is not supported on this platform")
}

// NewSystemWorkAreaFixer returns the platform work-area fixer.
func NewSystemWorkAreaFixer() WorkAreaFixer {
	return NoopWorkAreaFixer
}
