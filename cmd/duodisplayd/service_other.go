//go:build !windows

package main

// runAsService reports false; outside Windows the daemon is supervised by
// the init system and started with "run".
func runAsService() bool {
	return false
}
