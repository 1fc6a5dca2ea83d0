//go:build windows

package main

import (
	"duodisplayd/internal/config"
	"duodisplayd/internal/devnode"
	"duodisplayd/internal/power"
)

// systemTree walks the PnP device tree.
func systemTree(*config.Config) devnode.Tree {
	return devnode.NewSystemTree()
}

// platformPower returns a broadcaster nothing publishes to. Display and
// sleep notifications reach a service through its control handler only.
func platformPower() (power.Source, func()) {
	return power.NewBroadcaster(), func() {}
}
