//go:build !linux && !windows

package main

import (
	"duodisplayd/internal/config"
	"duodisplayd/internal/devnode"
	"duodisplayd/internal/power"
)

func systemTree(cfg *config.Config) devnode.Tree {
	return devnode.NewConnectorTree(cfg.Panels.Outputs)
}

func platformPower() (power.Source, func()) {
	return power.NewBroadcaster(), func() {}
}
