//go:build linux

package main

import (
	"time"

	"github.com/BurntSushi/xgb"

	"duodisplayd/internal/config"
	"duodisplayd/internal/devnode"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/power"
)

const dpmsPollInterval = 2 * time.Second

// systemTree binds panels through the configured connector map.
func systemTree(cfg *config.Config) devnode.Tree {
	return devnode.NewConnectorTree(cfg.Panels.Outputs)
}

// platformPower combines logind sleep notifications with X DPMS polling.
// Either half may be missing; the daemon runs without power events then.
func platformPower() (power.Source, func()) {
	log := logging.Default()
	var (
		sources []power.Source
		closers []func()
	)

	if logind, err := power.NewLogindSource(log); err != nil {
		log.Warn("logind power events unavailable", "error", err)
	} else {
		sources = append(sources, logind)
		closers = append(closers, func() { logind.Close() })
	}

	if conn, err := xgb.NewConn(); err != nil {
		log.Warn("dpms events unavailable", "error", err)
	} else if dpms, err := power.NewDPMSSource(conn, dpmsPollInterval, log); err != nil {
		conn.Close()
		log.Warn("dpms events unavailable", "error", err)
	} else {
		sources = append(sources, dpms)
		closers = append(closers, conn.Close)
	}

	return power.Combine(sources...), func() {
		for _, c := range closers {
			c()
		}
	}
}
