//go:build windows

package main

import (
	"context"
	"os"

	"golang.org/x/sys/windows/svc"

	"duodisplayd/internal/config"
	"duodisplayd/internal/logging"
	"duodisplayd/internal/power"
)

const serviceName = "duodisplayd"

// runAsService runs the daemon under the service control manager and
// reports whether the process was started as a service.
func runAsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil || !isService {
		return false
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}
	fs, path := newFlagSet("service")
	fs.Parse(args)

	if err := svc.Run(serviceName, &service{configPath: *path}); err != nil {
		logging.Default().Error("service failed", "error", err)
		os.Exit(1)
	}
	return true
}

type service struct {
	configPath string
}

// Execute implements svc.Handler. Power events from the control handler are
// published to the router through a broadcaster.
func (s *service) Execute(_ []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const accepts = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPowerEvent
	status <- svc.Status{State: svc.StartPending}

	broadcaster := power.NewBroadcaster()
	d, err := NewDaemon(config.NewLoader(s.configPath), broadcaster)
	if err != nil {
		logging.Default().Error("failed to start daemon", "error", err)
		return true, 1
	}
	defer d.Close()

	unregister, err := power.RegisterDisplayNotifications(svc.StatusHandle())
	if err != nil {
		d.log.Warn("display power notifications unavailable", "error", err)
	} else {
		defer unregister()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	status <- svc.Status{State: svc.Running, Accepts: accepts}

	for {
		select {
		case err := <-done:
			status <- svc.Status{State: svc.StopPending}
			if err != nil {
				d.log.Error("daemon stopped", "error", err)
				return true, 2
			}
			return false, 0
		case r := <-requests:
			switch r.Cmd {
			case svc.Interrogate:
				status <- r.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				<-done
				return false, 0
			case svc.PowerEvent:
				if !broadcaster.HandleServiceEvent(r.EventType, r.EventData) {
					d.log.Debug("ignored power event", "type", r.EventType)
				}
			default:
				d.log.Warn("unexpected service control request", "cmd", r.Cmd)
			}
		}
	}
}
