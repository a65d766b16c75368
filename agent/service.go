package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
)

// program implements service.Interface so the agent can run under the
// platform service manager (Windows SCM, launchd, systemd).
type program struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("LAN device agent service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if err := runInteractive(p.ctx); err != nil && p.svcLogger != nil {
		p.svcLogger.Errorf("agent exited: %v", err)
	}
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("agent service stopped with timeout")
		}
	}
	return nil
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "LanDeviceAgent",
		DisplayName: "LAN Device Agent",
		Description: "Exposes an authenticated LAN administration API and advertises the host over mDNS.",
		Arguments:   []string{"--service", "run", "--headless"},
		Option: service.KeyValue{
			// Windows service options
			"StartType":              "automatic",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",

			// Linux systemd options
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",

			// macOS launchd options
			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// handleServiceAction dispatches the --service flag: install, uninstall,
// start, stop, or run (the entry point the service manager invokes).
func handleServiceAction(action string) error {
	svc, err := service.New(&program{}, serviceConfig())
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	switch action {
	case "run":
		return svc.Run()
	case "install", "uninstall", "start", "stop":
		if err := service.Control(svc, action); err != nil {
			return err
		}
		fmt.Printf("service %s: done\n", action)
		return nil
	default:
		return fmt.Errorf("unknown service action %q", action)
	}
}
