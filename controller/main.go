// The controller binary: discovers agents over mDNS, maintains the saved
// device list and credential cache, and drives agents over their API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/config"
	"github.com/maxwellnie/lan-device-manager/common/discovery"
	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

var (
	flagConfigDir = flag.String("config-dir", "", "override the data/config directory")
	flagHeadless  = flag.Bool("headless", false, "run without prompting; skip devices that need a password")
	flagAutoAdd   = flag.Bool("auto-add", false, "persist every discovered device automatically")
	flagVersion   = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("lan-device-controller %s\n", protocol.Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir, err := config.DataDir("controller", *flagConfigDir)
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}

	cfg, err := LoadControllerConfig(dataDir)
	if err != nil {
		return err
	}
	store, err := LoadDevices(dataDir)
	if err != nil {
		return fmt.Errorf("load device list: %w", err)
	}
	creds, err := LoadCredentials(dataDir)
	if err != nil {
		return fmt.Errorf("load credential cache: %w", err)
	}

	registry := NewRegistry(cfg, store, creds)
	registry.Logf = func(format string, args ...interface{}) {
		fmt.Printf("[registry] "+format+"\n", args...)
	}
	if !*flagHeadless {
		registry.PromptPassword = promptPassword
	}

	browser := discovery.NewBrowser()
	browser.Logf = func(format string, args ...interface{}) {
		fmt.Printf("[discovery] "+format+"\n", args...)
	}
	browser.Start(ctx)
	defer browser.Stop()

	// Tee the browser events: optionally persist newcomers, then hand the
	// event to the registry for reconciliation.
	events := make(chan discovery.Event, 32)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-browser.Events():
				if !ok {
					return
				}
				if ev.Kind == discovery.EventDiscovered {
					fmt.Printf("discovered %s (%s) at %s:%d auth=%v\n",
						ev.Record.DeviceName, ev.Record.Key(), ev.Record.IP, ev.Record.Port, ev.Record.AuthRequired)
					if *flagAutoAdd {
						if _, saved := store.Get(ev.Record.Key()); !saved {
							store.Add(SavedDevice{
								UUID:      ev.Record.UUID,
								DisplayID: ev.Record.InstanceName,
								Name:      ev.Record.DeviceName,
								IP:        ev.Record.IP,
								Port:      ev.Record.Port,
							})
						}
					}
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	go registry.Run(ctx, events)

	// SIGHUP restarts the browser; required after the host moves networks.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			fmt.Println("[discovery] restarting browser")
			browser.Restart(ctx)
		}
	}()

	refresh := time.NewTicker(time.Duration(cfg.Probe.RefreshSeconds) * time.Second)
	defer refresh.Stop()

	registry.Refresh(ctx)
	printStatus(registry, store)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			registry.Refresh(ctx)
			printStatus(registry, store)
		}
	}
}

func printStatus(r *Registry, store *DeviceStore) {
	devices := store.List()
	if len(devices) == 0 {
		fmt.Println("no saved devices")
		return
	}
	for _, d := range devices {
		name := d.Name
		if d.CustomName != "" {
			name = d.CustomName
		}
		fmt.Printf("%-30s %-15s %5d  %s\n", name, d.IP, d.Port, r.Status(d.Key()))
	}
}

func promptPassword(d SavedDevice) (string, error) {
	fmt.Printf("password for %s (%s): ", d.Name, d.IP)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
