// The agent binary: serves the authenticated HTTP+WebSocket API on the
// managed host and advertises itself over mDNS.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxwellnie/lan-device-manager/agent/auth"
	"github.com/maxwellnie/lan-device-manager/agent/command"
	agentconfig "github.com/maxwellnie/lan-device-manager/agent/config"
	"github.com/maxwellnie/lan-device-manager/agent/server"
	"github.com/maxwellnie/lan-device-manager/agent/storage"
	"github.com/maxwellnie/lan-device-manager/common/config"
	"github.com/maxwellnie/lan-device-manager/common/discovery"
	"github.com/maxwellnie/lan-device-manager/common/identity"
	"github.com/maxwellnie/lan-device-manager/common/logger"
	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

var (
	flagConfigDir   = flag.String("config-dir", "", "override the data/config directory")
	flagPort        = flag.Int("port", 0, "bind this port instead of the configured one")
	flagHeadless    = flag.Bool("headless", false, "run without any UI integration")
	flagService     = flag.String("service", "", "service control action: install, uninstall, start, stop, run")
	flagSetPassword = flag.String("set-password", "", "set the API password and exit")
	flagVersion     = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("lan-device-agent %s\n", protocol.Version)
		return
	}

	if *flagSetPassword != "" {
		if err := setPasswordAndExit(*flagSetPassword); err != nil {
			fmt.Fprintf(os.Stderr, "set password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("password updated; existing sessions are revoked on next start")
		return
	}

	if *flagService != "" {
		if err := handleServiceAction(*flagService); err != nil {
			fmt.Fprintf(os.Stderr, "service %s: %v\n", *flagService, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runInteractive(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

// setPasswordAndExit hashes the password and persists the verifier without
// starting the server.
func setPasswordAndExit(password string) error {
	dataDir, err := config.DataDir("agent", *flagConfigDir)
	if err != nil {
		return err
	}
	store, err := agentconfig.Load(dataDir)
	if err != nil {
		return err
	}

	mgr := auth.NewManager("")
	verifier, err := mgr.SetPassword(password)
	if err != nil {
		return err
	}
	return store.Update(func(c *agentconfig.AgentConfig) {
		c.PasswordHash = verifier
	})
}

// runInteractive is the agent's main loop: wire every subsystem, start the
// server and advertiser, then block until ctx is cancelled.
func runInteractive(ctx context.Context) error {
	dataDir, err := config.DataDir("agent", *flagConfigDir)
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}

	cfgStore, err := agentconfig.Load(dataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgStore.Snapshot()

	id, err := identity.LoadOrCreate(dataDir)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}

	logDir, err := config.LogDir("agent", *flagConfigDir)
	if err != nil {
		return fmt.Errorf("resolve log directory: %w", err)
	}
	logPath := cfg.LogFilePath
	if logPath == "" {
		logPath = filepath.Join(logDir, "app.log")
	}
	log := logger.New(cfg.LogBufferSize, logger.FileSinkConfig{
		Enabled:  cfg.EnableLogFile,
		Path:     logPath,
		MaxBytes: cfg.LogFileMaxSize,
	})
	defer log.Close()

	log.System("startup", fmt.Sprintf("agent %s starting, device %s (%s)",
		protocol.Version, id.DisplayName, id.ShortID()))

	authMgr := auth.NewManager(cfg.PasswordHash)

	exec := command.NewExecutor(func() command.Whitelist {
		snap := cfgStore.Snapshot()
		return command.Whitelist{
			Commands:       snap.CommandWhitelist,
			CustomCommands: snap.CustomCommands,
		}
	})

	history, err := storage.OpenHistory(filepath.Join(dataDir, "history.db"))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer history.Close()

	srv := server.New(id, cfgStore, authMgr, exec, log, history)

	port := cfg.APIPort
	if *flagPort > 0 {
		port = *flagPort
	}

	if err := srv.Start(port); err != nil {
		return err
	}

	adv := discovery.NewAdvertiser(id.UUID, id.ShortID(), id.DisplayName, protocol.Version)
	if err := adv.Start(port, authMgr.Required()); err != nil {
		// Discovery failing is degraded, not fatal: the API still serves
		// clients that know the address.
		log.Error("discovery", fmt.Sprintf("mDNS advertisement failed: %v", err), "")
	} else {
		log.System("discovery", fmt.Sprintf("advertising %s on port %d", discovery.InstanceName(id.ShortID()), port))
	}

	<-ctx.Done()

	log.System("shutdown", "agent stopping")

	// The advertiser goes first so goodbye records invalidate peer caches
	// before the port stops answering.
	adv.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", fmt.Sprintf("server shutdown: %v", err), "")
	}
	return nil
}
