// alphacraft - a protocol v3 block sandbox server.
//
// alphacraft accepts game clients on TCP, walks each one through the
// handshake and login burst, and tracks every logged-in player's position.
// An admin REST API, MQTT telemetry, a SQLite login history and an
// interactive console sit around the game listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/api"
	"github.com/alphacraft-project/alphacraft/internal/cli"
	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/connector"
	"github.com/alphacraft-project/alphacraft/internal/db"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/health"
	"github.com/alphacraft-project/alphacraft/internal/network"
	"github.com/alphacraft-project/alphacraft/internal/scheduler"
	"github.com/alphacraft-project/alphacraft/internal/server"
	"github.com/alphacraft-project/alphacraft/internal/telemetry"
	"github.com/alphacraft-project/alphacraft/internal/util"
)

const (
	AppName    = "alphacraft"
	AppVersion = api.Version
	Banner     = `
        _       _                           __ _
   __ _| |_ __ | |__   __ _  ___ _ __ __ _ / _| |_
  / _' | | '_ \| '_ \ / _' |/ __| '__/ _' | |_| __|
 | (_| | | |_) | | | | (_| | (__| | | (_| |  _| |_
  \__,_|_| .__/|_| |_|\__,_|\___|_|  \__,_|_|  \__|
         |_|  v%s
 protocol 3 sandbox server
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the interactive setup wizard before starting")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting alphacraft")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	appData := cfg.GetApplicationData()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above or run with -setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	mgr, err := server.NewManager(cfg, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server manager")
	}

	// Login history is optional; the interfaces below stay nil without it.
	var (
		history    *db.HistoryStore
		apiHistory api.HistoryReader
		cliHistory cli.LoginHistory
		pruner     scheduler.Pruner
	)
	if appData.Database.Enabled {
		history, err = db.NewHistoryStore(appData.Database.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, login history disabled")
		} else {
			history.Subscribe(eventBus)
			apiHistory, cliHistory, pruner = history, history, history
		}
	}

	tcpListener := network.NewTCPListener(cfg, mgr)

	healthMgr := health.NewManager(cfg, eventBus)

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, mgr, apiHistory)
		apiServer.SetHealth(healthMgr)
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	if appData.Webhook.Enabled {
		connector.NewWebhookNotifier(cfg, eventBus).Subscribe()
	}

	sched := scheduler.NewScheduler(cfg, eventBus, mgr, pruner)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// The game listener is the only fatal task.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetServer().Port).Msg("starting game listener")
		if err := startWithRetry(ctx, "TCP listener", tcpListener.Start, 5); err != nil {
			log.Error().Err(err).Msg("game listener failed after retries")
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// The console blocks on stdin, so it is not waited for at shutdown.
	if !*noConsole {
		cliHandler := cli.NewCLI(cfg, eventBus, mgr, cliHistory, os.Stdin, os.Stdout)
		go cliHandler.Start(ctx)
	}

	// A console quit or MQTT command arrives as a shutdown event.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	mgr.State().SetPhase(server.PhaseRunning)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Telemetry goes first while the broker connection is still up.
	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	cancel()

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	mgr.State().SetPhase(server.PhaseStopped)

	// Leave events from closing sessions must reach the history first.
	eventBus.Wait()
	if history != nil {
		if err := history.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history database")
		}
	}

	eventBus.Stop()

	log.Info().Msg("alphacraft stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
