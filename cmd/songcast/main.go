package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/judesonleo/songcast/internal/config"
	"github.com/judesonleo/songcast/internal/content"
	"github.com/judesonleo/songcast/internal/health"
	"github.com/judesonleo/songcast/internal/logging"
	"github.com/judesonleo/songcast/internal/logring"
	"github.com/judesonleo/songcast/internal/metrics"
	"github.com/judesonleo/songcast/internal/server"
	"github.com/judesonleo/songcast/internal/session"
	"github.com/judesonleo/songcast/internal/setup"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "songcast",
		Short: "Real-time lyrics and verse presentation server",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the presentation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SongCast %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Songs: %s\n", cfg.Content.SongsDir)
			fmt.Printf("  Bible: %s\n", cfg.Content.BibleDir)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/songcast/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Ring buffer feeds the admin log endpoint.
	ring := logring.New(500)
	lj := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Ring:       ring,
	})
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting SongCast",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"songs", cfg.Content.SongsDir,
		"health", cfg.Health.ListenAddress,
	)

	// Content providers
	library, err := content.NewLibrary(cfg.Content.SongsDir)
	if err != nil {
		return fmt.Errorf("loading song library: %w", err)
	}
	bible, err := content.NewBible(cfg.Content.BibleDir, cfg.Session.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("loading bible translations: %w", err)
	}

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Session core
	store := session.NewStore(
		session.NewCodeGenerator(cfg.Session.CodeLength),
		cfg.Session.AllocationAttempts,
		cfg.Session.DefaultLanguage,
	)
	registry := session.NewRegistry(cfg.Server.WriteTimeout)
	coordinator := session.NewCoordinator(store, registry, bible, session.Options{
		Metrics:         m,
		DefaultLanguage: cfg.Session.DefaultLanguage,
		GracePeriod:     cfg.Session.GracePeriod,
	})

	// shutdownCtx ends every per-connection goroutine on exit.
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	srv := server.New(cfg, coordinator, registry, store, library, bible, m, shutdownCtx)
	defer srv.Stop()

	// Background workers: room expiry sweeper and song directory watch.
	sweeper := session.NewSweeper(store, coordinator, cfg.Session.SweepInterval)
	go sweeper.Run(shutdownCtx)

	if cfg.Content.WatchSongs {
		go func() {
			if err := library.Watch(shutdownCtx); err != nil && shutdownCtx.Err() == nil {
				slog.Error("song directory watch stopped", "error", err)
			}
		}()
	}

	// Public server (WebSocket, REST API, static client)
	publicServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: srv.Handler(),
	}

	// Health/admin server (loopback only)
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, health.NewHandler(srv.Stats, Version, cfg.Health.Detailed))
		server.NewAdminAPI(srv, ring, Version).Register(healthMux)
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}
		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("server listening", "address", cfg.Server.ListenAddress)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			srv.UpdateConfig(cfg)

			// Re-setup logging with the new level
			logging.Setup(logging.Options{
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
				Ring:       ring,
			})

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Close frames go out to every client before the listeners
			// stop.
			srv.StartDrain()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				publicServer.Shutdown(ctx)
			}()
			wg.Wait()
			shutdownCancel()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=SongCast - Real-time lyrics and verse presentation server
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=songcast
Group=songcast
ExecStartPre=/usr/local/bin/songcast validate --config /etc/songcast/config.yaml
ExecStart=/usr/local/bin/songcast start --config /etc/songcast/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/songcast
LogsDirectory=songcast
StateDirectory=songcast
LimitNOFILE=65535
MemoryMax=256M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=songcast

[Install]
WantedBy=multi-user.target
`)
}
