// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/codecshift/internal/api"
	"github.com/ManuGH/codecshift/internal/arrjobs"
	"github.com/ManuGH/codecshift/internal/backup"
	"github.com/ManuGH/codecshift/internal/bus"
	"github.com/ManuGH/codecshift/internal/config"
	"github.com/ManuGH/codecshift/internal/daemon"
	"github.com/ManuGH/codecshift/internal/health"
	cslog "github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/postcomplete"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/scan"
	"github.com/ManuGH/codecshift/internal/session"
	"github.com/ManuGH/codecshift/internal/store"
	"github.com/ManuGH/codecshift/internal/telemetry"
	"github.com/ManuGH/codecshift/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe logging defaults until config is loaded.
	cslog.Configure(cslog.Config{
		Level:   "info",
		Service: "codecshift",
		Version: version.Version,
	})
	logger := cslog.WithComponent("dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := *configPath
	if effectiveConfigPath == "" {
		effectiveConfigPath = config.ParseString("CONFIG_PATH", "")
	}

	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	cslog.Configure(cslog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Environment:    environment(cfg),
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	// Open the database before anything serves. A failed migration is
	// unrecoverable here; starting with a half-migrated schema would
	// corrupt the queue.
	st, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("db_path", cfg.DBPath).
			Msg("database open/migration failed")
	}

	mediaRoot := config.ParseString("MEDIA_ROOT", "/media")

	// Provider clients are resolved from settings at use time, so
	// operator changes apply without a restart.
	registry := providers.NewRegistry(st, cfg.ArrSSLVerify)

	memBus := bus.NewMemoryBus()
	scans := scan.NewManager(scan.Deps{
		Store:     st,
		Bus:       memBus,
		Providers: registry,
		MediaRoot: mediaRoot,
	})
	processor := arrjobs.NewProcessor(st, registry)
	backups := backup.NewManager(st, cfg.BackupDir)
	hook := postcomplete.New(postcomplete.Deps{
		Store:     st,
		Providers: registry,
	})

	probe := &health.Probe{}
	sessions := session.NewRegistry(st)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     st,
		Sessions:  sessions,
		Scans:     scans,
		Hook:      hook,
		Backups:   backups,
		Probe:     probe,
		Providers: registry,
		MediaRoot: mediaRoot,
	})

	holder := config.NewHolder(cfg, loader, effectiveConfigPath)
	if effectiveConfigPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Msg("config hot reload unavailable")
		}
	}

	mgr, err := daemon.NewManager(daemon.Deps{
		Config:         cfg,
		APIHandler:     server.Router(),
		MetricsHandler: promhttp.Handler(),
		Tasks: []daemon.Task{
			{Name: "scan-dispatcher", Run: scans.RunDispatcher},
			{Name: "scan-scheduler", Run: scans.RunScheduler},
			{Name: "arr-job-processor", Run: processor.Run},
			{Name: "backup-scheduler", Run: backups.Run},
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble daemon")
	}

	mgr.RegisterShutdownHook("config-watcher", func(_ context.Context) error {
		holder.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("tracing", tracing.Shutdown)
	mgr.RegisterShutdownHook("store", func(_ context.Context) error {
		return st.Close()
	})

	probe.SetReady()
	logger.Info().
		Str("event", "daemon.starting").
		Str("listen", cfg.APIListenAddr).
		Str("version", cfg.Version).
		Msg("dashboard starting")

	if err := mgr.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("dashboard stopped")
}

func environment(cfg config.AppConfig) string {
	if cfg.DevMode {
		return "development"
	}
	return "production"
}
