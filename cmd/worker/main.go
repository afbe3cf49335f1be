// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/codecshift/internal/config"
	cslog "github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/version"
	"github.com/ManuGH/codecshift/internal/worker"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cslog.Configure(cslog.Config{
		Level:   config.ParseString("LOG_LEVEL", "info"),
		Service: "codecshift-worker",
		Version: version.Version,
	})
	logger := cslog.WithComponent("worker")

	dashboardURL := config.ParseString("DASHBOARD_URL", "")
	apiKey := config.ParseString("API_KEY", "")
	mediaPaths := config.ParseString("MEDIA_PATHS", "")
	if dashboardURL == "" || apiKey == "" || mediaPaths == "" {
		logger.Fatal().Msg("DASHBOARD_URL, API_KEY and MEDIA_PATHS are required")
	}

	hostname := config.ParseString("HOSTNAME_OVERRIDE", "")
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil {
			logger.Fatal().Err(err).Msg("hostname detection failed")
		}
	}

	guard, err := worker.NewPathGuard(mediaPaths)
	if err != nil {
		logger.Fatal().Err(err).Str("media_paths", mediaPaths).Msg("invalid media path configuration")
	}

	token, err := newSessionToken()
	if err != nil {
		logger.Fatal().Err(err).Msg("session token generation failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hw := worker.DetectHardware(ctx, config.ParseString("HW_ACCEL", ""))
	runner := worker.NewTranscodeRunner(hw, nil)
	client := worker.NewClient(dashboardURL, apiKey, hostname, token)
	agent := worker.NewAgent(client, guard, runner, version.Version)

	logger.Info().
		Str("event", "worker.starting").
		Str("hostname", hostname).
		Str("dashboard", dashboardURL).
		Str("accel", string(hw.Accel)).
		Msg("worker starting")

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, worker.ErrRegistrationConflict) {
			logger.Fatal().Err(err).Msg("hostname is taken by a live worker, refusing to start")
		}
		logger.Fatal().Err(err).Msg("worker exited with error")
	}
	logger.Info().Str("event", "worker.stopped").Msg("worker stopped")
}

// newSessionToken returns 32 random bytes hex-encoded, generated fresh
// per process so a restart establishes a new session.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
