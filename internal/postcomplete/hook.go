// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package postcomplete reacts to a finished transcode: it refreshes the
// owning Plex library and, when enabled, asks the matching Arr provider
// to re-check naming for the touched series or movie.
package postcomplete

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/store"
)

const (
	// defaultSettleDelay gives the provider time to pick up the rescan
	// before rename candidates are queried.
	defaultSettleDelay = 3 * time.Second

	// defaultRunTimeout bounds one background run.
	defaultRunTimeout = 2 * time.Minute
)

// Deps wires the hook's collaborators. Unconfigured providers are
// skipped.
type Deps struct {
	Store *store.Store
	// Providers is resolved at the start of every run, so settings
	// changes apply without a restart.
	Providers   *providers.Registry
	SettleDelay time.Duration
	RunTimeout  time.Duration
}

// Hook runs best-effort post-completion work. Every step logs and moves
// on: a dead Plex or Arr instance never affects the completion itself.
type Hook struct {
	deps Deps
}

func New(deps Deps) *Hook {
	if deps.SettleDelay <= 0 {
		deps.SettleDelay = defaultSettleDelay
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = defaultRunTimeout
	}
	return &Hook{deps: deps}
}

// OnTranscodeComplete schedules the hook for one completed file and
// returns immediately.
func (h *Hook) OnTranscodeComplete(path string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.deps.RunTimeout)
		defer cancel()
		h.Run(ctx, path)
	}()
}

// Run executes the hook synchronously. Exposed for the scheduler and
// for tests; OnTranscodeComplete is the fire-and-forget entry point.
func (h *Hook) Run(ctx context.Context, path string) {
	logger := log.WithComponent("postcomplete")
	prov := h.deps.Providers.Resolve(ctx)

	h.refreshPlex(ctx, logger, prov, path)

	enabled, err := h.deps.Store.GetSettingBool(ctx, "auto_rename_after_transcode", false)
	if err != nil {
		logger.Warn().Err(err).Msg("read auto rename setting")
		return
	}
	if !enabled {
		return
	}
	h.renameCheck(ctx, logger, prov, path)
}

// refreshPlex triggers a partial scan of the library section owning the
// file, if any.
func (h *Hook) refreshPlex(ctx context.Context, logger zerolog.Logger, prov providers.Set, path string) {
	if !prov.Plex.Configured() {
		return
	}
	libs, err := prov.Plex.Libraries(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list plex libraries")
		return
	}
	for _, lib := range libs {
		for _, loc := range lib.Locations {
			if !underRoot(path, loc) {
				continue
			}
			if err := prov.Plex.Refresh(ctx, lib.Key); err != nil {
				logger.Warn().Err(err).Str("library", lib.Title).Msg("plex refresh failed")
			} else {
				logger.Info().Str("library", lib.Title).Str("path", path).Msg("plex refresh requested")
			}
			return
		}
	}
}

// renameCheck finds the provider item owning the file, rescans it, waits
// for the provider to settle, then renames whatever the provider reports
// as misnamed.
func (h *Hook) renameCheck(ctx context.Context, logger zerolog.Logger, prov providers.Set, path string) {
	if prov.Sonarr.Configured() {
		if done := h.sonarrRename(ctx, logger, prov, path); done {
			return
		}
	}
	if prov.Radarr.Configured() {
		h.radarrRename(ctx, logger, prov, path)
	}
}

func (h *Hook) sonarrRename(ctx context.Context, logger zerolog.Logger, prov providers.Set, path string) bool {
	series, err := prov.Sonarr.ListSeries(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list sonarr series")
		return false
	}
	for _, s := range series {
		if !underRoot(path, s.Path) {
			continue
		}
		if err := prov.Sonarr.RescanSeries(ctx, s.ID); err != nil {
			logger.Warn().Err(err).Str("series", s.Title).Msg("sonarr rescan failed")
			return true
		}
		if !sleepCtx(ctx, h.deps.SettleDelay) {
			return true
		}
		candidates, err := prov.Sonarr.ListRenameCandidates(ctx, s.ID)
		if err != nil {
			logger.Warn().Err(err).Str("series", s.Title).Msg("sonarr rename check failed")
			return true
		}
		if len(candidates) == 0 {
			return true
		}
		ids := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.EpisodeFileID)
		}
		if err := prov.Sonarr.RenameFiles(ctx, s.ID, ids); err != nil {
			logger.Warn().Err(err).Str("series", s.Title).Msg("sonarr rename failed")
		} else {
			logger.Info().Str("series", s.Title).Int("files", len(ids)).Msg("sonarr rename dispatched")
		}
		return true
	}
	return false
}

func (h *Hook) radarrRename(ctx context.Context, logger zerolog.Logger, prov providers.Set, path string) {
	movies, err := prov.Radarr.ListMovies(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list radarr movies")
		return
	}
	for _, m := range movies {
		if !underRoot(path, m.Path) {
			continue
		}
		if err := prov.Radarr.RescanMovie(ctx, m.ID); err != nil {
			logger.Warn().Err(err).Str("movie", m.Title).Msg("radarr rescan failed")
			return
		}
		if !sleepCtx(ctx, h.deps.SettleDelay) {
			return
		}
		candidates, err := prov.Radarr.ListRenameCandidates(ctx, m.ID)
		if err != nil {
			logger.Warn().Err(err).Str("movie", m.Title).Msg("radarr rename check failed")
			return
		}
		if len(candidates) == 0 {
			return
		}
		ids := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.MovieFileID)
		}
		if err := prov.Radarr.RenameFiles(ctx, m.ID, ids); err != nil {
			logger.Warn().Err(err).Str("movie", m.Title).Msg("radarr rename failed")
		} else {
			logger.Info().Str("movie", m.Title).Int("files", len(ids)).Msg("radarr rename dispatched")
		}
		return
	}
}

// underRoot reports whether path sits at or below root.
func underRoot(path, root string) bool {
	if root == "" {
		return false
	}
	root = strings.TrimRight(root, "/")
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
