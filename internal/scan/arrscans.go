// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/store"
)

func errNotConfigured(provider string) error {
	return fmt.Errorf("%s is not configured", provider)
}

// runSonarrRenameScan walks all series, asks Sonarr what it would rename,
// and either queues Rename Jobs for approval or renames synchronously.
func (m *Manager) runSonarrRenameScan(ctx context.Context) error {
	if !m.prov.Sonarr.Configured() {
		return errNotConfigured("sonarr")
	}
	logger := log.WithComponent("scan")
	m.begin("sonarr", "rename", 0)

	toQueue, err := m.deps.Store.GetSettingBool(ctx, "sonarr_send_to_queue", true)
	if err != nil {
		return err
	}

	m.step("Listing Sonarr series", 0, 0)
	series, err := m.prov.Sonarr.ListSeries(ctx)
	if err != nil {
		return err
	}

	for i, sr := range series {
		if m.cancelled() {
			return nil
		}
		m.step("Checking "+sr.Title, i, len(series))

		if err := m.prov.Sonarr.RescanSeries(ctx, sr.ID); err != nil {
			logger.Warn().Err(err).Str("series", sr.Title).Msg("sonarr rescan failed, skipping series")
			continue
		}
		if err := sleepCtx(ctx, m.deps.SettleDelay); err != nil {
			return err
		}

		candidates, err := m.prov.Sonarr.ListRenameCandidates(ctx, sr.ID)
		if err != nil {
			logger.Warn().Err(err).Str("series", sr.Title).Msg("sonarr rename query failed, skipping series")
			continue
		}

		for _, c := range candidates {
			if m.cancelled() {
				return nil
			}
			if toQueue {
				meta, _ := json.Marshal(map[string]any{
					"source":        "sonarr",
					"seriesId":      sr.ID,
					"episodeFileId": c.EpisodeFileID,
				})
				inserted, err := m.deps.Store.InsertJob(ctx, c.ExistingPath, store.JobRename, store.JobAwaitingApproval, string(meta))
				if err != nil {
					return err
				}
				if inserted {
					metrics.IncJobsCreated(string(store.JobRename))
				}
				continue
			}
			if err := m.prov.Sonarr.RenameFiles(ctx, sr.ID, []int64{c.EpisodeFileID}); err != nil {
				logger.Warn().Err(err).Str("path", c.ExistingPath).Msg("sonarr rename command failed")
				metrics.IncRenameDispatch("sonarr", "error")
				continue
			}
			metrics.IncRenameDispatch("sonarr", "ok")
		}
	}
	return nil
}

// runSonarrQualityScan creates Quality Mismatch jobs for every episode
// file below its profile cutoff. These jobs are for operator review only.
func (m *Manager) runSonarrQualityScan(ctx context.Context) error {
	if !m.prov.Sonarr.Configured() {
		return errNotConfigured("sonarr")
	}
	logger := log.WithComponent("scan")
	m.begin("sonarr", "quality", 0)

	m.step("Listing quality profiles", 0, 0)
	profiles, err := m.prov.Sonarr.ListQualityProfiles(ctx)
	if err != nil {
		return err
	}
	cutoffNames := make(map[int64]string, len(profiles))
	for _, p := range profiles {
		for _, item := range p.Items {
			if item.Quality.ID == p.Cutoff {
				cutoffNames[p.ID] = item.Quality.Name
				break
			}
		}
	}

	series, err := m.prov.Sonarr.ListSeries(ctx)
	if err != nil {
		return err
	}

	for i, sr := range series {
		if m.cancelled() {
			return nil
		}
		m.step("Checking "+sr.Title, i, len(series))

		files, err := m.prov.Sonarr.ListEpisodeFiles(ctx, sr.ID)
		if err != nil {
			logger.Warn().Err(err).Str("series", sr.Title).Msg("episode file query failed, skipping series")
			continue
		}

		for _, f := range files {
			if m.cancelled() {
				return nil
			}
			if !f.QualityCutoffNotMet {
				continue
			}
			meta, _ := json.Marshal(map[string]any{
				"source":          "sonarr",
				"seriesId":        sr.ID,
				"episodeFileId":   f.ID,
				"current_quality": f.Quality.Quality.Name,
				"target_quality":  cutoffNames[sr.QualityProfileID],
			})
			inserted, err := m.deps.Store.InsertJob(ctx, f.Path, store.JobQualityMismatch, store.JobPending, string(meta))
			if err != nil {
				return err
			}
			if inserted {
				metrics.IncJobsCreated(string(store.JobQualityMismatch))
			}
		}
	}
	return nil
}

// runRadarrRenameScan is the movie analogue of the Sonarr rename scan.
func (m *Manager) runRadarrRenameScan(ctx context.Context) error {
	if !m.prov.Radarr.Configured() {
		return errNotConfigured("radarr")
	}
	logger := log.WithComponent("scan")
	m.begin("radarr", "rename", 0)

	toQueue, err := m.deps.Store.GetSettingBool(ctx, "radarr_send_to_queue", true)
	if err != nil {
		return err
	}

	m.step("Listing Radarr movies", 0, 0)
	movies, err := m.prov.Radarr.ListMovies(ctx)
	if err != nil {
		return err
	}

	for i, mv := range movies {
		if m.cancelled() {
			return nil
		}
		m.step("Checking "+mv.Title, i, len(movies))

		if err := m.prov.Radarr.RescanMovie(ctx, mv.ID); err != nil {
			logger.Warn().Err(err).Str("movie", mv.Title).Msg("radarr rescan failed, skipping movie")
			continue
		}
		if err := sleepCtx(ctx, m.deps.SettleDelay); err != nil {
			return err
		}

		candidates, err := m.prov.Radarr.ListRenameCandidates(ctx, mv.ID)
		if err != nil {
			logger.Warn().Err(err).Str("movie", mv.Title).Msg("radarr rename query failed, skipping movie")
			continue
		}

		for _, c := range candidates {
			if m.cancelled() {
				return nil
			}
			if toQueue {
				meta, _ := json.Marshal(map[string]any{
					"source":      "radarr",
					"movieId":     mv.ID,
					"movieFileId": c.MovieFileID,
				})
				inserted, err := m.deps.Store.InsertJob(ctx, c.ExistingPath, store.JobRename, store.JobAwaitingApproval, string(meta))
				if err != nil {
					return err
				}
				if inserted {
					metrics.IncJobsCreated(string(store.JobRename))
				}
				continue
			}
			if err := m.prov.Radarr.RenameFiles(ctx, mv.ID, []int64{c.MovieFileID}); err != nil {
				logger.Warn().Err(err).Str("path", c.ExistingPath).Msg("radarr rename command failed")
				metrics.IncRenameDispatch("radarr", "error")
				continue
			}
			metrics.IncRenameDispatch("radarr", "ok")
		}
	}
	return nil
}

// runLidarrRenameScan is the artist analogue of the Sonarr rename scan.
func (m *Manager) runLidarrRenameScan(ctx context.Context) error {
	if !m.prov.Lidarr.Configured() {
		return errNotConfigured("lidarr")
	}
	logger := log.WithComponent("scan")
	m.begin("lidarr", "rename", 0)

	toQueue, err := m.deps.Store.GetSettingBool(ctx, "lidarr_send_to_queue", true)
	if err != nil {
		return err
	}

	m.step("Listing Lidarr artists", 0, 0)
	artists, err := m.prov.Lidarr.ListArtists(ctx)
	if err != nil {
		return err
	}

	for i, ar := range artists {
		if m.cancelled() {
			return nil
		}
		m.step("Checking "+ar.ArtistName, i, len(artists))

		if err := m.prov.Lidarr.RescanArtist(ctx, ar.ID); err != nil {
			logger.Warn().Err(err).Str("artist", ar.ArtistName).Msg("lidarr rescan failed, skipping artist")
			continue
		}
		if err := sleepCtx(ctx, m.deps.SettleDelay); err != nil {
			return err
		}

		candidates, err := m.prov.Lidarr.ListRenameCandidates(ctx, ar.ID)
		if err != nil {
			logger.Warn().Err(err).Str("artist", ar.ArtistName).Msg("lidarr rename query failed, skipping artist")
			continue
		}

		for _, c := range candidates {
			if m.cancelled() {
				return nil
			}
			if toQueue {
				meta, _ := json.Marshal(map[string]any{
					"source":      "lidarr",
					"artistId":    ar.ID,
					"trackFileId": c.TrackFileID,
				})
				inserted, err := m.deps.Store.InsertJob(ctx, c.ExistingPath, store.JobRename, store.JobAwaitingApproval, string(meta))
				if err != nil {
					return err
				}
				if inserted {
					metrics.IncJobsCreated(string(store.JobRename))
				}
				continue
			}
			if err := m.prov.Lidarr.RenameFiles(ctx, ar.ID, []int64{c.TrackFileID}); err != nil {
				logger.Warn().Err(err).Str("path", c.ExistingPath).Msg("lidarr rename command failed")
				metrics.IncRenameDispatch("lidarr", "error")
				continue
			}
			metrics.IncRenameDispatch("lidarr", "ok")
		}
	}
	return nil
}
