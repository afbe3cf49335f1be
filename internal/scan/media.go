// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/store"
)

// videoExtensions is the fixed allow-list for the internal walker.
var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
}

// skipSet builds the codec skip-set from settings. hevc/h265 are always
// skipped unless re-encoding them is explicitly allowed; av1 and vp9 join
// the set unless their allow flags are on.
func (m *Manager) skipSet(ctx context.Context) (map[string]struct{}, error) {
	set := map[string]struct{}{}

	allowHEVC, err := m.deps.Store.GetSettingBool(ctx, "allow_hevc", false)
	if err != nil {
		return nil, err
	}
	if !allowHEVC {
		set["hevc"] = struct{}{}
		set["h265"] = struct{}{}
	}

	allowAV1, err := m.deps.Store.GetSettingBool(ctx, "allow_av1_reencode", false)
	if err != nil {
		return nil, err
	}
	if !allowAV1 {
		set["av1"] = struct{}{}
	}

	allowVP9, err := m.deps.Store.GetSettingBool(ctx, "allow_vp9_reencode", false)
	if err != nil {
		return nil, err
	}
	if !allowVP9 {
		set["vp9"] = struct{}{}
	}

	return set, nil
}

// shouldQueue applies the shared candidate filter: codec not in the
// skip-set, and not already known as a job or in history unless forced.
func (m *Manager) shouldQueue(ctx context.Context, path, codec string, skip map[string]struct{}, force bool) (bool, error) {
	if _, skipCodec := skip[strings.ToLower(codec)]; skipCodec {
		return false, nil
	}
	if force {
		return true, nil
	}
	if known, err := m.deps.Store.HasJobForPath(ctx, path); err != nil {
		return false, err
	} else if known {
		return false, nil
	}
	if encoded, err := m.deps.Store.HasHistoryForPath(ctx, path); err != nil {
		return false, err
	} else if encoded {
		return false, nil
	}
	return true, nil
}

// runMediaScan discovers transcode candidates via the configured scanner.
func (m *Manager) runMediaScan(ctx context.Context, force bool) error {
	scannerType, err := m.deps.Store.GetSetting(ctx, "media_scanner_type", "internal")
	if err != nil {
		return err
	}
	if scannerType == "plex" {
		return m.runPlexMediaScan(ctx, force)
	}
	return m.runInternalMediaScan(ctx, force)
}

func (m *Manager) runInternalMediaScan(ctx context.Context, force bool) error {
	logger := log.WithComponent("scan")
	m.begin("internal", "media", 0)

	raw, err := m.deps.Store.GetSetting(ctx, "internal_scan_paths", "")
	if err != nil {
		return err
	}
	var sources []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			sources = append(sources, trimmed)
		}
	}

	skip, err := m.skipSet(ctx)
	if err != nil {
		return err
	}

	// Collect candidate files first so progress has a stable denominator.
	var files []string
	for _, src := range sources {
		if m.cancelled() {
			return nil
		}
		if err := m.deps.Store.UpsertMediaSource(ctx, store.MediaSourceType{
			SourceName: src, ScannerType: "internal",
		}); err != nil {
			return err
		}

		root := filepath.Join(m.deps.MediaRoot, src)
		m.step("Walking "+root, 0, 0)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				logger.Warn().Err(walkErr).Str("path", path).Msg("walk error, skipping entry")
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]; ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	queued := 0
	for i, path := range files {
		if m.cancelled() {
			return nil
		}
		m.step("Probing "+path, i, len(files))

		res, err := m.deps.Prober.Probe(ctx, path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("probe failed, skipping file")
			continue
		}

		ok, err := m.shouldQueue(ctx, path, res.VideoCodec, skip, force)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		inserted, err := m.deps.Store.InsertJob(ctx, path, store.JobTranscode, store.JobPending, "")
		if err != nil {
			return err
		}
		if inserted {
			queued++
			metrics.IncJobsCreated(string(store.JobTranscode))
		}
	}

	logger.Info().
		Int("files", len(files)).
		Int("queued", queued).
		Str("event", "scan.media_internal_done").
		Msg("internal media scan finished")
	return nil
}

func (m *Manager) runPlexMediaScan(ctx context.Context, force bool) error {
	if !m.prov.Plex.Configured() {
		return errNotConfigured("plex")
	}
	logger := log.WithComponent("scan")
	m.begin("plex", "media", 0)

	m.step("Listing Plex libraries", 0, 0)
	libs, err := m.prov.Plex.Libraries(ctx)
	if err != nil {
		return err
	}

	hidden, err := m.hiddenSources(ctx, "plex")
	if err != nil {
		return err
	}

	skip, err := m.skipSet(ctx)
	if err != nil {
		return err
	}

	queued := 0
	for li, lib := range libs {
		if m.cancelled() {
			return nil
		}
		if err := m.deps.Store.UpsertMediaSource(ctx, store.MediaSourceType{
			SourceName: lib.Title, ScannerType: "plex", MediaType: lib.Type,
		}); err != nil {
			return err
		}
		if _, skipLib := hidden[lib.Title]; skipLib {
			continue
		}

		m.step("Enumerating "+lib.Title, li, len(libs))
		videos, err := m.prov.Plex.Videos(ctx, lib.Key)
		if err != nil {
			logger.Warn().Err(err).Str("library", lib.Title).Msg("library enumeration failed, skipping")
			continue
		}

		for vi, v := range videos {
			if m.cancelled() {
				return nil
			}
			m.step("Checking "+v.Path, vi, len(videos))

			// Reload the item: the list view can carry stale codec data.
			reloaded, err := m.prov.Plex.ReloadVideo(ctx, v.RatingKey)
			if err != nil {
				logger.Warn().Err(err).Str("item", v.RatingKey).Msg("item reload failed, skipping")
				continue
			}

			ok, err := m.shouldQueue(ctx, reloaded.Path, reloaded.VideoCodec, skip, force)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			inserted, err := m.deps.Store.InsertJob(ctx, reloaded.Path, store.JobTranscode, store.JobPending, "")
			if err != nil {
				return err
			}
			if inserted {
				queued++
				metrics.IncJobsCreated(string(store.JobTranscode))
			}
		}
	}

	logger.Info().
		Int("libraries", len(libs)).
		Int("queued", queued).
		Str("event", "scan.media_plex_done").
		Msg("plex media scan finished")
	return nil
}

// hiddenSources returns the hidden source names for one scanner type.
func (m *Manager) hiddenSources(ctx context.Context, scannerType string) (map[string]struct{}, error) {
	sources, err := m.deps.Store.ListMediaSources(ctx)
	if err != nil {
		return nil, err
	}
	hidden := map[string]struct{}{}
	for _, src := range sources {
		if src.ScannerType == scannerType && src.IsHidden {
			hidden[src.SourceName] = struct{}{}
		}
	}
	return hidden, nil
}
