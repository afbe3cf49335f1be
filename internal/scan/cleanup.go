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

// isCleanupCandidate matches encoder leftovers: lock files and temp outputs.
func isCleanupCandidate(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".lock") || strings.HasPrefix(base, "tmp_")
}

// cleanupRoots derives the scan roots. Preferred source is the configured
// Plex libraries with an optional host-path rewrite; without Plex the
// internal scan paths under the media root are used.
func (m *Manager) cleanupRoots(ctx context.Context) ([]string, error) {
	if m.prov.Plex.Configured() {
		libs, err := m.prov.Plex.Libraries(ctx)
		if err != nil {
			return nil, err
		}
		from, err := m.deps.Store.GetSetting(ctx, "cleanup_path_from", "")
		if err != nil {
			return nil, err
		}
		to, err := m.deps.Store.GetSetting(ctx, "cleanup_path_to", "")
		if err != nil {
			return nil, err
		}

		var roots []string
		for _, lib := range libs {
			for _, loc := range lib.Locations {
				// Plex reports container-side paths; rewrite to where the
				// controller actually mounts them.
				if from != "" && strings.HasPrefix(loc, from) {
					loc = to + strings.TrimPrefix(loc, from)
				}
				roots = append(roots, loc)
			}
		}
		return roots, nil
	}

	raw, err := m.deps.Store.GetSetting(ctx, "internal_scan_paths", "")
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			roots = append(roots, filepath.Join(m.deps.MediaRoot, trimmed))
		}
	}
	return roots, nil
}

// runCleanupScan queues leftover lock and temp files for operator-approved
// deletion. Awaiting-approval is the default so nothing is removed unseen.
func (m *Manager) runCleanupScan(ctx context.Context) error {
	logger := log.WithComponent("scan")
	m.begin("internal", "cleanup", 0)

	roots, err := m.cleanupRoots(ctx)
	if err != nil {
		return err
	}

	queued := 0
	for i, root := range roots {
		if m.cancelled() {
			return nil
		}
		m.step("Walking "+root, i, len(roots))

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				logger.Warn().Err(walkErr).Str("path", path).Msg("walk error, skipping entry")
				return nil
			}
			if d.IsDir() || !isCleanupCandidate(path) {
				return nil
			}
			inserted, err := m.deps.Store.InsertJob(ctx, path, store.JobCleanup, store.JobAwaitingApproval, "")
			if err != nil {
				return err
			}
			if inserted {
				queued++
				metrics.IncJobsCreated(string(store.JobCleanup))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	logger.Info().
		Int("roots", len(roots)).
		Int("queued", queued).
		Str("event", "scan.cleanup_done").
		Msg("cleanup scan finished")
	return nil
}
