// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backup snapshots the SQLite database into timestamped tarballs
// and prunes them by the operator-configured retention.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/store"
)

const (
	// Interval between scheduled snapshots.
	Interval = 24 * time.Hour

	nameTimeLayout = "20060102.150405"

	defaultRetentionDays = 7
	minRetentionDays     = 1
	maxRetentionDays     = 365

	// snapshotEntry is the name of the database file inside the tarball.
	snapshotEntry = "codecshift.db"
)

var namePattern = regexp.MustCompile(`^\d{8}\.\d{6}\.tar\.gz$`)

// ErrInvalidName rejects backup names that do not match the snapshot
// naming scheme. Guards download and delete against path traversal.
var ErrInvalidName = fmt.Errorf("invalid backup name")

// Info describes one stored backup.
type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates, lists, and prunes database backups.
type Manager struct {
	store *store.Store
	dir   string
	now   func() time.Time
}

func NewManager(s *store.Store, dir string) *Manager {
	return &Manager{store: s, dir: dir, now: time.Now}
}

// Run takes one snapshot immediately and then one per Interval until ctx
// is done. A failed snapshot is logged and retried on the next tick; it
// never stops the scheduler.
func (m *Manager) Run(ctx context.Context) error {
	logger := log.WithComponent("backup")

	run := func() {
		if _, err := m.Trigger(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled backup failed")
		}
	}
	run()

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// Trigger takes a snapshot now, prunes old backups, and returns the new
// backup's metadata.
func (m *Manager) Trigger(ctx context.Context) (*Info, error) {
	info, err := m.create(ctx)
	if err != nil {
		metrics.IncBackupRun("error")
		return nil, err
	}
	metrics.IncBackupRun("ok")

	if err := m.prune(ctx); err != nil {
		logger := log.WithComponent("backup")
		logger.Warn().Err(err).Msg("prune failed")
	}
	return info, nil
}

// create snapshots the live database with VACUUM INTO and wraps the
// snapshot in a gzipped tarball written atomically into the backup dir.
func (m *Manager) create(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	workDir, err := os.MkdirTemp(m.dir, "snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	snapshot := filepath.Join(workDir, snapshotEntry)
	// VACUUM INTO does not accept bound parameters on all drivers.
	quoted := strings.ReplaceAll(snapshot, "'", "''")
	if _, err := m.store.DB().ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}

	name := m.now().UTC().Format(nameTimeLayout) + ".tar.gz"
	target := filepath.Join(m.dir, name)

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o640))
	if err != nil {
		return nil, fmt.Errorf("stage backup file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := writeTarball(pending, snapshot); err != nil {
		return nil, fmt.Errorf("write backup %s: %w", name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("finalise backup %s: %w", name, err)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat backup %s: %w", name, err)
	}
	info := &Info{Name: name, Size: fi.Size(), CreatedAt: fi.ModTime().UTC()}
	logger := log.WithComponent("backup")
	logger.Info().
		Str("name", name).
		Int64("bytes", info.Size).
		Msg("backup created")
	return info, nil
}

func writeTarball(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{
		Name:    snapshotEntry,
		Mode:    0o640,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// List returns the stored backups, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !namePattern.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Size: fi.Size(), CreatedAt: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Path resolves a backup name to its on-disk path for download.
func (m *Manager) Path(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", ErrInvalidName
	}
	p := filepath.Join(m.dir, name)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return p, nil
}

// Delete removes one backup by name.
func (m *Manager) Delete(name string) error {
	p, err := m.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// prune removes backups older than the configured retention. The
// timestamp in the file name is authoritative.
func (m *Manager) prune(ctx context.Context) error {
	days, err := m.store.GetSettingInt(ctx, "backup_retention_days", defaultRetentionDays)
	if err != nil {
		return err
	}
	if days < minRetentionDays {
		days = minRetentionDays
	}
	if days > maxRetentionDays {
		days = maxRetentionDays
	}
	cutoff := m.now().UTC().AddDate(0, 0, -days)

	backups, err := m.List()
	if err != nil {
		return err
	}
	logger := log.WithComponent("backup")
	for _, b := range backups {
		stamp, err := time.Parse(nameTimeLayout, strings.TrimSuffix(b.Name, ".tar.gz"))
		if err != nil {
			stamp = b.CreatedAt
		}
		if !stamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, b.Name)); err != nil {
			logger.Warn().Err(err).Str("name", b.Name).Msg("prune remove failed")
			continue
		}
		logger.Info().Str("name", b.Name).Msg("backup pruned")
	}
	return nil
}
