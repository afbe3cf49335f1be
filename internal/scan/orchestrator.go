// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scan runs the mutually-exclusive discovery scanners and publishes
// a single progress snapshot.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/codecshift/internal/bus"
	"github.com/ManuGH/codecshift/internal/ffprobe"
	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/store"
)

// ErrScanBusy is returned when a scan trigger arrives while the process-wide
// scan exclusion is held.
var ErrScanBusy = errors.New("scan: a scan is already running")

// Kind names one scanner.
type Kind string

const (
	KindMedia         Kind = "media"
	KindSonarrRename  Kind = "sonarr_rename"
	KindSonarrQuality Kind = "sonarr_quality"
	KindRadarrRename  Kind = "radarr_rename"
	KindLidarrRename  Kind = "lidarr_rename"
	KindCleanup       Kind = "cleanup"
)

const cancelledStep = "Scan cancelled by user."

// Progress is the published scan snapshot: read-mostly, single writer.
type Progress struct {
	IsRunning   bool   `json:"is_running"`
	ScanSource  string `json:"scan_source"` // plex|internal|sonarr|radarr|lidarr
	ScanType    string `json:"scan_type"`   // media|rename|quality|cleanup
	CurrentStep string `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Progress    int    `json:"progress"` // 0-100
}

// Deps wires the orchestrator to its collaborators. Providers may resolve
// unconfigured; the matching scanners then finish with an error step.
type Deps struct {
	Store  *store.Store
	Bus    bus.Bus
	Prober ffprobe.Prober
	// Providers is resolved once per scan, so settings changes apply to
	// the next scan without a restart.
	Providers *providers.Registry

	// MediaRoot anchors the internal scanner's relative source paths.
	MediaRoot string
	// SettleDelay is the wait between a provider rescan and its rename
	// query. Defaults to 3 s; tests shrink it.
	SettleDelay time.Duration
}

// Manager owns the process-wide scan exclusion and the progress snapshot.
type Manager struct {
	deps Deps

	// prov is the provider snapshot for the scan in flight; written only
	// under the exclusion.
	prov providers.Set

	isScanning atomic.Bool
	cancelFlag atomic.Bool

	mu       sync.RWMutex
	progress Progress
}

// NewManager creates the scan orchestrator.
func NewManager(deps Deps) *Manager {
	if deps.SettleDelay <= 0 {
		deps.SettleDelay = 3 * time.Second
	}
	if deps.Prober == nil {
		deps.Prober = ffprobe.NewProber()
	}
	return &Manager{deps: deps}
}

// Snapshot returns the current progress (thread-safe read).
func (m *Manager) Snapshot() Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress
}

// Running reports whether the exclusion is currently held.
func (m *Manager) Running() bool {
	return m.isScanning.Load()
}

// Cancel raises the cooperative cancel flag. Scanners observe it at
// per-item boundaries; the unit in flight completes normally.
func (m *Manager) Cancel() {
	if m.isScanning.Load() {
		m.cancelFlag.Store(true)
	}
}

// Trigger requests a scan via the bus. When the exclusion is already held
// it returns ErrScanBusy without touching the running scan's progress; a
// stale not-running snapshot is reset so the UI cannot stick on "running".
func (m *Manager) Trigger(ctx context.Context, kind Kind, force bool) error {
	if m.isScanning.Load() {
		return ErrScanBusy
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.deps.Bus.Publish(pubCtx, bus.TopicScan, bus.Message{Kind: string(kind), Force: force}); err != nil {
		return fmt.Errorf("trigger %s scan: %w", kind, err)
	}
	return nil
}

// RunDispatcher consumes scan triggers until ctx is done. A single
// dispatcher goroutine owns the exclusion for bus-delivered triggers.
func (m *Manager) RunDispatcher(ctx context.Context) error {
	sub, err := m.deps.Bus.Subscribe(ctx, bus.TopicScan)
	if err != nil {
		return fmt.Errorf("subscribe scan topic: %w", err)
	}
	defer func() { _ = sub.Close() }()

	logger := log.WithComponent("scan")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := m.Run(ctx, Kind(msg.Kind), msg.Force); err != nil {
				if errors.Is(err, ErrScanBusy) {
					logger.Warn().Str("kind", msg.Kind).Msg("scan trigger dropped: already running")
					continue
				}
				logger.Error().Err(err).Str("kind", msg.Kind).Msg("scan failed")
			}
		}
	}
}

// RunScheduler periodically triggers a media scan per the
// rescan_delay_minutes setting. A value of 0 disables the timer; the
// setting is re-read every tick so operator changes apply without restart.
func (m *Manager) RunScheduler(ctx context.Context) error {
	logger := log.WithComponent("scan")
	for {
		delay, err := m.deps.Store.GetSettingDurationMinutes(ctx, "rescan_delay_minutes", 0)
		if err != nil {
			logger.Warn().Err(err).Msg("reading rescan delay failed")
		}
		wait := delay
		if wait <= 0 {
			// Disabled: poll the setting until an operator enables it.
			wait = time.Minute
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		if delay <= 0 {
			continue
		}
		if err := m.Trigger(ctx, KindMedia, false); err != nil && !errors.Is(err, ErrScanBusy) {
			logger.Warn().Err(err).Msg("scheduled media scan trigger failed")
		}
	}
}

// Run executes one scan synchronously under the exclusion. A second caller
// gets ErrScanBusy and the running scan's progress stays untouched.
func (m *Manager) Run(ctx context.Context, kind Kind, force bool) error {
	if !m.isScanning.CompareAndSwap(false, true) {
		return ErrScanBusy
	}
	defer m.isScanning.Store(false)
	m.cancelFlag.Store(false)
	if m.deps.Providers != nil {
		m.prov = m.deps.Providers.Resolve(ctx)
	} else {
		m.prov = providers.Set{}
	}

	logger := log.WithComponent("scan")
	logger.Info().
		Str("kind", string(kind)).
		Bool("force", force).
		Str("event", "scan.started").
		Msg("scan started")

	var err error
	switch kind {
	case KindMedia:
		err = m.runMediaScan(ctx, force)
	case KindSonarrRename:
		err = m.runSonarrRenameScan(ctx)
	case KindSonarrQuality:
		err = m.runSonarrQualityScan(ctx)
	case KindRadarrRename:
		err = m.runRadarrRenameScan(ctx)
	case KindLidarrRename:
		err = m.runLidarrRenameScan(ctx)
	case KindCleanup:
		err = m.runCleanupScan(ctx)
	default:
		err = fmt.Errorf("unknown scan kind %q", kind)
	}

	switch {
	case m.cancelFlag.Load():
		m.finish(cancelledStep)
		metrics.IncScan(string(kind), "cancelled")
		logger.Info().Str("kind", string(kind)).Str("event", "scan.cancelled").Msg("scan cancelled")
		return nil
	case err != nil:
		m.finish("Scan failed: " + err.Error())
		metrics.IncScan(string(kind), "failed")
		logger.Error().Err(err).Str("kind", string(kind)).Str("event", "scan.failed").Msg("scan failed")
		return err
	default:
		m.finish("Scan complete.")
		metrics.IncScan(string(kind), "ok")
		logger.Info().Str("kind", string(kind)).Str("event", "scan.completed").Msg("scan completed")
		return nil
	}
}

// cancelled reports the cooperative cancel flag; checked at loop boundaries.
func (m *Manager) cancelled() bool {
	return m.cancelFlag.Load()
}

func (m *Manager) begin(source, scanType string, totalSteps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = Progress{
		IsRunning:  true,
		ScanSource: source,
		ScanType:   scanType,
		TotalSteps: totalSteps,
	}
}

func (m *Manager) step(current string, done, total int) {
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress.CurrentStep = current
	m.progress.TotalSteps = total
	m.progress.Progress = pct
}

func (m *Manager) finish(finalStep string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress.IsRunning = false
	m.progress.CurrentStep = finalStep
	if finalStep == "Scan complete." {
		m.progress.Progress = 100
	}
}

// ResetProgress clears a stale snapshot (used by handlers when the snapshot
// claims a scan is running but the exclusion is free).
func (m *Manager) ResetProgress() {
	if m.isScanning.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = Progress{}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
