// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ManuGH/codecshift/internal/ffprobe"
	"github.com/ManuGH/codecshift/internal/log"
)

// ProgressFunc receives transcode telemetry: percentage 0-100 and the
// current encoder fps.
type ProgressFunc func(pct, fps float64)

// TranscodeResult reports a finished transcode.
type TranscodeResult struct {
	OriginalSize int64
	NewSize      int64
}

// TranscodeRunner drives one ffmpeg process per job.
type TranscodeRunner struct {
	BinPath string
	hw      Hardware
	prober  ffprobe.Prober

	ring *LineRing
}

// NewTranscodeRunner creates a runner for the detected hardware.
func NewTranscodeRunner(hw Hardware, prober ffprobe.Prober) *TranscodeRunner {
	if prober == nil {
		prober = ffprobe.NewProber()
	}
	return &TranscodeRunner{
		BinPath: "ffmpeg",
		hw:      hw,
		prober:  prober,
		ring:    NewLineRing(256),
	}
}

// Run transcodes path to HEVC in place: encode into a tmp_ sibling,
// then atomically replace the original. On failure the original is
// untouched and the partial output is removed.
func (r *TranscodeRunner) Run(ctx context.Context, path string, progress ProgressFunc) (*TranscodeResult, error) {
	logger := log.WithComponent("worker")

	orig, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	var totalSeconds float64
	if probe, err := r.prober.Probe(ctx, path); err == nil {
		totalSeconds = probe.Duration
	} else {
		logger.Warn().Err(err).Str("path", path).Msg("probe failed, progress will be indeterminate")
	}

	tmpPath := filepath.Join(filepath.Dir(path), "tmp_"+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".mkv")
	defer func() { _ = os.Remove(tmpPath) }()

	args := r.hw.encodeArgs(path, tmpPath)
	cmd := exec.CommandContext(ctx, r.BinPath, args...) // #nosec G204

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("progress pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		r.consumeProgress(stdout, totalSeconds, progress)
	}()
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = r.ring.Write(scanner.Bytes())
			_, _ = r.ring.Write([]byte("\n"))
		}
	}()

	logger.Info().Str("path", path).Str("encoder", r.hw.Encoder).Msg("starting transcode")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	waitErr := cmd.Wait()
	ioWg.Wait()

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg failed: %w", waitErr)
	}

	encoded, err := os.Stat(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	if encoded.Size() == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty file")
	}

	// Replace the original. The new container is mkv, so the path may
	// change extension; remove the source afterwards if it differs.
	finalPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mkv"
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("promote output: %w", err)
	}
	if finalPath != path {
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("removing source after container change failed")
		}
	}

	logger.Info().
		Str("path", finalPath).
		Int64("original_bytes", orig.Size()).
		Int64("new_bytes", encoded.Size()).
		Msg("transcode complete")
	return &TranscodeResult{OriginalSize: orig.Size(), NewSize: encoded.Size()}, nil
}

// consumeProgress parses ffmpeg's line-oriented -progress output.
func (r *TranscodeRunner) consumeProgress(pipe interface{ Read([]byte) (int, error) }, totalSeconds float64, progress ProgressFunc) {
	var fps float64
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "fps":
			fps, _ = strconv.ParseFloat(value, 64)
		case "out_time_us":
			us, err := strconv.ParseFloat(value, 64)
			if err != nil || totalSeconds <= 0 {
				continue
			}
			pct := us / 1e6 / totalSeconds * 100
			if pct > 100 {
				pct = 100
			}
			if progress != nil {
				progress(pct, fps)
			}
		case "progress":
			if value == "end" && progress != nil {
				progress(100, fps)
			}
		}
	}
}

// LastLogLines exposes the stderr tail for failure reports.
func (r *TranscodeRunner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}
