// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffprobe wraps the ffprobe binary for codec discovery during
// internal media scans.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/ManuGH/codecshift/internal/log"
)

// Result is the subset of probe output the scanners need.
type Result struct {
	VideoCodec string
	Duration   float64 // seconds
}

// Prober probes a media file. The scan orchestrator takes this interface
// so tests can substitute fixed codecs without a real ffprobe binary.
type Prober interface {
	Probe(ctx context.Context, path string) (*Result, error)
}

// ExecProber shells out to ffprobe.
type ExecProber struct{}

func NewProber() *ExecProber {
	return &ExecProber{}
}

// Probe executes ffprobe and extracts the primary video codec.
func (p *ExecProber) Probe(ctx context.Context, path string) (*Result, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 - ffprobe is hardcoded; args are strictly controlled and path is opaque
	cmd := exec.CommandContext(ctx, "ffprobe", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()

	var data probeData
	jsonErr := json.Unmarshal(out, &data)

	res := &Result{}
	if jsonErr == nil {
		for _, s := range data.Streams {
			if s.CodecType == "video" && s.CodecName != "" {
				res.VideoCodec = s.CodecName
				if s.Duration != "" {
					if d, perr := strconv.ParseFloat(s.Duration, 64); perr == nil {
						res.Duration = d
					}
				}
				break
			}
		}
	}

	if res.VideoCodec != "" {
		if err != nil {
			// Non-zero exit with usable JSON happens on partially written
			// files; accept the probe, keep the diagnostics.
			errStr := stderr.String()
			if len(errStr) > 4096 {
				errStr = errStr[:4096] + "..."
			}
			logger := log.WithComponent("ffprobe")
			logger.Warn().
				Err(err).
				Str("path", path).
				Str("stderr", errStr).
				Msg("ffprobe non-zero exit but JSON accepted")
		}
		if res.Duration == 0 && data.Format.Duration != "" {
			if d, perr := strconv.ParseFloat(data.Format.Duration, 64); perr == nil {
				res.Duration = d
			}
		}
		return res, nil
	}

	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("json decode: %w", jsonErr)
	}
	return nil, fmt.Errorf("ffprobe returned no video stream")
}

type probeData struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}
