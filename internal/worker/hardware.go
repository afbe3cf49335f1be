// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/ManuGH/codecshift/internal/log"
)

// Accel names a video acceleration backend.
type Accel string

const (
	AccelNVENC Accel = "nvenc"
	AccelVAAPI Accel = "vaapi"
	AccelCPU   Accel = "cpu"
)

// Hardware is the selected encoding backend.
type Hardware struct {
	Accel   Accel
	Encoder string // ffmpeg encoder name
}

// DetectHardware probes the local ffmpeg build and the system for the
// best available HEVC encoder: NVENC, then VAAPI, then software x265.
// An explicit override short-circuits detection.
func DetectHardware(ctx context.Context, override string) Hardware {
	logger := log.WithComponent("worker")

	switch Accel(override) {
	case AccelNVENC:
		return Hardware{Accel: AccelNVENC, Encoder: "hevc_nvenc"}
	case AccelVAAPI:
		return Hardware{Accel: AccelVAAPI, Encoder: "hevc_vaapi"}
	case AccelCPU:
		return Hardware{Accel: AccelCPU, Encoder: "libx265"}
	}

	encoders := ffmpegEncoders(ctx)

	if strings.Contains(encoders, "hevc_nvenc") && nvidiaPresent(ctx) {
		logger.Info().Str("accel", string(AccelNVENC)).Msg("hardware encoder selected")
		return Hardware{Accel: AccelNVENC, Encoder: "hevc_nvenc"}
	}
	if runtime.GOOS == "linux" && strings.Contains(encoders, "hevc_vaapi") && renderNodePresent() {
		logger.Info().Str("accel", string(AccelVAAPI)).Msg("hardware encoder selected")
		return Hardware{Accel: AccelVAAPI, Encoder: "hevc_vaapi"}
	}

	logger.Info().Str("accel", string(AccelCPU)).Msg("falling back to software encoding")
	return Hardware{Accel: AccelCPU, Encoder: "libx265"}
}

func ffmpegEncoders(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders").Output()
	if err != nil {
		return ""
	}
	return string(out)
}

func nvidiaPresent(ctx context.Context) bool {
	return exec.CommandContext(ctx, "nvidia-smi", "-L").Run() == nil
}

func renderNodePresent() bool {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "renderD") {
			return true
		}
	}
	return false
}

// encodeArgs builds the ffmpeg argument list for one transcode.
func (h Hardware) encodeArgs(input, output string) []string {
	args := []string{"-hide_banner", "-y"}
	switch h.Accel {
	case AccelNVENC:
		args = append(args, "-hwaccel", "cuda")
	case AccelVAAPI:
		args = append(args, "-hwaccel", "vaapi", "-hwaccel_output_format", "vaapi", "-vaapi_device", "/dev/dri/renderD128")
	}
	args = append(args, "-i", input, "-map", "0")
	switch h.Accel {
	case AccelNVENC:
		args = append(args, "-c:v", h.Encoder, "-preset", "p5", "-cq", "26")
	case AccelVAAPI:
		args = append(args, "-c:v", h.Encoder, "-qp", "26")
	default:
		args = append(args, "-c:v", h.Encoder, "-preset", "medium", "-crf", "26")
	}
	args = append(args,
		"-c:a", "copy",
		"-c:s", "copy",
		"-progress", "pipe:1",
		"-nostats",
		output,
	)
	return args
}
