// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker implements the transcode agent: hardware detection,
// the ffmpeg runner, the dashboard client and the main loop.
package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// forbiddenRoots are directories a job path may never resolve into, no
// matter what the allow-list says.
var forbiddenRoots = []string{
	"/", "/etc", "/root", "/sys", "/proc", "/dev", "/bin", "/sbin", "/usr", "/var", "/tmp",
}

// ErrPathRejected is returned for any path outside the configured
// media roots.
var ErrPathRejected = errors.New("worker: path outside allowed media roots")

// PathGuard validates that job paths stay inside the configured
// media directories.
type PathGuard struct {
	roots []string
}

// NewPathGuard builds a guard from a comma-separated allow-list of
// absolute directories. Forbidden system roots are rejected up front.
func NewPathGuard(mediaPaths string) (*PathGuard, error) {
	var roots []string
	for _, raw := range strings.Split(mediaPaths, ",") {
		root := strings.TrimSpace(raw)
		if root == "" {
			continue
		}
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("media path %q is not absolute", root)
		}
		root = filepath.Clean(root)
		for _, f := range forbiddenRoots {
			if root == f {
				return nil, fmt.Errorf("media path %q is a forbidden system directory", root)
			}
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no media paths configured")
	}
	return &PathGuard{roots: roots}, nil
}

// Validate normalises path and checks containment. Relative paths,
// traversal out of the roots, and forbidden directories all fail.
func (g *PathGuard) Validate(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q is not absolute", ErrPathRejected, path)
	}
	clean := filepath.Clean(path)

	for _, f := range forbiddenRoots[1:] { // "/" is covered by containment
		if clean == f || strings.HasPrefix(clean, f+string(filepath.Separator)) {
			// Allowed roots never sit inside a forbidden directory, so
			// anything resolving there escaped the allow-list.
			return fmt.Errorf("%w: %q resolves into %s", ErrPathRejected, path, f)
		}
	}

	for _, root := range g.roots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrPathRejected, path)
}
