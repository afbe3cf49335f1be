// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health tracks process readiness for the health endpoint.
package health

import "sync/atomic"

// Probe reports whether the process finished booting (database open,
// migrations applied). The zero value is not ready.
type Probe struct {
	ready atomic.Bool
}

func (p *Probe) SetReady() { p.ready.Store(true) }

func (p *Probe) Ready() bool { return p.ready.Load() }
