// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session enforces at-most-one active worker per hostname and
// validates the per-worker session token on every worker call.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/store"
)

var (
	// ErrMissingSession is returned when hostname or token are absent.
	ErrMissingSession = errors.New("session: missing hostname or session token")
	// ErrSessionInvalid is returned when the presented token does not match
	// the stored one. Deliberately indistinguishable from an unknown host.
	ErrSessionInvalid = errors.New("session: invalid session")
)

// Registry registers worker sessions and validates them.
type Registry struct {
	store *store.Store
}

// NewRegistry creates a session registry backed by the store.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Register accepts a worker identity. Outcomes follow the store contract:
// no row, stale heartbeat, or matching token accept; a live row with a
// different token is rejected with store.ErrRegistrationConflict.
func (r *Registry) Register(ctx context.Context, hostname, sessionToken, version string) error {
	if hostname == "" || sessionToken == "" {
		return ErrMissingSession
	}

	if err := r.store.UpsertNodeOnRegister(ctx, hostname, sessionToken, version); err != nil {
		if errors.Is(err, store.ErrRegistrationConflict) {
			logger := log.WithComponent("session")
			logger.Warn().
				Str("hostname", hostname).
				Str("event", "session.register_conflict").
				Msg("registration rejected: live session with different token")
		}
		return err
	}

	logger := log.WithComponent("session")
	logger.Info().
		Str("hostname", hostname).
		Str("version", version).
		Str("event", "session.registered").
		Msg("worker registered")
	return nil
}

// Validate checks a (hostname, token) pair against the stored session.
// The token comparison is constant-time.
func (r *Registry) Validate(ctx context.Context, hostname, sessionToken string) error {
	if hostname == "" || sessionToken == "" {
		return ErrMissingSession
	}

	node, err := r.store.GetNode(ctx, hostname)
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	if node == nil || node.SessionToken == "" {
		return ErrSessionInvalid
	}

	if subtle.ConstantTimeCompare([]byte(node.SessionToken), []byte(sessionToken)) != 1 {
		return ErrSessionInvalid
	}
	return nil
}
