// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/codecshift/internal/store"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s)
}

func TestRegisterAndValidate(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "w1", "T1", "1.0.0"))
	require.NoError(t, r.Validate(ctx, "w1", "T1"))

	require.ErrorIs(t, r.Validate(ctx, "w1", "wrong"), ErrSessionInvalid)
	require.ErrorIs(t, r.Validate(ctx, "unknown", "T1"), ErrSessionInvalid)
	require.ErrorIs(t, r.Validate(ctx, "", "T1"), ErrMissingSession)
	require.ErrorIs(t, r.Validate(ctx, "w1", ""), ErrMissingSession)
	require.ErrorIs(t, r.Register(ctx, "w1", "", "1.0.0"), ErrMissingSession)
}

func TestRegisterConflictPassesThrough(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "w1", "T1", "1.0.0"))
	require.ErrorIs(t, r.Register(ctx, "w1", "T2", "1.0.0"), store.ErrRegistrationConflict)

	// The original session keeps working.
	require.NoError(t, r.Validate(ctx, "w1", "T1"))
}
