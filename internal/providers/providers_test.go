// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package providers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/codecshift/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolveFollowsSettingsChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	reg := NewRegistry(s, true)

	set := reg.Resolve(ctx)
	assert.False(t, set.Sonarr.Configured())
	assert.False(t, set.Radarr.Configured())
	assert.False(t, set.Lidarr.Configured())
	assert.False(t, set.Plex.Configured())

	require.NoError(t, s.SetSetting(ctx, "sonarr_url", "http://sonarr:8989"))
	require.NoError(t, s.SetSetting(ctx, "sonarr_api_key", "abc"))
	require.NoError(t, s.SetSetting(ctx, "plex_url", "http://plex:32400"))
	require.NoError(t, s.SetSetting(ctx, "plex_token", "tok"))

	set = reg.Resolve(ctx)
	assert.True(t, set.Sonarr.Configured())
	assert.True(t, set.Plex.Configured())
	assert.False(t, set.Radarr.Configured())

	// Clearing a key deconfigures the provider on the next resolve.
	require.NoError(t, s.SetSetting(ctx, "sonarr_api_key", ""))
	set = reg.Resolve(ctx)
	assert.False(t, set.Sonarr.Configured())
}
