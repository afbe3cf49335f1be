// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package arr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonarrRenameFilesCommandBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/command", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSonarr(srv.URL, "secret", Options{SSLVerify: true})
	require.NoError(t, s.RenameFiles(context.Background(), 12, []int64{34}))

	assert.Equal(t, "RenameFiles", got["name"])
	assert.EqualValues(t, 12, got["seriesId"])
	files, ok := got["files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.EqualValues(t, 34, files[0])
}

func TestLidarrUsesV1APIBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/artist", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"artistName":"x","path":"/music/x"}]`))
	}))
	defer srv.Close()

	l := NewLidarr(srv.URL, "secret", Options{SSLVerify: true})
	artists, err := l.ListArtists(context.Background())
	require.NoError(t, err)
	require.Len(t, artists, 1)
	assert.Equal(t, "/music/x", artists[0].Path)
}

func TestClientErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRadarr(srv.URL, "bad-key", Options{SSLVerify: true})
	_, err := r.ListMovies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestUnconfiguredClientFailsFast(t *testing.T) {
	s := NewSonarr("", "", Options{})
	assert.False(t, s.Configured())
	err := s.Test(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
