// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package postcomplete

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakePlex struct {
	mu        sync.Mutex
	refreshed []string
}

func (f *fakePlex) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/sections":
			_, _ = w.Write([]byte(`{"MediaContainer":{"Directory":[
				{"key":"1","title":"TV","type":"show","Location":[{"path":"/media/tv"}]},
				{"key":"2","title":"Movies","type":"movie","Location":[{"path":"/media/movies"}]}
			]}}`))
		case "/library/sections/1/refresh", "/library/sections/2/refresh":
			f.mu.Lock()
			f.refreshed = append(f.refreshed, r.URL.Path)
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestRunRefreshesOwningPlexLibrary(t *testing.T) {
	s := newTestStore(t)
	fp := &fakePlex{}
	srv := httptest.NewServer(fp.handler())
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, s.SetSetting(ctx, "plex_url", srv.URL))
	require.NoError(t, s.SetSetting(ctx, "plex_token", "token"))

	h := New(Deps{
		Store:       s,
		Providers:   providers.NewRegistry(s, true),
		SettleDelay: time.Millisecond,
	})
	h.Run(ctx, "/media/tv/show/e01.mkv")

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Equal(t, []string{"/library/sections/1/refresh"}, fp.refreshed)
}

func TestRunAutoRenameDisabledByDefault(t *testing.T) {
	s := newTestStore(t)

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, s.SetSetting(ctx, "sonarr_url", srv.URL))
	require.NoError(t, s.SetSetting(ctx, "sonarr_api_key", "key"))

	h := New(Deps{
		Store:       s,
		Providers:   providers.NewRegistry(s, true),
		SettleDelay: time.Millisecond,
	})
	h.Run(ctx, "/media/tv/show/e01.mkv")

	assert.False(t, called, "no provider traffic while auto rename is off")
}

func TestRunSonarrRescanSettleRename(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting(context.Background(), "auto_rename_after_transcode", "true"))

	var (
		mu       sync.Mutex
		commands []map[string]any
		renames  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/series":
			_, _ = w.Write([]byte(`[{"id":3,"title":"Show","path":"/media/tv/show","qualityProfileId":1}]`))
		case "/api/v3/command":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			commands = append(commands, body)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case "/api/v3/rename":
			mu.Lock()
			renames++
			mu.Unlock()
			_, _ = w.Write([]byte(`[{"seriesId":3,"episodeFileId":44,"existingPath":"/media/tv/show/e01.mkv","newPath":"/media/tv/show/S01E01.mkv"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	require.NoError(t, s.SetSetting(context.Background(), "sonarr_url", srv.URL))
	require.NoError(t, s.SetSetting(context.Background(), "sonarr_api_key", "key"))

	h := New(Deps{
		Store:       s,
		Providers:   providers.NewRegistry(s, true),
		SettleDelay: time.Millisecond,
	})
	h.Run(context.Background(), "/media/tv/show/e01.mkv")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commands, 2)
	assert.Equal(t, "RescanSeries", commands[0]["name"])
	assert.Equal(t, "RenameFiles", commands[1]["name"])
	assert.EqualValues(t, []any{float64(44)}, commands[1]["files"])
	assert.Equal(t, 1, renames)
}

func TestRunRadarrFallbackWhenSonarrMisses(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting(context.Background(), "auto_rename_after_transcode", "true"))

	var (
		mu       sync.Mutex
		commands []map[string]any
	)
	sonarrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`)) // no series own the path
	}))
	defer sonarrSrv.Close()
	radarrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/movie":
			_, _ = w.Write([]byte(`[{"id":7,"title":"Film","path":"/media/movies/film","hasFile":true}]`))
		case "/api/v3/command":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			commands = append(commands, body)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case "/api/v3/rename":
			_, _ = w.Write([]byte(`[{"movieId":7,"movieFileId":91,"existingPath":"/media/movies/film/f.mkv","newPath":"/media/movies/film/Film (2020).mkv"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer radarrSrv.Close()

	require.NoError(t, s.SetSetting(context.Background(), "sonarr_url", sonarrSrv.URL))
	require.NoError(t, s.SetSetting(context.Background(), "sonarr_api_key", "key"))
	require.NoError(t, s.SetSetting(context.Background(), "radarr_url", radarrSrv.URL))
	require.NoError(t, s.SetSetting(context.Background(), "radarr_api_key", "key"))

	h := New(Deps{
		Store:       s,
		Providers:   providers.NewRegistry(s, true),
		SettleDelay: time.Millisecond,
	})
	h.Run(context.Background(), "/media/movies/film/f.mkv")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commands, 2)
	assert.Equal(t, "RescanMovie", commands[0]["name"])
	assert.Equal(t, "RenameFiles", commands[1]["name"])
}
