// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrariesAndVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("X-Plex-Token"))
		switch r.URL.Path {
		case "/library/sections":
			_, _ = w.Write([]byte(`{"MediaContainer":{"Directory":[
				{"key":"1","title":"Movies","type":"movie","Location":[{"path":"/media/movies"}]}
			]}}`))
		case "/library/sections/1/all":
			_, _ = w.Write([]byte(`{"MediaContainer":{"Metadata":[
				{"ratingKey":"10","title":"A","Media":[{"videoCodec":"h264","Part":[{"file":"/media/movies/a.mkv"}]}]},
				{"ratingKey":"11","title":"NoFile","Media":[{"videoCodec":"hevc","Part":[]}]}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", true)

	libs, err := c.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, "Movies", libs[0].Title)
	assert.Equal(t, []string{"/media/movies"}, libs[0].Locations)

	videos, err := c.Videos(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, videos, 1) // item without a file is dropped
	assert.Equal(t, "h264", videos[0].VideoCodec)
	assert.Equal(t, "/media/movies/a.mkv", videos[0].Path)
}

func TestRefreshHitsSectionEndpoint(t *testing.T) {
	var hit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Path
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", true)
	require.NoError(t, c.Refresh(context.Background(), "3"))
	assert.Equal(t, "/library/sections/3/refresh", hit)
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient("", "", true)
	assert.False(t, c.Configured())
	_, err := c.Libraries(context.Background())
	require.Error(t, err)
}
