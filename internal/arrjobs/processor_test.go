// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package arrjobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

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

func configureProvider(t *testing.T, s *store.Store, name, url string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SetSetting(ctx, name+"_url", url))
	require.NoError(t, s.SetSetting(ctx, name+"_api_key", "key"))
}

func TestDrainDispatchesSonarrRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/command", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	configureProvider(t, s, "sonarr", srv.URL)

	_, err := s.InsertJob(ctx, "/tv/show/old.mkv", store.JobRename, store.JobPending,
		`{"source":"sonarr","seriesId":5,"episodeFileId":77}`)
	require.NoError(t, err)

	p := NewProcessor(s, providers.NewRegistry(s, true))
	require.NoError(t, p.DrainOnce(ctx))

	assert.Equal(t, "RenameFiles", got["name"])
	assert.EqualValues(t, 5, got["seriesId"])

	jobs, _, err := s.ListJobs(ctx, store.ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobCompleted, jobs[0].Status)
}

func TestDrainFailsJobOnProviderError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	configureProvider(t, s, "radarr", srv.URL)

	_, err := s.InsertJob(ctx, "/movies/old.mkv", store.JobRename, store.JobPending,
		`{"source":"radarr","movieId":9,"movieFileId":12}`)
	require.NoError(t, err)

	p := NewProcessor(s, providers.NewRegistry(s, true))
	require.NoError(t, p.DrainOnce(ctx))

	jobs, _, err := s.ListJobs(ctx, store.ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobFailed, jobs[0].Status)
}

func TestDrainFailsOnMissingMetadataWithoutCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	configureProvider(t, s, "sonarr", srv.URL)

	// No episodeFileId: immediate failure, no outbound call.
	_, err := s.InsertJob(ctx, "/tv/x.mkv", store.JobRename, store.JobPending,
		`{"source":"sonarr","seriesId":5}`)
	require.NoError(t, err)

	p := NewProcessor(s, providers.NewRegistry(s, true))
	require.NoError(t, p.DrainOnce(ctx))

	assert.False(t, called)
	jobs, _, err := s.ListJobs(ctx, store.ListJobsOptions{})
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, jobs[0].Status)
}

func TestDrainLeavesAwaitingApprovalAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/tv/x.mkv", store.JobRename, store.JobAwaitingApproval,
		`{"source":"sonarr","seriesId":5,"episodeFileId":7}`)
	require.NoError(t, err)

	p := NewProcessor(s, providers.NewRegistry(s, true))
	require.NoError(t, p.DrainOnce(ctx))

	jobs, _, err := s.ListJobs(ctx, store.ListJobsOptions{})
	require.NoError(t, err)
	assert.Equal(t, store.JobAwaitingApproval, jobs[0].Status)
}

func TestDrainRequeuesOrphanedClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	configureProvider(t, s, "sonarr", srv.URL)

	// Claim the job and stop, as a crashed drain would.
	_, err := s.InsertJob(ctx, "/tv/show/old.mkv", store.JobRename, store.JobPending,
		`{"source":"sonarr","seriesId":5,"episodeFileId":77}`)
	require.NoError(t, err)
	orphan, err := s.ClaimOneInternalJob(ctx, store.JobRename)
	require.NoError(t, err)
	require.Equal(t, store.JobEncoding, orphan.Status)

	// The next drain reclaims and dispatches it.
	p := NewProcessor(s, providers.NewRegistry(s, true))
	require.NoError(t, p.DrainOnce(ctx))

	assert.Equal(t, "RenameFiles", got["name"])
	jobs, _, err := s.ListJobs(ctx, store.ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobCompleted, jobs[0].Status)
}
