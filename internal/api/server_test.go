// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/codecshift/internal/backup"
	"github.com/ManuGH/codecshift/internal/bus"
	"github.com/ManuGH/codecshift/internal/config"
	"github.com/ManuGH/codecshift/internal/health"
	"github.com/ManuGH/codecshift/internal/postcomplete"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/scan"
	"github.com/ManuGH/codecshift/internal/session"
	"github.com/ManuGH/codecshift/internal/store"
)

const testAPIKey = "test-api-key"

type testEnv struct {
	t     *testing.T
	store *store.Store
	srv   *httptest.Server
	probe *health.Probe
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	probe := &health.Probe{}
	probe.SetReady()

	cfg := config.AppConfig{
		APIKey:            testAPIKey,
		AuthEnabled:       true,
		LocalLoginEnabled: true,
		LocalUser:         "admin",
		LocalPassword:     "swordfish",
		ArrSSLVerify:      true,
		Version:           "2.1.0",
	}

	registry := providers.NewRegistry(st, true)
	server := NewServer(Deps{
		Config:   cfg,
		Store:    st,
		Sessions: session.NewRegistry(st),
		Scans: scan.NewManager(scan.Deps{
			Store:       st,
			Bus:         bus.NewMemoryBus(),
			Providers:   registry,
			SettleDelay: time.Millisecond,
		}),
		Hook: postcomplete.New(postcomplete.Deps{
			Store:       st,
			Providers:   registry,
			SettleDelay: time.Millisecond,
			RunTimeout:  time.Second,
		}),
		Backups:   backup.NewManager(st, t.TempDir()),
		Probe:     probe,
		Providers: registry,
		MediaRoot: t.TempDir(),
	})

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, store: st, srv: srv, probe: probe}
}

// do issues one request with the shared API key and decodes the JSON body.
func (e *testEnv) do(method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("X-Api-Key", testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (e *testEnv) register(hostname, token string) (int, map[string]any) {
	return e.do(http.MethodPost, "/api/register_worker", map[string]string{
		"hostname": hostname, "session_token": token, "version": "2.1.0",
	})
}

func (e *testEnv) ageHeartbeat(hostname string, age time.Duration) {
	e.t.Helper()
	stamp := time.Now().Add(-age).UTC().Format(time.RFC3339)
	_, err := e.store.DB().Exec(`UPDATE nodes SET last_heartbeat = ? WHERE hostname = ?`, stamp, hostname)
	require.NoError(e.t, err)
}

func TestWorkerLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	status, _ := e.register("w1", "tok-1")
	require.Equal(t, http.StatusOK, status)

	_, err := e.store.InsertJob(ctx, "/media/movie.mkv", store.JobTranscode, store.JobPending, "")
	require.NoError(t, err)

	status, body := e.do(http.MethodPost, "/api/request_job", map[string]string{
		"hostname": "w1", "session_token": "tok-1",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/media/movie.mkv", body["filepath"])
	assert.Equal(t, "transcode", body["job_type"])
	jobID := int64(body["job_id"].(float64))

	status, body = e.do(http.MethodPost, "/api/update_job/1", map[string]any{
		"hostname": "w1", "session_token": "tok-1",
		"status": "completed", "original_size": 1000, "new_size": 600,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "job completed", body["message"])

	history, err := e.store.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].OriginalSize)
	assert.Equal(t, int64(600), history[0].NewSize)
	assert.Equal(t, "w1", history[0].EncodedBy)

	job, err := e.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, job)

	// A second completion for the same id finds no job.
	status, _ = e.do(http.MethodPost, "/api/update_job/1", map[string]any{
		"hostname": "w1", "session_token": "tok-1", "status": "completed",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateJobRejectsNonAssignedWorker(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, _ = e.register("w1", "tok-1")
	_, _ = e.register("w2", "tok-2")

	_, err := e.store.InsertJob(ctx, "/media/movie.mkv", store.JobTranscode, store.JobPending, "")
	require.NoError(t, err)
	status, body := e.do(http.MethodPost, "/api/request_job", map[string]string{
		"hostname": "w1", "session_token": "tok-1",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "/media/movie.mkv", body["filepath"])

	// w2 holds a valid session but the job belongs to w1.
	status, body = e.do(http.MethodPost, "/api/update_job/1", map[string]any{
		"hostname": "w2", "session_token": "tok-2", "status": "completed",
	})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_assigned", body["error"])

	job, err := e.store.GetJob(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, store.JobEncoding, job.Status)
	assert.Equal(t, "w1", job.AssignedTo)

	// The assigned worker still completes it.
	status, _ = e.do(http.MethodPost, "/api/update_job/1", map[string]any{
		"hostname": "w1", "session_token": "tok-1", "status": "completed",
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestHeartbeatReturnsCommand(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, _ = e.register("w1", "tok-1")
	require.NoError(t, e.store.SetNodeCommand(ctx, "w1", store.CommandPaused))

	status, body := e.do(http.MethodPost, "/api/heartbeat", map[string]any{
		"hostname": "w1", "session_token": "tok-1",
		"status": "encoding", "progress": 42.5, "fps": 31.2, "current_file": "/m/a.mkv",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["command"])

	node, err := e.store.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, store.NodeEncoding, node.Status)
	assert.InDelta(t, 42.5, node.Progress, 0.001)
}

func TestRegistrationConflictAndStaleTakeover(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.register("w1", "tok-1")
	require.Equal(t, http.StatusOK, status)

	// Live session with a different token is rejected, naming the host.
	status, body := e.register("w1", "tok-2")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "registration_conflict", body["error"])
	assert.Contains(t, body["detail"], "w1")

	// Past the freshness window the takeover succeeds.
	e.ageHeartbeat("w1", 6*time.Minute)
	status, _ = e.register("w1", "tok-2")
	assert.Equal(t, http.StatusOK, status)
}

func TestRequestJobHonoursPauseSwitch(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, _ = e.register("w1", "tok-1")
	_, err := e.store.InsertJob(ctx, "/media/movie.mkv", store.JobTranscode, store.JobPending, "")
	require.NoError(t, err)
	require.NoError(t, e.store.SetSetting(ctx, "pause_job_distribution", "true"))

	status, body := e.do(http.MethodPost, "/api/request_job", map[string]string{
		"hostname": "w1", "session_token": "tok-1",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	job, err := e.store.GetJob(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)
}

func TestWorkerAuthRejections(t *testing.T) {
	e := newTestEnv(t)

	// No API key at all.
	resp, err := http.Post(e.srv.URL+"/api/request_job", "application/json",
		bytes.NewReader([]byte(`{"hostname":"w1","session_token":"x"}`)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// API key but unknown session.
	status, _ := e.do(http.MethodPost, "/api/request_job", map[string]string{
		"hostname": "ghost", "session_token": "nope",
	})
	assert.Equal(t, http.StatusForbidden, status)

	// API key but missing session fields.
	status, _ = e.do(http.MethodPost, "/api/request_job", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthGate(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/api/health")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(raw))
}

func TestHealthGateNotReady(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	server := NewServer(Deps{
		Config:    config.AppConfig{APIKey: testAPIKey, AuthEnabled: true},
		Store:     st,
		Sessions:  session.NewRegistry(st),
		Scans:     scan.NewManager(scan.Deps{Store: st, Bus: bus.NewMemoryBus()}),
		Backups:   backup.NewManager(st, t.TempDir()),
		Probe:     &health.Probe{},
		Providers: providers.NewRegistry(st, true),
	})
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOperatorLoginCookie(t *testing.T) {
	e := newTestEnv(t)

	// Wrong password.
	resp, err := http.Post(e.srv.URL+"/api/login", "application/json",
		bytes.NewReader([]byte(`{"username":"admin","password":"wrong"}`)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No credentials at all on an operator endpoint.
	resp, err = http.Get(e.srv.URL + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Login, then reuse the cookie.
	resp, err = http.Post(e.srv.URL+"/api/login", "application/json",
		bytes.NewReader([]byte(`{"username":"admin","password":"swordfish"}`)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/status", nil)
	require.NoError(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReportsVersionMismatch(t *testing.T) {
	e := newTestEnv(t)

	_, _ = e.register("w1", "tok-1")
	_, err := e.store.DB().Exec(`UPDATE nodes SET version = '1.0.0' WHERE hostname = 'w1'`)
	require.NoError(t, err)

	status, body := e.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2.1.0", body["dashboard_version"])
	assert.Equal(t, false, body["pause_job_distribution"])

	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 1)
	node := nodes[0].(map[string]any)
	assert.Equal(t, "w1", node["hostname"])
	assert.Equal(t, true, node["live"])
	assert.Equal(t, true, node["version_mismatch"])
}

func TestJobEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.store.InsertJob(ctx, "/m/a.mkv", store.JobTranscode, store.JobPending, "")
	require.NoError(t, err)
	_, err = e.store.InsertJob(ctx, "/m/b.mkv", store.JobCleanup, store.JobAwaitingApproval, "")
	require.NoError(t, err)
	_, err = e.store.InsertJob(ctx, "/m/c.mkv", store.JobQualityMismatch, store.JobPending, "{}")
	require.NoError(t, err)

	status, body := e.do(http.MethodGet, "/api/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])

	// Release the cleanup job for worker pickup.
	status, _ = e.do(http.MethodPost, "/api/jobs/2/release", nil)
	require.Equal(t, http.StatusOK, status)
	job, err := e.store.GetJob(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)

	// Clearing deletes pending plus internal-type jobs.
	status, body = e.do(http.MethodPost, "/api/jobs/clear", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["deleted"])
}

func TestScanEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(http.MethodGet, "/api/scan_status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["is_running"])

	status, _ = e.do(http.MethodPost, "/api/scan/warp-drive", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(http.MethodPost, "/api/scan/cancel", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSettingsEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.do(http.MethodPost, "/api/settings", map[string]string{
		"rescan_delay_minutes": "30",
		"allow_hevc":           "true",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := e.do(http.MethodGet, "/api/settings/all", nil)
	require.Equal(t, http.StatusOK, status)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, "30", settings["rescan_delay_minutes"])
	assert.Equal(t, "true", settings["allow_hevc"])
}

func TestProviderSettingsApplyWithoutRestart(t *testing.T) {
	e := newTestEnv(t)

	sonarr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/series":
			_, _ = w.Write([]byte(`[{"id":1,"title":"Show","path":"/tv/show"}]`))
		case "/api/v3/qualityprofile":
			_, _ = w.Write([]byte(`[{"id":1,"name":"HD","cutoff":9}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer sonarr.Close()

	// Nothing configured: stats and libraries reflect that.
	status, body := e.do(http.MethodGet, "/api/arr/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	status, _ = e.do(http.MethodGet, "/api/plex/libraries", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Configure Sonarr through the settings endpoint; the very next
	// stats request uses it, no restart needed.
	status, _ = e.do(http.MethodPost, "/api/settings", map[string]string{
		"sonarr_url":     sonarr.URL,
		"sonarr_api_key": "key",
	})
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(http.MethodGet, "/api/arr/stats", nil)
	require.Equal(t, http.StatusOK, status)
	stats, ok := body["sonarr"].(map[string]any)
	require.True(t, ok, "sonarr stats present after reconfiguration")
	assert.EqualValues(t, 1, stats["series_count"])
}

func TestBackupEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(http.MethodPost, "/api/backups", nil)
	require.Equal(t, http.StatusCreated, status)
	name := body["name"].(string)
	assert.Regexp(t, `^\d{8}\.\d{6}\.tar\.gz$`, name)

	status, body = e.do(http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["backups"].([]any), 1)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/backups/"+name, nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))

	status, _ = e.do(http.MethodDelete, "/api/backups/"+name, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(http.MethodGet, "/api/backups/"+name, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(http.MethodDelete, "/api/backups/..%2Fescape", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.SetSetting(ctx, "allow_av1_reencode", "true"))
	status, body := e.do(http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, status)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, "true", settings["allow_av1_reencode"])

	status, _ = e.do(http.MethodPost, "/api/import", body)
	assert.Equal(t, http.StatusOK, status)
}
