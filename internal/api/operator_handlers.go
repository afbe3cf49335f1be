// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/codecshift/internal/arr"
	"github.com/ManuGH/codecshift/internal/scan"
	"github.com/ManuGH/codecshift/internal/store"
)

// nodeView is one node row enriched for the operator dashboard.
type nodeView struct {
	store.Node
	Live            bool    `json:"live"`
	AgeSeconds      float64 `json:"age_seconds"`
	VersionMismatch bool    `json:"version_mismatch"`
}

// handleStatus returns the node list with freshness and version data.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	paused, err := s.store.GetSettingBool(ctx, "pause_job_distribution", false)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, nodeView{
			Node:            n,
			Live:            n.Live(now),
			AgeSeconds:      now.Sub(n.LastHeartbeat).Seconds(),
			VersionMismatch: n.Version != "" && n.Version != s.cfg.Version,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":                  views,
		"dashboard_version":      s.cfg.Version,
		"pause_job_distribution": paused,
	})
}

func parseNodeCommand(raw string) (store.NodeCommand, bool) {
	switch store.NodeCommand(raw) {
	case store.CommandIdle, store.CommandRunning, store.CommandPaused, store.CommandQuit:
		return store.NodeCommand(raw), true
	}
	return "", false
}

func (s *Server) handleNodeCommand(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	var body struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed command body")
		return
	}
	cmd, ok := parseNodeCommand(body.Command)
	if !ok {
		writeBadRequest(w, "command must be one of idle, running, paused, quit")
		return
	}
	if err := s.store.SetNodeCommand(r.Context(), hostname, cmd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAllNodesCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed command body")
		return
	}
	cmd, ok := parseNodeCommand(body.Command)
	if !ok {
		writeBadRequest(w, "command must be one of idle, running, paused, quit")
		return
	}
	if err := s.store.SetAllNodeCommands(r.Context(), cmd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveNode(r.Context(), chi.URLParam(r, "hostname")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListJobsOptions{
		Status:  store.JobStatus(q.Get("status")),
		JobType: store.JobType(q.Get("job_type")),
	}
	if v := q.Get("page"); v != "" {
		opts.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("per_page"); v != "" {
		opts.PerPage, _ = strconv.Atoi(v)
	}

	jobs, total, err := s.store.ListJobs(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":     jobs,
		"total":    total,
		"page":     opts.Page,
		"per_page": opts.PerPage,
	})
}

func jobIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	if err := s.store.RequeueJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleReleaseJob moves an awaiting_approval job to pending so the
// internal drain (or a worker, for cleanup jobs) picks it up.
func (s *Server) handleReleaseJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeBadRequest(w, "invalid job id")
		return
	}
	if err := s.store.ReleaseJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// scanKinds maps the trigger path segment onto a scanner.
var scanKinds = map[string]scan.Kind{
	"media":          scan.KindMedia,
	"sonarr-rename":  scan.KindSonarrRename,
	"sonarr-quality": scan.KindSonarrQuality,
	"radarr-rename":  scan.KindRadarrRename,
	"lidarr-rename":  scan.KindLidarrRename,
	"cleanup":        scan.KindCleanup,
}

// handleScanTrigger requests a scan. Manual triggers force a full scan,
// bypassing the already-seen checks. A held exclusion answers Busy and
// clears any stale snapshot.
func (s *Server) handleScanTrigger(w http.ResponseWriter, r *http.Request) {
	kind, ok := scanKinds[chi.URLParam(r, "kind")]
	if !ok {
		writeBadRequest(w, "unknown scan kind")
		return
	}
	if err := s.scans.Trigger(r.Context(), kind, true); err != nil {
		s.scans.ResetProgress()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

func (s *Server) handleScanCancel(w http.ResponseWriter, _ *http.Request) {
	s.scans.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scans.Snapshot())
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.EncodedFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetHistoryStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleListFailures returns stored failures plus derived stuck jobs.
func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.store.ListFailures(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if failures == nil {
		failures = []store.FailureEntry{}
	}
	count, err := s.store.CountFailures(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures, "total": count})
}

func (s *Server) handleClearFailures(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearFailures(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleAllSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.AllSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": all})
}

// handleSetSettings upserts one or more settings from a flat string map.
func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed settings body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no settings given")
		return
	}
	for k, v := range body {
		if k == "" {
			writeBadRequest(w, "empty setting key")
			return
		}
		if err := s.store.SetSetting(r.Context(), k, v); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListMediaSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sources == nil {
		sources = []store.MediaSourceType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleHideSource(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceName  string `json:"source_name"`
		ScannerType string `json:"scanner_type"`
		Hidden      bool   `json:"hidden"`
	}
	if err := decodeBody(r, &body); err != nil || body.SourceName == "" || body.ScannerType == "" {
		writeBadRequest(w, "source_name and scanner_type are required")
		return
	}
	if err := s.store.SetMediaSourceHidden(r.Context(), body.SourceName, body.ScannerType, body.Hidden); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePlexLibraries(w http.ResponseWriter, r *http.Request) {
	prov := s.providers.Resolve(r.Context())
	if !prov.Plex.Configured() {
		writeBadRequest(w, "plex is not configured")
		return
	}
	libs, err := prov.Plex.Libraries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"libraries": libs})
}

// handleListFolders lists subdirectories for the internal-scan folder
// picker. The path is resolved under the media root and may not escape it.
func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	rel := filepath.Clean("/" + r.URL.Query().Get("path"))
	dir := filepath.Join(s.mediaRoot, rel)
	if dir != s.mediaRoot && !strings.HasPrefix(dir, s.mediaRoot+string(filepath.Separator)) {
		writeBadRequest(w, "path escapes media root")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, store.ErrNotFound)
			return
		}
		writeError(w, err)
		return
	}
	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			folders = append(folders, e.Name())
		}
	}
	sort.Strings(folders)
	writeJSON(w, http.StatusOK, map[string]any{"path": rel, "folders": folders})
}

// handleArrTest checks connectivity of a provider with the credentials
// in the request, without touching the configured clients.
func (s *Server) handleArrTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider  string `json:"provider"`
		URL       string `json:"url"`
		APIKey    string `json:"api_key"`
		SSLVerify *bool  `json:"ssl_verify"`
	}
	if err := decodeBody(r, &body); err != nil || body.URL == "" || body.APIKey == "" {
		writeBadRequest(w, "provider, url and api_key are required")
		return
	}
	sslVerify := s.cfg.ArrSSLVerify
	if body.SSLVerify != nil {
		sslVerify = *body.SSLVerify
	}
	opts := arr.Options{SSLVerify: sslVerify}

	var err error
	switch body.Provider {
	case "sonarr":
		err = arr.NewSonarr(body.URL, body.APIKey, opts).Test(r.Context())
	case "radarr":
		err = arr.NewRadarr(body.URL, body.APIKey, opts).Test(r.Context())
	case "lidarr":
		err = arr.NewLidarr(body.URL, body.APIKey, opts).Test(r.Context())
	default:
		writeBadRequest(w, "provider must be sonarr, radarr or lidarr")
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleArrStats summarises each configured provider. A failing provider
// reports its error instead of failing the whole response.
func (s *Server) handleArrStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var mu sync.Mutex
	out := map[string]any{}
	set := func(name string, v any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out[name] = map[string]string{"error": err.Error()}
			return
		}
		out[name] = v
	}

	// Providers are queried concurrently; a slow or failing one only
	// degrades its own entry.
	prov := s.providers.Resolve(ctx)
	g := new(errgroup.Group)
	if prov.Sonarr.Configured() {
		g.Go(func() error {
			st, err := prov.Sonarr.Stats(ctx)
			set("sonarr", st, err)
			return nil
		})
	}
	if prov.Radarr.Configured() {
		g.Go(func() error {
			st, err := prov.Radarr.Stats(ctx)
			set("radarr", st, err)
			return nil
		})
	}
	if prov.Lidarr.Configured() {
		g.Go(func() error {
			st, err := prov.Lidarr.Stats(ctx)
			set("lidarr", st, err)
			return nil
		})
	}
	_ = g.Wait()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.ExportData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="codecshift-export.json"`)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var doc store.Document
	if err := decodeBody(r, &doc); err != nil {
		writeBadRequest(w, "malformed export document")
		return
	}
	if err := s.store.ImportData(r.Context(), &doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	backups, err := s.backups.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (s *Server) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.backups.Trigger(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := s.backups.Path(name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
