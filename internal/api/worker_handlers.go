// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/store"
)

// handleHealth reports readiness: "OK" once the database is open and
// migrated, 503 before that.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.probe.Ready() {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type workerIdentity struct {
	Hostname     string `json:"hostname"`
	SessionToken string `json:"session_token"`
}

// handleRegisterWorker registers or re-registers a worker identity.
// A live session under the same hostname with a different token is a 409.
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var body struct {
		workerIdentity
		Version string `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed registration body")
		return
	}
	if err := s.sessions.Register(r.Context(), body.Hostname, body.SessionToken, body.Version); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleHeartbeat records a worker's liveness and telemetry and answers
// with the operator-set command so the worker can adjust its state.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		workerIdentity
		Status        string     `json:"status"`
		Progress      float64    `json:"progress"`
		FPS           float64    `json:"fps"`
		CurrentFile   string     `json:"current_file"`
		TotalDuration float64    `json:"total_duration"`
		JobStartTime  *time.Time `json:"job_start_time"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed heartbeat body")
		return
	}
	ctx := r.Context()
	if err := s.sessions.Validate(ctx, body.Hostname, body.SessionToken); err != nil {
		writeError(w, err)
		return
	}

	err := s.store.Heartbeat(ctx, body.Hostname, store.HeartbeatFields{
		Status:        store.NodeStatus(body.Status),
		Progress:      body.Progress,
		FPS:           body.FPS,
		CurrentFile:   body.CurrentFile,
		TotalDuration: body.TotalDuration,
		JobStartTime:  body.JobStartTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	node, err := s.store.GetNode(ctx, body.Hostname)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": node.Command})
}

// handleRequestJob hands the oldest eligible job to the calling worker.
// An empty queue or a paused distribution switch answers {}.
func (s *Server) handleRequestJob(w http.ResponseWriter, r *http.Request) {
	var body workerIdentity
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed job request body")
		return
	}
	ctx := log.ContextWithHostname(r.Context(), body.Hostname)
	if err := s.sessions.Validate(ctx, body.Hostname, body.SessionToken); err != nil {
		writeError(w, err)
		return
	}

	paused, err := s.store.GetSettingBool(ctx, "pause_job_distribution", false)
	if err != nil {
		writeError(w, err)
		return
	}
	if paused {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	job, err := s.store.ClaimOneJob(ctx, body.Hostname)
	if err != nil {
		if errors.Is(err, store.ErrQueueEmpty) {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		writeError(w, err)
		return
	}

	metrics.IncJobsClaimed()
	ctx = log.ContextWithJobID(ctx, strconv.FormatInt(job.ID, 10))
	logger := log.WithContext(ctx, log.WithComponent("api"))
	logger.Info().
		Str("job_type", string(job.JobType)).
		Str("event", "job.claimed").
		Msg("job dispatched")
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"filepath": job.Filepath,
		"job_type": job.JobType,
	})
}

// handleUpdateJob applies a terminal status reported by a worker.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid job id")
		return
	}

	var body struct {
		workerIdentity
		Status       string `json:"status"`
		OriginalSize int64  `json:"original_size"`
		NewSize      int64  `json:"new_size"`
		Reason       string `json:"reason"`
		Log          string `json:"log"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed job update body")
		return
	}
	ctx := log.ContextWithHostname(r.Context(), body.Hostname)
	ctx = log.ContextWithJobID(ctx, strconv.FormatInt(jobID, 10))
	if err := s.sessions.Validate(ctx, body.Hostname, body.SessionToken); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, store.ErrNotFound)
		return
	}
	// Only the worker the job was dispatched to may finish it.
	if job.AssignedTo != body.Hostname {
		logger := log.WithContext(ctx, log.WithComponent("api"))
		logger.Warn().
			Str("assigned_to", job.AssignedTo).
			Str("event", "job.update_rejected").
			Msg("job update from non-assigned worker")
		writeJSON(w, http.StatusForbidden, errorBody{Error: "not_assigned", Detail: "job is assigned to a different worker"})
		return
	}

	switch body.Status {
	case "completed":
		if err := s.store.CompleteJob(ctx, jobID, body.Hostname, body.OriginalSize, body.NewSize); err != nil {
			writeError(w, err)
			return
		}
		metrics.IncJobsCompleted(string(job.JobType))
		if job.JobType == store.JobTranscode && s.hook != nil {
			s.hook.OnTranscodeComplete(job.Filepath)
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "job completed"})
	case "failed":
		if err := s.store.FailJob(ctx, jobID, body.Hostname, body.Reason, body.Log); err != nil {
			writeError(w, err)
			return
		}
		metrics.IncJobsFailed(string(job.JobType))
		logger := log.WithContext(ctx, log.WithComponent("api"))
		logger.Warn().
			Str("event", "job.failed").
			Str("reason", body.Reason).
			Msg("worker reported job failure")
		writeJSON(w, http.StatusOK, map[string]string{"message": "job marked failed"})
	default:
		writeBadRequest(w, "status must be completed or failed")
	}
}

// handleWorkerSettings returns the settings snapshot for a worker,
// alongside the controller version for mismatch detection.
func (s *Server) handleWorkerSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hostname := r.URL.Query().Get("hostname")
	token := r.URL.Query().Get("session_token")
	if err := s.sessions.Validate(ctx, hostname, token); err != nil {
		writeError(w, err)
		return
	}

	all, err := s.store.AllSettings(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	settings := make(map[string]map[string]string, len(all))
	for k, v := range all {
		settings[k] = map[string]string{"setting_value": v}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":          settings,
		"dashboard_version": s.cfg.Version,
	})
}
