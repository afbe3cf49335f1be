// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the controller's HTTP surface: worker endpoints
// for registration, job claiming and completion, and operator endpoints
// for cluster management.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/codecshift/internal/api/middleware"
	"github.com/ManuGH/codecshift/internal/backup"
	"github.com/ManuGH/codecshift/internal/config"
	"github.com/ManuGH/codecshift/internal/health"
	"github.com/ManuGH/codecshift/internal/postcomplete"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/scan"
	"github.com/ManuGH/codecshift/internal/session"
	"github.com/ManuGH/codecshift/internal/store"
)

// Deps wires the server to its collaborators. Providers may resolve
// unconfigured; the matching endpoints then answer with errors.
type Deps struct {
	Config   config.AppConfig
	Store    *store.Store
	Sessions *session.Registry
	Scans    *scan.Manager
	Hook     *postcomplete.Hook
	Backups  *backup.Manager
	Probe    *health.Probe

	// Providers is resolved per request, so settings changes apply
	// without a restart.
	Providers *providers.Registry

	// MediaRoot anchors the operator folder browser.
	MediaRoot string
}

// Server is the HTTP API.
type Server struct {
	cfg        config.AppConfig
	store      *store.Store
	sessions   *session.Registry
	scans      *scan.Manager
	hook       *postcomplete.Hook
	backups    *backup.Manager
	probe      *health.Probe
	providers  *providers.Registry
	mediaRoot  string
	opSessions *operatorSessions
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	return &Server{
		cfg:        deps.Config,
		store:      deps.Store,
		sessions:   deps.Sessions,
		scans:      deps.Scans,
		hook:       deps.Hook,
		backups:    deps.Backups,
		probe:      deps.Probe,
		providers:  deps.Providers,
		mediaRoot:  deps.MediaRoot,
		opSessions: newOperatorSessions(),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         s.cfg.MetricsEnabled,
		TracingService:        s.tracingService(),
		EnableLogging:         true,
	})

	// Unauthenticated: readiness and login.
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)
	r.Post("/api/logout", s.handleLogout)

	// Worker endpoints: shared API key, per-call session validation.
	r.Group(func(r chi.Router) {
		r.Use(s.requireWorkerAuth)
		r.Post("/api/register_worker", s.handleRegisterWorker)
		r.Post("/api/heartbeat", s.handleHeartbeat)
		r.Post("/api/request_job", s.handleRequestJob)
		r.Post("/api/update_job/{id}", s.handleUpdateJob)
		r.Get("/api/settings", s.handleWorkerSettings)
	})

	// Operator endpoints: API key or session cookie.
	r.Group(func(r chi.Router) {
		r.Use(s.requireOperatorAuth)
		r.Use(middleware.APIRateLimit())

		r.Get("/api/status", s.handleStatus)
		r.Post("/api/node/{hostname}/command", s.handleNodeCommand)
		r.Post("/api/nodes/command", s.handleAllNodesCommand)
		r.Delete("/api/node/{hostname}", s.handleRemoveNode)

		r.Get("/api/jobs", s.handleListJobs)
		r.Delete("/api/jobs/{id}", s.handleDeleteJob)
		r.Post("/api/jobs/{id}/requeue", s.handleRequeueJob)
		r.Post("/api/jobs/{id}/release", s.handleReleaseJob)
		r.Post("/api/jobs/clear", s.handleClearQueue)

		r.Get("/api/scan_status", s.handleScanStatus)
		r.Post("/api/scan/cancel", s.handleScanCancel)
		r.Group(func(r chi.Router) {
			r.Use(middleware.ScanTriggerRateLimit())
			r.Post("/api/scan/{kind}", s.handleScanTrigger)
		})

		r.Get("/api/history", s.handleListHistory)
		r.Get("/api/history/stats", s.handleHistoryStats)
		r.Delete("/api/history", s.handleClearHistory)
		r.Get("/api/failures", s.handleListFailures)
		r.Delete("/api/failures", s.handleClearFailures)

		r.Get("/api/settings/all", s.handleAllSettings)
		r.Post("/api/settings", s.handleSetSettings)

		r.Get("/api/sources", s.handleListSources)
		r.Post("/api/sources/hide", s.handleHideSource)

		r.Get("/api/plex/libraries", s.handlePlexLibraries)
		r.Get("/api/folders", s.handleListFolders)
		r.Post("/api/arr/test", s.handleArrTest)
		r.Get("/api/arr/stats", s.handleArrStats)

		r.Get("/api/export", s.handleExport)
		r.Post("/api/import", s.handleImport)

		r.Get("/api/backups", s.handleListBackups)
		r.Post("/api/backups", s.handleTriggerBackup)
		r.Get("/api/backups/{name}", s.handleDownloadBackup)
		r.Delete("/api/backups/{name}", s.handleDeleteBackup)
	})

	return r
}

func (s *Server) tracingService() string {
	if !s.cfg.TracingEnabled {
		return ""
	}
	svc := s.cfg.LogService
	if svc == "" {
		svc = "codecshift"
	}
	return svc
}
