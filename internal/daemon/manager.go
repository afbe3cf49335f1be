// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon manages the controller lifecycle: the API and metrics
// servers, the long-lived background tasks, and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/codecshift/internal/config"
	"github.com/ManuGH/codecshift/internal/log"
)

// ErrManagerNotStarted is returned by Shutdown before Start.
var ErrManagerNotStarted = errors.New("daemon: manager not started")

const shutdownTimeout = 30 * time.Second

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Task is one long-lived background loop (scan dispatcher, scheduler,
// rename drain, backup scheduler, config watcher). Run blocks until its
// context is done; returning the context error is a clean exit.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps wires the manager.
type Deps struct {
	Config         config.AppConfig
	APIHandler     http.Handler
	MetricsHandler http.Handler
	Tasks          []Task
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs the servers and background tasks until shutdown.
type Manager struct {
	deps Deps

	apiServer     *http.Server
	metricsServer *http.Server

	cancelTasks context.CancelFunc
	tasksDone   sync.WaitGroup

	mu            sync.Mutex
	started       bool
	stopping      bool
	shutdownHooks []namedHook

	logger zerolog.Logger
}

// NewManager creates the daemon manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.APIHandler == nil {
		return nil, fmt.Errorf("daemon: API handler is required")
	}
	return &Manager{
		deps:   deps,
		logger: log.WithComponent("daemon"),
	}, nil
}

// Start runs servers and tasks and blocks until ctx is cancelled or a
// server fails. Background task failures are logged, not fatal.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("daemon: start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("daemon: manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.deps.Config.APIListenAddr).
		Bool("metrics", m.deps.Config.MetricsEnabled).
		Msg("starting daemon manager")

	errChan := make(chan error, 2)

	if m.deps.Config.MetricsEnabled && m.deps.MetricsHandler != nil {
		m.startMetricsServer(errChan)
	}
	m.startAPIServer(errChan)
	m.startTasks(ctx)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) startAPIServer(errChan chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.deps.Config.APIListenAddr,
		Handler:           m.deps.APIHandler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		m.logger.Info().Str("addr", m.apiServer.Addr).Msg("API server listening")
		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str("event", "api.server.failed").Msg("API server failed")
			errChan <- fmt.Errorf("API server: %w", err)
		}
	}()
}

func (m *Manager) startMetricsServer(errChan chan<- error) {
	m.metricsServer = &http.Server{
		Addr:              m.deps.Config.MetricsAddr,
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		m.logger.Info().Str("addr", m.metricsServer.Addr).Msg("metrics server listening")
		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str("event", "metrics.server.failed").Msg("metrics server failed")
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// startTasks launches the background loops on a context the manager can
// cancel independently of the servers.
func (m *Manager) startTasks(ctx context.Context) {
	taskCtx, cancel := context.WithCancel(ctx)
	m.cancelTasks = cancel

	for _, task := range m.deps.Tasks {
		m.tasksDone.Add(1)
		go func(t Task) {
			defer m.tasksDone.Done()
			m.logger.Info().Str("task", t.Name).Msg("background task started")
			err := t.Run(taskCtx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				m.logger.Info().Str("task", t.Name).Msg("background task stopped")
			default:
				m.logger.Error().Err(err).Str("task", t.Name).Msg("background task exited with error")
			}
		}(task)
	}
}

// Shutdown stops the servers, cancels the background tasks and runs the
// registered hooks in LIFO order.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("daemon: shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error

	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if m.cancelTasks != nil {
		m.cancelTasks()
	}
	tasksStopped := make(chan struct{})
	go func() {
		m.tasksDone.Wait()
		close(tasksStopped)
	}()
	select {
	case <-tasksStopped:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("background tasks did not stop in time"))
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function. Hooks run in reverse
// registration order.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
}
