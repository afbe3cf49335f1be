// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/store"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultPollInterval      = 5 * time.Second
	registerBackoff          = 10 * time.Second
)

// Agent is the worker main loop: register, heartbeat, honour the
// operator command, claim and execute jobs, report terminal status.
type Agent struct {
	client  *Client
	guard   *PathGuard
	runner  *TranscodeRunner
	version string

	heartbeatInterval time.Duration
	pollInterval      time.Duration

	mu      sync.Mutex
	state   HeartbeatPayload
	command store.NodeCommand
}

// NewAgent assembles a worker agent.
func NewAgent(client *Client, guard *PathGuard, runner *TranscodeRunner, version string) *Agent {
	return &Agent{
		client:            client,
		guard:             guard,
		runner:            runner,
		version:           version,
		heartbeatInterval: defaultHeartbeatInterval,
		pollInterval:      defaultPollInterval,
		state:             HeartbeatPayload{Status: string(store.NodeBooting)},
		command:           store.CommandRunning,
	}
}

// Run blocks until ctx is done, the operator commands quit, or
// registration is refused.
func (a *Agent) Run(ctx context.Context) error {
	logger := log.WithComponent("worker")

	if err := a.register(ctx); err != nil {
		return err
	}
	a.setStatus(store.NodeIdle)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		a.heartbeatLoop(hbCtx)
	}()

	defer func() {
		stopHeartbeat()
		hbDone.Wait()
		// Best-effort final heartbeat so the dashboard shows offline
		// immediately instead of waiting out the freshness window.
		finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.setStatus(store.NodeOffline)
		if _, err := a.client.Heartbeat(finalCtx, a.snapshot()); err != nil {
			logger.Debug().Err(err).Msg("final heartbeat failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}

		switch a.currentCommand() {
		case store.CommandQuit:
			logger.Info().Msg("quit command received, shutting down")
			return nil
		case store.CommandPaused:
			a.setStatus(store.NodePaused)
			continue
		case store.CommandIdle:
			a.setStatus(store.NodeIdle)
			continue
		}

		a.setStatus(store.NodeRunning)
		job, err := a.client.RequestJob(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("job request failed")
			continue
		}
		if job == nil {
			a.setStatus(store.NodeIdle)
			continue
		}
		a.execute(ctx, job)
	}
}

// register retries transient failures; a registration conflict aborts
// since another live worker owns the hostname.
func (a *Agent) register(ctx context.Context) error {
	logger := log.WithComponent("worker")
	for {
		err := a.client.Register(ctx, a.version)
		if err == nil {
			logger.Info().Str("version", a.version).Msg("registered with controller")
			return nil
		}
		if errors.Is(err, ErrRegistrationConflict) {
			return err
		}
		logger.Warn().Err(err).Dur("retry_in", registerBackoff).Msg("registration failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerBackoff):
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	logger := log.WithComponent("worker")
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd, err := a.client.Heartbeat(ctx, a.snapshot())
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
				continue
			}
			a.setCommand(cmd)
		}
	}
}

// execute runs one claimed job and reports its terminal status.
func (a *Agent) execute(ctx context.Context, job *JobAssignment) {
	logger := log.WithComponent("worker")

	if err := a.guard.Validate(job.Filepath); err != nil {
		logger.Error().Err(err).Int64("job_id", job.JobID).Str("path", job.Filepath).Msg("job path rejected")
		a.report(ctx, func(c context.Context) error {
			return a.client.ReportFailed(c, job.JobID, err.Error(), "")
		})
		return
	}

	switch job.JobType {
	case string(store.JobTranscode):
		a.executeTranscode(ctx, job)
	case string(store.JobCleanup):
		a.executeCleanup(ctx, job)
	default:
		a.report(ctx, func(c context.Context) error {
			return a.client.ReportFailed(c, job.JobID, "unsupported job type "+job.JobType, "")
		})
	}
}

func (a *Agent) executeTranscode(ctx context.Context, job *JobAssignment) {
	start := time.Now().UTC()
	a.setState(func(s *HeartbeatPayload) {
		s.Status = string(store.NodeEncoding)
		s.CurrentFile = job.Filepath
		s.Progress = 0
		s.FPS = 0
		s.JobStartTime = &start
	})
	defer a.setState(func(s *HeartbeatPayload) {
		s.Status = string(store.NodeIdle)
		s.CurrentFile = ""
		s.Progress = 0
		s.FPS = 0
		s.JobStartTime = nil
	})

	result, err := a.runner.Run(ctx, job.Filepath, func(pct, fps float64) {
		a.setState(func(s *HeartbeatPayload) {
			s.Progress = pct
			s.FPS = fps
		})
	})
	if err != nil {
		failLog := strings.Join(a.runner.LastLogLines(50), "\n")
		a.report(ctx, func(c context.Context) error {
			return a.client.ReportFailed(c, job.JobID, err.Error(), failLog)
		})
		return
	}
	a.report(ctx, func(c context.Context) error {
		return a.client.ReportCompleted(c, job.JobID, result.OriginalSize, result.NewSize)
	})
}

func (a *Agent) executeCleanup(ctx context.Context, job *JobAssignment) {
	a.setState(func(s *HeartbeatPayload) {
		s.Status = string(store.NodeCleaning)
		s.CurrentFile = job.Filepath
	})
	defer a.setState(func(s *HeartbeatPayload) {
		s.Status = string(store.NodeIdle)
		s.CurrentFile = ""
	})

	if err := os.Remove(job.Filepath); err != nil && !os.IsNotExist(err) {
		a.report(ctx, func(c context.Context) error {
			return a.client.ReportFailed(c, job.JobID, err.Error(), "")
		})
		return
	}
	a.report(ctx, func(c context.Context) error {
		return a.client.ReportCompleted(c, job.JobID, 0, 0)
	})
}

// report retries a terminal update a few times; losing it would strand
// the job in encoding until stuck detection catches it.
func (a *Agent) report(ctx context.Context, send func(context.Context) error) {
	logger := log.WithComponent("worker")
	for attempt := 1; attempt <= 3; attempt++ {
		err := send(ctx)
		if err == nil {
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("terminal job update failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 5 * time.Second):
		}
	}
}

func (a *Agent) snapshot() HeartbeatPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(update func(*HeartbeatPayload)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	update(&a.state)
}

func (a *Agent) setStatus(status store.NodeStatus) {
	a.setState(func(s *HeartbeatPayload) { s.Status = string(status) })
}

func (a *Agent) currentCommand() store.NodeCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command
}

func (a *Agent) setCommand(cmd store.NodeCommand) {
	if cmd == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.command = cmd
}
