// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package arrjobs drains internal Rename Jobs by calling back into the
// Arr providers.
package arrjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/metrics"
	"github.com/ManuGH/codecshift/internal/providers"
	"github.com/ManuGH/codecshift/internal/store"
)

// DrainInterval is how often pending rename jobs are drained.
const DrainInterval = 60 * time.Second

// renameMetadata is the identity payload a rename job carries.
type renameMetadata struct {
	Source        string `json:"source"` // sonarr|radarr|lidarr
	SeriesID      int64  `json:"seriesId,omitempty"`
	EpisodeFileID int64  `json:"episodeFileId,omitempty"`
	MovieID       int64  `json:"movieId,omitempty"`
	MovieFileID   int64  `json:"movieFileId,omitempty"`
	ArtistID      int64  `json:"artistId,omitempty"`
	TrackFileID   int64  `json:"trackFileId,omitempty"`
}

// Processor periodically claims pending rename jobs and dispatches the
// matching provider RenameFiles command.
type Processor struct {
	store     *store.Store
	providers *providers.Registry
}

// NewProcessor creates the drain. Provider clients are resolved at the
// start of every drain, so settings changes apply without a restart.
func NewProcessor(s *store.Store, reg *providers.Registry) *Processor {
	return &Processor{store: s, providers: reg}
}

// Run drains every DrainInterval until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.DrainOnce(ctx); err != nil {
				logger := log.WithComponent("arrjobs")
				logger.Error().Err(err).Msg("rename drain failed")
			}
		}
	}
}

// DrainOnce claims and processes pending rename jobs until the queue is
// empty. Each job is claimed individually so a crash loses at most one.
func (p *Processor) DrainOnce(ctx context.Context) error {
	logger := log.WithComponent("arrjobs")

	// A crash between claim and terminal status leaves encoding rows
	// behind; only this loop claims internal jobs, so reclaim them.
	if n, err := p.store.RecoverOrphanedInternalJobs(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn().Int64("count", n).Msg("requeued orphaned rename jobs")
	}

	prov := p.providers.Resolve(ctx)

	for {
		job, err := p.store.ClaimOneInternalJob(ctx, store.JobRename)
		if errors.Is(err, store.ErrQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}

		outcome := p.process(ctx, prov, job)
		status := store.JobCompleted
		if outcome != nil {
			status = store.JobFailed
			logger.Warn().
				Err(outcome).
				Int64("job_id", job.ID).
				Str("path", job.Filepath).
				Msg("rename job failed")
			metrics.IncJobsFailed(string(store.JobRename))
		} else {
			logger.Info().
				Int64("job_id", job.ID).
				Str("path", job.Filepath).
				Msg("rename job completed")
			metrics.IncJobsCompleted(string(store.JobRename))
		}

		if err := p.store.SetJobStatus(ctx, job.ID, status); err != nil {
			return err
		}
	}
}

// process dispatches one rename job. Missing identity fields fail the job
// without any outbound call.
func (p *Processor) process(ctx context.Context, prov providers.Set, job *store.Job) error {
	var meta renameMetadata
	if job.Metadata == "" {
		return fmt.Errorf("rename job has no metadata")
	}
	if err := json.Unmarshal([]byte(job.Metadata), &meta); err != nil {
		return fmt.Errorf("decode rename metadata: %w", err)
	}

	switch meta.Source {
	case "sonarr":
		if meta.SeriesID == 0 || meta.EpisodeFileID == 0 {
			return fmt.Errorf("sonarr rename metadata incomplete")
		}
		if err := prov.Sonarr.RenameFiles(ctx, meta.SeriesID, []int64{meta.EpisodeFileID}); err != nil {
			metrics.IncRenameDispatch("sonarr", "error")
			return err
		}
		metrics.IncRenameDispatch("sonarr", "ok")
		return nil
	case "radarr":
		if meta.MovieID == 0 || meta.MovieFileID == 0 {
			return fmt.Errorf("radarr rename metadata incomplete")
		}
		if err := prov.Radarr.RenameFiles(ctx, meta.MovieID, []int64{meta.MovieFileID}); err != nil {
			metrics.IncRenameDispatch("radarr", "error")
			return err
		}
		metrics.IncRenameDispatch("radarr", "ok")
		return nil
	case "lidarr":
		if meta.ArtistID == 0 || meta.TrackFileID == 0 {
			return fmt.Errorf("lidarr rename metadata incomplete")
		}
		if err := prov.Lidarr.RenameFiles(ctx, meta.ArtistID, []int64{meta.TrackFileID}); err != nil {
			metrics.IncRenameDispatch("lidarr", "error")
			return err
		}
		metrics.IncRenameDispatch("lidarr", "ok")
		return nil
	default:
		return fmt.Errorf("unknown rename source %q", meta.Source)
	}
}
