// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package arr

import (
	"context"
	"net/url"
	"strconv"
)

// Sonarr is a Sonarr v3 API client.
type Sonarr struct {
	*Client
}

// NewSonarr creates a Sonarr client. Empty baseURL or apiKey yields an
// unconfigured client whose calls fail fast.
func NewSonarr(baseURL, apiKey string, opts Options) *Sonarr {
	return &Sonarr{Client: newClient(baseURL, apiKey, "/api/v3", opts)}
}

// Series is one Sonarr series.
type Series struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Path             string `json:"path"`
	QualityProfileID int64  `json:"qualityProfileId"`
}

// Episode is one Sonarr episode with its file linkage.
type Episode struct {
	ID            int64 `json:"id"`
	SeriesID      int64 `json:"seriesId"`
	EpisodeFileID int64 `json:"episodeFileId"`
	HasFile       bool  `json:"hasFile"`
}

// EpisodeFile is one on-disk episode file.
type EpisodeFile struct {
	ID                  int64  `json:"id"`
	SeriesID            int64  `json:"seriesId"`
	Path                string `json:"path"`
	QualityCutoffNotMet bool   `json:"qualityCutoffNotMet"`
	Quality             struct {
		Quality struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"quality"`
	} `json:"quality"`
}

// QualityProfile is one Sonarr quality profile.
type QualityProfile struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Cutoff int64  `json:"cutoff"`
	Items  []struct {
		Quality struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"quality"`
		Allowed bool `json:"allowed"`
	} `json:"items"`
}

// ListSeries retrieves all series.
func (s *Sonarr) ListSeries(ctx context.Context) ([]Series, error) {
	var out []Series
	if err := s.get(ctx, "/series", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEpisodes retrieves all episodes for a series.
func (s *Sonarr) ListEpisodes(ctx context.Context, seriesID int64) ([]Episode, error) {
	q := url.Values{"seriesId": []string{strconv.FormatInt(seriesID, 10)}}
	var out []Episode
	if err := s.get(ctx, "/episode", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEpisodeFiles retrieves all episode files for a series.
func (s *Sonarr) ListEpisodeFiles(ctx context.Context, seriesID int64) ([]EpisodeFile, error) {
	q := url.Values{"seriesId": []string{strconv.FormatInt(seriesID, 10)}}
	var out []EpisodeFile
	if err := s.get(ctx, "/episodefile", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListQualityProfiles retrieves all quality profiles.
func (s *Sonarr) ListQualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var out []QualityProfile
	if err := s.get(ctx, "/qualityprofile", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRenameCandidates retrieves the files Sonarr would rename for a series.
func (s *Sonarr) ListRenameCandidates(ctx context.Context, seriesID int64) ([]RenameCandidate, error) {
	q := url.Values{"seriesId": []string{strconv.FormatInt(seriesID, 10)}}
	var out []RenameCandidate
	if err := s.get(ctx, "/rename", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RescanSeries commands a disk rescan of one series.
func (s *Sonarr) RescanSeries(ctx context.Context, seriesID int64) error {
	return s.post(ctx, "/command", commandBody{
		"name":     "RescanSeries",
		"seriesId": seriesID,
	}, nil)
}

// RenameFiles commands Sonarr to rename the given episode files.
func (s *Sonarr) RenameFiles(ctx context.Context, seriesID int64, episodeFileIDs []int64) error {
	return s.post(ctx, "/command", commandBody{
		"name":     "RenameFiles",
		"seriesId": seriesID,
		"files":    episodeFileIDs,
	}, nil)
}

// Stats summarises the instance for the operator stats endpoint.
type SonarrStats struct {
	SeriesCount  int `json:"series_count"`
	ProfileCount int `json:"profile_count"`
}

func (s *Sonarr) Stats(ctx context.Context) (*SonarrStats, error) {
	series, err := s.ListSeries(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := s.ListQualityProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return &SonarrStats{SeriesCount: len(series), ProfileCount: len(profiles)}, nil
}
