// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package arr

import (
	"context"
	"net/url"
	"strconv"
)

// Radarr is a Radarr v3 API client.
type Radarr struct {
	*Client
}

func NewRadarr(baseURL, apiKey string, opts Options) *Radarr {
	return &Radarr{Client: newClient(baseURL, apiKey, "/api/v3", opts)}
}

// Movie is one Radarr movie.
type Movie struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Path    string `json:"path"`
	HasFile bool   `json:"hasFile"`
}

// ListMovies retrieves all movies.
func (r *Radarr) ListMovies(ctx context.Context) ([]Movie, error) {
	var out []Movie
	if err := r.get(ctx, "/movie", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRenameCandidates retrieves the files Radarr would rename for a movie.
func (r *Radarr) ListRenameCandidates(ctx context.Context, movieID int64) ([]RenameCandidate, error) {
	q := url.Values{"movieId": []string{strconv.FormatInt(movieID, 10)}}
	var out []RenameCandidate
	if err := r.get(ctx, "/rename", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RescanMovie commands a disk rescan of one movie.
func (r *Radarr) RescanMovie(ctx context.Context, movieID int64) error {
	return r.post(ctx, "/command", commandBody{
		"name":    "RescanMovie",
		"movieId": movieID,
	}, nil)
}

// RenameFiles commands Radarr to rename the given movie files.
func (r *Radarr) RenameFiles(ctx context.Context, movieID int64, movieFileIDs []int64) error {
	return r.post(ctx, "/command", commandBody{
		"name":    "RenameFiles",
		"movieId": movieID,
		"files":   movieFileIDs,
	}, nil)
}

// RadarrStats summarises the instance for the operator stats endpoint.
type RadarrStats struct {
	MovieCount   int `json:"movie_count"`
	MoviesOnDisk int `json:"movies_on_disk"`
}

func (r *Radarr) Stats(ctx context.Context) (*RadarrStats, error) {
	movies, err := r.ListMovies(ctx)
	if err != nil {
		return nil, err
	}
	st := &RadarrStats{MovieCount: len(movies)}
	for _, m := range movies {
		if m.HasFile {
			st.MoviesOnDisk++
		}
	}
	return st, nil
}
