// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package arr

import (
	"context"
	"net/url"
	"strconv"
)

// Lidarr is a Lidarr v1 API client.
type Lidarr struct {
	*Client
}

func NewLidarr(baseURL, apiKey string, opts Options) *Lidarr {
	return &Lidarr{Client: newClient(baseURL, apiKey, "/api/v1", opts)}
}

// Artist is one Lidarr artist.
type Artist struct {
	ID         int64  `json:"id"`
	ArtistName string `json:"artistName"`
	Path       string `json:"path"`
}

// ListArtists retrieves all artists.
func (l *Lidarr) ListArtists(ctx context.Context) ([]Artist, error) {
	var out []Artist
	if err := l.get(ctx, "/artist", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRenameCandidates retrieves the files Lidarr would rename for an artist.
func (l *Lidarr) ListRenameCandidates(ctx context.Context, artistID int64) ([]RenameCandidate, error) {
	q := url.Values{"artistId": []string{strconv.FormatInt(artistID, 10)}}
	var out []RenameCandidate
	if err := l.get(ctx, "/rename", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RescanArtist commands a disk rescan of one artist.
func (l *Lidarr) RescanArtist(ctx context.Context, artistID int64) error {
	return l.post(ctx, "/command", commandBody{
		"name":     "RescanFolders",
		"artistId": artistID,
	}, nil)
}

// RenameFiles commands Lidarr to rename the given track files.
func (l *Lidarr) RenameFiles(ctx context.Context, artistID int64, trackFileIDs []int64) error {
	return l.post(ctx, "/command", commandBody{
		"name":     "RenameFiles",
		"artistId": artistID,
		"files":    trackFileIDs,
	}, nil)
}

// LidarrStats summarises the instance for the operator stats endpoint.
type LidarrStats struct {
	ArtistCount int `json:"artist_count"`
}

func (l *Lidarr) Stats(ctx context.Context) (*LidarrStats, error) {
	artists, err := l.ListArtists(ctx)
	if err != nil {
		return nil, err
	}
	return &LidarrStats{ArtistCount: len(artists)}, nil
}
