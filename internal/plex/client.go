// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package plex implements the Plex Media Server client used by the media
// scanner and the post-complete refresh.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/codecshift/internal/platform/httpx"
)

const defaultTimeout = 15 * time.Second

// Client talks to one Plex Media Server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Plex client for a token-authenticated server URL.
func NewClient(baseURL, token string, sslVerify bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: httpx.NewClientWithOptions(defaultTimeout, httpx.Options{
			InsecureSkipVerify: !sslVerify,
			Trace:              true,
		}),
	}
}

// Configured reports whether the client has a usable server URL and token.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// Library is one Plex library section.
type Library struct {
	Key       string   `json:"key"`
	Title     string   `json:"title"`
	Type      string   `json:"type"` // movie, show, artist
	Locations []string `json:"locations"`
}

// Video is one media item with its primary file and codec.
type Video struct {
	RatingKey  string `json:"rating_key"`
	Title      string `json:"title"`
	VideoCodec string `json:"video_codec"`
	Path       string `json:"path"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if !c.Configured() {
		return fmt.Errorf("plex client not configured")
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("X-Plex-Token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Libraries enumerates the server's library sections.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var doc struct {
		MediaContainer struct {
			Directory []struct {
				Key      string `json:"key"`
				Title    string `json:"title"`
				Type     string `json:"type"`
				Location []struct {
					Path string `json:"path"`
				} `json:"Location"`
			} `json:"Directory"`
		} `json:"MediaContainer"`
	}
	if err := c.get(ctx, "/library/sections", nil, &doc); err != nil {
		return nil, err
	}

	libs := make([]Library, 0, len(doc.MediaContainer.Directory))
	for _, d := range doc.MediaContainer.Directory {
		lib := Library{Key: d.Key, Title: d.Title, Type: d.Type}
		for _, loc := range d.Location {
			lib.Locations = append(lib.Locations, loc.Path)
		}
		libs = append(libs, lib)
	}
	return libs, nil
}

// Videos enumerates the videos of one library section. Codec and path come
// from the item's media parts; items with no file on disk are skipped.
func (c *Client) Videos(ctx context.Context, sectionKey string) ([]Video, error) {
	var doc videoContainer
	if err := c.get(ctx, "/library/sections/"+sectionKey+"/all", nil, &doc); err != nil {
		return nil, err
	}
	return doc.videos(), nil
}

// ReloadVideo re-fetches one item's metadata to obtain its current primary
// media codec and on-disk path.
func (c *Client) ReloadVideo(ctx context.Context, ratingKey string) (*Video, error) {
	var doc videoContainer
	if err := c.get(ctx, "/library/metadata/"+ratingKey, nil, &doc); err != nil {
		return nil, err
	}
	videos := doc.videos()
	if len(videos) == 0 {
		return nil, fmt.Errorf("plex item %s has no media", ratingKey)
	}
	return &videos[0], nil
}

// Refresh requests a library section update (fire-and-forget on the server
// side; the HTTP call itself is synchronous).
func (c *Client) Refresh(ctx context.Context, sectionKey string) error {
	return c.get(ctx, "/library/sections/"+sectionKey+"/refresh", nil, nil)
}

type videoContainer struct {
	MediaContainer struct {
		Metadata []struct {
			RatingKey string `json:"ratingKey"`
			Title     string `json:"title"`
			Media     []struct {
				VideoCodec string `json:"videoCodec"`
				Part       []struct {
					File string `json:"file"`
				} `json:"Part"`
			} `json:"Media"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

func (d videoContainer) videos() []Video {
	out := make([]Video, 0, len(d.MediaContainer.Metadata))
	for _, m := range d.MediaContainer.Metadata {
		v := Video{RatingKey: m.RatingKey, Title: m.Title}
		if len(m.Media) > 0 {
			v.VideoCodec = m.Media[0].VideoCodec
			if len(m.Media[0].Part) > 0 {
				v.Path = m.Media[0].Part[0].File
			}
		}
		if v.Path == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
