// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package arr implements clients for the *arr media managers
// (Sonarr v3, Radarr v3, Lidarr v1).
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/codecshift/internal/platform/httpx"
)

const (
	defaultTimeout = 20 * time.Second

	// Arr instances run on modest hardware; pace requests so scans do not
	// starve their own UI.
	requestsPerSecond = 5
	requestBurst      = 5
)

// Client is the shared HTTP plumbing for one Arr instance.
type Client struct {
	baseURL string
	apiKey  string
	apiBase string // "/api/v3" or "/api/v1"
	http    *http.Client
	limiter *rate.Limiter
}

// Options configures client construction.
type Options struct {
	SSLVerify bool
	Timeout   time.Duration
}

func newClient(baseURL, apiKey, apiBase string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		apiBase: apiBase,
		http: httpx.NewClientWithOptions(timeout, httpx.Options{
			InsecureSkipVerify: !opts.SSLVerify,
			Trace:              true,
		}),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}
}

// Configured reports whether the client has a usable base URL and key.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return fmt.Errorf("arr client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(snippet))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Test verifies connectivity by reading the system status endpoint.
func (c *Client) Test(ctx context.Context) error {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/system/status", nil, &status); err != nil {
		return err
	}
	if status.Version == "" {
		return fmt.Errorf("provider returned no version")
	}
	return nil
}

// RenameCandidate is one file the provider would rename.
type RenameCandidate struct {
	SeriesID      int64  `json:"seriesId,omitempty"`
	MovieID       int64  `json:"movieId,omitempty"`
	ArtistID      int64  `json:"artistId,omitempty"`
	EpisodeFileID int64  `json:"episodeFileId,omitempty"`
	MovieFileID   int64  `json:"movieFileId,omitempty"`
	TrackFileID   int64  `json:"trackFileId,omitempty"`
	ExistingPath  string `json:"existingPath"`
	NewPath       string `json:"newPath"`
}

// commandBody is the generic Arr command envelope.
type commandBody map[string]any
