// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/codecshift/internal/platform/httpx"
	"github.com/ManuGH/codecshift/internal/store"
)

// ErrRegistrationConflict mirrors the controller's 409: another live
// worker holds this hostname.
var ErrRegistrationConflict = errors.New("worker: hostname already registered with a live session")

// Client talks to the controller on behalf of one worker.
type Client struct {
	baseURL  string
	apiKey   string
	hostname string
	token    string
	http     *http.Client
}

// NewClient creates a controller client bound to a worker identity.
func NewClient(baseURL, apiKey, hostname, token string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		hostname: hostname,
		token:    token,
		http:     httpx.NewClient(20 * time.Second),
	}
}

// JobAssignment is one claimed job.
type JobAssignment struct {
	JobID    int64  `json:"job_id"`
	Filepath string `json:"filepath"`
	JobType  string `json:"job_type"`
}

// HeartbeatPayload carries worker telemetry to the controller.
type HeartbeatPayload struct {
	Status        string     `json:"status"`
	Progress      float64    `json:"progress"`
	FPS           float64    `json:"fps"`
	CurrentFile   string     `json:"current_file"`
	TotalDuration float64    `json:"total_duration"`
	JobStartTime  *time.Time `json:"job_start_time,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Register announces the worker identity. A live conflict surfaces as
// ErrRegistrationConflict so the caller can abort instead of retrying.
func (c *Client) Register(ctx context.Context, version string) error {
	status, err := c.post(ctx, "/api/register_worker", map[string]string{
		"hostname":      c.hostname,
		"session_token": c.token,
		"version":       version,
	}, nil)
	if status == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrRegistrationConflict, c.hostname)
	}
	return err
}

// Heartbeat reports telemetry and returns the operator-set command.
func (c *Client) Heartbeat(ctx context.Context, hb HeartbeatPayload) (store.NodeCommand, error) {
	body := struct {
		Hostname     string `json:"hostname"`
		SessionToken string `json:"session_token"`
		HeartbeatPayload
	}{c.hostname, c.token, hb}

	var out struct {
		Command store.NodeCommand `json:"command"`
	}
	if _, err := c.post(ctx, "/api/heartbeat", body, &out); err != nil {
		return "", err
	}
	return out.Command, nil
}

// RequestJob claims the next eligible job. A nil assignment with a nil
// error means the queue is empty or distribution is paused.
func (c *Client) RequestJob(ctx context.Context) (*JobAssignment, error) {
	var out JobAssignment
	if _, err := c.post(ctx, "/api/request_job", map[string]string{
		"hostname":      c.hostname,
		"session_token": c.token,
	}, &out); err != nil {
		return nil, err
	}
	if out.JobID == 0 {
		return nil, nil
	}
	return &out, nil
}

// ReportCompleted reports a successful job with its size accounting.
func (c *Client) ReportCompleted(ctx context.Context, jobID, originalSize, newSize int64) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/update_job/%d", jobID), map[string]any{
		"hostname":      c.hostname,
		"session_token": c.token,
		"status":        "completed",
		"original_size": originalSize,
		"new_size":      newSize,
	}, nil)
	return err
}

// ReportFailed reports a failed job with a reason and the log tail.
func (c *Client) ReportFailed(ctx context.Context, jobID int64, reason, failLog string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/update_job/%d", jobID), map[string]any{
		"hostname":      c.hostname,
		"session_token": c.token,
		"status":        "failed",
		"reason":        reason,
		"log":           failLog,
	}, nil)
	return err
}

// Settings fetches the controller's settings snapshot and its version.
func (c *Client) Settings(ctx context.Context) (map[string]string, string, error) {
	q := url.Values{
		"hostname":      []string{c.hostname},
		"session_token": []string{c.token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/settings?"+q.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("GET /api/settings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET /api/settings: status %d", resp.StatusCode)
	}

	var out struct {
		Settings         map[string]map[string]string `json:"settings"`
		DashboardVersion string                       `json:"dashboard_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode settings: %w", err)
	}
	flat := make(map[string]string, len(out.Settings))
	for k, v := range out.Settings {
		flat[k] = v["setting_value"]
	}
	return flat, out.DashboardVersion, nil
}
