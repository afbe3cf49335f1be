// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package providers resolves Arr and Plex clients from operator settings
// at use time, so a settings change applies to the next scan, drain or
// request without a restart.
package providers

import (
	"context"

	"github.com/ManuGH/codecshift/internal/arr"
	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/plex"
	"github.com/ManuGH/codecshift/internal/store"
)

// Registry builds provider clients from the settings table.
type Registry struct {
	store     *store.Store
	sslVerify bool
}

// NewRegistry creates a registry reading provider settings from s.
func NewRegistry(s *store.Store, sslVerify bool) *Registry {
	return &Registry{store: s, sslVerify: sslVerify}
}

// Set is one resolved snapshot of the provider clients. The clients are
// never nil; unconfigured providers report Configured() == false.
type Set struct {
	Sonarr *arr.Sonarr
	Radarr *arr.Radarr
	Lidarr *arr.Lidarr
	Plex   *plex.Client
}

// Resolve reads the current provider settings and returns fresh clients.
// A settings read error leaves that provider unconfigured.
func (r *Registry) Resolve(ctx context.Context) Set {
	get := func(key string) string {
		v, err := r.store.GetSetting(ctx, key, "")
		if err != nil {
			logger := log.WithComponent("providers")
			logger.Warn().Err(err).Str("key", key).Msg("read provider setting")
			return ""
		}
		return v
	}

	opts := arr.Options{SSLVerify: r.sslVerify}
	return Set{
		Sonarr: arr.NewSonarr(get("sonarr_url"), get("sonarr_api_key"), opts),
		Radarr: arr.NewRadarr(get("radarr_url"), get("radarr_api_key"), opts),
		Lidarr: arr.NewLidarr(get("lidarr_url"), get("lidarr_api_key"), opts),
		Plex:   plex.NewClient(get("plex_url"), get("plex_token"), r.sslVerify),
	}
}
