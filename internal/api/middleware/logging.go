// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/codecshift/internal/log"
)

// pollingPaths are hit every few seconds by workers and the UI; logging them
// drowns out everything else.
var pollingPaths = map[string]struct{}{
	"/api/health":      {},
	"/api/status":      {},
	"/api/scan_status": {},
	"/metrics":         {},
}

// Logging returns an access-log middleware. Polling endpoints are excluded.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := pollingPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			lw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(lw, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			logger.Info().
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", lw.status()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}
