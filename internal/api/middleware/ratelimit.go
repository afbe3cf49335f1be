// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// limit builds an IP-keyed sliding-window limiter that answers 429 with
// a JSON body and a Retry-After hint.
func limit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// APIRateLimit covers the operator API: generous enough for a busy
// dashboard, tight enough to blunt scripted abuse.
func APIRateLimit() func(http.Handler) http.Handler {
	return limit(600, time.Minute)
}

// ScanTriggerRateLimit guards the scan trigger endpoints. 10/min per
// IP; a scan takes far longer than that anyway.
func ScanTriggerRateLimit() func(http.Handler) http.Handler {
	return limit(10, time.Minute)
}
