// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP middleware stack for the API.
package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/codecshift/internal/telemetry"
)

// Tracing opens a server span per request, continuing any W3C trace
// context carried in the incoming headers. 4xx responses stay Ok so
// client mistakes do not pollute the error signal.
func Tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := telemetry.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))

			span.SetAttributes(telemetry.HTTPAttributes(r.Method, r.URL.Path, r.URL.String(), sw.status())...)
			if sw.status() >= 500 {
				span.SetStatus(codes.Error, http.StatusText(sw.status()))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
