// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// Correlation fields travel through context so every log line for one
// request, worker or job carries the same identifiers.

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	hostnameKey  ctxKey = "hostname"
	jobIDKey     ctxKey = "job_id"
)

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID tags ctx with the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithHostname tags ctx with the calling worker's hostname.
func ContextWithHostname(ctx context.Context, hostname string) context.Context {
	return withValue(ctx, hostnameKey, hostname)
}

// ContextWithJobID tags ctx with the job being operated on.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, jobIDKey, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// HostnameFromContext returns the worker hostname, or "".
func HostnameFromContext(ctx context.Context) string {
	return value(ctx, hostnameKey)
}

// JobIDFromContext returns the job ID, or "".
func JobIDFromContext(ctx context.Context) string {
	return value(ctx, jobIDKey)
}

// WithContext copies any correlation fields present in ctx onto logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	fields := map[string]string{
		"request_id": RequestIDFromContext(ctx),
		"hostname":   HostnameFromContext(ctx),
		"job_id":     JobIDFromContext(ctx),
	}
	builder := logger.With()
	found := false
	for k, v := range fields {
		if v != "" {
			builder = builder.Str(k, v)
			found = true
		}
	}
	if !found {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext combines FromContext and a component field.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return FromContext(ctx).With().Str("component", component).Logger()
}

// FromContext returns the logger stored in ctx, falling back to the
// process base logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
