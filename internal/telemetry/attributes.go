// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// HTTPAttributes returns the standard span attributes for an HTTP request.
func HTTPAttributes(method, path, url string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("http.url", url),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}
	return attrs
}

// JobAttributes returns the standard span attributes for queue operations.
func JobAttributes(jobID int64, jobType, hostname string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("job.id", jobID),
		attribute.String("job.type", jobType),
	}
	if hostname != "" {
		attrs = append(attrs, attribute.String("job.assigned_to", hostname))
	}
	return attrs
}

// ScanAttributes returns the standard span attributes for scanner runs.
func ScanAttributes(source, scanType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("scan.source", source),
		attribute.String("scan.type", scanType),
	}
}
