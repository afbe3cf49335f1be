// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldHostname  = "hostname"
	FieldJobID     = "job_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media fields
	FieldCodec    = "codec"
	FieldFPS      = "fps"
	FieldEncoder  = "encoder"
	FieldProgress = "progress"

	// Scan fields
	FieldScanSource = "scan_source"
	FieldScanType   = "scan_type"
	FieldStep       = "step"

	// Path fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
