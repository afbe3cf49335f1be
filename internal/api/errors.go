// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/codecshift/internal/backup"
	"github.com/ManuGH/codecshift/internal/log"
	"github.com/ManuGH/codecshift/internal/scan"
	"github.com/ManuGH/codecshift/internal/session"
	"github.com/ManuGH/codecshift/internal/store"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("encode response")
	}
}

// writeError maps domain sentinels onto HTTP statuses. Unknown errors
// become opaque 500s; the detail stays in the log, not the response.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRegistrationConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "registration_conflict", Detail: err.Error()})
	case errors.Is(err, session.ErrMissingSession):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing_session"})
	case errors.Is(err, session.ErrSessionInvalid):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid_session"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, scan.ErrScanBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: "scan_busy", Detail: "a scan is already running"})
	case errors.Is(err, backup.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Detail: "invalid backup name"})
	default:
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Detail: detail})
}

// decodeBody decodes a JSON request body into v. Unknown fields are
// tolerated so older and newer workers interoperate.
func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
