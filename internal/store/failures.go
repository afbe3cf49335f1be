// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
)

// FailureEntry is one row of the operator failures view. Stored failures
// and derived stuck jobs share this shape, distinguished by Type.
type FailureEntry struct {
	Type     string `json:"type"` // "failed_file" or "stuck_job"
	JobID    int64  `json:"job_id,omitempty"`
	Filepath string `json:"filepath"`
	Reason   string `json:"reason"`
	Log      string `json:"log,omitempty"`
	FailedBy string `json:"failed_by,omitempty"`
	FailedAt string `json:"failed_at,omitempty"`
}

// ListFailedFiles retrieves stored failure records, newest first.
func (s *Store) ListFailedFiles(ctx context.Context) ([]FailedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filepath, reason, log, failed_by, failed_at
		FROM failed_files
		ORDER BY failed_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FailedFile
	for rows.Next() {
		var f FailedFile
		var failedAt string
		if err := rows.Scan(&f.ID, &f.Filepath, &f.Reason, &f.Log, &f.FailedBy, &failedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.FailedAt = parseTime(failedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFailures merges stored failures with derived stuck jobs. Stuck jobs
// are not a stored state; they are computed from the queue on every read.
func (s *Store) ListFailures(ctx context.Context) ([]FailureEntry, error) {
	failed, err := s.ListFailedFiles(ctx)
	if err != nil {
		return nil, err
	}
	stuck, err := s.ListStuckJobs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]FailureEntry, 0, len(failed)+len(stuck))
	for _, j := range stuck {
		out = append(out, FailureEntry{
			Type:     "stuck_job",
			JobID:    j.ID,
			Filepath: j.Filepath,
			Reason:   fmt.Sprintf("worker %s moved on without reporting a terminal status", j.AssignedTo),
			FailedBy: j.AssignedTo,
		})
	}
	for _, f := range failed {
		out = append(out, FailureEntry{
			Type:     "failed_file",
			Filepath: f.Filepath,
			Reason:   f.Reason,
			Log:      f.Log,
			FailedBy: f.FailedBy,
			FailedAt: formatTime(f.FailedAt),
		})
	}
	return out, nil
}

// CountFailures returns the failure total including derived stuck jobs.
func (s *Store) CountFailures(ctx context.Context) (int, error) {
	var stored int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_files`).Scan(&stored); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	stuck, err := s.ListStuckJobs(ctx)
	if err != nil {
		return 0, err
	}
	return stored + len(stuck), nil
}

// AppendFailure records a failure outside the job completion path.
func (s *Store) AppendFailure(ctx context.Context, f FailedFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_files (filepath, reason, log, failed_by, failed_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.Filepath, f.Reason, f.Log, f.FailedBy, formatTime(f.FailedAt))
	if err != nil {
		return fmt.Errorf("append failure: %w", err)
	}
	return nil
}

// ClearFailures deletes all stored failure records. Stuck jobs are derived
// and disappear only when the underlying queue rows change.
func (s *Store) ClearFailures(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_files`)
	if err != nil {
		return 0, fmt.Errorf("clear failures: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
