// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
)

// ListHistory retrieves all encoded-file records, newest first.
func (s *Store) ListHistory(ctx context.Context) ([]EncodedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filepath, original_size, new_size, encoded_by, encoded_at
		FROM encoded_files
		ORDER BY encoded_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EncodedFile
	for rows.Next() {
		var e EncodedFile
		var encodedAt string
		if err := rows.Scan(&e.ID, &e.Filepath, &e.OriginalSize, &e.NewSize, &e.EncodedBy, &encodedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.EncodedAt = parseTime(encodedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasHistoryForPath reports whether the filepath appears in history.
// Scanners skip already-encoded files unless force_scan is set.
func (s *Store) HasHistoryForPath(ctx context.Context, filepath string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encoded_files WHERE filepath = ?`, filepath).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup history path: %w", err)
	}
	return n > 0, nil
}

// AppendHistory records a finished encode outside the completion path
// (used by import and by internal bookkeeping).
func (s *Store) AppendHistory(ctx context.Context, e EncodedFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encoded_files (filepath, original_size, new_size, encoded_by, encoded_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Filepath, e.OriginalSize, e.NewSize, e.EncodedBy, formatTime(e.EncodedAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ClearHistory deletes all encoded-file records.
func (s *Store) ClearHistory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM encoded_files`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HistoryStats aggregates history totals for the operator stats endpoint.
type HistoryStats struct {
	Count         int64 `json:"count"`
	OriginalBytes int64 `json:"original_bytes"`
	NewBytes      int64 `json:"new_bytes"`
	SavedBytes    int64 `json:"saved_bytes"`
}

// GetHistoryStats sums sizes over the full history.
func (s *Store) GetHistoryStats(ctx context.Context) (HistoryStats, error) {
	var st HistoryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(original_size), 0),
		       COALESCE(SUM(new_size), 0)
		FROM encoded_files
	`).Scan(&st.Count, &st.OriginalBytes, &st.NewBytes)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("history stats: %w", err)
	}
	st.SavedBytes = st.OriginalBytes - st.NewBytes
	return st, nil
}
