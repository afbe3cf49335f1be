// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
)

// UpsertMediaSource records or updates a discovered media source
// classification for one scanner.
func (s *Store) UpsertMediaSource(ctx context.Context, src MediaSourceType) error {
	hidden := 0
	if src.IsHidden {
		hidden = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_source_types (source_name, scanner_type, media_type, is_hidden)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_name, scanner_type) DO UPDATE SET
			media_type = excluded.media_type
	`, src.SourceName, src.ScannerType, src.MediaType, hidden)
	if err != nil {
		return fmt.Errorf("upsert media source %s/%s: %w", src.SourceName, src.ScannerType, err)
	}
	return nil
}

// ListMediaSources retrieves all media source classifications.
func (s *Store) ListMediaSources(ctx context.Context) ([]MediaSourceType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_name, scanner_type, media_type, is_hidden
		FROM media_source_types
		ORDER BY scanner_type, source_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list media sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MediaSourceType
	for rows.Next() {
		var src MediaSourceType
		var hidden int
		if err := rows.Scan(&src.SourceName, &src.ScannerType, &src.MediaType, &hidden); err != nil {
			return nil, fmt.Errorf("scan media source: %w", err)
		}
		src.IsHidden = hidden != 0
		out = append(out, src)
	}
	return out, rows.Err()
}

// SetMediaSourceHidden toggles operator visibility of a source.
func (s *Store) SetMediaSourceHidden(ctx context.Context, sourceName, scannerType string, hidden bool) error {
	h := 0
	if hidden {
		h = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_source_types SET is_hidden = ?
		WHERE source_name = ? AND scanner_type = ?
	`, h, sourceName, scannerType)
	if err != nil {
		return fmt.Errorf("hide media source %s/%s: %w", sourceName, scannerType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hide media source %s/%s: %w", sourceName, scannerType, ErrNotFound)
	}
	return nil
}
