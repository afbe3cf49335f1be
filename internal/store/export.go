// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
)

// Document is the portable export of operator-relevant state. Generated
// ids are excluded so a round-trip compares equal on content.
type Document struct {
	Settings     map[string]string `json:"settings"`
	MediaSources []MediaSourceType `json:"media_sources"`
	History      []ExportedHistory `json:"history"`
	Failures     []ExportedFailure `json:"failures"`
}

// ExportedHistory is an EncodedFile without its generated id.
type ExportedHistory struct {
	Filepath     string `json:"filepath"`
	OriginalSize int64  `json:"original_size"`
	NewSize      int64  `json:"new_size"`
	EncodedBy    string `json:"encoded_by"`
	EncodedAt    string `json:"encoded_at"`
}

// ExportedFailure is a FailedFile without its generated id.
type ExportedFailure struct {
	Filepath string `json:"filepath"`
	Reason   string `json:"reason"`
	Log      string `json:"log"`
	FailedBy string `json:"failed_by"`
	FailedAt string `json:"failed_at"`
}

// ExportData snapshots settings, media sources, history and failures.
func (s *Store) ExportData(ctx context.Context) (*Document, error) {
	settings, err := s.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("export settings: %w", err)
	}
	sources, err := s.ListMediaSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("export media sources: %w", err)
	}
	history, err := s.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}
	failures, err := s.ListFailedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("export failures: %w", err)
	}

	doc := &Document{
		Settings:     settings,
		MediaSources: sources,
		History:      make([]ExportedHistory, 0, len(history)),
		Failures:     make([]ExportedFailure, 0, len(failures)),
	}
	for _, e := range history {
		doc.History = append(doc.History, ExportedHistory{
			Filepath:     e.Filepath,
			OriginalSize: e.OriginalSize,
			NewSize:      e.NewSize,
			EncodedBy:    e.EncodedBy,
			EncodedAt:    formatTime(e.EncodedAt),
		})
	}
	for _, f := range failures {
		doc.Failures = append(doc.Failures, ExportedFailure{
			Filepath: f.Filepath,
			Reason:   f.Reason,
			Log:      f.Log,
			FailedBy: f.FailedBy,
			FailedAt: formatTime(f.FailedAt),
		})
	}
	return doc, nil
}

// ImportData restores an exported document in one transaction. Existing
// settings and media sources are upserted; history and failure rows are
// appended.
func (s *Store) ImportData(ctx context.Context, doc *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range doc.Settings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v); err != nil {
			return fmt.Errorf("import setting %s: %w", k, err)
		}
	}

	for _, src := range doc.MediaSources {
		hidden := 0
		if src.IsHidden {
			hidden = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_source_types (source_name, scanner_type, media_type, is_hidden)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(source_name, scanner_type) DO UPDATE SET
				media_type = excluded.media_type,
				is_hidden = excluded.is_hidden
		`, src.SourceName, src.ScannerType, src.MediaType, hidden); err != nil {
			return fmt.Errorf("import media source %s: %w", src.SourceName, err)
		}
	}

	for _, e := range doc.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO encoded_files (filepath, original_size, new_size, encoded_by, encoded_at)
			VALUES (?, ?, ?, ?, ?)
		`, e.Filepath, e.OriginalSize, e.NewSize, e.EncodedBy, e.EncodedAt); err != nil {
			return fmt.Errorf("import history row: %w", err)
		}
	}

	for _, f := range doc.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failed_files (filepath, reason, log, failed_by, failed_at)
			VALUES (?, ?, ?, ?, ?)
		`, f.Filepath, f.Reason, f.Log, f.FailedBy, f.FailedAt); err != nil {
			return fmt.Errorf("import failure row: %w", err)
		}
	}

	return tx.Commit()
}
