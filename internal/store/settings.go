// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Settings reads are uncached: operator changes take effect on the next
// read. Callers must not read settings in tight inner loops.

// GetSetting returns the raw value, or fallback when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettingBool interprets the stored value as a boolean. Anything other
// than "true" (case-sensitive, matching what SetSetting writes) is false.
func (s *Store) GetSettingBool(ctx context.Context, key string, fallback bool) (bool, error) {
	fb := "false"
	if fallback {
		fb = "true"
	}
	v, err := s.GetSetting(ctx, key, fb)
	if err != nil {
		return fallback, err
	}
	return v == "true", nil
}

// GetSettingInt interprets the stored value as an integer, falling back on
// parse failure rather than erroring.
func (s *Store) GetSettingInt(ctx context.Context, key string, fallback int) (int, error) {
	v, err := s.GetSetting(ctx, key, strconv.Itoa(fallback))
	if err != nil {
		return fallback, err
	}
	n, perr := strconv.Atoi(v)
	if perr != nil {
		return fallback, nil
	}
	return n, nil
}

// GetSettingDurationMinutes reads a minute count as a duration.
func (s *Store) GetSettingDurationMinutes(ctx context.Context, key string, fallback time.Duration) (time.Duration, error) {
	minutes, err := s.GetSettingInt(ctx, key, int(fallback/time.Minute))
	if err != nil {
		return fallback, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// SetSetting upserts a key → value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// AllSettings retrieves the full settings map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
