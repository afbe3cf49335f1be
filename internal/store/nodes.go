// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertNodeOnRegister registers a worker identity. It fails with
// ErrRegistrationConflict when an existing row holds a different session
// token and a heartbeat inside the freshness window. Otherwise the row is
// inserted or overwritten with status booting and a fresh connected_at.
func (s *Store) UpsertNodeOnRegister(ctx context.Context, hostname, sessionToken, version string) error {
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var storedToken string
	var lastHeartbeat string
	err = tx.QueryRowContext(ctx,
		`SELECT session_token, last_heartbeat FROM nodes WHERE hostname = ?`, hostname,
	).Scan(&storedToken, &lastHeartbeat)

	switch {
	case err == sql.ErrNoRows:
		// First registration for this hostname.
	case err != nil:
		return fmt.Errorf("lookup node %s: %w", hostname, err)
	default:
		live := now.Sub(parseTime(lastHeartbeat)) < FreshnessWindow
		if live && storedToken != "" && storedToken != sessionToken {
			return fmt.Errorf("node %s: %w", hostname, ErrRegistrationConflict)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (hostname, session_token, version, status, command, last_heartbeat, connected_at)
		VALUES (?, ?, ?, 'booting', 'running', ?, ?)
		ON CONFLICT(hostname) DO UPDATE SET
			session_token = excluded.session_token,
			version = excluded.version,
			status = 'booting',
			last_heartbeat = excluded.last_heartbeat,
			connected_at = excluded.connected_at,
			progress = 0,
			fps = 0,
			current_file = '',
			total_duration = 0,
			job_start_time = NULL
	`, hostname, sessionToken, version, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", hostname, err)
	}

	return tx.Commit()
}

// HeartbeatFields carries the per-heartbeat progress columns.
type HeartbeatFields struct {
	Status        NodeStatus
	Progress      float64
	FPS           float64
	CurrentFile   string
	TotalDuration float64
	JobStartTime  *time.Time
}

// Heartbeat updates heartbeat columns only. session_token and connected_at
// are never touched here; the caller must already have validated the session.
func (s *Store) Heartbeat(ctx context.Context, hostname string, f HeartbeatFields) error {
	var jobStart any
	if f.JobStartTime != nil {
		jobStart = formatTime(*f.JobStartTime)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET
			status = ?,
			last_heartbeat = ?,
			progress = ?,
			fps = ?,
			current_file = ?,
			total_duration = ?,
			job_start_time = ?
		WHERE hostname = ?
	`, string(f.Status), formatTime(nowUTC()), f.Progress, f.FPS, f.CurrentFile, f.TotalDuration, jobStart, hostname)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", hostname, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("heartbeat %s: %w", hostname, ErrNotFound)
	}
	return nil
}

// GetNode retrieves a node by hostname, or (nil, nil) when absent.
func (s *Store) GetNode(ctx context.Context, hostname string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hostname, session_token, version, status, command,
		       last_heartbeat, connected_at, progress, fps, current_file,
		       total_duration, job_start_time
		FROM nodes WHERE hostname = ?
	`, hostname)

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", hostname, err)
	}
	return n, nil
}

// ListNodes retrieves all nodes ordered by hostname ascending.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hostname, session_token, version, status, command,
		       last_heartbeat, connected_at, progress, fps, current_file,
		       total_duration, job_start_time
		FROM nodes ORDER BY hostname ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// SetNodeCommand sets the operator-desired command for one node.
func (s *Store) SetNodeCommand(ctx context.Context, hostname string, cmd NodeCommand) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET command = ? WHERE hostname = ?`, string(cmd), hostname)
	if err != nil {
		return fmt.Errorf("set command %s: %w", hostname, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set command %s: %w", hostname, ErrNotFound)
	}
	return nil
}

// SetAllNodeCommands sets the command on every node (bulk operator action).
func (s *Store) SetAllNodeCommands(ctx context.Context, cmd NodeCommand) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET command = ?`, string(cmd)); err != nil {
		return fmt.Errorf("set all commands: %w", err)
	}
	return nil
}

// MarkNodeOffline flips a node to offline. A node commanded quit keeps its
// row; deletion happens only via RemoveNode.
func (s *Store) MarkNodeOffline(ctx context.Context, hostname string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET status = 'offline', progress = 0, fps = 0, current_file = '' WHERE hostname = ?`, hostname)
	if err != nil {
		return fmt.Errorf("mark offline %s: %w", hostname, err)
	}
	return nil
}

// RemoveNode deletes a node row (explicit operator action).
func (s *Store) RemoveNode(ctx context.Context, hostname string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE hostname = ?`, hostname)
	if err != nil {
		return fmt.Errorf("remove node %s: %w", hostname, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove node %s: %w", hostname, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var lastHeartbeat, connectedAt string
	var jobStart sql.NullString

	err := row.Scan(
		&n.Hostname, &n.SessionToken, &n.Version, &n.Status, &n.Command,
		&lastHeartbeat, &connectedAt, &n.Progress, &n.FPS, &n.CurrentFile,
		&n.TotalDuration, &jobStart,
	)
	if err != nil {
		return nil, err
	}

	n.LastHeartbeat = parseTime(lastHeartbeat)
	n.ConnectedAt = parseTime(connectedAt)
	if jobStart.Valid {
		t := parseTime(jobStart.String)
		n.JobStartTime = &t
	}
	return &n, nil
}
