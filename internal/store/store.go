// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides SQLite persistence for nodes, jobs, history,
// failures, settings and media source classifications.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// FreshnessWindow is how long after its last heartbeat a node counts as live.
const FreshnessWindow = 5 * time.Minute

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrRegistrationConflict is returned when a live node with a different
	// session token already holds the hostname.
	ErrRegistrationConflict = errors.New("store: registration conflict")
	// ErrQueueEmpty is returned by ClaimOneJob when no eligible job exists.
	ErrQueueEmpty = errors.New("store: job queue empty")
)

// NodeStatus is the worker-reported node state.
type NodeStatus string

const (
	NodeBooting   NodeStatus = "booting"
	NodeIdle      NodeStatus = "idle"
	NodeRunning   NodeStatus = "running"
	NodeEncoding  NodeStatus = "encoding"
	NodeCleaning  NodeStatus = "cleaning"
	NodeRenaming  NodeStatus = "renaming"
	NodePaused    NodeStatus = "paused"
	NodeFinishing NodeStatus = "finishing"
	NodeOffline   NodeStatus = "offline"
)

// NodeCommand is the operator-set desired worker state.
type NodeCommand string

const (
	CommandIdle    NodeCommand = "idle"
	CommandRunning NodeCommand = "running"
	CommandPaused  NodeCommand = "paused"
	CommandQuit    NodeCommand = "quit"
)

// JobType classifies a queue entry. Rename and quality-mismatch jobs are
// internal: they are never dispatched to workers.
type JobType string

const (
	JobTranscode       JobType = "transcode"
	JobCleanup         JobType = "cleanup"
	JobRename          JobType = "Rename Job"
	JobQualityMismatch JobType = "Quality Mismatch"
)

// IsInternal reports whether jobs of this type are drained in-process
// instead of being handed to workers.
func (t JobType) IsInternal() bool {
	return t == JobRename || t == JobQualityMismatch
}

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobPending          JobStatus = "pending"
	JobAwaitingApproval JobStatus = "awaiting_approval"
	JobEncoding         JobStatus = "encoding"
	JobCompleted        JobStatus = "completed"
	JobFailed           JobStatus = "failed"
)

// Node is one worker identity with its latest heartbeat data.
type Node struct {
	Hostname      string      `json:"hostname"`
	SessionToken  string      `json:"-"`
	Version       string      `json:"version"`
	Status        NodeStatus  `json:"status"`
	Command       NodeCommand `json:"command"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	ConnectedAt   time.Time   `json:"connected_at"`
	Progress      float64     `json:"progress"`
	FPS           float64     `json:"fps"`
	CurrentFile   string      `json:"current_file"`
	TotalDuration float64     `json:"total_duration"`
	JobStartTime  *time.Time  `json:"job_start_time,omitempty"`
}

// Live reports whether the node's last heartbeat is within the freshness window.
func (n Node) Live(now time.Time) bool {
	return now.Sub(n.LastHeartbeat) < FreshnessWindow
}

// Job is one unit of work.
type Job struct {
	ID         int64     `json:"id"`
	Filepath   string    `json:"filepath"`
	JobType    JobType   `json:"job_type"`
	Status     JobStatus `json:"status"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Metadata   string    `json:"metadata,omitempty"` // opaque JSON
}

// EncodedFile is one history entry for a completed transcode or cleanup.
type EncodedFile struct {
	ID           int64     `json:"id"`
	Filepath     string    `json:"filepath"`
	OriginalSize int64     `json:"original_size"`
	NewSize      int64     `json:"new_size"`
	EncodedBy    string    `json:"encoded_by"`
	EncodedAt    time.Time `json:"encoded_at"`
}

// FailedFile is one failure record.
type FailedFile struct {
	ID       int64     `json:"id"`
	Filepath string    `json:"filepath"`
	Reason   string    `json:"reason"`
	Log      string    `json:"log,omitempty"`
	FailedBy string    `json:"failed_by,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// MediaSourceType classifies one discovered media source per scanner.
type MediaSourceType struct {
	SourceName  string `json:"source_name"`
	ScannerType string `json:"scanner_type"`
	MediaType   string `json:"media_type"`
	IsHidden    bool   `json:"is_hidden"`
}

// Store is a thin transactional repository over SQLite.
type Store struct {
	db *sql.DB
}

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended pool configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Open initializes the SQLite pool with mandatory PRAGMAs and runs the
// schema migrations. Migration failure is fatal to the caller: the store
// must not serve without a current schema.
func Open(dbPath string, cfg Config) (*Store, error) {
	// PRAGMAs in the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for backup snapshots (VACUUM INTO).
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
