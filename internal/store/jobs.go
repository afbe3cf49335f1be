// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// InsertJob creates a queue entry. A duplicate filepath is a silent no-op:
// the natural-key conflict means the work is already known. Returns true
// when a row was actually inserted.
func (s *Store) InsertJob(ctx context.Context, filepath string, jobType JobType, status JobStatus, metadata string) (bool, error) {
	now := formatTime(nowUTC())

	var meta any
	if metadata != "" {
		meta = metadata
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (filepath, job_type, status, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO NOTHING
	`, filepath, string(jobType), string(status), now, now, meta)
	if err != nil {
		return false, fmt.Errorf("insert job %s: %w", filepath, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimOneJob atomically claims the oldest pending worker-eligible job for
// hostname, flipping it to encoding. Internal job types are never returned.
// The single-statement update is atomic under SQLite's writer lock, so two
// concurrent claims can never receive the same row.
func (s *Store) ClaimOneJob(ctx context.Context, hostname string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'encoding', assigned_to = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND job_type NOT IN ('Rename Job', 'Quality Mismatch')
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, filepath, job_type, status, assigned_to, created_at, updated_at, metadata
	`, hostname, formatTime(nowUTC()))

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job for %s: %w", hostname, err)
	}
	return j, nil
}

// InternalAssignee marks jobs the controller's own drain is holding, so
// an encoding row always names its owner.
const InternalAssignee = "dashboard"

// ClaimOneInternalJob claims the oldest pending job of the given internal
// type for the in-process drain. Same atomicity as ClaimOneJob; the row
// is assigned to InternalAssignee while the drain holds it.
func (s *Store) ClaimOneInternalJob(ctx context.Context, jobType JobType) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'encoding', assigned_to = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND job_type = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, filepath, job_type, status, assigned_to, created_at, updated_at, metadata
	`, InternalAssignee, formatTime(nowUTC()), string(jobType))

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim internal job: %w", err)
	}
	return j, nil
}

// RecoverOrphanedInternalJobs resets internal-type rows stranded in
// encoding back to pending. Only the single drain goroutine claims
// internal jobs, so any such row found at drain start is debris from a
// controller crash mid-drain.
func (s *Store) RecoverOrphanedInternalJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', assigned_to = NULL, updated_at = ?
		WHERE status = 'encoding' AND job_type IN ('Rename Job', 'Quality Mismatch')
	`, formatTime(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("recover orphaned internal jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CompleteJob finalises a worker job. Transcode and cleanup jobs are
// deleted and a history row is appended (zero sizes for cleanup); a second
// call finds the row gone and returns ErrNotFound rather than a 5xx.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, hostname string, originalSize, newSize int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var filepath string
	var jobType string
	err = tx.QueryRowContext(ctx,
		`SELECT filepath, job_type FROM jobs WHERE id = ? AND status = 'encoding'`, jobID,
	).Scan(&filepath, &jobType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("complete job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}

	if JobType(jobType) == JobCleanup {
		originalSize, newSize = 0, 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO encoded_files (filepath, original_size, new_size, encoded_by, encoded_at)
		VALUES (?, ?, ?, ?, ?)
	`, filepath, originalSize, newSize, hostname, formatTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("record history for job %d: %w", jobID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("delete completed job %d: %w", jobID, err)
	}

	return tx.Commit()
}

// FailJob marks a job failed and appends a failure record. The job row is
// kept so operators can requeue it. A second call on a missing or
// non-encoding row returns ErrNotFound.
func (s *Store) FailJob(ctx context.Context, jobID int64, hostname, reason, failLog string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var filepath string
	err = tx.QueryRowContext(ctx,
		`SELECT filepath FROM jobs WHERE id = ? AND status = 'encoding'`, jobID,
	).Scan(&filepath)
	if err == sql.ErrNoRows {
		return fmt.Errorf("fail job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', updated_at = ? WHERE id = ?`,
		formatTime(nowUTC()), jobID)
	if err != nil {
		return fmt.Errorf("mark job %d failed: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO failed_files (filepath, reason, log, failed_by, failed_at)
		VALUES (?, ?, ?, ?, ?)
	`, filepath, reason, failLog, hostname, formatTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("record failure for job %d: %w", jobID, err)
	}

	return tx.Commit()
}

// SetJobStatus moves a job to a terminal status without touching history.
// Used by the internal drain where completion is a state, not a deletion.
func (s *Store) SetJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(nowUTC()), jobID)
	if err != nil {
		return fmt.Errorf("set job %d status: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set job %d status: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetJob retrieves a job by id, or (nil, nil) when absent.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filepath, job_type, status, assigned_to, created_at, updated_at, metadata
		FROM jobs WHERE id = ?
	`, jobID)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return j, nil
}

// ListJobsOptions filters and pages the job list.
type ListJobsOptions struct {
	Status  JobStatus // empty = all
	JobType JobType   // empty = all
	Page    int       // 1-based
	PerPage int       // 0 = no paging
}

// ListJobs lists jobs ordered by status priority
// encoding < pending < failed < other, then created_at descending.
func (s *Store) ListJobs(ctx context.Context, opts ListJobsOptions) ([]Job, int, error) {
	var conds []string
	var args []any
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(opts.JobType))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := `
		SELECT id, filepath, job_type, status, assigned_to, created_at, updated_at, metadata
		FROM jobs` + where + `
		ORDER BY CASE status
			WHEN 'encoding' THEN 1
			WHEN 'pending' THEN 2
			WHEN 'failed' THEN 3
			ELSE 4
		END, created_at DESC`

	if opts.PerPage > 0 {
		page := opts.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.PerPage, (page-1)*opts.PerPage)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}

// RequeueJob resets a failed or orphaned job to pending, clearing the
// assignment. The stored failure log is left untouched for audit.
func (s *Store) RequeueJob(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', assigned_to = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed', 'encoding')
	`, formatTime(nowUTC()), jobID)
	if err != nil {
		return fmt.Errorf("requeue job %d: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// ReleaseJob moves an awaiting_approval job to pending (operator approval).
func (s *Store) ReleaseJob(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'awaiting_approval'
	`, formatTime(nowUTC()), jobID)
	if err != nil {
		return fmt.Errorf("release job %d: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("release job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// ClearQueue deletes all pending jobs plus all internal-type jobs
// regardless of status; those are cheap to recompute on the next scan.
func (s *Store) ClearQueue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = 'pending' OR job_type IN ('Rename Job', 'Quality Mismatch')
	`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HasJobForPath reports whether a job already exists for the filepath.
func (s *Store) HasJobForPath(ctx context.Context, filepath string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE filepath = ?`, filepath).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup job path: %w", err)
	}
	return n > 0, nil
}

// ListStuckJobs derives the stuck set: encoding jobs whose assigned worker
// is live and has demonstrably moved on, either by holding a later encoding
// or failed job, or by completing work after this job was claimed.
func (s *Store) ListStuckJobs(ctx context.Context) ([]Job, error) {
	cutoff := formatTime(nowUTC().Add(-FreshnessWindow))

	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.filepath, j.job_type, j.status, j.assigned_to, j.created_at, j.updated_at, j.metadata
		FROM jobs j
		JOIN nodes n ON n.hostname = j.assigned_to
		WHERE j.status = 'encoding'
		  AND n.last_heartbeat > ?
		  AND (
			EXISTS (
				SELECT 1 FROM jobs j2
				WHERE j2.assigned_to = j.assigned_to AND j2.id > j.id
				  AND j2.status IN ('encoding', 'failed')
			)
			OR EXISTS (
				SELECT 1 FROM encoded_files e
				WHERE e.encoded_by = j.assigned_to AND e.encoded_at > j.updated_at
			)
		  )
		ORDER BY j.id ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var assignedTo, metadata sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Filepath, &j.JobType, &j.Status, &assignedTo, &createdAt, &updatedAt, &metadata)
	if err != nil {
		return nil, err
	}

	j.AssignedTo = assignedTo.String
	j.Metadata = metadata.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}
