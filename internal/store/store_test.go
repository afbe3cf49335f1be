// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setHeartbeat backdates a node's heartbeat for freshness-boundary tests.
func setHeartbeat(t *testing.T, s *Store, hostname string, at time.Time) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE nodes SET last_heartbeat = ? WHERE hostname = ?`, formatTime(at), hostname)
	require.NoError(t, err)
}

func TestMigrateFreshDatabase(t *testing.T) {
	s := newTestStore(t)

	v, err := s.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, targetSchemaVersion, v)

	// Migrate is idempotent on an up-to-date database.
	require.NoError(t, s.Migrate())
}

func TestRegisterLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.0.0"))

	n, err := s.GetNode(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, NodeBooting, n.Status)
	assert.Equal(t, "T1", n.SessionToken)

	// Re-registration with the same token succeeds and stays a single row.
	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.1.0"))
	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "1.1.0", nodes[0].Version)

	// A different token while the session is live conflicts.
	err = s.UpsertNodeOnRegister(ctx, "w1", "T2", "1.1.0")
	require.ErrorIs(t, err, ErrRegistrationConflict)
	assert.Contains(t, err.Error(), "w1")

	// Token survives the rejected attempt.
	n, err = s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "T1", n.SessionToken)
}

func TestRegisterReplacesStaleSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.0.0"))

	// 4m59s old: still live, replacement rejected.
	setHeartbeat(t, s, "w1", time.Now().UTC().Add(-FreshnessWindow+time.Second))
	require.ErrorIs(t, s.UpsertNodeOnRegister(ctx, "w1", "T2", "1.0.0"), ErrRegistrationConflict)

	// 5m01s old: stale, replacement accepted and token swapped.
	setHeartbeat(t, s, "w1", time.Now().UTC().Add(-FreshnessWindow-time.Second))
	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T2", "1.0.0"))

	n, err := s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "T2", n.SessionToken)
}

func TestHeartbeatNeverTouchesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.0.0"))
	before, err := s.GetNode(ctx, "w1")
	require.NoError(t, err)

	start := time.Now().UTC()
	require.NoError(t, s.Heartbeat(ctx, "w1", HeartbeatFields{
		Status:       NodeEncoding,
		Progress:     42.5,
		FPS:          87.3,
		CurrentFile:  "/media/a.mkv",
		JobStartTime: &start,
	}))

	after, err := s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "T1", after.SessionToken)
	assert.Equal(t, before.ConnectedAt, after.ConnectedAt)
	assert.Equal(t, NodeEncoding, after.Status)
	assert.InDelta(t, 42.5, after.Progress, 0.001)

	require.ErrorIs(t, s.Heartbeat(ctx, "missing", HeartbeatFields{Status: NodeIdle}), ErrNotFound)
}

func TestClaimOrderAndInternalExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, f := range []struct {
		path   string
		typ    JobType
		status JobStatus
	}{
		{"/m/rename.mkv", JobRename, JobPending},
		{"/m/quality.mkv", JobQualityMismatch, JobPending},
		{"/m/first.mkv", JobTranscode, JobPending},
		{"/m/second.mkv", JobTranscode, JobPending},
		{"/m/held.mkv", JobCleanup, JobAwaitingApproval},
	} {
		_, err := s.InsertJob(ctx, f.path, f.typ, f.status, "")
		require.NoError(t, err)
	}

	j1, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "/m/first.mkv", j1.Filepath)
	assert.Equal(t, JobEncoding, j1.Status)
	assert.Equal(t, "w1", j1.AssignedTo)

	// Second claim returns the next oldest, never the same row.
	j2, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "/m/second.mkv", j2.Filepath)

	// Internal and awaiting_approval rows are never dispatched.
	_, err = s.ClaimOneJob(ctx, "w1")
	require.ErrorIs(t, err, ErrQueueEmpty)
}

func TestInternalClaimAssignsAndRecovers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/rename.mkv", JobRename, JobPending, `{"source":"sonarr"}`)
	require.NoError(t, err)

	// Every encoding row names its owner, internal claims included.
	j, err := s.ClaimOneInternalJob(ctx, JobRename)
	require.NoError(t, err)
	assert.Equal(t, JobEncoding, j.Status)
	assert.Equal(t, InternalAssignee, j.AssignedTo)

	_, err = s.ClaimOneInternalJob(ctx, JobRename)
	require.ErrorIs(t, err, ErrQueueEmpty)

	// A crash mid-drain leaves the row in encoding; recovery requeues it
	// so the next drain can pick it up again.
	n, err := s.RecoverOrphanedInternalJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again, err := s.ClaimOneInternalJob(ctx, JobRename)
	require.NoError(t, err)
	assert.Equal(t, j.ID, again.ID)
	assert.Equal(t, `{"source":"sonarr"}`, again.Metadata)
	require.NoError(t, s.SetJobStatus(ctx, again.ID, JobCompleted))

	// Worker rows in encoding are untouched by internal recovery.
	_, err = s.InsertJob(ctx, "/m/film.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	claimed, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)
	n, err = s.RecoverOrphanedInternalJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	got, err := s.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobEncoding, got.Status)
	assert.Equal(t, "w1", got.AssignedTo)
}

func TestInsertJobDuplicateIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertJob(ctx, "/m/a.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertJob(ctx, "/m/a.mkv", JobCleanup, JobFailed, `{"x":1}`)
	require.NoError(t, err)
	assert.False(t, inserted)

	jobs, total, err := s.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, JobTranscode, jobs[0].JobType)
	assert.Empty(t, jobs[0].Metadata)
}

func TestCompleteTranscodeJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/a.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	j, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, s.CompleteJob(ctx, j.ID, "w1", 1000, 400))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	history, err := s.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].OriginalSize)
	assert.Equal(t, int64(400), history[0].NewSize)
	assert.Equal(t, "w1", history[0].EncodedBy)

	// Second completion: row is gone, business-level not-found.
	require.ErrorIs(t, s.CompleteJob(ctx, j.ID, "w1", 1000, 400), ErrNotFound)
}

func TestCompleteCleanupJobZeroSizes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/tmp_x.mkv", JobCleanup, JobPending, "")
	require.NoError(t, err)
	j, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, s.CompleteJob(ctx, j.ID, "w1", 999, 999))

	history, err := s.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Zero(t, history[0].OriginalSize)
	assert.Zero(t, history[0].NewSize)
}

func TestFailAndRequeue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/a.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	j, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, s.FailJob(ctx, j.ID, "w1", "encoder crashed", "ffmpeg: segfault"))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, JobFailed, got.Status)

	failures, err := s.ListFailedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "encoder crashed", failures[0].Reason)

	// Requeue clears the assignment; the failure log stays for audit.
	require.NoError(t, s.RequeueJob(ctx, j.ID))
	got, err = s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)
	assert.Empty(t, got.AssignedTo)

	failures, err = s.ListFailedFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, failures, 1)

	require.ErrorIs(t, s.FailJob(ctx, j.ID, "w1", "again", ""), ErrNotFound)
}

func TestJobListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		path   string
		status JobStatus
	}{
		{"/m/p.mkv", JobPending},
		{"/m/f.mkv", JobFailed},
		{"/m/e.mkv", JobEncoding},
		{"/m/c.mkv", JobCompleted},
	}
	for _, row := range seed {
		_, err := s.InsertJob(ctx, row.path, JobTranscode, row.status, "")
		require.NoError(t, err)
	}

	jobs, total, err := s.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, jobs, 4)
	assert.Equal(t, JobEncoding, jobs[0].Status)
	assert.Equal(t, JobPending, jobs[1].Status)
	assert.Equal(t, JobFailed, jobs[2].Status)
	assert.Equal(t, JobCompleted, jobs[3].Status)

	// Filter + paging.
	jobs, total, err = s.ListJobs(ctx, ListJobsOptions{Status: JobPending, Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "/m/p.mkv", jobs[0].Filepath)
}

func TestClearQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/p.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, "/m/r.mkv", JobRename, JobFailed, "")
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, "/m/e.mkv", JobTranscode, JobEncoding, "")
	require.NoError(t, err)

	n, err := s.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Encoding non-internal jobs survive.
	jobs, _, err := s.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "/m/e.mkv", jobs[0].Filepath)
}

func TestReleaseAwaitingApproval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertJob(ctx, "/m/x.lock", JobCleanup, JobAwaitingApproval, "")
	require.NoError(t, err)
	jobs, _, err := s.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, s.ReleaseJob(ctx, jobs[0].ID))

	got, err := s.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)

	// Only awaiting_approval rows are releasable.
	require.ErrorIs(t, s.ReleaseJob(ctx, jobs[0].ID), ErrNotFound)
}

func TestStuckDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.0.0"))

	_, err := s.InsertJob(ctx, "/m/ten.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	j10, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)

	// Not stuck yet: the worker has not moved on.
	stuck, err := s.ListStuckJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// w1 claims and completes a later job while job 10 stays encoding.
	_, err = s.InsertJob(ctx, "/m/eleven.mkv", JobTranscode, JobPending, "")
	require.NoError(t, err)
	j11, err := s.ClaimOneJob(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, j11.ID, "w1", 500, 200))

	stuck, err = s.ListStuckJobs(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, j10.ID, stuck[0].ID)

	failures, err := s.ListFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "stuck_job", failures[0].Type)
	assert.Contains(t, failures[0].Reason, "w1")

	count, err := s.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A stale worker is no longer evidence of a silent failure.
	setHeartbeat(t, s, "w1", time.Now().UTC().Add(-FreshnessWindow-time.Minute))
	stuck, err = s.ListStuckJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestSettingsTypedAccessors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	require.NoError(t, s.SetSetting(ctx, "pause_job_distribution", "true"))
	b, err := s.GetSettingBool(ctx, "pause_job_distribution", false)
	require.NoError(t, err)
	assert.True(t, b)

	// Upsert overwrites.
	require.NoError(t, s.SetSetting(ctx, "pause_job_distribution", "false"))
	b, err = s.GetSettingBool(ctx, "pause_job_distribution", true)
	require.NoError(t, err)
	assert.False(t, b)

	require.NoError(t, s.SetSetting(ctx, "rescan_delay_minutes", "90"))
	d, err := s.GetSettingDurationMinutes(ctx, "rescan_delay_minutes", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	require.NoError(t, s.SetSetting(ctx, "rescan_delay_minutes", "not a number"))
	n, err := s.GetSettingInt(ctx, "rescan_delay_minutes", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestNodeCommands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w1", "T1", "1.0.0"))
	require.NoError(t, s.UpsertNodeOnRegister(ctx, "w2", "T2", "1.0.0"))

	require.NoError(t, s.SetNodeCommand(ctx, "w1", CommandPaused))
	n, err := s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, CommandPaused, n.Command)

	require.ErrorIs(t, s.SetNodeCommand(ctx, "nope", CommandQuit), ErrNotFound)

	require.NoError(t, s.SetAllNodeCommands(ctx, CommandQuit))
	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	for _, node := range nodes {
		assert.Equal(t, CommandQuit, node.Command)
	}

	require.NoError(t, s.MarkNodeOffline(ctx, "w1"))
	n, err = s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, NodeOffline, n.Status)

	require.NoError(t, s.RemoveNode(ctx, "w1"))
	n, err = s.GetNode(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, n)
}
