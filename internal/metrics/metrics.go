// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics defines the domain-level Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_jobs_created_total",
		Help: "Jobs materialised by scanners, by job type.",
	}, []string{"job_type"})

	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codecshift_jobs_claimed_total",
		Help: "Jobs claimed by workers.",
	})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_jobs_completed_total",
		Help: "Jobs reported completed, by job type.",
	}, []string{"job_type"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_jobs_failed_total",
		Help: "Jobs reported failed, by job type.",
	}, []string{"job_type"})

	scansRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_scans_total",
		Help: "Scans executed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	renameDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_arr_rename_dispatches_total",
		Help: "RenameFiles commands sent to Arr providers, by provider and outcome.",
	}, []string{"provider", "outcome"})

	busDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_bus_drops_total",
		Help: "Trigger bus publishes dropped, by topic and reason.",
	}, []string{"topic", "reason"})

	backupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codecshift_backup_runs_total",
		Help: "Backup snapshots attempted, by outcome.",
	}, []string{"outcome"})
)

func IncJobsCreated(jobType string)   { jobsCreated.WithLabelValues(jobType).Inc() }
func IncJobsClaimed()                 { jobsClaimed.Inc() }
func IncJobsCompleted(jobType string) { jobsCompleted.WithLabelValues(jobType).Inc() }
func IncJobsFailed(jobType string)    { jobsFailed.WithLabelValues(jobType).Inc() }

func IncScan(kind, outcome string) { scansRun.WithLabelValues(kind, outcome).Inc() }

func IncRenameDispatch(provider, outcome string) {
	renameDispatches.WithLabelValues(provider, outcome).Inc()
}

func IncBusDropReason(topic, reason string) { busDrops.WithLabelValues(topic, reason).Inc() }

func IncBackupRun(outcome string) { backupRuns.WithLabelValues(outcome).Inc() }
