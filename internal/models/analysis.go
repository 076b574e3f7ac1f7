// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// AnalysisType is one of the fixed set of project analysis kinds.
type AnalysisType string

const (
	AnalysisCodeQuality    AnalysisType = "code-quality"
	AnalysisSecurity       AnalysisType = "security"
	AnalysisPerformance    AnalysisType = "performance"
	AnalysisArchitecture   AnalysisType = "architecture"
	AnalysisTechstack      AnalysisType = "techstack"
	AnalysisRecommendation AnalysisType = "recommendations"
)

// AnalysisState is the lifecycle state of an AnalysisJob.
type AnalysisState string

const (
	AnalysisStateQueued    AnalysisState = "queued"
	AnalysisStateRunning   AnalysisState = "running"
	AnalysisStateCompleted AnalysisState = "completed"
	AnalysisStateFailed    AnalysisState = "failed"
	AnalysisStateCancelled AnalysisState = "cancelled"
	AnalysisStatePartial   AnalysisState = "partial"
)

// PartialReason explains why an AnalysisJob ended in the partial state.
type PartialReason string

const (
	PartialReasonTimeout   PartialReason = "timeout"
	PartialReasonMemory    PartialReason = "memory"
	PartialReasonCancelled PartialReason = "cancelled"
)

// AnalysisTypeResult is the accumulated output for one analysis type.
type AnalysisTypeResult struct {
	Type      AnalysisType
	Completed bool
	Data      interface{}
	Reason    PartialReason
}

// AnalysisJob is one admission into the analysis queue.
type AnalysisJob struct {
	JobID             string
	ProjectID         string
	AnalysisTypes     []AnalysisType
	Priority          Priority
	Timeout           time.Duration
	State             AnalysisState
	MemoryBudgetBytes int64
	Progress          map[AnalysisType]float64
	Results           map[AnalysisType]AnalysisTypeResult
	Reason            PartialReason
	Position          int
	EnqueuedAt        time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
}

// ProjectResourceCell is the per-project accounting cell used by both the
// task queue and the analysis queue to enforce memory and concurrency caps.
type ProjectResourceCell struct {
	MemoryBytesInUse  int64
	ConcurrentRunning int
}

// AnalysisRecord is the persisted row for a finished AnalysisJob: job_id,
// project_id, types, state, started_at, finished_at, result (nullable),
// partial, reason.
type AnalysisRecord struct {
	JobID      string `gorm:"primaryKey"`
	ProjectID  string `gorm:"index"`
	Types      []AnalysisType         `gorm:"serializer:json"`
	State      AnalysisState
	StartedAt  *time.Time
	FinishedAt *time.Time
	Result     map[AnalysisType]AnalysisTypeResult `gorm:"serializer:json"`
	Partial    bool
	Reason     PartialReason
}

// NewAnalysisRecord projects a finished AnalysisJob into its persisted row.
func NewAnalysisRecord(job AnalysisJob) AnalysisRecord {
	return AnalysisRecord{
		JobID:      job.JobID,
		ProjectID:  job.ProjectID,
		Types:      job.AnalysisTypes,
		State:      job.State,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		Result:     job.Results,
		Partial:    job.State == AnalysisStatePartial,
		Reason:     job.Reason,
	}
}
