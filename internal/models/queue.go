// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// QueueItemState is the lifecycle state of a QueueItem.
type QueueItemState string

const (
	QueueItemQueued    QueueItemState = "queued"
	QueueItemRunning   QueueItemState = "running"
	QueueItemPaused    QueueItemState = "paused"
	QueueItemCompleted QueueItemState = "completed"
	QueueItemFailed    QueueItemState = "failed"
	QueueItemCancelled QueueItemState = "cancelled"
)

// IsTerminal reports whether the state admits no further transitions.
func (s QueueItemState) IsTerminal() bool {
	switch s {
	case QueueItemCompleted, QueueItemFailed, QueueItemCancelled:
		return true
	default:
		return false
	}
}

// QueueItemOptions is the opaque per-item option bag. Known keys are pulled
// out by name; unknown keys pass through to step options untouched.
type QueueItemOptions map[string]interface{}

// QueueItem is one admission of a task (or create-workflow) into a project
// queue. QueueItem mutation is owned exclusively by the taskqueue package;
// every other package only reads snapshots.
type QueueItem struct {
	QueueItemID string
	ProjectID   string
	UserID      string
	TaskID      string // empty for create-workflow admissions
	TaskMode    string
	WorkflowID  string
	Priority    Priority
	Options     QueueItemOptions
	State       QueueItemState
	// Position is derived, not stored: 1 means "next to run", 0 means
	// running, -1 means moved to history. Computed on read by the queue.
	Position    int
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Attempts    int
	MaxAttempts int
	FailReason  string
}

// EnqueueResult is returned from a successful enqueue call.
type EnqueueResult struct {
	QueueItemID        string
	Position           int
	EstimatedStartTime time.Time
}

// QueueStatus is a point-in-time snapshot of one project's queue.
type QueueStatus struct {
	Active  []QueueItem
	Queued  []QueueItem
	History []QueueItem
}

// BulkOp names a bulk queue mutation.
type BulkOp string

const (
	BulkOpPause        BulkOp = "pause"
	BulkOpResume       BulkOp = "resume"
	BulkOpCancel       BulkOp = "cancel"
	BulkOpReprioritize BulkOp = "reprioritize"
)

// BulkOutcome is the per-item result of a bulk operation. Conflicts are
// reported per-id rather than aggregated, per the error handling design.
type BulkOutcome struct {
	QueueItemID string
	Err         error
}
