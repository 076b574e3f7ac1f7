// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package repository

import "github.com/stepflow/stepflow/internal/models"

// historyStatuser is the slice of taskqueue.Queue actually used here,
// avoiding an import cycle (taskqueue already depends on models, and would
// have to depend on repository for TaskLookup if this package depended
// back on taskqueue's concrete type).
type historyStatuser interface {
	Status(projectID string) models.QueueStatus
}

// QueueHistoryView adapts a live taskqueue.Queue to QueueHistoryRepository.
type QueueHistoryView struct {
	queue historyStatuser
}

// NewQueueHistoryView wraps queue (normally a *taskqueue.Queue).
func NewQueueHistoryView(queue historyStatuser) *QueueHistoryView {
	return &QueueHistoryView{queue: queue}
}

// History returns the bounded history ring buffer for projectID.
func (v *QueueHistoryView) History(projectID string) []models.QueueItem {
	return v.queue.Status(projectID).History
}
