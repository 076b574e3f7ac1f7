// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repository holds the standard CRUD contracts the core consumes:
// TaskRepository, ProjectRepository, AnalysisRepository,
// UserSessionRepository, ChatRepository, and QueueHistoryRepository. Every
// method returns domain entities from internal/models, or nil/empty, never
// raw rows.
package repository

import (
	"context"

	"github.com/stepflow/stepflow/internal/models"
)

// TaskRepository persists Task entities and satisfies taskqueue.TaskLookup
// via its Lookup method.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
	Lookup(taskID string) (*models.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Task, error)
	UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error
	Delete(ctx context.Context, taskID string) error
}

// ProjectRepository persists the project cache row.
type ProjectRepository interface {
	FindByWorkspacePath(ctx context.Context, workspacePath string) (*models.Project, error)
	FindOrCreateByWorkspacePath(ctx context.Context, workspacePath string, factory func() *models.Project) (*models.Project, error)
	Get(ctx context.Context, projectID string) (*models.Project, error)
	Update(ctx context.Context, projectID string, patch map[string]interface{}) error
	Delete(ctx context.Context, projectID string) error
}

// AnalysisRepository persists finished AnalysisJob outcomes as the
// analysis row shape.
type AnalysisRepository interface {
	Save(ctx context.Context, record models.AnalysisRecord) error
	Get(ctx context.Context, jobID string) (*models.AnalysisRecord, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.AnalysisRecord, error)
}

// UserSessionRepository tracks the active IDE/project binding per user,
// consumed by the WebSocket Bridge's broadcastToUser addressing.
type UserSessionRepository interface {
	Upsert(ctx context.Context, session *models.UserSession) error
	Get(ctx context.Context, userID string) (*models.UserSession, error)
	Delete(ctx context.Context, userID string) error
}

// ChatRepository persists per-user, per-project chat turns.
type ChatRepository interface {
	Append(ctx context.Context, message *models.ChatMessage) error
	ListByProject(ctx context.Context, projectID, userID string, limit int) ([]*models.ChatMessage, error)
}

// QueueHistoryRepository is a read-only view over the Task Queue Core's
// in-memory history ring buffer. Queue state itself is not persisted;
// this exists purely so callers can depend on the same repository contract
// shape as the persisted repositories above.
type QueueHistoryRepository interface {
	History(projectID string) []models.QueueItem
}
