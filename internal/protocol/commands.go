// Copyright (C) 2025-2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Commands are the requests the admission HTTP layer (internal/server)
// decodes from a client and hands to the Workflow Orchestration Service
// (C8). They carry only what the caller actually supplies — ids,
// priorities, option overrides — never internal state like queue
// positions or resolved paths, which the façade and its collaborators
// fill in themselves.
package protocol

import "github.com/stepflow/stepflow/internal/models"

// Command represents a request that can be sent to the orchestrator.
type Command interface {
	GetBaseMessage() Metadata
}

// ExecuteWorkflowCommand requests that a workflow run against a project,
// either for an existing task or ad hoc. It maps directly onto
// orchestration.ExecuteWorkflowOptions.
type ExecuteWorkflowCommand struct {
	Metadata
	ProjectID string
	TaskID    string
	UserID    string
	TaskMode  string
	Priority  models.Priority
	Options   models.QueueItemOptions
}

func (c ExecuteWorkflowCommand) GetBaseMessage() Metadata { return c.Metadata }

// RunAnalysisCommand requests one or more analysis types run against a
// project. It maps directly onto orchestration.RunAnalysisOptions.
type RunAnalysisCommand struct {
	Metadata
	ProjectID string
	Types     []models.AnalysisType
	Options   models.QueueItemOptions
}

func (c RunAnalysisCommand) GetBaseMessage() Metadata { return c.Metadata }

// PauseQueueItemCommand pauses a queued item; a running item cannot be
// paused.
type PauseQueueItemCommand struct {
	Metadata
	ProjectID   string
	QueueItemID string
}

func (c PauseQueueItemCommand) GetBaseMessage() Metadata { return c.Metadata }

// ResumeQueueItemCommand resumes a previously paused item.
type ResumeQueueItemCommand struct {
	Metadata
	ProjectID   string
	QueueItemID string
}

func (c ResumeQueueItemCommand) GetBaseMessage() Metadata { return c.Metadata }

// CancelQueueItemCommand cancels a queued or running item.
type CancelQueueItemCommand struct {
	Metadata
	ProjectID   string
	QueueItemID string
}

func (c CancelQueueItemCommand) GetBaseMessage() Metadata { return c.Metadata }

// ReorderQueueItemCommand moves a queued item to a new position.
type ReorderQueueItemCommand struct {
	Metadata
	ProjectID   string
	QueueItemID string
	NewPosition int
}

func (c ReorderQueueItemCommand) GetBaseMessage() Metadata { return c.Metadata }

// BulkQueueItemCommand applies one bulk operation to a set of items.
type BulkQueueItemCommand struct {
	Metadata
	ProjectID    string
	Op           models.BulkOp
	QueueItemIDs []string
}

func (c BulkQueueItemCommand) GetBaseMessage() Metadata { return c.Metadata }

// LaunchIDECommand requests a new IDE container be launched for a
// workspace.
type LaunchIDECommand struct {
	Metadata
	WorkspacePath string
	IDEType       string
}

func (c LaunchIDECommand) GetBaseMessage() Metadata { return c.Metadata }

// StopIDECommand requests an already-launched IDE container be stopped.
type StopIDECommand struct {
	Metadata
	Port int
}

func (c StopIDECommand) GetBaseMessage() Metadata { return c.Metadata }

// SendChatMessageCommand requests the active IDE's chat input receive
// text on the caller's behalf.
type SendChatMessageCommand struct {
	Metadata
	Port int
	Text string
}

func (c SendChatMessageCommand) GetBaseMessage() Metadata { return c.Metadata }
