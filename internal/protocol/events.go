// Copyright (C) 2025-2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Events are the typed schema behind the wire payloads internal/wsbridge
// broadcasts to clients. The event bus itself carries
// plain map[string]interface{} payloads end to end — these types exist so
// internal/server's REST handlers and any other in-process consumer that
// wants a typed view of "what just happened" don't have to re-derive the
// wire shape from wsbridge's translation table by hand.
package protocol

import "github.com/stepflow/stepflow/internal/models"

// GetIdempotencyKey extracts the idempotency key from any event.
func GetIdempotencyKey(event Event) string {
	return event.GetMetadata().IdempotencyKey
}

// QueueItemEvent mirrors the "queue:item:added"/"queue:item:updated"/
// "queue:item:completed" wire topics.
type QueueItemEvent struct {
	Metadata
	ProjectID string
	Item      models.QueueItem
}

func (e QueueItemEvent) GetMetadata() Metadata { return e.Metadata }
func (e QueueItemEvent) GetProjectID() string  { return e.ProjectID }

// WorkflowStepEvent mirrors the "workflow:step:progress"/
// "workflow:step:completed"/"workflow:step:failed" wire topics.
type WorkflowStepEvent struct {
	Metadata
	ProjectID string
	Step      string
	Reason    string      `json:",omitempty"`
	Artifact  interface{} `json:",omitempty"`
}

func (e WorkflowStepEvent) GetMetadata() Metadata { return e.Metadata }
func (e WorkflowStepEvent) GetProjectID() string  { return e.ProjectID }

// GitBranchChangedEvent mirrors the "git-branch-changed" wire topic.
type GitBranchChangedEvent struct {
	Metadata
	WorkspacePath string
	NewBranch     string
}

func (e GitBranchChangedEvent) GetMetadata() Metadata { return e.Metadata }

// GitStatusUpdatedEvent mirrors the "git-status-updated" wire topic.
type GitStatusUpdatedEvent struct {
	Metadata
	WorkspacePath string
	GitStatus     map[string]interface{}
}

func (e GitStatusUpdatedEvent) GetMetadata() Metadata { return e.Metadata }

// AnalysisCompletedEvent mirrors the "analysis:completed" wire topic.
type AnalysisCompletedEvent struct {
	Metadata
	ProjectID string
	JobID     string
	Results   map[models.AnalysisType]models.AnalysisTypeResult
}

func (e AnalysisCompletedEvent) GetMetadata() Metadata { return e.Metadata }
func (e AnalysisCompletedEvent) GetProjectID() string  { return e.ProjectID }

// IDEStartedEvent and IDEStoppedEvent mirror the "ide-started"/
// "ide-stopped" wire topics; these are per-user scoped, matching
// internal/wsbridge's scopeUser translation rows.
type IDEStartedEvent struct {
	Metadata
	UserID        string
	Port          int
	IDEType       string
	WorkspacePath string
}

func (e IDEStartedEvent) GetMetadata() Metadata { return e.Metadata }
func (e IDEStartedEvent) GetUserID() string     { return e.UserID }

type IDEStoppedEvent struct {
	Metadata
	UserID string
	Port   int
}

func (e IDEStoppedEvent) GetMetadata() Metadata { return e.Metadata }
func (e IDEStoppedEvent) GetUserID() string     { return e.UserID }

// ActiveIDEChangedEvent mirrors the "activeIDEChanged" wire topic.
type ActiveIDEChangedEvent struct {
	Metadata
	Port          int
	WorkspacePath string
}

func (e ActiveIDEChangedEvent) GetMetadata() Metadata { return e.Metadata }

// IDEListUpdatedEvent mirrors the "ideListUpdated" wire topic.
type IDEListUpdatedEvent struct {
	Metadata
	Count int
}

func (e IDEListUpdatedEvent) GetMetadata() Metadata { return e.Metadata }

// ChatMessageEvent mirrors the "chat-message" wire topic; per-user scoped.
type ChatMessageEvent struct {
	Metadata
	UserID  string
	TaskID  string
	Role    models.ChatRole
	Content string
}

func (e ChatMessageEvent) GetMetadata() Metadata { return e.Metadata }
func (e ChatMessageEvent) GetUserID() string     { return e.UserID }

// ErrorEvent reports an operation failure not tied to a specific queue
// item or step.
type ErrorEvent struct {
	Metadata
	Message string
	Context string
	TaskID  string
}

func (e ErrorEvent) GetMetadata() Metadata { return e.Metadata }
func (e ErrorEvent) GetTaskID() string     { return e.TaskID }
