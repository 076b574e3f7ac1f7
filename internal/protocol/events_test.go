// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflow/stepflow/internal/models"
)

func TestQueueItemEvent_GetMetadata(t *testing.T) {
	event := QueueItemEvent{
		Metadata:  Metadata{IdempotencyKey: "test-key", Version: CurrentProtocolVersion},
		ProjectID: "proj-123",
		Item:      models.QueueItem{QueueItemID: "q-1"},
	}

	metadata := event.GetMetadata()
	assert.Equal(t, "test-key", metadata.IdempotencyKey)
	assert.Equal(t, CurrentProtocolVersion, metadata.Version)
	assert.Equal(t, "proj-123", event.GetProjectID())
}

func TestGetIdempotencyKey_WithQueueItemEvent(t *testing.T) {
	event := QueueItemEvent{Metadata: Metadata{IdempotencyKey: "queue-item-key"}}
	assert.Equal(t, "queue-item-key", GetIdempotencyKey(event))
}

func TestWorkflowStepEvent_FieldsPopulation(t *testing.T) {
	event := WorkflowStepEvent{
		Metadata:  Metadata{Version: CurrentProtocolVersion},
		ProjectID: "proj-abc",
		Step:      "analyze",
		Reason:    "timeout",
	}

	assert.Equal(t, "proj-abc", event.GetProjectID())
	assert.Equal(t, "analyze", event.Step)
	assert.Equal(t, "timeout", event.Reason)
}

func TestGitEvents_ShapeMatchesWireContract(t *testing.T) {
	branchChanged := GitBranchChangedEvent{WorkspacePath: "/repo", NewBranch: "main"}
	assert.Equal(t, "/repo", branchChanged.WorkspacePath)
	assert.Equal(t, "main", branchChanged.NewBranch)

	statusUpdated := GitStatusUpdatedEvent{WorkspacePath: "/repo", GitStatus: map[string]interface{}{"clean": true}}
	assert.Equal(t, "/repo", statusUpdated.WorkspacePath)
	assert.Equal(t, true, statusUpdated.GitStatus["clean"])
}

func TestIDEEvents_ScopeToUser(t *testing.T) {
	started := IDEStartedEvent{UserID: "u1", Port: 9222, IDEType: "cursor"}
	assert.Equal(t, "u1", started.GetUserID())

	stopped := IDEStoppedEvent{UserID: "u1", Port: 9222}
	assert.Equal(t, "u1", stopped.GetUserID())
}

func TestChatMessageEvent_ScopesToUser(t *testing.T) {
	event := ChatMessageEvent{UserID: "u1", Role: models.ChatRoleUser, Content: "hello"}
	assert.Equal(t, "u1", event.GetUserID())
	assert.Equal(t, "hello", event.Content)
}

func TestErrorEvent_GetTaskID(t *testing.T) {
	event := ErrorEvent{TaskID: "task-1", Message: "boom"}
	assert.Equal(t, "task-1", event.GetTaskID())
}
