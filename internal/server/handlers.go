// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stepflow/stepflow/internal/collaborators/ide"
	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/orchestration"
	"github.com/stepflow/stepflow/internal/protocol"
	"github.com/stepflow/stepflow/internal/repository"
	"github.com/stepflow/stepflow/internal/taskqueue"
)

// Handlers holds the collaborators the admission HTTP layer calls straight
// into. There is no command-channel indirection: a handler decodes the
// request, calls the collaborator, and the collaborator's own event-bus
// publication is what reaches WebSocket clients via the bridge.
type Handlers struct {
	orchestrator *orchestration.Service
	queue        *taskqueue.Queue
	ide          *ide.Adapter

	projects repository.ProjectRepository
	tasks    repository.TaskRepository
	analyses repository.AnalysisRepository
	chats    repository.ChatRepository
}

// NewHandlers creates the handler set.
func NewHandlers(
	orchestrator *orchestration.Service,
	queue *taskqueue.Queue,
	ideAdapter *ide.Adapter,
	projects repository.ProjectRepository,
	tasks repository.TaskRepository,
	analyses repository.AnalysisRepository,
	chats repository.ChatRepository,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		queue:        queue,
		ide:          ideAdapter,
		projects:     projects,
		tasks:        tasks,
		analyses:     analyses,
		chats:        chats,
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, clientMsg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		getLog().Error().Err(err).Msg(clientMsg)
	}
	writeJSON(w, status, map[string]string{"error": clientMsg})
}

// statusFor maps an engineerr kind to the HTTP status a REST caller should
// see. Unrecognized errors default to 500.
func statusFor(err error) int {
	var validation *engineerr.Validation
	var notFound *engineerr.NotFound
	var conflict *engineerr.Conflict
	var timeout *engineerr.Timeout
	var resourceExhausted *engineerr.ResourceExhausted
	var collaboratorErr *engineerr.Collaborator

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &resourceExhausted):
		return http.StatusTooManyRequests
	case errors.As(err, &collaboratorErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "malformed request body", engineerr.NewValidation("body", "%v", err))
		return false
	}
	return true
}

// --- projects / tasks ---

// GetProject handles GET /api/v1/projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	project, err := h.projects.Get(r.Context(), projectID)
	if err != nil {
		writeError(w, "failed to load project", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// GetTasks handles GET /api/v1/projects/{id}/tasks
func (h *Handlers) GetTasks(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	tasks, err := h.tasks.ListByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, "failed to load tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type createTaskRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
}

// CreateTask handles POST /api/v1/projects/{id}/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task := &models.Task{
		ID:          req.ID,
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Status:      models.TaskStatusPending,
		Priority:    models.ParsePriority(req.Priority),
	}
	if err := h.tasks.Create(r.Context(), task); err != nil {
		writeError(w, "failed to create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// DeleteTask handles DELETE /api/v1/projects/{id}/tasks/{taskId}
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.tasks.Delete(r.Context(), taskID); err != nil {
		writeError(w, "failed to delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- workflow / analysis admission ---

// ExecuteWorkflow handles POST /api/v1/projects/{id}/workflows
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var cmd protocol.ExecuteWorkflowCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}

	result, err := h.orchestrator.ExecuteWorkflow(r.Context(), projectID, cmd.TaskID, orchestration.ExecuteWorkflowOptions{
		UserID:   cmd.UserID,
		TaskMode: cmd.TaskMode,
		Priority: cmd.Priority,
		Extra:    cmd.Options,
	})
	if err != nil {
		writeError(w, "failed to execute workflow", err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// RunAnalysis handles POST /api/v1/projects/{id}/analysis
func (h *Handlers) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var cmd protocol.RunAnalysisCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}

	submission, err := h.orchestrator.RunAnalysis(r.Context(), projectID, cmd.Types, orchestration.RunAnalysisOptions{
		Extra: cmd.Options,
	})
	if err != nil {
		writeError(w, "failed to run analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, submission)
}

// GetAnalyses handles GET /api/v1/projects/{id}/analysis
func (h *Handlers) GetAnalyses(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	records, err := h.analyses.ListByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, "failed to load analyses", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- task queue ---

// GetQueueStatus handles GET /api/v1/projects/{id}/queue
func (h *Handlers) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, h.queue.Status(projectID))
}

// PauseQueueItem handles POST /api/v1/projects/{id}/queue/{itemId}/pause
func (h *Handlers) PauseQueueItem(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")
	if err := h.queue.Pause(projectID, itemID); err != nil {
		writeError(w, "failed to pause queue item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeQueueItem handles POST /api/v1/projects/{id}/queue/{itemId}/resume
func (h *Handlers) ResumeQueueItem(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")
	if err := h.queue.Resume(projectID, itemID); err != nil {
		writeError(w, "failed to resume queue item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelQueueItem handles POST /api/v1/projects/{id}/queue/{itemId}/cancel
func (h *Handlers) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")
	if err := h.queue.Cancel(projectID, itemID); err != nil {
		writeError(w, "failed to cancel queue item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderQueueItem handles POST /api/v1/projects/{id}/queue/{itemId}/reorder
func (h *Handlers) ReorderQueueItem(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")
	var cmd protocol.ReorderQueueItemCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}
	if err := h.queue.Reorder(projectID, itemID, cmd.NewPosition); err != nil {
		writeError(w, "failed to reorder queue item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkOutcomeResponse struct {
	QueueItemID string `json:"queueItemId"`
	Error       string `json:"error,omitempty"`
}

// BulkQueueItems handles POST /api/v1/projects/{id}/queue/bulk
func (h *Handlers) BulkQueueItems(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var cmd protocol.BulkQueueItemCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}

	outcomes := h.queue.Bulk(projectID, cmd.Op, cmd.QueueItemIDs)
	response := make([]bulkOutcomeResponse, len(outcomes))
	for i, o := range outcomes {
		resp := bulkOutcomeResponse{QueueItemID: o.QueueItemID}
		if o.Err != nil {
			resp.Error = o.Err.Error()
		}
		response[i] = resp
	}
	writeJSON(w, http.StatusOK, response)
}

// --- chat history ---

// GetChatHistory handles GET /api/v1/projects/{id}/chats?userId=...&limit=...
func (h *Handlers) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("userId")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.chats.ListByProject(r.Context(), projectID, userID, limit)
	if err != nil {
		writeError(w, "failed to load chat history", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// --- IDE collaborator ---

type launchIDEResponse struct {
	Port int `json:"port"`
}

// LaunchIDE handles POST /api/v1/ide
func (h *Handlers) LaunchIDE(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.LaunchIDECommand
	if !decodeJSON(w, r, &cmd) {
		return
	}
	port, err := h.ide.Launch(r.Context(), cmd.WorkspacePath, ide.Type(cmd.IDEType))
	if err != nil {
		writeError(w, "failed to launch IDE", err)
		return
	}
	writeJSON(w, http.StatusAccepted, launchIDEResponse{Port: port})
}

// StopIDE handles DELETE /api/v1/ide/{port}
func (h *Handlers) StopIDE(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeError(w, "invalid port", engineerr.NewValidation("port", "%v", err))
		return
	}
	if err := h.ide.Stop(r.Context(), port); err != nil {
		writeError(w, "failed to stop IDE", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListIDEs handles GET /api/v1/ide
func (h *Handlers) ListIDEs(w http.ResponseWriter, r *http.Request) {
	infos, err := h.ide.ListIDEs(r.Context())
	if err != nil {
		writeError(w, "failed to list IDEs", err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// SendChatMessage handles POST /api/v1/ide/{port}/chat
func (h *Handlers) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeError(w, "invalid port", engineerr.NewValidation("port", "%v", err))
		return
	}
	var cmd protocol.SendChatMessageCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}
	if err := h.ide.SendMessage(r.Context(), port, cmd.Text); err != nil {
		writeError(w, "failed to send chat message", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
