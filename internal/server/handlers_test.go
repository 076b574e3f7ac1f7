// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/models"
)

// fakeProjectRepo implements repository.ProjectRepository for handler tests.
type fakeProjectRepo struct {
	projects map[string]*models.Project
	getErr   error
}

func (f *fakeProjectRepo) FindByWorkspacePath(ctx context.Context, workspacePath string) (*models.Project, error) {
	return nil, nil
}
func (f *fakeProjectRepo) FindOrCreateByWorkspacePath(ctx context.Context, workspacePath string, factory func() *models.Project) (*models.Project, error) {
	return factory(), nil
}
func (f *fakeProjectRepo) Get(ctx context.Context, projectID string) (*models.Project, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.projects[projectID]
	if !ok {
		return nil, engineerr.NewNotFound("project", projectID)
	}
	return p, nil
}
func (f *fakeProjectRepo) Update(ctx context.Context, projectID string, patch map[string]interface{}) error {
	return nil
}
func (f *fakeProjectRepo) Delete(ctx context.Context, projectID string) error { return nil }

// fakeTaskRepo implements repository.TaskRepository for handler tests.
type fakeTaskRepo struct {
	byProject map[string][]*models.Task
	created   *models.Task
	createErr error
}

func (f *fakeTaskRepo) Create(ctx context.Context, task *models.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = task
	return nil
}
func (f *fakeTaskRepo) Get(ctx context.Context, taskID string) (*models.Task, error) { return nil, nil }
func (f *fakeTaskRepo) Lookup(taskID string) (*models.Task, error)                   { return nil, nil }
func (f *fakeTaskRepo) ListByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	return f.byProject[projectID], nil
}
func (f *fakeTaskRepo) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	return nil
}
func (f *fakeTaskRepo) Delete(ctx context.Context, taskID string) error { return nil }

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetProject_ReturnsProjectJSON(t *testing.T) {
	repo := &fakeProjectRepo{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", Name: "demo"},
	}}
	h := &Handlers{projects: repo}

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/projects/proj-1", nil), "id", "proj-1")
	rec := httptest.NewRecorder()

	h.GetProject(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "demo", got.Name)
}

func TestGetProject_NotFoundMapsTo404(t *testing.T) {
	repo := &fakeProjectRepo{projects: map[string]*models.Project{}}
	h := &Handlers{projects: repo}

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/projects/missing", nil), "id", "missing")
	rec := httptest.NewRecorder()

	h.GetProject(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTask_PersistsAndReturns201(t *testing.T) {
	repo := &fakeTaskRepo{byProject: map[string][]*models.Task{}}
	h := &Handlers{tasks: repo}

	body, _ := json.Marshal(createTaskRequest{ID: "task-1", Title: "Refactor", Priority: "high"})
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks", bytes.NewReader(body)), "id", "proj-1")
	rec := httptest.NewRecorder()

	h.CreateTask(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, "proj-1", repo.created.ProjectID)
	assert.Equal(t, models.PriorityHigh, repo.created.Priority)
	assert.Equal(t, models.TaskStatusPending, repo.created.Status)
}

func TestCreateTask_MalformedBodyReturns400(t *testing.T) {
	repo := &fakeTaskRepo{byProject: map[string][]*models.Task{}}
	h := &Handlers{tasks: repo}

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks", bytes.NewReader([]byte("{not json"))), "id", "proj-1")
	rec := httptest.NewRecorder()

	h.CreateTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTasks_ListsByProject(t *testing.T) {
	repo := &fakeTaskRepo{byProject: map[string][]*models.Task{
		"proj-1": {{ID: "t1", ProjectID: "proj-1"}, {ID: "t2", ProjectID: "proj-1"}},
	}}
	h := &Handlers{tasks: repo}

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/projects/proj-1/tasks", nil), "id", "proj-1")
	rec := httptest.NewRecorder()

	h.GetTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []*models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestStatusFor_MapsEngineErrKinds(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(engineerr.NewValidation("field", "bad")))
	assert.Equal(t, http.StatusNotFound, statusFor(engineerr.NewNotFound("task", "t1")))
	assert.Equal(t, http.StatusConflict, statusFor(engineerr.NewConflict("busy")))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(engineerr.NewTimeout("step")))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(engineerr.NewResourceExhausted("memory")))
	assert.Equal(t, http.StatusBadGateway, statusFor(engineerr.NewCollaborator("ide", assertErr)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assertErr))
}

var assertErr = &genericErr{"boom"}

type genericErr struct{ msg string }

func (e *genericErr) Error() string { return e.msg }
