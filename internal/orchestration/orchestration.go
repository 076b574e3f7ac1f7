// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestration is the Workflow Orchestration Service (C8): the
// one public entry point callers use to start work on a project. It is a
// thin façade over the Task Queue Core (C5) and Analysis Queue (C7) —
// every admission decision, retry, and degradation policy lives in those
// packages. This package only picks the workflow id, resolves prompt
// templates from the Workflow Loader (C3) into the queue item's option
// bag, and attaches the project's resolved path from the Project
// Context (C9).
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/analysisqueue"
	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/svcregistry"
	"github.com/stepflow/stepflow/internal/taskqueue"
	"github.com/stepflow/stepflow/internal/workflowdef"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetOrchestrationLogger()
		log = &l
	})
	return log
}

// TaskTyper is the minimal task lookup this package needs: the task's
// declared type, used as the taskMode fallback when the caller doesn't
// supply one. Satisfied by repository.TaskRepository.
type TaskTyper interface {
	Get(ctx context.Context, taskID string) (*models.Task, error)
}

// Service is the C8 façade. The zero value is not usable; construct with
// New.
type Service struct {
	queue     *taskqueue.Queue
	analysis  *analysisqueue.Queue
	workflows *workflowdef.Loader
	tasks     TaskTyper
	container *svcregistry.Container
}

// New wires the façade against its four collaborators. tasks may be nil,
// in which case taskMode falls back straight to "default" when the
// caller doesn't supply one. container is consulted for the active
// project's resolved path (internal/projectctx keeps it current).
func New(queue *taskqueue.Queue, analysis *analysisqueue.Queue, workflows *workflowdef.Loader, tasks TaskTyper, container *svcregistry.Container) *Service {
	return &Service{queue: queue, analysis: analysis, workflows: workflows, tasks: tasks, container: container}
}

// projectPathFor returns the active project context's resolved path if
// the container's project id matches projectID, else projectID itself
// (the caller's best-effort identifier, e.g. for a project not yet
// resolved by C9).
func (s *Service) projectPathFor(projectID string) string {
	if s.container == nil {
		return projectID
	}
	pc := s.container.ProjectContext()
	if pc.ProjectID == projectID && pc.ProjectPath != "" {
		return pc.ProjectPath
	}
	return projectID
}

// ExecuteWorkflowOptions carries the caller-supplied parts of an
// executeWorkflow call; Extra passes through to the queue item's option
// bag untouched.
type ExecuteWorkflowOptions struct {
	UserID   string
	TaskMode string
	Priority models.Priority
	Extra    models.QueueItemOptions
}

// ExecuteWorkflow resolves a workflow id for (projectID, taskID, options),
// materializes its step prompts and the project's resolved path into the
// queue item's option bag, and routes the admission to the Task Queue
// Core (C5).
func (s *Service) ExecuteWorkflow(ctx context.Context, projectID, taskID string, opts ExecuteWorkflowOptions) (*models.EnqueueResult, error) {
	taskMode, err := s.resolveTaskMode(ctx, taskID, opts.TaskMode)
	if err != nil {
		return nil, err
	}

	workflowID, err := s.workflows.WorkflowIDForTaskType(taskMode)
	if err != nil {
		return nil, err
	}

	def, err := s.workflows.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	options := s.buildStepOptions(projectID, def, opts.Extra)

	return s.queue.Enqueue(projectID, opts.UserID, taskID, taskMode, opts.Priority, options)
}

// resolveTaskMode picks explicit > task-type lookup > "default".
func (s *Service) resolveTaskMode(ctx context.Context, taskID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if taskID != "" && s.tasks != nil {
		task, err := s.tasks.Get(ctx, taskID)
		if err != nil {
			var notFound *engineerr.NotFound
			if !errors.As(err, &notFound) {
				return "", err
			}
		} else if task != nil && task.Type != "" {
			return task.Type, nil
		}
	}
	return "default", nil
}

// buildStepOptions copies opts.Extra, attaches the resolved project path
// under "projectPath", and, for every step in def whose Options carries a
// "promptName" key, resolves the named C3 prompt template against
// {projectId, projectPath} substitution data and stores the
// result under "<stepName>.prompt" — the queue item's option bag is flat
// (ExecuteSteps receives one shared map for the whole workflow run), so a
// step-qualified key is how a single step's step executor picks its own
// resolved prompt back out.
func (s *Service) buildStepOptions(projectID string, def *models.WorkflowDef, extra models.QueueItemOptions) models.QueueItemOptions {
	options := models.QueueItemOptions{}
	for k, v := range extra {
		options[k] = v
	}

	projectPath := s.projectPathFor(projectID)
	options["projectPath"] = projectPath

	data := map[string]string{"projectId": projectID, "projectPath": projectPath}
	for _, step := range def.Steps {
		name, ok := step.Options["promptName"].(string)
		if !ok || name == "" {
			continue
		}
		prompt := s.workflows.FormatPrompt(name, data)
		if prompt == "" {
			getLog().Warn().Str("workflow", def.ID).Str("step", step.Name).Str("promptName", name).Msg("prompt template resolved empty")
			continue
		}
		options[fmt.Sprintf("%s.prompt", step.Name)] = prompt
	}

	return options
}

// RunAnalysisOptions carries the caller-supplied parts of a runAnalysis
// call; Extra passes through to each type executor's options untouched.
type RunAnalysisOptions struct {
	Extra models.QueueItemOptions
}

// RunAnalysis resolves the project's path from C9 and routes the
// admission to the Analysis Queue (C7).
func (s *Service) RunAnalysis(ctx context.Context, projectID string, types []models.AnalysisType, opts RunAnalysisOptions) (*analysisqueue.Submission, error) {
	projectPath := s.projectPathFor(projectID)

	options := map[string]interface{}{}
	for k, v := range opts.Extra {
		options[k] = v
	}

	return s.analysis.ProcessAnalysisRequest(ctx, projectID, projectPath, types, options)
}
