// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflowdef loads the declarative workflow JSON file, resolves
// `extends` inheritance on demand, and formats prompt templates (C3).
package workflowdef

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetWorkflowDefLogger()
		log = &l
	})
	return log
}

// Loader reads the workflow JSON document and serves resolved workflows.
type Loader struct {
	mu              sync.RWMutex
	workflows       map[string]models.WorkflowDef
	taskTypeMapping map[string]string
	prompts         map[string]string
}

// New constructs an empty, unloaded Loader.
func New() *Loader {
	return &Loader{
		workflows:       make(map[string]models.WorkflowDef),
		taskTypeMapping: make(map[string]string),
		prompts:         make(map[string]string),
	}
}

// Load reads path, a UTF-8 JSON document holding workflows/taskTypeMapping
// /prompts, and replaces the loader's in-memory mappings. It does not
// resolve `extends` eagerly.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	var file models.WorkflowFile
	if err := json.Unmarshal(data, &file); err != nil {
		return engineerr.NewValidation("workflowFile", "invalid workflow JSON in %s: %v", path, err)
	}

	workflows := make(map[string]models.WorkflowDef, len(file.Workflows))
	for id, def := range file.Workflows {
		def.ID = id
		workflows[id] = def
	}

	l.mu.Lock()
	l.workflows = workflows
	l.taskTypeMapping = file.TaskTypeMapping
	l.prompts = file.Prompts
	l.mu.Unlock()

	getLog().Info().Str("path", path).Int("workflows", len(workflows)).Msg("loaded workflow definitions")
	return nil
}

// GetWorkflow resolves id by walking `extends` parents, concatenating
// steps with the parent's resolved steps first. Fails with WorkflowCycle
// (reported as a Validation error) if a cycle is detected.
func (l *Loader) GetWorkflow(id string) (*models.WorkflowDef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolve(id, nil)
}

func (l *Loader) resolve(id string, chain []string) (*models.WorkflowDef, error) {
	for _, seen := range chain {
		if seen == id {
			return nil, engineerr.NewValidation("workflow.extends",
				"workflow cycle detected: %s", strings.Join(append(chain, id), " -> "))
		}
	}

	def, ok := l.workflows[id]
	if !ok {
		return nil, engineerr.NewNotFound("workflow", id)
	}

	if def.Extends == "" {
		resolved := def
		resolved.Steps = append([]models.StepSpec{}, def.Steps...)
		return &resolved, nil
	}

	parent, err := l.resolve(def.Extends, append(chain, id))
	if err != nil {
		return nil, err
	}

	steps := make([]models.StepSpec, 0, len(parent.Steps)+len(def.Steps))
	steps = append(steps, parent.Steps...)
	steps = append(steps, def.Steps...)

	resolved := def
	resolved.Steps = steps
	return &resolved, nil
}

// WorkflowIDForTaskType maps a task type to a workflow id, falling back to
// the "default" mapping entry.
func (l *Loader) WorkflowIDForTaskType(taskType string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id, ok := l.taskTypeMapping[taskType]; ok {
		return id, nil
	}
	if id, ok := l.taskTypeMapping["default"]; ok {
		return id, nil
	}
	return "", engineerr.NewNotFound("taskTypeMapping", taskType)
}

// FormatPrompt substitutes literal {key} placeholders in the named prompt
// template. Missing keys in data are left as-is; an unknown prompt name
// returns an empty string and never panics.
func (l *Loader) FormatPrompt(name string, data map[string]string) string {
	l.mu.RLock()
	template, ok := l.prompts[name]
	l.mu.RUnlock()
	if !ok {
		return ""
	}
	return formatPrompt(template, data)
}

func formatPrompt(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}
