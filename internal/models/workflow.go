// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

// StepSpec is one entry in a workflow's declarative step list.
type StepSpec struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Category string                 `json:"category,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Strict   bool                   `json:"strict,omitempty"`
}

// WorkflowDef is a declarative workflow as loaded from the workflow JSON
// file. Extends is resolved lazily by the loader, never eagerly.
type WorkflowDef struct {
	ID          string     `json:"-"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Extends     string     `json:"extends,omitempty"`
	Steps       []StepSpec `json:"steps"`
}

// WorkflowFile is the top-level shape of the workflow JSON document.
type WorkflowFile struct {
	Workflows       map[string]WorkflowDef `json:"workflows"`
	TaskTypeMapping map[string]string      `json:"taskTypeMapping"`
	Prompts         map[string]string      `json:"prompts"`
}
