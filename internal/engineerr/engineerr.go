// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engineerr defines the sealed set of error-kind wrapper types used
// throughout the engine. Error kinds are behavioral categories, not
// exceptions: callers switch on kind (via errors.As) to decide retry,
// logging, and wire-response behavior.
package engineerr

import "fmt"

// Validation wraps a caller-supplied-data rejection, reported before any
// side effect runs.
type Validation struct {
	Field string
	Cause error
}

func (e *Validation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("validation: %v", e.Cause)
}

func (e *Validation) Unwrap() error { return e.Cause }

// NewValidation builds a Validation error from a message.
func NewValidation(field, format string, args ...interface{}) *Validation {
	return &Validation{Field: field, Cause: fmt.Errorf(format, args...)}
}

// NotFound wraps a missing referenced entity (task, project, workflow, ...).
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFound builds a NotFound error.
func NewNotFound(kind, id string) *NotFound {
	return &NotFound{Kind: kind, ID: id}
}

// Conflict wraps queue-full, already-running, duplicate-registration and
// similar caller-visible conflicts. Bulk operations attach one Conflict per
// failed id rather than aggregating into a single error.
type Conflict struct {
	Reason string
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// NewConflict builds a Conflict error.
func NewConflict(format string, args ...interface{}) *Conflict {
	return &Conflict{Reason: fmt.Sprintf(format, args...)}
}

// ErrQueueFull is the specific Conflict raised by admission when a project
// queue is at maxSize.
var ErrQueueFull = &Conflict{Reason: "queue is full"}

// Dependency wraps service-container resolution failures. Fatal at startup;
// recoverable at resolve time only if the caller has a fallback.
type Dependency struct {
	Name  string
	Chain []string
	Cause error
}

func (e *Dependency) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("dependency %q: %v (chain: %v)", e.Name, e.Cause, e.Chain)
	}
	return fmt.Sprintf("dependency %q: %v", e.Name, e.Cause)
}

func (e *Dependency) Unwrap() error { return e.Cause }

// NewDependencyNotFound builds the DependencyNotFound(name, chain) case.
func NewDependencyNotFound(name string, chain []string) *Dependency {
	return &Dependency{Name: name, Chain: chain, Cause: fmt.Errorf("no factory registered")}
}

// NewDependencyCycle builds the DependencyCycle(chain) case.
func NewDependencyCycle(chain []string) *Dependency {
	name := ""
	if len(chain) > 0 {
		name = chain[len(chain)-1]
	}
	return &Dependency{Name: name, Chain: chain, Cause: fmt.Errorf("cyclic dependency resolution")}
}

// NewDependencyConstructionFailed builds the DependencyConstructionFailed(name, cause) case.
func NewDependencyConstructionFailed(name string, cause error) *Dependency {
	return &Dependency{Name: name, Cause: cause}
}

// Timeout wraps a per-step / per-analysis-type / per-item timeout. Produces
// a failed outcome with reason "timeout" for the queue, or a partial state
// with a per-type reason for analysis.
type Timeout struct {
	Operation string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("timeout: %s", e.Operation)
}

// NewTimeout builds a Timeout error.
func NewTimeout(operation string) *Timeout {
	return &Timeout{Operation: operation}
}

// ResourceExhausted wraps memory-threshold or resource-cell exhaustion.
// Triggers degradation for analysis, admission denial for the queue.
type ResourceExhausted struct {
	Resource string
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("resource exhausted: %s", e.Resource)
}

// NewResourceExhausted builds a ResourceExhausted error.
func NewResourceExhausted(resource string) *ResourceExhausted {
	return &ResourceExhausted{Resource: resource}
}

// Collaborator wraps a failed external interface call (IDE adapter, git,
// filesystem, AI provider). Treated as a step failure, retried per
// queue-item policy.
type Collaborator struct {
	Name  string
	Cause error
}

func (e *Collaborator) Error() string {
	return fmt.Sprintf("collaborator %q failed: %v", e.Name, e.Cause)
}

func (e *Collaborator) Unwrap() error { return e.Cause }

// NewCollaborator builds a Collaborator error.
func NewCollaborator(name string, cause error) *Collaborator {
	return &Collaborator{Name: name, Cause: cause}
}

// Transient wraps an event-handler crash or WebSocket broadcast failure.
// Logged, never propagated to the publisher.
type Transient struct {
	Cause error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *Transient) Unwrap() error { return e.Cause }

// NewTransient builds a Transient error.
func NewTransient(cause error) *Transient {
	return &Transient{Cause: cause}
}
