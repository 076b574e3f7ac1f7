// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"context"

	"github.com/rs/zerolog"
)

// ServiceResolver is the read surface of the service container (C2) that
// step executors are allowed to see. Defined here, not in the container
// package, so models stays free of an import cycle with svcregistry.
type ServiceResolver interface {
	Resolve(name string) (interface{}, error)
}

// StepExecutor is the callable signature every registered step must satisfy.
type StepExecutor func(ctx context.Context, sctx *StepContext, options map[string]interface{}) (interface{}, error)

// StepConfig describes a registered step's static metadata.
type StepConfig struct {
	Key          string
	Type         string
	Category     string
	Description  string
	Dependencies []string
	Version      string
	Timeout      int64 // seconds; 0 means the step engine's fixed 5-minute default
}

// StepContext is the per-execution scratchpad threaded by reference across
// every step of one workflow run. Steps may only add keys to Artifacts;
// rewriting another step's entry is a programming error the engine panics
// in tests to catch, never silently allows in production.
type StepContext struct {
	ProjectID   string
	ProjectPath string
	UserID      string
	TaskID      string
	WorkflowID  string
	Services    ServiceResolver
	Logger      *zerolog.Logger
	Artifacts   map[string]interface{}

	// cancel is consulted cooperatively by long-running steps; it is never
	// used to force-terminate a goroutine.
	cancel context.CancelFunc
	ctx    context.Context
}

// NewStepContext constructs a StepContext bound to a cancellable context.
func NewStepContext(parent context.Context, projectID, projectPath, userID, taskID, workflowID string, services ServiceResolver, logger *zerolog.Logger) *StepContext {
	ctx, cancel := context.WithCancel(parent)
	return &StepContext{
		ProjectID:   projectID,
		ProjectPath: projectPath,
		UserID:      userID,
		TaskID:      taskID,
		WorkflowID:  workflowID,
		Services:    services,
		Logger:      logger,
		Artifacts:   make(map[string]interface{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context returns the cooperative-cancellation context for this run.
func (sc *StepContext) Context() context.Context {
	return sc.ctx
}

// Cancel signals cooperative cancellation; it never blocks and never forces
// termination of an in-flight step.
func (sc *StepContext) Cancel() {
	sc.cancel()
}

// SetArtifact records a step's result. It panics if the key already exists,
// enforcing the artifact-monotonicity invariant at the point of violation
// rather than letting it corrupt later reads.
func (sc *StepContext) SetArtifact(key string, value interface{}) {
	if _, exists := sc.Artifacts[key]; exists {
		panic("stepflow: artifact key already set: " + key)
	}
	sc.Artifacts[key] = value
}
