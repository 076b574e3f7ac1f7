// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stepengine is the step registry and builder (C4): it holds step
// definitions keyed by "category.name", composes them into ordered chains,
// and executes them against a models.StepContext with per-step timeouts and
// event emission.
package stepengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/eventbus"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/telemetry"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStepEngineLogger()
		log = &l
	})
	return log
}

// Topics published by the registry around step execution.
const (
	TopicStepStarted   = "workflow:step:started"
	TopicStepCompleted = "workflow:step:completed"
	TopicStepFailed    = "workflow:step:failed"
)

const defaultStepTimeout = 5 * time.Minute

type step struct {
	key      string
	config   models.StepConfig
	category string
	executor models.StepExecutor
}

// Registry holds registered steps and their dependency graph.
type Registry struct {
	mu     sync.RWMutex
	steps  map[string]*step
	bus    *eventbus.Bus
	tracer *telemetry.Provider
}

// New constructs an empty Registry. bus may be nil, in which case step
// lifecycle events are not published (useful in unit tests).
func New(bus *eventbus.Bus) *Registry {
	return &Registry{
		steps: make(map[string]*step),
		bus:   bus,
	}
}

// WithTracer attaches a telemetry provider that wraps every step execution
// in a span. Returns the Registry for chaining at construction time.
func (r *Registry) WithTracer(tracer *telemetry.Provider) *Registry {
	r.tracer = tracer
	return r
}

// RegisterStep records key's executor, validating that the key is unique
// and that the resulting dependency graph stays acyclic.
func (r *Registry) RegisterStep(key string, config models.StepConfig, category string, executor models.StepExecutor) error {
	if key == "" {
		return engineerr.NewValidation("key", "step key must not be empty")
	}
	if executor == nil {
		return engineerr.NewValidation("executor", "step %q requires a non-nil executor", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[key]; exists {
		return engineerr.NewConflict("step %q already registered", key)
	}

	candidate := &step{key: key, config: config, category: category, executor: executor}
	r.steps[key] = candidate

	if err := r.checkAcyclicLocked(); err != nil {
		delete(r.steps, key)
		return err
	}

	getLog().Info().Str("step", key).Str("category", category).Strs("dependencies", config.Dependencies).Msg("step registered")
	return nil
}

func (r *Registry) checkAcyclicLocked() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var walk func(key string, chain []string) error
	walk = func(key string, chain []string) error {
		if visiting[key] {
			return engineerr.NewValidation("dependencies", "cyclic step dependency: %v", append(chain, key))
		}
		if visited[key] {
			return nil
		}
		s, ok := r.steps[key]
		if !ok {
			return nil // dependency not yet registered is allowed ("registered-or-pending")
		}
		visiting[key] = true
		for _, dep := range s.config.Dependencies {
			if err := walk(dep, append(chain, key)); err != nil {
				return err
			}
		}
		visiting[key] = false
		visited[key] = true
		return nil
	}

	for key := range r.steps {
		if err := walk(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteStep resolves key's executor and runs it with a per-step timeout
// (the step's configured timeout, or a fixed 5-minute default; no
// per-workflow default is consulted). It emits
// started/completed/failed events and re-raises the executor's error.
func (r *Registry) ExecuteStep(ctx context.Context, sctx *models.StepContext, key string, options map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	s, ok := r.steps[key]
	r.mu.RUnlock()
	if !ok {
		return nil, engineerr.NewNotFound("step", key)
	}

	timeout := defaultStepTimeout
	if s.config.Timeout > 0 {
		timeout = time.Duration(s.config.Timeout) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.publish(TopicStepStarted, map[string]interface{}{"step": key})

	var result interface{}
	runExecutor := func(spanCtx context.Context) error {
		var execErr error
		result, execErr = s.executor(spanCtx, sctx, options)
		return execErr
	}

	var err error
	if r.tracer != nil {
		err = r.tracer.WrapStep(execCtx, key, runExecutor)
	} else {
		err = runExecutor(execCtx)
	}
	if err != nil {
		reason := err.Error()
		if execCtx.Err() == context.DeadlineExceeded {
			err = engineerr.NewTimeout(key)
			reason = "timeout"
		}
		r.publish(TopicStepFailed, map[string]interface{}{"step": key, "reason": reason})
		getLog().Error().Err(err).Str("step", key).Msg("step execution failed")
		return nil, err
	}

	r.publish(TopicStepCompleted, map[string]interface{}{"step": key, "artifact": result})
	return result, nil
}

// ExecuteSteps runs keys in order, feeding each step's result into
// sctx.Artifacts. A step failure short-circuits the remaining steps unless
// options["continueOnError"] is true.
func (r *Registry) ExecuteSteps(ctx context.Context, sctx *models.StepContext, keys []string, options map[string]interface{}) error {
	continueOnError, _ := options["continueOnError"].(bool)

	var firstErr error
	for _, key := range keys {
		result, err := r.ExecuteStep(ctx, sctx, key, options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !continueOnError {
				return err
			}
			continue
		}
		if result != nil {
			sctx.SetArtifact(key, result)
		}
	}
	return firstErr
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.steps[key]
	return ok
}

func (r *Registry) publish(topic string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, payload)
}
