// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package svcregistry is the service container (C2): a registry of
// lazily-constructed singletons with a typed dependency graph, cycle
// detection, lifecycle hooks, and a project context view shared by every
// resolved service.
package svcregistry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetSvcRegistryLogger()
		log = &l
	})
	return log
}

// Factory constructs a named service given its already-resolved
// dependencies, looked up by name in the same order as Dependencies.
type Factory func(resolved map[string]interface{}) (interface{}, error)

// Lifecycle hooks, invoked by StartAllServices/StopAllServices if a
// constructed instance implements them.
type starter interface{ OnStart() error }
type stopper interface{ OnStop() error }

type registration struct {
	name         string
	singleton    bool
	dependencies []string
	factory      Factory
}

// Container is the concrete service container. The zero value is not
// usable; construct with New.
type Container struct {
	mu          sync.Mutex
	registry    map[string]*registration
	instances   map[string]interface{}
	constructed map[string]*sync.Once

	ctxMu   sync.RWMutex
	project ProjectContext
}

// ProjectContext is the read-only view every service may consult.
type ProjectContext struct {
	ProjectPath   string
	ProjectID     string
	WorkspacePath string
}

// New constructs an empty Container.
func New() *Container {
	return &Container{
		registry:    make(map[string]*registration),
		instances:   make(map[string]interface{}),
		constructed: make(map[string]*sync.Once),
	}
}

// Register adds a named factory. singleton controls whether Resolve caches
// the constructed instance; dependencies are resolved depth-first before
// factory is invoked.
func (c *Container) Register(name string, singleton bool, dependencies []string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[name] = &registration{
		name:         name,
		singleton:    singleton,
		dependencies: dependencies,
		factory:      factory,
	}
	c.constructed[name] = &sync.Once{}
}

// Resolve returns the singleton instance if already constructed, otherwise
// invokes the factory with its resolved dependencies.
func (c *Container) Resolve(name string) (interface{}, error) {
	return c.resolve(name, nil)
}

func (c *Container) resolve(name string, chain []string) (interface{}, error) {
	for _, n := range chain {
		if n == name {
			return nil, engineerr.NewDependencyCycle(append(append([]string{}, chain...), name))
		}
	}

	c.mu.Lock()
	reg, ok := c.registry[name]
	if !ok {
		c.mu.Unlock()
		return nil, engineerr.NewDependencyNotFound(name, append(append([]string{}, chain...), name))
	}
	if reg.singleton {
		if inst, ok := c.instances[name]; ok {
			c.mu.Unlock()
			return inst, nil
		}
	}
	once := c.constructed[name]
	if !reg.singleton {
		// A non-singleton is constructed on every Resolve.
		once = &sync.Once{}
	}
	c.mu.Unlock()

	var inst interface{}
	var constructErr error
	once.Do(func() {
		resolved := make(map[string]interface{}, len(reg.dependencies))
		nextChain := append(append([]string{}, chain...), name)
		for _, dep := range reg.dependencies {
			depInst, err := c.resolve(dep, nextChain)
			if err != nil {
				constructErr = err
				return
			}
			resolved[dep] = depInst
		}

		built, err := reg.factory(resolved)
		if err != nil {
			constructErr = engineerr.NewDependencyConstructionFailed(name, err)
			return
		}
		inst = built

		if reg.singleton {
			c.mu.Lock()
			c.instances[name] = built
			c.mu.Unlock()
		}
	})

	if constructErr != nil {
		// Allow retry on a later Resolve call after a construction failure
		// by replacing the guard; a permanently-poisoned Once would wedge
		// every future resolve attempt.
		c.mu.Lock()
		c.constructed[name] = &sync.Once{}
		c.mu.Unlock()
		return nil, constructErr
	}

	if inst == nil {
		// Singleton path: another goroutine already constructed it.
		c.mu.Lock()
		inst = c.instances[name]
		c.mu.Unlock()
	}

	return inst, nil
}

// ValidateDependencies performs a dry walk of the declared-dependency graph
// for every registered name without constructing anything, catching missing
// dependencies and cycles at startup rather than at first use.
func (c *Container) ValidateDependencies() error {
	c.mu.Lock()
	names := make([]string, 0, len(c.registry))
	for n := range c.registry {
		names = append(names, n)
	}
	sort.Strings(names)
	c.mu.Unlock()

	for _, name := range names {
		if err := c.validateWalk(name, nil, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) validateWalk(name string, chain []string, visiting map[string]bool) error {
	if visiting[name] {
		return engineerr.NewDependencyCycle(append(append([]string{}, chain...), name))
	}

	c.mu.Lock()
	reg, ok := c.registry[name]
	c.mu.Unlock()
	if !ok {
		return engineerr.NewDependencyNotFound(name, append(append([]string{}, chain...), name))
	}

	visiting[name] = true
	defer delete(visiting, name)

	nextChain := append(append([]string{}, chain...), name)
	for _, dep := range reg.dependencies {
		if err := c.validateWalk(dep, nextChain, visiting); err != nil {
			return err
		}
	}
	return nil
}

// StartAllServices constructs every registered singleton (in sorted name
// order) and invokes OnStart on any that implement it. It never returns
// early on a single failure; callers receive the full map of name→error and
// decide fatal-ness themselves.
func (c *Container) StartAllServices() map[string]error {
	c.mu.Lock()
	names := make([]string, 0, len(c.registry))
	for n, reg := range c.registry {
		if reg.singleton {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	c.mu.Unlock()

	failed := make(map[string]error)
	for _, name := range names {
		inst, err := c.Resolve(name)
		if err != nil {
			failed[name] = err
			getLog().Error().Err(err).Str("service", name).Msg("failed to construct service")
			continue
		}
		if s, ok := inst.(starter); ok {
			if err := s.OnStart(); err != nil {
				failed[name] = err
				getLog().Error().Err(err).Str("service", name).Msg("service OnStart failed")
			}
		}
	}
	return failed
}

// StopAllServices invokes OnStop on every currently-constructed singleton
// that implements it, collecting (not raising) failures.
func (c *Container) StopAllServices() map[string]error {
	c.mu.Lock()
	instances := make(map[string]interface{}, len(c.instances))
	for n, inst := range c.instances {
		instances[n] = inst
	}
	c.mu.Unlock()

	names := make([]string, 0, len(instances))
	for n := range instances {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := make(map[string]error)
	for _, name := range names {
		if s, ok := instances[name].(stopper); ok {
			if err := s.OnStop(); err != nil {
				failed[name] = err
				getLog().Error().Err(err).Str("service", name).Msg("service OnStop failed")
			}
		}
	}
	return failed
}

// ProjectContext returns the current project context view.
func (c *Container) ProjectContext() ProjectContext {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.project
}

// SetProjectContext merges patch into the current project context. Empty
// fields in patch leave the existing value untouched.
func (c *Container) SetProjectContext(patch ProjectContext) {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	if patch.ProjectPath != "" {
		c.project.ProjectPath = patch.ProjectPath
	}
	if patch.ProjectID != "" {
		c.project.ProjectID = patch.ProjectID
	}
	if patch.WorkspacePath != "" {
		c.project.WorkspacePath = patch.WorkspacePath
	}
}
