// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package processor is the Task Processor (C6): a single long-lived worker
// loop that pulls admitted items off the Task Queue Core, resolves their
// workflow, and hands them to the Step Registry for execution.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/stepengine"
	"github.com/stepflow/stepflow/internal/taskqueue"
	"github.com/stepflow/stepflow/internal/workflowdef"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetProcessorLogger()
		log = &l
	})
	return log
}

// Config bundles the processor's tunables.
type Config struct {
	TickInterval  time.Duration
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 200 * time.Millisecond
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// Processor is the single worker loop that pulls admitted queue items and
// runs their workflow steps. Start it once; Stop awaits in-flight items up
// to the configured grace period before signalling cooperative
// cancellation to whatever is still running.
type Processor struct {
	cfg       Config
	queue     *taskqueue.Queue
	workflows *workflowdef.Loader
	steps     *stepengine.Registry
	services  models.ServiceResolver

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New wires a Processor over the already-constructed queue, workflow
// loader, and step registry. services is exposed to every step executor
// as the StepContext's ServiceResolver.
func New(cfg Config, queue *taskqueue.Queue, workflows *workflowdef.Loader, steps *stepengine.Registry, services models.ServiceResolver) *Processor {
	return &Processor{
		cfg:       cfg.withDefaults(),
		queue:     queue,
		workflows: workflows,
		steps:     steps,
		services:  services,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the worker loop in its own goroutine. ctx governs the
// lifetime of every in-flight step execution; cancelling it is equivalent
// to calling Stop with no grace period.
func (p *Processor) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)

	// Every dequeued item's context derives from runCtx, so cancelling it
	// once the grace period is over reaches whatever is still running.
	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.awaitGrace()
			return
		case <-p.stopCh:
			p.awaitGrace()
			return
		case <-ticker.C:
			p.tick(runCtx)
		}
	}
}

// tick sweeps every project the queue knows about, pulling work until that
// project runs out of spare capacity or queued items.
func (p *Processor) tick(ctx context.Context) {
	for _, projectID := range p.queue.ProjectIDs() {
		for {
			item, runCtx, cancel, ok := p.queue.Dequeue(ctx, projectID)
			if !ok {
				break
			}
			p.wg.Add(1)
			go p.execute(runCtx, cancel, item)
		}
	}
}

// awaitGrace waits for in-flight executions to finish on their own, up to
// the configured grace period, then returns; run then cancels the context
// every in-flight execution was derived from. Cancellation is cooperative:
// no goroutine is forcibly terminated.
func (p *Processor) awaitGrace() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		getLog().Warn().Msg("shutdown grace period elapsed with items still running")
	}
}

// Stop stops accepting new pulls and blocks until the worker loop has
// observed the stop signal and waited out its grace period.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Processor) execute(ctx context.Context, cancel context.CancelFunc, item *models.QueueItem) {
	defer p.wg.Done()
	defer cancel()

	workflowID := item.WorkflowID
	if workflowID == "" {
		id, err := p.workflows.WorkflowIDForTaskType(item.TaskMode)
		if err != nil {
			getLog().Error().Err(err).Str("queueItem", item.QueueItemID).Str("taskMode", item.TaskMode).Msg("no workflow mapped for task mode")
			p.queue.Complete(item.ProjectID, item.QueueItemID, err)
			return
		}
		workflowID = id
	}

	def, err := p.workflows.GetWorkflow(workflowID)
	if err != nil {
		getLog().Error().Err(err).Str("queueItem", item.QueueItemID).Str("workflow", workflowID).Msg("failed to resolve workflow")
		p.queue.Complete(item.ProjectID, item.QueueItemID, err)
		return
	}

	sctx := models.NewStepContext(ctx, item.ProjectID, "", item.UserID, item.TaskID, workflowID, p.services, getLog())
	keys := stepKeys(def.Steps)

	getLog().Info().Str("queueItem", item.QueueItemID).Str("workflow", workflowID).Int("steps", len(keys)).Msg("starting workflow execution")

	options := map[string]interface{}(item.Options)
	if options == nil {
		options = map[string]interface{}{}
	}

	err = p.steps.ExecuteSteps(sctx.Context(), sctx, keys, options)
	p.queue.Complete(item.ProjectID, item.QueueItemID, err)
}

// stepKeys derives the registry key for each step in a resolved workflow:
// "<category>.<name>" for namespaced (framework-sourced) steps, bare
// "<name>" for core steps registered without a category.
func stepKeys(steps []models.StepSpec) []string {
	keys := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Category != "" {
			keys = append(keys, s.Category+"."+s.Name)
		} else {
			keys = append(keys, s.Name)
		}
	}
	return keys
}
