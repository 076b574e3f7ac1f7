// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analysisqueue is the Analysis Queue (C7): a per-project,
// memory-budgeted queue for long-running project analyses. It is a
// specialized cousin of taskqueue, separated out because its resource
// profile — large heaps, sequential type-by-type execution, progressive
// degradation under memory pressure — is nothing like a regular workflow
// step.
package analysisqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
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
		l := logger.GetAnalysisLogger()
		log = &l
	})
	return log
}

// Events published on the bus around analysis job lifecycle.
const (
	TopicJobQueued    = "analysis:job:queued"
	TopicJobStarted   = "analysis:job:started"
	TopicTypeProgress = "analysis:type:progress"
	TopicJobFinished  = "analysis:job:finished"
)

// defaultTimeouts is the per-analysis-type timeout table. Types absent from
// the table fall back to Config.DefaultTimeout.
var defaultTimeouts = map[models.AnalysisType]time.Duration{
	models.AnalysisCodeQuality:  2 * time.Minute,
	models.AnalysisSecurity:     3 * time.Minute,
	models.AnalysisPerformance:  4 * time.Minute,
	models.AnalysisArchitecture: 5 * time.Minute,
}

// Config bundles the queue's tunables; normally sourced from
// config.AnalysisConfig.
type Config struct {
	MemoryBudgetMB           int64
	DegradeThresholdFraction float64
	DefaultTimeout           time.Duration
	StreamingBatchSize       int
	MaxFileSizeMB            int64
	MaxDirectoryDepth        int
	Exclusions               []string
	MaxConcurrentPerProject  int
}

func (c Config) withDefaults() Config {
	if c.MemoryBudgetMB <= 0 {
		c.MemoryBudgetMB = 512
	}
	if c.DegradeThresholdFraction <= 0 {
		c.DegradeThresholdFraction = 0.8
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.StreamingBatchSize <= 0 {
		c.StreamingBatchSize = 100
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 10
	}
	if c.MaxDirectoryDepth <= 0 {
		c.MaxDirectoryDepth = 8
	}
	if len(c.Exclusions) == 0 {
		c.Exclusions = []string{"node_modules", ".git", "dist", "build", "coverage"}
	}
	if c.MaxConcurrentPerProject <= 0 {
		c.MaxConcurrentPerProject = 3
	}
	return c
}

// TypeExecutor produces the result for one analysis type against
// projectPath. emit is called with whatever incremental data the executor
// wants streamed out (e.g. one per scanned batch); it is safe to call emit
// any number of times, including zero.
type TypeExecutor func(ctx context.Context, projectPath string, opts ExecOptions, emit func(partial interface{})) (interface{}, error)

// ExecOptions carries the progressive-degradation knobs an executor must
// respect. The queue builds a fresh copy for each type from the current
// degradation state, so a batch size reduced before a type starts is seen
// by that type; the value does not change while the executor runs.
type ExecOptions struct {
	StreamingBatchSize int
	Options            map[string]interface{}
}

// Queue is the Analysis Queue. The zero value is not usable; construct
// with New.
type Queue struct {
	cfg       Config
	bus       *eventbus.Bus
	executors map[models.AnalysisType]TypeExecutor
	tracer    *telemetry.Provider

	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	queued  []*models.AnalysisJob
	running map[string]*models.AnalysisJob
	history []models.AnalysisJob
}

// New constructs a Queue. executors maps each supported AnalysisType to the
// function that carries it out; a type requested but absent from the map
// is recorded as an incomplete result with reason "cancelled", which stops
// the job's remaining types and leaves the job in the partial state.
func New(cfg Config, bus *eventbus.Bus, executors map[models.AnalysisType]TypeExecutor) *Queue {
	return &Queue{
		cfg:       cfg.withDefaults(),
		bus:       bus,
		executors: executors,
		projects:  make(map[string]*projectState),
	}
}

// WithTracer attaches a telemetry provider that wraps every analysis-type
// execution in a span. Returns the Queue for chaining at construction time.
func (q *Queue) WithTracer(tracer *telemetry.Provider) *Queue {
	q.tracer = tracer
	return q
}

func (q *Queue) project(projectID string) *projectState {
	p, ok := q.projects[projectID]
	if !ok {
		p = &projectState{running: make(map[string]*models.AnalysisJob)}
		q.projects[projectID] = p
	}
	return p
}

// Submission is returned by ProcessAnalysisRequest.
type Submission struct {
	JobID             string
	Status            models.AnalysisState
	Position          int
	EstimatedWaitTime time.Time
}

// ProcessAnalysisRequest admits a new analysis job for projectID. If the
// project already has MaxConcurrentPerProject analyses running it is
// enqueued and returned with status "queued"; otherwise it is started
// immediately in its own goroutine.
func (q *Queue) ProcessAnalysisRequest(ctx context.Context, projectID, projectPath string, types []models.AnalysisType, options map[string]interface{}) (*Submission, error) {
	if len(types) == 0 {
		return nil, engineerr.NewValidation("analysisTypes", "at least one analysis type is required")
	}

	job := &models.AnalysisJob{
		JobID:             uuid.NewString(),
		ProjectID:         projectID,
		AnalysisTypes:     types,
		State:             models.AnalysisStateQueued,
		MemoryBudgetBytes: q.cfg.MemoryBudgetMB * 1024 * 1024,
		Progress:          make(map[models.AnalysisType]float64, len(types)),
		Results:           make(map[models.AnalysisType]models.AnalysisTypeResult, len(types)),
		EnqueuedAt:        time.Now(),
	}

	q.mu.Lock()
	p := q.project(projectID)

	if len(p.running) >= q.cfg.MaxConcurrentPerProject {
		job.Position = len(p.queued) + 1
		p.queued = append(p.queued, job)
		q.mu.Unlock()

		q.publish(TopicJobQueued, job)
		getLog().Info().Str("project", projectID).Str("job", job.JobID).Msg("analysis enqueued")
		return &Submission{JobID: job.JobID, Status: models.AnalysisStateQueued, Position: job.Position, EstimatedWaitTime: q.estimateWait(job.Position)}, nil
	}

	p.running[job.JobID] = job
	job.State = models.AnalysisStateRunning
	started := time.Now()
	job.StartedAt = &started
	q.mu.Unlock()

	q.publish(TopicJobStarted, job)
	go q.run(ctx, job, projectPath, options)

	return &Submission{JobID: job.JobID, Status: models.AnalysisStateRunning, Position: 0}, nil
}

func (q *Queue) estimateWait(position int) time.Time {
	if position <= 0 {
		return time.Now()
	}
	return time.Now().Add(time.Duration(position) * q.cfg.DefaultTimeout)
}

// run executes every requested analysis type sequentially, then retires the
// job and pulls the next queued job for the same project (if any).
func (q *Queue) run(ctx context.Context, job *models.AnalysisJob, projectPath string, options map[string]interface{}) {
	degrade := &degradationState{
		threshold:  q.cfg.DegradeThresholdFraction,
		batchSize:  q.cfg.StreamingBatchSize,
		budgetByte: job.MemoryBudgetBytes,
	}

	for _, typ := range job.AnalysisTypes {
		result := q.runType(ctx, job, typ, projectPath, options, degrade)
		q.mu.Lock()
		job.Results[typ] = result
		if !result.Completed && job.Reason == "" {
			job.Reason = result.Reason
		}
		q.mu.Unlock()

		if result.Reason == models.PartialReasonCancelled {
			break
		}
	}

	q.finish(job)
	q.advance(ctx, job.ProjectID)
}

func (q *Queue) runType(ctx context.Context, job *models.AnalysisJob, typ models.AnalysisType, projectPath string, options map[string]interface{}, degrade *degradationState) models.AnalysisTypeResult {
	executor, ok := q.executors[typ]
	if !ok {
		return models.AnalysisTypeResult{Type: typ, Completed: false, Reason: models.PartialReasonCancelled}
	}

	degrade.checkAndAdjust(getLog())

	timeout, ok := defaultTimeouts[typ]
	if !ok {
		timeout = q.cfg.DefaultTimeout
	}
	typeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	emit := func(partial interface{}) {
		q.publish(TopicTypeProgress, analysisProgress{JobID: job.JobID, Type: typ, Partial: partial})
	}

	opts := ExecOptions{StreamingBatchSize: degrade.batchSize, Options: options}

	var data interface{}
	runExecutor := func(spanCtx context.Context) error {
		var execErr error
		data, execErr = executor(spanCtx, projectPath, opts, emit)
		return execErr
	}

	var err error
	if q.tracer != nil {
		err = q.tracer.WrapAnalysisType(typeCtx, string(typ), runExecutor)
	} else {
		err = runExecutor(typeCtx)
	}
	if err == nil {
		return models.AnalysisTypeResult{Type: typ, Completed: true, Data: data}
	}

	reason := models.PartialReasonCancelled
	switch {
	case typeCtx.Err() == context.DeadlineExceeded:
		reason = models.PartialReasonTimeout
	case degrade.exceeded:
		reason = models.PartialReasonMemory
	}

	getLog().Warn().Str("job", job.JobID).Str("type", string(typ)).Err(err).Str("reason", string(reason)).Msg("analysis type ended partial")
	return models.AnalysisTypeResult{Type: typ, Completed: false, Data: data, Reason: reason}
}

func (q *Queue) finish(job *models.AnalysisJob) {
	q.mu.Lock()
	p := q.project(job.ProjectID)
	delete(p.running, job.JobID)

	now := time.Now()
	job.FinishedAt = &now
	if job.Reason != "" {
		job.State = models.AnalysisStatePartial
	} else {
		job.State = models.AnalysisStateCompleted
	}
	job.Position = -1
	p.history = append(p.history, *job)
	q.mu.Unlock()

	q.publish(TopicJobFinished, job)
	getLog().Info().Str("project", job.ProjectID).Str("job", job.JobID).Str("state", string(job.State)).Msg("analysis job finished")
}

// advance pulls the next queued job for projectID, if capacity allows, and
// starts it. Called after a running job retires.
func (q *Queue) advance(ctx context.Context, projectID string) {
	q.mu.Lock()
	p := q.project(projectID)
	if len(p.queued) == 0 || len(p.running) >= q.cfg.MaxConcurrentPerProject {
		q.mu.Unlock()
		return
	}
	job := p.queued[0]
	p.queued = p.queued[1:]
	for i, qd := range p.queued {
		qd.Position = i + 1
	}
	p.running[job.JobID] = job
	job.State = models.AnalysisStateRunning
	started := time.Now()
	job.StartedAt = &started
	q.mu.Unlock()

	q.publish(TopicJobStarted, job)
	go q.run(ctx, job, "", nil)
}

// Status returns a snapshot of running, queued, and finished jobs for
// projectID.
func (q *Queue) Status(projectID string) (running, queued, history []models.AnalysisJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.projects[projectID]
	if !ok {
		return nil, nil, nil
	}
	for _, job := range p.running {
		running = append(running, *job)
	}
	for _, job := range p.queued {
		queued = append(queued, *job)
	}
	history = append(history, p.history...)
	return running, queued, history
}

func (q *Queue) publish(topic string, payload interface{}) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(topic, payload)
}

type analysisProgress struct {
	JobID   string
	Type    models.AnalysisType
	Partial interface{}
}
