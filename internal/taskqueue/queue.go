// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taskqueue is the Task Queue Core (C5): a per-project bounded FIFO
// with priority override, consumed by the Task Processor (C6).
package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/stepflow/stepflow/internal/engineerr"
	"github.com/stepflow/stepflow/internal/eventbus"
	"github.com/stepflow/stepflow/internal/logger"
	"github.com/stepflow/stepflow/internal/models"
	"github.com/stepflow/stepflow/internal/retrypolicy"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetQueueLogger()
		log = &l
	})
	return log
}

// Events published on the bus around queue item lifecycle.
const (
	TopicItemAdded     = "queue:item:added"
	TopicItemUpdated   = "queue:item:updated"
	TopicItemCompleted = "queue:item:completed"
)

// TaskLookup resolves a taskId to its current state so enqueue can reject a
// reference to a missing or already-completed task. A nil TaskLookup skips
// validation entirely (used by callers wiring create-workflows only).
type TaskLookup interface {
	Lookup(taskID string) (*models.Task, error)
}

// Config bundles the queue's tunables; normally sourced from config.QueueConfig.
type Config struct {
	MaxSize                 int
	MaxConcurrentPerProject int
	DefaultTimeout          time.Duration
	MaxRetries              int
	HistorySize             int
	DefaultEstimatedStep    time.Duration
}

// Queue is the Task Queue Core. The zero value is not usable; construct
// with New.
type Queue struct {
	cfg    Config
	bus    *eventbus.Bus
	retry  *retrypolicy.Policy
	lookup TaskLookup

	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	queued  []*models.QueueItem // priority+FIFO ordered "queued" band
	running map[string]*runningEntry
	history []models.QueueItem
}

type runningEntry struct {
	item            *models.QueueItem
	cancel          context.CancelFunc
	cancelRequested bool
}

// New constructs a Queue. bus and lookup may be nil.
func New(cfg Config, bus *eventbus.Bus, lookup TaskLookup) *Queue {
	return &Queue{
		cfg:      cfg,
		bus:      bus,
		retry:    retrypolicy.Default(cfg.MaxRetries),
		lookup:   lookup,
		projects: make(map[string]*projectState),
	}
}

// ProjectIDs returns a snapshot of every project the queue has ever seen an
// item for, in no particular order. The processor uses this to drive its
// per-tick dequeue sweep.
func (q *Queue) ProjectIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.projects))
	for id := range q.projects {
		ids = append(ids, id)
	}
	return ids
}

func (q *Queue) project(projectID string) *projectState {
	p, ok := q.projects[projectID]
	if !ok {
		p = &projectState{running: make(map[string]*runningEntry)}
		q.projects[projectID] = p
	}
	return p
}

// Enqueue admits a new queue item for projectID, validating taskID (when a
// TaskLookup is wired and taskID is non-empty) and the project's size limit.
func (q *Queue) Enqueue(projectID, userID, taskID, taskMode string, priority models.Priority, options models.QueueItemOptions) (*models.EnqueueResult, error) {
	if q.lookup != nil && taskID != "" {
		task, err := q.lookup.Lookup(taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, engineerr.NewNotFound("task", taskID)
		}
		if task.Status == models.TaskStatusCompleted {
			return nil, engineerr.NewValidation("taskId", "task %s is already completed", taskID)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.project(projectID)
	if len(p.queued)+len(p.running) >= q.cfg.MaxSize {
		return nil, engineerr.ErrQueueFull
	}

	item := &models.QueueItem{
		QueueItemID: uuid.NewString(),
		ProjectID:   projectID,
		UserID:      userID,
		TaskID:      taskID,
		TaskMode:    taskMode,
		Priority:    priority,
		Options:     options,
		State:       models.QueueItemQueued,
		EnqueuedAt:  time.Now(),
		MaxAttempts: q.cfg.MaxRetries,
	}

	p.queued = append(p.queued, item)
	sortQueuedBand(p.queued)
	q.assignPositionsLocked(p)

	q.publish(TopicItemAdded, item)
	getLog().Info().Str("project", projectID).Str("queueItem", item.QueueItemID).Msg("task enqueued")

	return &models.EnqueueResult{
		QueueItemID:        item.QueueItemID,
		Position:           item.Position,
		EstimatedStartTime: q.estimateStart(item.Position),
	}, nil
}

func (q *Queue) estimateStart(position int) time.Time {
	step := q.cfg.DefaultEstimatedStep
	if step <= 0 {
		step = 3 * time.Minute
	}
	if position <= 0 {
		return time.Now()
	}
	return time.Now().Add(time.Duration(position) * step)
}

// sortQueuedBand orders the queued band by priority (descending) then
// enqueuedAt (ascending FIFO), leaving paused items in place relative to
// their band: a paused item still occupies a queue position rather than
// being set aside.
func sortQueuedBand(items []*models.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
}

func (q *Queue) assignPositionsLocked(p *projectState) {
	for i, item := range p.queued {
		item.Position = i + 1
	}
	for _, entry := range p.running {
		entry.item.Position = 0
	}
}

// Status returns a snapshot of active, queued, and history items.
func (q *Queue) Status(projectID string) models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.projects[projectID]
	if !ok {
		return models.QueueStatus{}
	}

	active := make([]models.QueueItem, 0, len(p.running))
	for _, entry := range p.running {
		active = append(active, *entry.item)
	}
	queued := make([]models.QueueItem, 0, len(p.queued))
	for _, item := range p.queued {
		queued = append(queued, *item)
	}
	history := append([]models.QueueItem{}, p.history...)

	return models.QueueStatus{Active: active, Queued: queued, History: history}
}

// Pause toggles a queued item to paused; it keeps its position in the band.
func (q *Queue) Pause(projectID, queueItemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.project(projectID)
	item, ok := findQueued(p.queued, queueItemID)
	if !ok {
		return engineerr.NewNotFound("queueItem", queueItemID)
	}
	if item.State != models.QueueItemQueued {
		return engineerr.NewConflict("queue item %s is not queued", queueItemID)
	}
	item.State = models.QueueItemPaused
	q.publish(TopicItemUpdated, item)
	return nil
}

// Resume toggles a paused item back to queued.
func (q *Queue) Resume(projectID, queueItemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.project(projectID)
	item, ok := findQueued(p.queued, queueItemID)
	if !ok {
		return engineerr.NewNotFound("queueItem", queueItemID)
	}
	if item.State != models.QueueItemPaused {
		return engineerr.NewConflict("queue item %s is not paused", queueItemID)
	}
	item.State = models.QueueItemQueued
	q.publish(TopicItemUpdated, item)
	return nil
}

// Cancel removes a queued item, or requests cooperative cancellation if it
// is already running.
func (q *Queue) Cancel(projectID, queueItemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.project(projectID)

	if entry, ok := p.running[queueItemID]; ok {
		entry.cancelRequested = true
		entry.cancel()
		return nil
	}

	if item, idx, ok := indexQueued(p.queued, queueItemID); ok {
		item.State = models.QueueItemCancelled
		finished := time.Now()
		item.FinishedAt = &finished
		p.queued = append(p.queued[:idx], p.queued[idx+1:]...)
		q.assignPositionsLocked(p)
		q.appendHistoryLocked(p, *item)
		q.publish(TopicItemCompleted, item)
		return nil
	}

	return engineerr.NewNotFound("queueItem", queueItemID)
}

// Reorder re-slots queueItemID to newPosition (1-indexed) within the queued
// band.
func (q *Queue) Reorder(projectID, queueItemID string, newPosition int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.project(projectID)

	item, idx, ok := indexQueued(p.queued, queueItemID)
	if !ok {
		return engineerr.NewNotFound("queueItem", queueItemID)
	}
	p.queued = append(p.queued[:idx], p.queued[idx+1:]...)

	if newPosition < 1 {
		newPosition = 1
	}
	if newPosition > len(p.queued)+1 {
		newPosition = len(p.queued) + 1
	}
	insertAt := newPosition - 1

	p.queued = append(p.queued, nil)
	copy(p.queued[insertAt+1:], p.queued[insertAt:])
	p.queued[insertAt] = item

	q.assignPositionsLocked(p)
	q.publish(TopicItemUpdated, item)
	return nil
}

// Bulk applies op to every id, reporting a per-id outcome rather than
// failing the whole batch on the first error.
func (q *Queue) Bulk(projectID string, op models.BulkOp, queueItemIDs []string) []models.BulkOutcome {
	outcomes := make([]models.BulkOutcome, 0, len(queueItemIDs))
	for _, id := range queueItemIDs {
		var err error
		switch op {
		case models.BulkOpPause:
			err = q.Pause(projectID, id)
		case models.BulkOpResume:
			err = q.Resume(projectID, id)
		case models.BulkOpCancel:
			err = q.Cancel(projectID, id)
		default:
			err = engineerr.NewValidation("op", "unsupported bulk op: %s", op)
		}
		outcomes = append(outcomes, models.BulkOutcome{QueueItemID: id, Err: err})
	}
	return outcomes
}

// Dequeue is used by the Task Processor: it pulls the highest-priority
// non-paused queued item for projectID if the project has spare capacity,
// and marks it running.
func (q *Queue) Dequeue(ctx context.Context, projectID string) (*models.QueueItem, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.project(projectID)
	capacity := q.cfg.MaxConcurrentPerProject
	if capacity <= 0 {
		capacity = 3
	}
	if len(p.running) >= capacity {
		return nil, nil, nil, false
	}

	idx := lo.IndexOf(lo.Map(p.queued, func(it *models.QueueItem, _ int) bool {
		return it.State == models.QueueItemQueued
	}), true)
	if idx < 0 {
		return nil, nil, nil, false
	}

	item := p.queued[idx]
	p.queued = append(p.queued[:idx], p.queued[idx+1:]...)
	q.assignPositionsLocked(p)

	item.State = models.QueueItemRunning
	item.Attempts++
	now := time.Now()
	item.StartedAt = &now
	item.Position = 0

	runCtx, cancel := context.WithCancel(ctx)
	p.running[item.QueueItemID] = &runningEntry{item: item, cancel: cancel}

	q.publish(TopicItemUpdated, item)
	return item, runCtx, cancel, true
}

// Complete records the outcome of a running item. On failure with attempts
// remaining under the retry policy it is reinserted at the tail of its
// priority band; otherwise it is moved to terminal state in history.
func (q *Queue) Complete(projectID, queueItemID string, runErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.project(projectID)
	entry, ok := p.running[queueItemID]
	if !ok {
		return
	}
	delete(p.running, queueItemID)
	item := entry.item
	now := time.Now()
	item.FinishedAt = &now

	if entry.cancelRequested {
		item.State = models.QueueItemCancelled
		item.FailReason = ""
		q.appendHistoryLocked(p, *item)
		q.publish(TopicItemCompleted, item)
		return
	}

	if runErr == nil {
		item.State = models.QueueItemCompleted
		q.appendHistoryLocked(p, *item)
		q.publish(TopicItemCompleted, item)
		return
	}

	if q.retry.ShouldRetry(item.Attempts, runErr) {
		item.State = models.QueueItemQueued
		item.FinishedAt = nil
		item.StartedAt = nil
		item.FailReason = runErr.Error()
		delay := q.retry.DelayFor(item.Attempts)
		getLog().Warn().Str("queueItem", queueItemID).Err(runErr).Int("attempts", item.Attempts).Dur("delay", delay).Msg("retrying failed queue item")
		go q.requeueAfterDelay(projectID, item, delay)
		return
	}

	item.State = models.QueueItemFailed
	item.FailReason = runErr.Error()
	q.appendHistoryLocked(p, *item)
	q.publish(TopicItemCompleted, item)
}

// requeueAfterDelay waits out the retry policy's backoff delay, then
// reinserts item at the tail of its priority band. It runs detached from
// Complete's caller so a retry's backoff never blocks the processor.
func (q *Queue) requeueAfterDelay(projectID string, item *models.QueueItem, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item.EnqueuedAt = time.Now()
	p := q.project(projectID)
	p.queued = append(p.queued, item)
	sortQueuedBand(p.queued)
	q.assignPositionsLocked(p)
	q.publish(TopicItemUpdated, item)
}

func (q *Queue) appendHistoryLocked(p *projectState, item models.QueueItem) {
	item.Position = -1
	limit := q.cfg.HistorySize
	if limit <= 0 {
		limit = 200
	}
	p.history = append(p.history, item)
	if len(p.history) > limit {
		p.history = p.history[len(p.history)-limit:]
	}
}

func (q *Queue) publish(topic string, item *models.QueueItem) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(topic, *item)
}

func findQueued(items []*models.QueueItem, id string) (*models.QueueItem, bool) {
	item, _, ok := indexQueued(items, id)
	return item, ok
}

func indexQueued(items []*models.QueueItem, id string) (*models.QueueItem, int, bool) {
	for i, item := range items {
		if item.QueueItemID == id {
			return item, i, true
		}
	}
	return nil, -1, false
}
