package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/mpcrawl/internal/classifier"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/fingerprint"
	"github.com/timmy/mpcrawl/internal/logger"
	"github.com/timmy/mpcrawl/internal/metrics"
	"github.com/timmy/mpcrawl/internal/pipeline"
)

// ErrShuttingDown is returned by StartTask after Shutdown was called.
var ErrShuttingDown = errors.New("task manager is shutting down")

// ArticleStorage is where accepted articles end up.
type ArticleStorage interface {
	Persist(ctx context.Context, a *domain.Article) error
	Exists(ctx context.Context, url string) (bool, error)
	UpdateStats(ctx context.Context, url string, stats domain.ArticleStats) error
}

// TaskStore keeps an audit copy of every task transition.
type TaskStore interface {
	Save(ctx context.Context, task *domain.Task) error
}

// PageArchiver stores the raw page of an accepted article and returns its key.
type PageArchiver interface {
	Archive(ctx context.Context, raw []byte) (string, error)
}

// EventPublisher receives progress events. It must not block.
type EventPublisher interface {
	Publish(ev domain.ProgressEvent)
}

// TaskManagerDeps wires the collaborators of a TaskManager. Pipeline,
// Storage and Events are required; the rest are optional.
type TaskManagerDeps struct {
	Pipeline     *pipeline.Pipeline
	Storage      ArticleStorage
	Fingerprints fingerprint.Store
	Classifier   classifier.Classifier
	Events       EventPublisher
	Archive      PageArchiver
	Tasks        TaskStore
	Metrics      *metrics.Metrics
}

// TaskManager owns the lifecycle of crawl tasks. It keeps at most one active
// task per account and runs each task in its own goroutine.
type TaskManager struct {
	pipeline     *pipeline.Pipeline
	storage      ArticleStorage
	fingerprints fingerprint.Store
	classifier   classifier.Classifier
	events       EventPublisher
	archive      PageArchiver
	tasks        TaskStore
	metrics      *metrics.Metrics
	keys         *keyedMutex

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*taskRun
	order  []string          // task IDs in creation order
	active map[string]string // account -> task ID
	closed bool
}

// taskRun is the manager's bookkeeping for one task. task and the control
// fields are guarded by TaskManager.mu; seq belongs to the run goroutine.
type taskRun struct {
	task     domain.Task
	cancel   context.CancelFunc
	done     chan struct{}
	resume   chan struct{} // non-nil while a pause is requested
	stopping bool

	seq uint64
}

// NewTaskManager creates a TaskManager.
func NewTaskManager(deps TaskManagerDeps) *TaskManager {
	if deps.Fingerprints == nil {
		deps.Fingerprints = fingerprint.NewMemoryStore()
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.NewDefault()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TaskManager{
		pipeline:     deps.Pipeline,
		storage:      deps.Storage,
		fingerprints: deps.Fingerprints,
		classifier:   deps.Classifier,
		events:       deps.Events,
		archive:      deps.Archive,
		tasks:        deps.Tasks,
		metrics:      deps.Metrics,
		keys:         newKeyedMutex(),
		baseCtx:      ctx,
		baseCancel:   cancel,
		runs:         make(map[string]*taskRun),
		active:       make(map[string]string),
	}
}

// StartTask creates a queued task for account and schedules it.
// Parameters:
//   - ctx: request context; only its logger is carried into the task.
//   - account: account name as known on the platform.
//   - opts: task options; zero counters take their defaults.
//
// Returns:
//   - string: the new task ID.
//   - error: *domain.ConfigError for bad input, *domain.ConflictError when the
//     account already has an active task.
func (m *TaskManager) StartTask(ctx context.Context, account string, opts domain.TaskOptions) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", &domain.ConfigError{Field: "account", Reason: "must not be empty"}
	}
	opts, err := opts.Normalize()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if id, ok := m.active[account]; ok {
		m.mu.Unlock()
		return "", &domain.ConflictError{Account: account, TaskID: id}
	}

	now := time.Now()
	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(m.baseCtx)
	r := &taskRun{
		task: domain.Task{
			ID:          id,
			AccountName: account,
			Status:      domain.TaskStatusQueued,
			Options:     opts,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.runs[id] = r
	m.order = append(m.order, id)
	m.active[account] = id
	m.wg.Add(1)
	m.mu.Unlock()

	log := logger.FromContext(ctx)
	runCtx = logger.SetTask(log.WithContext(runCtx), id, account)
	runCtx = logger.SetComponent(runCtx, "task_manager")

	m.metrics.TaskStarted()
	logger.CtxInfo(runCtx, "task queued")

	go m.run(runCtx, r)
	return id, nil
}

// StopTask cancels a queued, running or paused task. The task turns
// Cancelled once its run loop observes the cancellation; Wait blocks until
// then. Stopping a task twice before that is not an error.
func (m *TaskManager) StopTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok || !r.task.Active() {
		return &domain.NotFoundError{Resource: "active task", ID: id}
	}
	if r.stopping {
		return nil
	}
	r.stopping = true
	r.cancel()
	return nil
}

// PauseTask asks a running task to stop pulling items after the current one.
func (m *TaskManager) PauseTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok || !r.task.Active() {
		return &domain.NotFoundError{Resource: "active task", ID: id}
	}
	if r.task.Status != domain.TaskStatusRunning || r.stopping {
		return fmt.Errorf("pause task in status %s: %w", r.task.Status, domain.ErrInvalidTransition)
	}
	r.task.Status = domain.TaskStatusPaused
	r.task.UpdatedAt = time.Now()
	r.resume = make(chan struct{})
	return nil
}

// ResumeTask continues a paused task.
func (m *TaskManager) ResumeTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok || !r.task.Active() {
		return &domain.NotFoundError{Resource: "active task", ID: id}
	}
	if r.task.Status != domain.TaskStatusPaused || r.stopping {
		return fmt.Errorf("resume task in status %s: %w", r.task.Status, domain.ErrInvalidTransition)
	}
	r.task.Status = domain.TaskStatusRunning
	r.task.UpdatedAt = time.Now()
	close(r.resume)
	r.resume = nil
	return nil
}

// GetTask returns a copy of the task.
func (m *TaskManager) GetTask(id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Resource: "task", ID: id}
	}
	return r.snapshot(), nil
}

// ListTasks returns copies of the tasks matching filter in creation order.
func (m *TaskManager) ListTasks(filter domain.TaskFilter) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Task, 0, len(m.order))
	for _, id := range m.order {
		t := m.runs[id].snapshot()
		if !filter.Match(t) {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Wait blocks until the task is terminal or ctx is done and returns the
// task as last seen.
func (m *TaskManager) Wait(ctx context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	r, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Resource: "task", ID: id}
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		t, _ := m.GetTask(id)
		return t, ctx.Err()
	}
	return m.GetTask(id)
}

// Shutdown cancels every active task, refuses new ones and waits for the run
// loops to exit or ctx to expire.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, r := range m.runs {
		if r.task.Active() {
			r.stopping = true
		}
	}
	m.mu.Unlock()
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *taskRun) snapshot() domain.Task {
	t := r.task
	if t.LastError != nil {
		msg := *t.LastError
		t.LastError = &msg
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		t.StartedAt = &at
	}
	if t.EndedAt != nil {
		at := *t.EndedAt
		t.EndedAt = &at
	}
	return t
}

// itemOutcome is what happened to one article.
type itemOutcome int

const (
	outcomeProcessed itemOutcome = iota
	outcomeDuplicate
)

// run drives one task from Queued to a terminal state.
func (m *TaskManager) run(ctx context.Context, r *taskRun) {
	defer m.wg.Done()
	defer close(r.done)
	defer r.cancel()

	m.save(ctx, r)
	if ctx.Err() != nil {
		m.finish(ctx, r, domain.TaskStatusCancelled, nil)
		return
	}

	m.mu.Lock()
	now := time.Now()
	r.task.Status = domain.TaskStatusRunning
	r.task.StartedAt = &now
	r.task.UpdatedAt = now
	opts := r.task.Options
	account := r.task.AccountName
	m.mu.Unlock()

	m.save(ctx, r)
	m.publish(r, domain.EventTaskStarted, m.counters(r, domain.EventPayload{}))
	logger.CtxInfo(ctx, "task started")

	keyer := fingerprint.NewKeyer(opts.FingerprintPolicy)
	stream := m.pipeline.Stream(ctx, account, pipeline.OptionsFrom(opts))
	defer stream.Close()

	consecutive := 0
	for {
		if ctx.Err() != nil || !m.waitIfPaused(ctx, r) {
			m.finish(ctx, r, domain.TaskStatusCancelled, nil)
			return
		}

		item, ok := stream.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				m.finish(ctx, r, domain.TaskStatusCancelled, nil)
			} else {
				m.finish(ctx, r, domain.TaskStatusCompleted, nil)
			}
			return
		}
		if ctx.Err() != nil {
			// Items that raced with the cancellation are not processed.
			m.finish(ctx, r, domain.TaskStatusCancelled, nil)
			return
		}

		switch item.Kind {
		case pipeline.ItemFatal:
			m.mu.Lock()
			r.task.ErrorCount++
			m.mu.Unlock()
			m.metrics.Item("failed")
			m.finish(ctx, r, domain.TaskStatusFailed, item.Err)
			return

		case pipeline.ItemFailure:
			consecutive++
			m.metrics.Item("failed")
			payload := m.counters(r, domain.EventPayload{URL: item.URL, Error: item.Err.Error()}, func(t *domain.Task) {
				t.ErrorCount++
			})
			logger.FromContext(ctx).WithError(item.Err).WithField(logger.FieldURL, item.URL).Warn("item failed")
			m.publish(r, domain.EventItemFailed, payload)
			if consecutive >= opts.MaxRetries {
				m.finish(ctx, r, domain.TaskStatusFailed,
					fmt.Errorf("giving up after %d consecutive failures: %w", consecutive, item.Err))
				return
			}

		case pipeline.ItemArticle:
			consecutive = 0
			outcome, err := m.handleArticle(ctx, keyer, opts, item)
			if err != nil {
				m.finish(ctx, r, domain.TaskStatusFailed, err)
				return
			}
			payload := domain.EventPayload{Title: item.Article.Title, URL: item.Article.URL, Category: item.Article.Category}
			if outcome == outcomeDuplicate {
				m.metrics.Item("duplicate")
				m.publish(r, domain.EventItemDuplicate, m.counters(r, payload, func(t *domain.Task) {
					t.DuplicateCount++
				}))
			} else {
				m.metrics.Item("processed")
				m.publish(r, domain.EventItemProcessed, m.counters(r, payload, func(t *domain.Task) {
					t.ProcessedCount++
				}))
			}
		}
	}
}

// handleArticle deduplicates, classifies, archives and persists one article.
// The returned error is a storage failure that ends the task.
func (m *TaskManager) handleArticle(ctx context.Context, keyer *fingerprint.Keyer, opts domain.TaskOptions, item pipeline.Item) (itemOutcome, error) {
	a := item.Article
	keys := keyer.Keys(a)
	a.Fingerprint = fingerprint.Digest(keys[0])

	unlock := m.keys.Lock(keys...)
	defer unlock()

	// The item in hand is finished even if the task is stopped meanwhile.
	storeCtx := context.WithoutCancel(ctx)

	seen, err := m.anySeen(storeCtx, keys)
	if err != nil {
		return 0, err
	}
	if seen {
		return outcomeDuplicate, m.refresh(storeCtx, opts, a)
	}

	exists, err := m.storage.Exists(storeCtx, a.URL)
	if err != nil {
		return 0, asStorageError("check article", err)
	}
	if exists {
		if err := m.refresh(storeCtx, opts, a); err != nil {
			return 0, err
		}
		return outcomeDuplicate, m.markSeen(storeCtx, keys)
	}

	a.Category, a.Tags = m.classifier.Classify(a)

	if m.archive != nil && len(item.Raw) > 0 {
		key, err := m.archive.Archive(storeCtx, item.Raw)
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldURL, a.URL).Warn("raw page not archived")
		} else {
			a.ArchiveKey = key
		}
	}

	err = m.storage.Persist(storeCtx, a)
	switch {
	case errors.Is(err, domain.ErrDuplicateArticle):
		if err := m.refresh(storeCtx, opts, a); err != nil {
			return 0, err
		}
		return outcomeDuplicate, m.markSeen(storeCtx, keys)
	case err != nil:
		return 0, asStorageError("persist article", err)
	}
	return outcomeProcessed, m.markSeen(storeCtx, keys)
}

func (m *TaskManager) anySeen(ctx context.Context, keys []string) (bool, error) {
	for _, key := range keys {
		seen, err := m.fingerprints.Seen(ctx, key)
		if err != nil {
			return false, asStorageError("check fingerprint", err)
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

func (m *TaskManager) markSeen(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.fingerprints.MarkSeen(ctx, key); err != nil {
			return asStorageError("mark fingerprint", err)
		}
	}
	return nil
}

// refresh updates the engagement counters of a stored duplicate when the
// task asks for it.
func (m *TaskManager) refresh(ctx context.Context, opts domain.TaskOptions, a *domain.Article) error {
	if !opts.UpdateOnDuplicate {
		return nil
	}
	if err := m.storage.UpdateStats(ctx, a.URL, a.Stats()); err != nil {
		return asStorageError("update article stats", err)
	}
	return nil
}

func asStorageError(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

// waitIfPaused blocks while a pause is requested. It returns false when the
// task was stopped instead of resumed.
func (m *TaskManager) waitIfPaused(ctx context.Context, r *taskRun) bool {
	m.mu.Lock()
	resume := r.resume
	m.mu.Unlock()
	if resume == nil {
		return true
	}

	m.save(ctx, r)
	m.publish(r, domain.EventTaskPaused, m.counters(r, domain.EventPayload{}))
	logger.CtxInfo(ctx, "task paused")

	select {
	case <-resume:
	case <-ctx.Done():
		return false
	}

	m.save(ctx, r)
	m.publish(r, domain.EventTaskResumed, m.counters(r, domain.EventPayload{}))
	logger.CtxInfo(ctx, "task resumed")
	return true
}

// counters applies the mutations to the task under the lock and returns
// payload with the resulting counters.
func (m *TaskManager) counters(r *taskRun, payload domain.EventPayload, mutate ...func(*domain.Task)) domain.EventPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, fn := range mutate {
		fn(&r.task)
	}
	if len(mutate) > 0 {
		r.task.UpdatedAt = time.Now()
	}
	payload.Processed = r.task.ProcessedCount
	payload.Duplicates = r.task.DuplicateCount
	payload.Errors = r.task.ErrorCount
	return payload
}

// finish moves the task to a terminal status, releases the account slot and
// then announces the outcome.
func (m *TaskManager) finish(ctx context.Context, r *taskRun, status domain.TaskStatus, cause error) {
	m.mu.Lock()
	now := time.Now()
	r.task.Status = status
	r.task.EndedAt = &now
	r.task.UpdatedAt = now
	if cause != nil {
		msg := cause.Error()
		r.task.LastError = &msg
	}
	if r.resume != nil {
		close(r.resume)
		r.resume = nil
	}
	if m.active[r.task.AccountName] == r.task.ID {
		delete(m.active, r.task.AccountName)
	}
	task := r.snapshot()
	m.mu.Unlock()

	m.save(ctx, r)
	m.metrics.TaskFinished(string(status))

	payload := m.counters(r, domain.EventPayload{})
	kind := domain.EventTaskCompleted
	switch status {
	case domain.TaskStatusFailed:
		kind = domain.EventTaskFailed
		payload.Error = cause.Error()
	case domain.TaskStatusCancelled:
		kind = domain.EventTaskCancelled
	}
	m.publish(r, kind, payload)

	entry := logger.With(logger.Fields{
		"processed":  task.ProcessedCount,
		"duplicates": task.DuplicateCount,
		"errors":     task.ErrorCount,
	}).WithStatus(string(status))
	if task.StartedAt != nil {
		entry = entry.WithDuration(*task.StartedAt)
	}
	if cause != nil {
		entry.With(logger.Fields{"error": cause.Error()}).Warn(ctx, "task finished")
		return
	}
	entry.Info(ctx, "task finished")
}

// publish emits the next event of the task. Only the run goroutine calls it.
func (m *TaskManager) publish(r *taskRun, kind domain.EventKind, payload domain.EventPayload) {
	ev := domain.ProgressEvent{
		TaskID:    r.task.ID,
		Sequence:  r.seq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	r.seq++
	if m.events != nil {
		m.events.Publish(ev)
	}
}

// save writes an audit copy of the task. Failures only get logged.
func (m *TaskManager) save(ctx context.Context, r *taskRun) {
	if m.tasks == nil {
		return
	}
	m.mu.Lock()
	task := r.snapshot()
	m.mu.Unlock()

	if err := m.tasks.Save(context.WithoutCancel(ctx), &task); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("task audit record not saved")
	}
}

// ActiveAccounts returns the accounts that currently hold a task slot, sorted.
func (m *TaskManager) ActiveAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.active))
	for account := range m.active {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}
