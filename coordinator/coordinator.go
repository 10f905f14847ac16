// Package coordinator runs tasks: it validates submissions, queues task IDs
// for a pool of workers and drives each task through its lifecycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"videdit/config"
	"videdit/ffmpeg"
	"videdit/params"
	"videdit/registry"
	"videdit/task"
)

// ErrQueueFull is returned by Submit when no worker slot can take the task.
var ErrQueueFull = errors.New("task queue is full")

// TimeoutError marks a task that ran past the execution limit.
type TimeoutError struct {
	TaskID string
	Limit  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded the execution limit of %s", e.TaskID, e.Limit)
}

func (e *TimeoutError) ErrorKind() string { return task.KindTimeout }

type Submission struct {
	Processor  string
	Operation  string
	Parameters map[string]any
	Async      bool
}

type Coordinator struct {
	cfg      *config.Config
	registry *registry.Registry
	tasks    *task.Manager
	queue    chan string
	slots    chan struct{} // one per execution, shared by workers and sync submissions

	running  sync.Map // task ID -> context.CancelFunc
	canceled sync.Map // task IDs cancelled by a caller while running
	wg       sync.WaitGroup
}

func New(cfg *config.Config, reg *registry.Registry, tasks *task.Manager) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		registry: reg,
		tasks:    tasks,
		queue:    make(chan string, max(cfg.QueueSize, 1)),
		slots:    make(chan struct{}, max(cfg.MaxConcurrency, 1)),
	}
}

// Start recovers the tasks a previous process left behind, then launches
// the workers and the output cleanup loop. They stop when ctx is done; Wait
// blocks until they have.
func (c *Coordinator) Start(ctx context.Context) {
	pending, err := c.recoverTasks(ctx)
	if err != nil {
		log.Errorf("Task recovery failed: %v", err)
	}

	workers := cap(c.slots)
	log.Infof("Coordinator started. Workers: %d, queue size: %d", workers, cap(c.queue))
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.workerLoop(ctx)
		}()
	}
	if c.cfg.OutputLifetime > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.cleanupLoop(ctx)
		}()
	}
	if len(pending) > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.requeue(ctx, pending)
		}()
	}
}

// recoverTasks fails the tasks left running by a previous process and
// returns the pending ones, oldest first.
func (c *Coordinator) recoverTasks(ctx context.Context) ([]string, error) {
	running, _, err := c.tasks.List(ctx, task.Filter{Status: task.StatusRunning})
	if err != nil {
		return nil, fmt.Errorf("list running tasks: %w", err)
	}
	for _, t := range running {
		interrupted := &task.Error{Kind: task.KindExecution, Component: task.ComponentCoordinator, Message: "interrupted by restart"}
		if _, err := c.tasks.Fail(ctx, t.ID, interrupted); err != nil {
			log.Warnf("Could not fail interrupted task %s: %v", t.ID, err)
		}
	}

	pending, _, err := c.tasks.List(ctx, task.Filter{Status: task.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	ids := make([]string, 0, len(pending))
	for _, t := range slices.Backward(pending) {
		ids = append(ids, t.ID)
	}
	if len(running) > 0 || len(ids) > 0 {
		log.Infof("Recovered tasks: %d interrupted, %d pending.", len(running), len(ids))
	}
	return ids, nil
}

// requeue feeds recovered task IDs to the workers, waiting for queue room.
func (c *Coordinator) requeue(ctx context.Context, ids []string) {
	for _, id := range ids {
		select {
		case c.queue <- id:
		case <-ctx.Done():
			return
		}
	}
}

// acquire takes an execution slot, or fails when ctx ends first.
func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() { <-c.slots }

func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			if err := c.acquire(ctx); err != nil {
				return
			}
			if _, err := c.ExecuteTask(ctx, id); err != nil {
				log.Warnf("Task %s was not executed: %v", id, err)
			}
			c.release()
		}
	}
}

// Submit validates the submission and records a pending task. Async tasks
// are queued and returned at once; sync tasks wait for an execution slot and
// run before Submit returns. Validation and routing errors, and a sync
// caller giving up before a slot frees, create no task.
func (c *Coordinator) Submit(ctx context.Context, s Submission) (*task.Task, error) {
	if s.Processor == "" {
		s.Processor = c.cfg.DefaultProcessor
	}
	if s.Operation == "" {
		s.Operation = c.cfg.DefaultOperation
	}
	set, err := c.registry.Validate(s.Processor, s.Operation, s.Parameters)
	if err != nil {
		return nil, err
	}
	if !s.Async {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.release()
	}
	t, err := c.tasks.Create(ctx, s.Processor, s.Operation, set, s.Async)
	if err != nil {
		return nil, err
	}
	if !s.Async {
		return c.ExecuteTask(ctx, t.ID)
	}

	select {
	case c.queue <- t.ID:
		log.Infof("Task %s submitted to queue.", t.ID)
		return t, nil
	default:
		if _, err := c.tasks.Cancel(ctx, t.ID, ErrQueueFull.Error()); err != nil {
			log.Warnf("Could not cancel unqueued task %s: %v", t.ID, err)
		}
		return nil, ErrQueueFull
	}
}

// ExecuteTask makes the single execution attempt for a pending task and
// returns its final state. The error is non-nil only when the task could not
// be started or its outcome could not be recorded; execution failures are
// recorded on the task.
func (c *Coordinator) ExecuteTask(ctx context.Context, id string) (*task.Task, error) {
	runCtx, cancel := c.runContext(ctx)
	defer cancel()
	if _, busy := c.running.LoadOrStore(id, cancel); busy {
		return nil, c.alreadyDispatched(ctx, id)
	}
	defer c.running.Delete(id)
	defer c.canceled.Delete(id)

	t, err := c.tasks.Start(ctx, id)
	if err != nil {
		var ite *task.InvalidTransitionError
		if errors.As(err, &ite) {
			log.Infof("Skipping task %s: it is already %s.", id, ite.From)
		}
		return nil, err
	}

	// Outcomes are recorded even if ctx is cancelled during shutdown.
	record := context.WithoutCancel(ctx)

	exec, err := c.registry.Executor(t.Processor, t.Operation)
	if err != nil {
		return c.tasks.Fail(record, id, c.classify(id, runCtx, err))
	}

	started := time.Now()
	result, err := invoke(runCtx, exec, t.Parameters)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if err != nil {
		if result != nil {
			if rmErr := removeArtifacts(result); rmErr != nil {
				log.Warnf("Could not discard output of task %s: %v", id, rmErr)
			}
		}
		taskErr := c.classify(id, runCtx, err)
		log.Errorf("Task %s failed after %s: %s", id, time.Since(started).Round(time.Millisecond), taskErr)
		return c.tasks.Fail(record, id, taskErr)
	}
	if result == nil {
		result = &task.Result{}
	}
	log.Infof("Task %s completed in %s.", id, time.Since(started).Round(time.Millisecond))
	return c.tasks.Complete(record, id, result)
}

// alreadyDispatched reports a second dispatch of a task that another worker
// holds.
func (c *Coordinator) alreadyDispatched(ctx context.Context, id string) error {
	t, err := c.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	return &task.InvalidTransitionError{ID: id, From: t.Status, To: task.StatusRunning}
}

func (c *Coordinator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.TaskTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.TaskTimeout)
	}
	return context.WithCancel(ctx)
}

func invoke(ctx context.Context, exec registry.Executor, p params.Set) (result *task.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Executor panic: %v\n%s", r, debug.Stack())
			err = &panicError{value: r}
		}
	}()
	return exec(ctx, p)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("executor panic: %v", e.value) }

// classify turns an execution error into the record stored on the task.
func (c *Coordinator) classify(id string, runCtx context.Context, err error) *task.Error {
	if _, userCanceled := c.canceled.Load(id); userCanceled {
		return &task.Error{Kind: task.KindCanceled, Component: task.ComponentCoordinator, Message: "canceled by user while running"}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		timeout := &TimeoutError{TaskID: id, Limit: c.cfg.TaskTimeout}
		return &task.Error{Kind: timeout.ErrorKind(), Component: task.ComponentCoordinator, Message: timeout.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &task.Error{Kind: task.KindCanceled, Component: task.ComponentCoordinator, Message: "execution was interrupted"}
	}

	taskErr := &task.Error{Kind: task.KindExecution, Component: task.ComponentExecutor, Message: err.Error()}
	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		taskErr.Kind = kinded.ErrorKind()
	}
	var engineErr *ffmpeg.EngineError
	var validationErr *params.ValidationError
	var unknown *registry.UnknownProcessorError
	var unsupported *registry.UnsupportedOperationError
	switch {
	case errors.As(err, &engineErr):
		taskErr.Component = task.ComponentEngine
	case errors.As(err, &validationErr):
		taskErr.Component = task.ComponentValidator
	case errors.As(err, &unknown), errors.As(err, &unsupported):
		taskErr.Component = task.ComponentCoordinator
	}
	return taskErr
}

// Cancel stops a task. A pending task fails at once; a running task has its
// context cancelled, which kills the engine process, and is failed by its
// worker. Finished tasks cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*task.Task, error) {
	t, err := c.tasks.Cancel(ctx, id, "")
	if err == nil {
		return t, nil
	}
	var ite *task.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != task.StatusRunning {
		return nil, err
	}
	v, ok := c.running.Load(id)
	if !ok {
		return nil, err
	}
	c.canceled.Store(id, struct{}{})
	v.(context.CancelFunc)()
	log.Infof("Cancellation signal sent to running task %s.", id)
	return c.tasks.Get(ctx, id)
}

// cleanupLoop periodically removes the outputs of completed tasks older
// than the configured lifetime.
func (c *Coordinator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.OutputLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			if err := c.CleanupOutputs(ctx, time.Now()); err != nil {
				log.Warnf("Output cleanup: %v", err)
			}
		}
	}
}

// CleanupOutputs removes the artifacts of tasks that completed before
// now minus the output lifetime.
func (c *Coordinator) CleanupOutputs(ctx context.Context, now time.Time) error {
	tasks, _, err := c.tasks.List(ctx, task.Filter{Status: task.StatusCompleted})
	if err != nil {
		return err
	}
	cutoff := now.Add(-c.cfg.OutputLifetime)
	var errs error
	for _, t := range tasks {
		if t.Result == nil || t.FinishedAt == nil || !t.FinishedAt.Before(cutoff) {
			continue
		}
		errs = multierr.Append(errs, removeArtifacts(t.Result))
	}
	return errs
}

// removeArtifacts deletes a result's files and its output directory, if any.
func removeArtifacts(r *task.Result) error {
	var errs error
	for _, path := range r.Paths() {
		if err := os.Remove(path); err == nil {
			log.Infof("Removed output file: %s", path)
		} else if !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if dir, ok := r.Details["output_dir"].(string); ok && dir != "" {
		errs = multierr.Append(errs, os.RemoveAll(dir))
	}
	return errs
}
