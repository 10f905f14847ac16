package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lithammer/shortuuid/v4"

	"videdit/params"
)

// Manager is the only writer of task records. Transitions are serialized, so
// of two concurrent Start calls for one task exactly one succeeds.
type Manager struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Create records a pending task. The parameters must come out of a validator.
func (m *Manager) Create(ctx context.Context, processor, operation string, p params.Set, async bool) (*Task, error) {
	if !p.Frozen() {
		return nil, params.Invalid("parameters", "parameters were not normalized by a validator")
	}
	t := &Task{
		ID:         fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Processor:  processor,
		Operation:  operation,
		Parameters: p,
		Async:      async,
		Status:     StatusPending,
		CreatedAt:  m.now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	log.Infof("Task %s created (%s/%s).", t.ID, processor, operation)
	return t.Snapshot(), nil
}

// Start moves a pending task to running.
func (m *Manager) Start(ctx context.Context, id string) (*Task, error) {
	return m.transition(ctx, id, StatusPending, StatusRunning, func(t *Task, now time.Time) {
		t.StartedAt = &now
	})
}

// Complete moves a running task to completed with its result.
func (m *Manager) Complete(ctx context.Context, id string, result *Result) (*Task, error) {
	if result == nil {
		return nil, fmt.Errorf("task %s: complete requires a result", id)
	}
	return m.transition(ctx, id, StatusRunning, StatusCompleted, func(t *Task, now time.Time) {
		t.Result = result.clone()
		t.FinishedAt = &now
	})
}

// Fail moves a running task to failed.
func (m *Manager) Fail(ctx context.Context, id string, taskErr *Error) (*Task, error) {
	if taskErr == nil {
		taskErr = &Error{Kind: KindExecution, Component: ComponentCoordinator, Message: "unknown failure"}
	}
	return m.transition(ctx, id, StatusRunning, StatusFailed, func(t *Task, now time.Time) {
		e := *taskErr
		t.Error = &e
		t.FinishedAt = &now
	})
}

// Cancel fails a task that has not started yet. Running tasks are cancelled
// by their executor's context and then failed through Fail.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*Task, error) {
	if reason == "" {
		reason = "canceled by user while pending"
	}
	return m.transition(ctx, id, StatusPending, StatusFailed, func(t *Task, now time.Time) {
		t.Error = &Error{Kind: KindCanceled, Component: ComponentCoordinator, Message: reason}
		t.FinishedAt = &now
	})
}

func (m *Manager) transition(ctx context.Context, id string, from, to Status, apply func(*Task, time.Time)) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != from {
		return nil, &InvalidTransitionError{ID: id, From: t.Status, To: to}
	}
	t.Status = to
	apply(t, m.now())
	if err := m.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task %s: %w", id, err)
	}
	log.Infof("Task %s moved from %s to %s.", id, from, to)
	return t, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.store.Load(ctx, id)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]*Task, int, error) {
	return m.store.List(ctx, f)
}
