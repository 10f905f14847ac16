package task

import (
	"context"
	"sort"
	"sync"
)

// Store persists task records. Save replaces the whole record.
type Store interface {
	Save(ctx context.Context, t *Task) error
	Load(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, int, error)
}

// Filter selects tasks for List. Zero fields match everything; Limit 0 means
// no limit. The int returned by List is the total before paging.
type Filter struct {
	Status    Status
	Processor string
	Operation string
	Offset    int
	Limit     int
}

func (f Filter) Match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Processor != "" && t.Processor != f.Processor {
		return false
	}
	if f.Operation != "" && t.Operation != f.Operation {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func (f Filter) Page(tasks []*Task) []*Task {
	if f.Offset >= len(tasks) {
		return []*Task{}
	}
	if f.Offset > 0 {
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(tasks) {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

// SortNewestFirst orders by creation time descending, ties broken by ID.
func SortNewestFirst(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// MemoryStore keeps records in process memory. Records are copied on the way
// in and out.
type MemoryStore struct {
	tasks sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, t *Task) error {
	s.tasks.Store(t.ID, t.Snapshot())
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Task, error) {
	val, ok := s.tasks.Load(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return val.(*Task).Snapshot(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Task, int, error) {
	var tasks []*Task
	s.tasks.Range(func(_, value interface{}) bool {
		t := value.(*Task)
		if f.Match(t) {
			tasks = append(tasks, t.Snapshot())
		}
		return true
	})
	SortNewestFirst(tasks)
	return f.Page(tasks), len(tasks), nil
}
