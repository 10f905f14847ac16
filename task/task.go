package task

import (
	"fmt"
	"time"

	"videdit/params"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Error kinds stored on failed tasks.
const (
	KindValidation        = "validation"
	KindUnknownProcessor  = "unknown_processor"
	KindUnsupportedOp     = "unsupported_operation"
	KindEngine            = "engine"
	KindTimeout           = "timeout"
	KindInvalidTransition = "invalid_transition"
	KindCanceled          = "canceled"
	KindExecution         = "execution"
)

// Components that can fail a task.
const (
	ComponentValidator   = "validator"
	ComponentExecutor    = "executor"
	ComponentEngine      = "engine"
	ComponentCoordinator = "coordinator"
)

// Error is the structured failure stored on a task.
type Error struct {
	Kind      string `json:"kind"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Component, e.Message)
}

// Artifact is one file produced by an operation.
type Artifact struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// Result describes what a completed task produced. OutputPath and Duration
// refer to the primary artifact; operations with several outputs list them in
// Parts.
type Result struct {
	OutputPath string         `json:"output_path,omitempty"`
	Duration   float64        `json:"duration"`
	Parts      []Artifact     `json:"parts,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Paths returns every artifact path in the result.
func (r *Result) Paths() []string {
	var paths []string
	if r.OutputPath != "" {
		paths = append(paths, r.OutputPath)
	}
	for _, p := range r.Parts {
		paths = append(paths, p.Path)
	}
	return paths
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Parts = append([]Artifact(nil), r.Parts...)
	if r.Details != nil {
		out.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			out.Details[k] = v
		}
	}
	return &out
}

type Task struct {
	ID         string     `json:"id"`
	Processor  string     `json:"processor"`
	Operation  string     `json:"operation"`
	Parameters params.Set `json:"parameters"`
	Async      bool       `json:"is_async"`
	Status     Status     `json:"status"`
	Result     *Result    `json:"result,omitempty"`
	Error      *Error     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a deep copy that callers may keep or modify.
func (t *Task) Snapshot() *Task {
	out := *t
	out.Result = t.Result.clone()
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	out.StartedAt = copyTime(t.StartedAt)
	out.FinishedAt = copyTime(t.FinishedAt)
	return &out
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
