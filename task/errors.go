package task

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every NotFoundError with errors.Is.
var ErrNotFound = errors.New("task not found")

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("task %s not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) ErrorKind() string { return "not_found" }

// InvalidTransitionError is returned when a transition does not start from
// the state it requires, e.g. a second start of the same task.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) ErrorKind() string { return KindInvalidTransition }
