// Package registry maps processor names and operations to their validator and
// executor. Entries are registered once at startup and the table is read-only
// afterwards.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"videdit/params"
	"videdit/task"
)

// Capability is implemented by every processor.
type Capability interface {
	Name() string
	Operations() []string
	Validate(operation string, raw map[string]any) (params.Set, error)
	Execute(ctx context.Context, operation string, p params.Set) (*task.Result, error)
}

// Validator normalizes raw parameters for one operation.
type Validator func(raw map[string]any) (params.Set, error)

// Executor runs one operation with normalized parameters.
type Executor func(ctx context.Context, p params.Set) (*task.Result, error)

type UnknownProcessorError struct {
	Processor string
	Available []string
}

func (e *UnknownProcessorError) Error() string {
	return fmt.Sprintf("processor %q not found (available: %s)", e.Processor, strings.Join(e.Available, ", "))
}

func (e *UnknownProcessorError) ErrorKind() string { return "unknown_processor" }

type UnsupportedOperationError struct {
	Processor string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("processor %q does not support operation %q", e.Processor, e.Operation)
}

func (e *UnsupportedOperationError) ErrorKind() string { return "unsupported_operation" }

type DuplicateProcessorError struct {
	Processor string
}

func (e *DuplicateProcessorError) Error() string {
	return fmt.Sprintf("processor %q already registered", e.Processor)
}

func (e *DuplicateProcessorError) ErrorKind() string { return "duplicate_processor" }

type entry struct {
	name       string
	operations []string
	validators map[string]Validator
	executors  map[string]Executor
}

// Entry describes one registered processor.
type Entry struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
}

type Registry struct {
	entries map[string]*entry
	frozen  bool
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a processor. When operations is empty the capability's full
// list is registered; otherwise only the given operations, each of which must
// be one the capability implements.
func (r *Registry) Register(c Capability, operations ...string) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", c.Name())
	}
	name := c.Name()
	if _, exists := r.entries[name]; exists {
		return &DuplicateProcessorError{Processor: name}
	}

	supported := c.Operations()
	if len(operations) == 0 {
		operations = supported
	}

	e := &entry{
		name:       name,
		validators: make(map[string]Validator, len(operations)),
		executors:  make(map[string]Executor, len(operations)),
	}
	for _, op := range operations {
		if !slices.Contains(supported, op) {
			return &UnsupportedOperationError{Processor: name, Operation: op}
		}
		if _, dup := e.validators[op]; dup {
			continue
		}
		op := op
		e.operations = append(e.operations, op)
		e.validators[op] = func(raw map[string]any) (params.Set, error) {
			return c.Validate(op, raw)
		}
		e.executors[op] = func(ctx context.Context, p params.Set) (*task.Result, error) {
			return c.Execute(ctx, op, p)
		}
	}
	r.entries[name] = e
	return nil
}

// Freeze closes the registry for registration.
func (r *Registry) Freeze() { r.frozen = true }

// Resolve returns the validator and executor for a processor operation.
func (r *Registry) Resolve(processor, operation string) (Validator, Executor, error) {
	e, ok := r.entries[processor]
	if !ok {
		return nil, nil, &UnknownProcessorError{Processor: processor, Available: r.names()}
	}
	v, ok := e.validators[operation]
	if !ok {
		return nil, nil, &UnsupportedOperationError{Processor: processor, Operation: operation}
	}
	return v, e.executors[operation], nil
}

// Validate resolves the operation and normalizes raw parameters.
func (r *Registry) Validate(processor, operation string, raw map[string]any) (params.Set, error) {
	validate, _, err := r.Resolve(processor, operation)
	if err != nil {
		return params.Set{}, err
	}
	return validate(raw)
}

// Executor resolves only the executor.
func (r *Registry) Executor(processor, operation string) (Executor, error) {
	_, exec, err := r.Resolve(processor, operation)
	return exec, err
}

// Describe lists processors and their operations, sorted by name.
func (r *Registry) Describe() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, name := range r.names() {
		e := r.entries[name]
		out = append(out, Entry{Name: name, Operations: append([]string(nil), e.operations...)})
	}
	return out
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
