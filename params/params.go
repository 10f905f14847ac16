// Package params holds operation parameters. Raw request values are bound to
// a per-operation struct by a Validator; the Set it produces is frozen and
// never changes afterwards.
package params

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports the first parameter that failed its contract.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid parameters: " + e.Reason
	}
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) ErrorKind() string { return "validation" }

// Invalid is shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Set is an immutable parameter map in its JSON form: numbers are float64,
// lists are []any and null parameters are nil.
type Set struct {
	values map[string]any
	frozen bool
}

// Frozen reports whether the set was produced by a validator.
func (s Set) Frozen() bool { return s.frozen }

func (s Set) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

func (s Set) String(name string) string {
	v, _ := s.values[name].(string)
	return v
}

// OptionalString returns the value and whether it is set to a non-null string.
func (s Set) OptionalString(name string) (string, bool) {
	v, ok := s.values[name].(string)
	return v, ok
}

func (s Set) Float(name string) float64 {
	f, _ := s.values[name].(float64)
	return f
}

func (s Set) Int(name string) int {
	return int(s.Float(name))
}

func (s Set) Bool(name string) bool {
	v, _ := s.values[name].(bool)
	return v
}

func (s Set) Strings(name string) []string {
	items, _ := s.values[name].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func (s Set) Floats(name string) []float64 {
	items, _ := s.values[name].([]any)
	out := make([]float64, 0, len(items))
	for _, item := range items {
		if f, ok := item.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

func (s Set) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON restores a stored set. Only frozen sets are ever persisted,
// so the result is frozen as well.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	s.frozen = true
	return nil
}

// freeze snapshots a validated parameter struct through its JSON form, the
// same form a stored set is restored from.
func freeze(v any) (Set, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Set{}, fmt.Errorf("freeze parameters: %w", err)
	}
	var s Set
	if err := s.UnmarshalJSON(data); err != nil {
		return Set{}, fmt.Errorf("freeze parameters: %w", err)
	}
	return s, nil
}
