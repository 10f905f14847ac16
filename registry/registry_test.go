package registry

import (
	"context"
	"errors"
	"testing"

	"videdit/params"
	"videdit/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelParams struct {
	Level float64 `json:"level"`
}

// mockCapability is a mock implementation of the Capability interface for testing.
type mockCapability struct {
	name    string
	ops     []string
	execute func(ctx context.Context, op string, p params.Set) (*task.Result, error)
}

func (m *mockCapability) Name() string         { return m.name }
func (m *mockCapability) Operations() []string { return m.ops }

func (m *mockCapability) Validate(op string, raw map[string]any) (params.Set, error) {
	if op == "broken" {
		return params.Set{}, params.Invalid("level", "operation %s always fails", op)
	}
	return params.NewValidator(0).Bind(raw, &levelParams{})
}

func (m *mockCapability) Execute(ctx context.Context, op string, p params.Set) (*task.Result, error) {
	if m.execute != nil {
		return m.execute(ctx, op, p)
	}
	return &task.Result{OutputPath: m.name + "_" + op + ".mp4"}, nil
}

func TestRegistry_Resolve(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&mockCapability{name: "filter", ops: []string{"blur", "sepia"}}))
	require.NoError(t, reg.Register(&mockCapability{name: "clip", ops: []string{"trim", "split", "merge"}}, "trim", "merge"))
	reg.Freeze()

	for _, pair := range [][2]string{{"filter", "blur"}, {"filter", "sepia"}, {"clip", "trim"}, {"clip", "merge"}} {
		validate, exec, err := reg.Resolve(pair[0], pair[1])
		require.NoError(t, err, "%s/%s", pair[0], pair[1])
		assert.NotNil(t, validate)
		require.NotNil(t, exec)

		res, err := exec(context.Background(), params.Set{})
		require.NoError(t, err)
		assert.Equal(t, pair[0]+"_"+pair[1]+".mp4", res.OutputPath)
	}

	t.Run("unknown processor", func(t *testing.T) {
		_, _, err := reg.Resolve("audio", "normalize")
		var unknown *UnknownProcessorError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "unknown_processor", unknown.ErrorKind())
		assert.Equal(t, []string{"clip", "filter"}, unknown.Available)
	})

	t.Run("operation disabled by configuration", func(t *testing.T) {
		_, err := reg.Executor("clip", "split")
		var unsupported *UnsupportedOperationError
		require.True(t, errors.As(err, &unsupported))
		assert.Equal(t, "unsupported_operation", unsupported.ErrorKind())
	})
}

func TestRegistry_Register(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&mockCapability{name: "clip", ops: []string{"trim"}}))

	err := reg.Register(&mockCapability{name: "clip", ops: []string{"split"}})
	var dup *DuplicateProcessorError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "duplicate_processor", dup.ErrorKind())

	err = reg.Register(&mockCapability{name: "filter", ops: []string{"blur"}}, "blur", "warp")
	var unsupported *UnsupportedOperationError
	assert.True(t, errors.As(err, &unsupported))

	reg.Freeze()
	assert.Error(t, reg.Register(&mockCapability{name: "auto", ops: []string{"music_edit"}}))
}

func TestRegistry_Validate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&mockCapability{name: "filter", ops: []string{"brightness", "broken"}}))

	set, err := reg.Validate("filter", "brightness", map[string]any{"level": "20"})
	require.NoError(t, err)
	assert.True(t, set.Frozen())
	assert.Equal(t, 20.0, set.Float("level"))

	_, err = reg.Validate("filter", "broken", nil)
	var verr *params.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "always fails")

	_, err = reg.Validate("nope", "brightness", nil)
	var unknown *UnknownProcessorError
	assert.True(t, errors.As(err, &unknown))
}

func TestRegistry_Describe(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&mockCapability{name: "transition", ops: []string{"fade"}}))
	require.NoError(t, reg.Register(&mockCapability{name: "auto", ops: []string{"music_edit", "smart_edit"}}))

	assert.Equal(t, []Entry{
		{Name: "auto", Operations: []string{"music_edit", "smart_edit"}},
		{Name: "transition", Operations: []string{"fade"}},
	}, reg.Describe())
}
