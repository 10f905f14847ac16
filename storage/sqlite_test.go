package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"videdit/params"
	"videdit/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type splitParams struct {
	SplitPoints []float64 `json:"split_points" validate:"required,dive,gt=0"`
	CopyCodec   bool      `json:"copy_codec"`
}

func (sp *splitParams) Normalize() { sort.Float64s(sp.SplitPoints) }

func testParams(t *testing.T) params.Set {
	t.Helper()
	set, err := params.NewValidator(0).Bind(map[string]any{"split_points": []any{3.0, 1.5}}, &splitParams{})
	require.NoError(t, err)
	return set
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(time.Minute)
	in := &task.Task{
		ID:         "abc_1",
		Processor:  "clip",
		Operation:  "split",
		Parameters: testParams(t),
		Async:      true,
		Status:     task.StatusCompleted,
		CreatedAt:  created,
		StartedAt:  &created,
		FinishedAt: &finished,
		Result: &task.Result{
			Duration: 4.5,
			Parts:    []task.Artifact{{Path: "/data/videos/split_abc/part_1.mp4", Duration: 1.5}},
		},
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx, "abc_1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, out.Status)
	assert.True(t, out.CreatedAt.Equal(created))
	require.NotNil(t, out.FinishedAt)
	assert.True(t, out.FinishedAt.Equal(finished))
	assert.True(t, out.Parameters.Frozen())
	assert.Equal(t, []float64{1.5, 3}, out.Parameters.Floats("split_points"))
	assert.False(t, out.Parameters.Bool("copy_codec"))
	require.NotNil(t, out.Result)
	assert.Equal(t, in.Result.Parts, out.Result.Parts)
	assert.Nil(t, out.Error)
}

func TestSQLiteStore_WithManager(t *testing.T) {
	ctx := context.Background()
	mgr := task.NewManager(openTestStore(t))

	created, err := mgr.Create(ctx, "clip", "split", testParams(t), true)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = mgr.Fail(ctx, created.ID, &task.Error{Kind: task.KindTimeout, Component: task.ComponentCoordinator, Message: "deadline"})
	require.NoError(t, err)

	_, err = mgr.Start(ctx, created.ID)
	var terr *task.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)

	got, err := mgr.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, task.KindTimeout, got.Error.Kind)
	assert.Nil(t, got.Result)
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	specs := []struct {
		id     string
		proc   string
		status task.Status
	}{
		{"t1", "clip", task.StatusCompleted},
		{"t2", "filter", task.StatusPending},
		{"t3", "clip", task.StatusPending},
	}
	for i, s := range specs {
		require.NoError(t, store.Save(ctx, &task.Task{
			ID:         s.id,
			Processor:  s.proc,
			Operation:  "op",
			Parameters: testParams(t),
			Status:     s.status,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, total, err := store.List(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	ids := []string{}
	for _, tk := range all {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids)

	pending, total, err := store.List(ctx, task.Filter{Status: task.StatusPending, Processor: "clip"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, "t3", pending[0].ID)

	page, total, err := store.List(ctx, task.Filter{Offset: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "t1", page[0].ID)
}
