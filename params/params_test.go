package params

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

type trimParams struct {
	VideoPath      string   `json:"video_path" validate:"required,mediafile=video"`
	StartTime      float64  `json:"start_time" validate:"gte=0"`
	EndTime        *float64 `json:"end_time" validate:"required,gtfield=StartTime"`
	WithAudio      bool     `json:"with_audio"`
	HighlightCount int      `json:"highlight_count" validate:"gte=1"`
}

type mergeParams struct {
	VideoPaths []string `json:"video_paths" validate:"required,min=2,dive,mediafile=video"`
	Transition *string  `json:"transition" validate:"omitempty,oneof=fade wipe"`
	MusicPath  *string  `json:"music_path" validate:"omitempty,mediafile=audio"`
}

type pointsParams struct {
	SplitPoints []float64 `json:"split_points" validate:"required,min=1,dive,gt=0"`
}

func (p *pointsParams) Normalize() {
	slices.Sort(p.SplitPoints)
	p.SplitPoints = slices.Compact(p.SplitPoints)
}

func TestBindDefaultsAndNormalization(t *testing.T) {
	video := writeFile(t, "in.mp4", 16)
	set, err := NewValidator(0).Bind(map[string]any{
		"video_path": video,
		"start_time": "10.5",
		"end_time":   json.Number("30.2"),
		"with_audio": "true",
		"unrelated":  "ignored",
	}, &trimParams{HighlightCount: 5})
	require.NoError(t, err)

	assert.True(t, set.Frozen())
	assert.Equal(t, video, set.String("video_path"))
	assert.Equal(t, 10.5, set.Float("start_time"))
	assert.Equal(t, 30.2, set.Float("end_time"))
	assert.True(t, set.Bool("with_audio"))
	assert.Equal(t, 5, set.Int("highlight_count"))
	assert.False(t, set.Has("unrelated"))
}

func TestBindFirstErrorWins(t *testing.T) {
	video := writeFile(t, "in.mp4", 16)
	v := NewValidator(0)

	tests := []struct {
		name   string
		raw    map[string]any
		field  string
		reason string
	}{
		{"missing", map[string]any{"video_path": video}, "end_time", "missing required parameter"},
		{"not a number", map[string]any{"video_path": video, "start_time": "loud", "end_time": "x"}, "start_time", "must be a number"},
		{"order", map[string]any{"video_path": video, "start_time": 5.0, "end_time": 2.0}, "end_time", "must be greater than start_time"},
		{"bound", map[string]any{"video_path": video, "start_time": -1.0, "end_time": 2.0}, "start_time", "must be at least 0"},
		{"fractional count", map[string]any{"video_path": video, "end_time": 2.0, "highlight_count": 2.5}, "highlight_count", "must be an integer"},
		{"empty path", map[string]any{"end_time": 2.0}, "video_path", "missing required parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := v.Bind(tt.raw, &trimParams{HighlightCount: 1})
			require.Error(t, err)
			assert.False(t, set.Frozen())

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Equal(t, "validation", verr.ErrorKind())
		})
	}
}

func TestBindMediaFiles(t *testing.T) {
	small := writeFile(t, "a.mp4", 10)
	big := writeFile(t, "b.mp4", 100)
	text := writeFile(t, "notes.txt", 1)
	dir := filepath.Join(t.TempDir(), "clips.mp4")
	require.NoError(t, os.Mkdir(dir, 0o755))
	v := NewValidator(50)

	tests := []struct {
		name   string
		path   any
		reason string
	}{
		{"missing file", filepath.Join(t.TempDir(), "gone.mp4"), "file not found"},
		{"wrong extension", text, "unsupported file type"},
		{"too large", big, "exceeds the input size limit"},
		{"directory", dir, "not a regular file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Bind(map[string]any{"video_path": tt.path, "end_time": 1.0}, &trimParams{HighlightCount: 1})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}

	t.Run("list needs minimum items", func(t *testing.T) {
		_, err := v.Bind(map[string]any{"video_paths": []any{small}}, &mergeParams{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 2 items")
	})

	t.Run("list item", func(t *testing.T) {
		_, err := v.Bind(map[string]any{"video_paths": []any{small, text}}, &mergeParams{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "video_paths", verr.Field)
		assert.Contains(t, verr.Reason, "item 1: unsupported file type")
	})

	t.Run("audio", func(t *testing.T) {
		song := writeFile(t, "song.mp3", 10)
		set, err := v.Bind(map[string]any{"video_paths": []any{small, small}, "music_path": song}, &mergeParams{})
		require.NoError(t, err)
		got, ok := set.OptionalString("music_path")
		assert.True(t, ok)
		assert.Equal(t, song, got)

		_, err = v.Bind(map[string]any{"video_paths": []any{small, small}, "music_path": small}, &mergeParams{})
		assert.ErrorContains(t, err, "unsupported file type .mp4")
	})
}

func TestBindOptionalStrings(t *testing.T) {
	video := writeFile(t, "a.mp4", 10)
	v := NewValidator(0)
	paths := []any{video, video}
	fade := "fade"

	for _, raw := range []any{nil, "none", ""} {
		set, err := v.Bind(map[string]any{"video_paths": paths, "transition": raw}, &mergeParams{Transition: &fade})
		require.NoError(t, err)
		_, ok := set.OptionalString("transition")
		assert.False(t, ok, "transition %v", raw)
	}

	set, err := v.Bind(map[string]any{"video_paths": paths}, &mergeParams{Transition: &fade})
	require.NoError(t, err)
	got, ok := set.OptionalString("transition")
	assert.True(t, ok)
	assert.Equal(t, "fade", got)

	_, err = v.Bind(map[string]any{"video_paths": paths, "transition": "zoom"}, &mergeParams{})
	assert.ErrorContains(t, err, "must be one of: fade, wipe")
}

func TestBindNormalizes(t *testing.T) {
	v := NewValidator(0)
	set, err := v.Bind(map[string]any{"split_points": []any{20.0, 5.0, 20.0, "10"}}, &pointsParams{})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10, 20}, set.Floats("split_points"))

	_, err = v.Bind(map[string]any{"split_points": []any{5.0, -1.0}}, &pointsParams{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "split_points", verr.Field)
	assert.Equal(t, "item 1: must be greater than 0", verr.Reason)
}

func TestVar(t *testing.T) {
	v := NewValidator(0)
	assert.NoError(t, v.Var("direction", "up", "oneof=left right up down"))

	err := v.Var("direction", "sideways", "oneof=left right")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "direction", verr.Field)
	assert.Equal(t, "must be one of: left, right", verr.Reason)
}

func TestSetJSONRoundTrip(t *testing.T) {
	set, err := NewValidator(0).Bind(map[string]any{"split_points": []any{2.0, 4.0}}, &pointsParams{})
	require.NoError(t, err)

	data, err := json.Marshal(set)
	require.NoError(t, err)

	var restored Set
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.True(t, restored.Frozen())
	assert.Equal(t, []float64{2, 4}, restored.Floats("split_points"))
}
