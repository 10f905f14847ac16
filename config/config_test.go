// videdit/config/config_test.go
package config_test

import (
	"bytes"
	"testing"
	"time"

	"videdit/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		t.Setenv("VIDEDIT_PORT", "")
		t.Setenv("VIDEDIT_MAX_CONCURRENCY", "")
		t.Setenv("VIDEDIT_AUTH_ENABLE", "")
		t.Setenv("VIDEDIT_TASK_TIMEOUT", "")
		t.Setenv("VIDEDIT_MAX_INPUT_SIZE", "")
		t.Setenv("VIDEDIT_CLIP_OPERATIONS", "")
		t.Setenv("VIDEDIT_PLAN_REDISTRIBUTION", "")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 2, cfg.MaxConcurrency)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, time.Hour, cfg.TaskTimeout)
		assert.Equal(t, int64(2*1024*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.Equal(t, "proportional", cfg.PlanRedistribution)
		assert.Equal(t, "clip", cfg.DefaultProcessor)
		assert.Equal(t, "trim", cfg.DefaultOperation)
		assert.Equal(t, []string{"trim", "split", "merge", "speed", "reverse"}, cfg.OperationsFor("clip"))
		assert.Equal(t, []string{"music_edit", "smart_edit", "highlight_edit"}, cfg.OperationsFor("auto"))
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("VIDEDIT_PORT", "9999")
		t.Setenv("VIDEDIT_MAX_CONCURRENCY", "10")
		t.Setenv("VIDEDIT_AUTH_ENABLE", "true")
		t.Setenv("VIDEDIT_AUTH_KEY", "newsecret")
		t.Setenv("VIDEDIT_MAX_INPUT_SIZE", "50MB")
		t.Setenv("VIDEDIT_TASK_TIMEOUT", "90s")
		t.Setenv("VIDEDIT_CLIP_OPERATIONS", "trim, merge")
		t.Setenv("VIDEDIT_PLAN_REDISTRIBUTION", "next")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.MaxConcurrency)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
		assert.Equal(t, []string{"trim", "merge"}, cfg.OperationsFor("clip"))
		assert.Equal(t, "next", cfg.PlanRedistribution)
	})
}

func TestOperationsFor(t *testing.T) {
	cfg := &config.Config{FilterOperations: []string{" ", ""}}
	assert.Nil(t, cfg.OperationsFor("filter"))
	assert.Nil(t, cfg.OperationsFor("unknown"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "task_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "task_id=abc")
}
