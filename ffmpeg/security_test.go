package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEngineArgs(t *testing.T) {
	args, err := ParseEngineArgs(`-preset veryfast -crf 23 -x264-params "keyint=60:min-keyint=60"`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-preset", "veryfast", "-crf", "23", "-x264-params", "keyint=60:min-keyint=60"}, args)

	args, err = ParseEngineArgs("")
	assert.NoError(t, err)
	assert.Empty(t, args)

	_, err = ParseEngineArgs(`-preset "unterminated`)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid engine argument syntax")
}

func TestSanitizeArgs(t *testing.T) {
	t.Run("Valid arguments", func(t *testing.T) {
		assert.NoError(t, SanitizeArgs([]string{"-preset", "veryfast", "-movflags", "+faststart"}))
	})

	t.Run("Extra input", func(t *testing.T) {
		err := SanitizeArgs([]string{"-i", "/etc/passwd"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "engine argument not allowed: -i")
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		_, err := ParseEngineArgs(`-preset fast; ls`)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: fast;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		_, err := ParseEngineArgs(`-metadata "title=$(whoami)"`)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: title=$(whoami)")
	})
}
