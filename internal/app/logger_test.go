package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	t.Run("level filters records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger("warn", "text", &buf)

		logger.Info("dropped")
		logger.Warn("kept")

		out := buf.String()
		assert.NotContains(t, out, "dropped")
		assert.Contains(t, out, "kept")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger("info", "json", &buf).Info("hello")
		assert.True(t, strings.HasPrefix(buf.String(), "{"))
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger("chatty", "text", &buf)

		logger.Debug("dropped")
		logger.Info("kept")

		out := buf.String()
		assert.NotContains(t, out, "dropped")
		assert.Contains(t, out, "kept")
	})
}
