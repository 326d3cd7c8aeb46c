package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/ports"
)

func newTestConsole(buf *bytes.Buffer, opts ...ConsoleLoggerOption) *ConsoleLogger {
	base := []ConsoleLoggerOption{
		WithOutput(buf),
		WithLevel(ports.LevelDebug),
		WithTimestamp(false),
	}
	return NewConsoleLogger(append(base, opts...)...)
}

func TestConsoleLogger_TextOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestConsole(&buf)

	logger.Info(context.Background(), "plugin loaded", ports.F("plugin", "word-count"), ports.F("ms", 12))

	out := buf.String()
	assert.Contains(t, out, "[INFO] plugin loaded")
	assert.Contains(t, out, "plugin=word-count")
	assert.Contains(t, out, "ms=12")
}

func TestConsoleLogger_NoLevelLabel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestConsole(&buf, WithLevelLabel(false))
	logger.Warn(context.Background(), "careful")

	assert.Equal(t, "careful\n", buf.String())
}

func TestConsoleLogger_JSONOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestConsole(&buf, WithJSONFormat(true))

	logger.Error(context.Background(), "activation failed", ports.F("plugin", "a"), ports.F("cause", errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "activation failed", entry["msg"])
	assert.Equal(t, "a", entry["plugin"])
	assert.Equal(t, "boom", entry["cause"])
	assert.NotContains(t, entry, "time")
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestConsole(&buf, WithLevel(ports.LevelWarn))
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	assert.Zero(t, buf.Len())

	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestConsoleLogger_WithSharesLevelAndOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newTestConsole(&buf, WithLevel(ports.LevelError))
	derived := logger.With(ports.F("plugin", "b"))
	ctx := context.Background()

	derived.Info(ctx, "hidden")
	assert.Zero(t, buf.Len())

	logger.SetLevel(ports.LevelInfo)
	derived.Info(ctx, "shown")
	logger.Info(ctx, "root")

	out := buf.String()
	assert.Contains(t, out, "shown plugin=b")
	assert.Contains(t, out, "[INFO] root\n")
	assert.Equal(t, ports.LevelInfo, derived.Level())
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	ctx := context.Background()
	scoped := rec.With(ports.F("plugin", "a"))

	rec.Info(ctx, "initialized")
	scoped.Warn(ctx, "skipping invalid manifest", ports.F("path", "/p"))
	scoped.Error(ctx, "cleanup failed")

	entries := rec.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[1].Fields["plugin"])
	assert.Equal(t, "/p", entries[1].Fields["path"])
	assert.Equal(t, 1, rec.Count(ports.LevelWarn))
	assert.True(t, rec.Contains(ports.LevelWarn, "invalid manifest"))
	assert.False(t, rec.Contains(ports.LevelInfo, "invalid manifest"))

	rec.SetLevel(ports.LevelError)
	scoped.Info(ctx, "dropped")
	assert.Len(t, rec.Entries(), 3)
	assert.Equal(t, ports.LevelError, scoped.Level())
}
