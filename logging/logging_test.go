package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "invalid json line %q", line)
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug message should be filtered at INFO level")

	logger.Info("info message")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "info message", lines[0]["msg"])
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithComponent("drain").Info("test message")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "drain", lines[0]["component"])
}

func TestLogger_ChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	root.SetOutput(&buf)
	child := root.WithComponent("registry")

	root.SetLevel(LevelError)
	child.Warn("hidden")
	assert.Zero(t, buf.Len(), "child should follow the root level")
	assert.Equal(t, LevelError, child.Level())
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Error("phase failed", map[string]interface{}{
		"phase":    "cleanup",
		"err":      errors.New("db closed"),
		"duration": 1500 * time.Millisecond,
		"count":    3,
	})

	line := decodeLines(t, &buf)[0]
	assert.Equal(t, "cleanup", line["phase"])
	assert.Equal(t, "db closed", line["err"])
	assert.Equal(t, "1.5s", line["duration"])
	assert.Equal(t, float64(3), line["count"])
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	assert.Same(t, logger, logger.WithContext(context.Background()),
		"without a span the same logger should be returned")

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.WithContext(ctx).Info("traced")
	line := decodeLines(t, &buf)[0]
	assert.Equal(t, traceID.String(), line["trace_id"])
	assert.Equal(t, spanID.String(), line["span_id"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"":        LevelInfo,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		assert.NoError(t, err, "ParseLevel(%q)", in)
		assert.Equal(t, want, got, "ParseLevel(%q)", in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestOpen_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainkit.log")
	logger := Open(Config{Level: LevelDebug, File: path, MaxSizeMB: 1})
	logger.Debug("to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("dropped")
	logger.WithComponent("x").Error("dropped too")
	logger.Sync()

	var nilLogger *Logger
	nilLogger.Info("nil-safe")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestLogger_NeverFails(t *testing.T) {
	logger := New()
	logger.SetOutput(failingWriter{})
	assert.NotPanics(t, func() {
		logger.Error("lost", map[string]interface{}{"k": "v"})
	})
}
